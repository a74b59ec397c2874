package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/market"
)

// CandleSource fetches one candle per configured symbol each cycle.
type CandleSource struct {
	quoter  market.Quoter
	symbols []string
}

// NewCandleSource builds a candle source over the given quoter.
func NewCandleSource(q market.Quoter, symbols []string) *CandleSource {
	return &CandleSource{quoter: q, symbols: symbols}
}

// Fetch quotes every symbol. Per-symbol failures do not abort the cycle.
func (s *CandleSource) Fetch(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{}
	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		candle, err := s.quoter.Quote(ctx, symbol)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
			continue
		}
		result.Events = append(result.Events, candle)
	}
	return result, nil
}

// BreadthSource derives a single advance/decline snapshot across all
// configured symbols each cycle.
type BreadthSource struct {
	quoter  market.Quoter
	symbols []string
}

// NewBreadthSource builds a breadth source over the given quoter.
func NewBreadthSource(q market.Quoter, symbols []string) *BreadthSource {
	return &BreadthSource{quoter: q, symbols: symbols}
}

// Fetch quotes every symbol and folds the results into one breadth event.
// Symbols that fail to quote are excluded from the breakdown.
func (s *BreadthSource) Fetch(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{}
	breadth := market.Breadth{Timestamp: time.Now().UTC()}

	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		candle, err := s.quoter.Quote(ctx, symbol)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
			continue
		}
		switch candle.Close.Cmp(candle.Open) {
		case 1:
			breadth.Advances++
		case -1:
			breadth.Declines++
		default:
			breadth.Unchanged++
		}
	}

	if breadth.Advances+breadth.Declines+breadth.Unchanged > 0 {
		result.Events = append(result.Events, breadth)
	}
	return result, nil
}
