package market

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quoter is the opaque fetch boundary to the external market-data source.
// The polling protocol itself is out of scope; publishers only see candles
// or errors per symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (Candle, error)
}

// SimulatedQuoter produces a deterministic per-symbol price walk. It backs
// single-binary runs and tests where no live market feed is configured.
type SimulatedQuoter struct {
	mu    sync.Mutex
	ticks map[string]int
}

// NewSimulatedQuoter creates a quoter with independent walks per symbol.
func NewSimulatedQuoter() *SimulatedQuoter {
	return &SimulatedQuoter{ticks: make(map[string]int)}
}

// Quote returns the next candle on the symbol's walk.
func (q *SimulatedQuoter) Quote(ctx context.Context, symbol string) (Candle, error) {
	if err := ctx.Err(); err != nil {
		return Candle{}, err
	}

	q.mu.Lock()
	tick := q.ticks[symbol]
	q.ticks[symbol] = tick + 1
	q.mu.Unlock()

	base := float64(symbolSeed(symbol)%9000)/10 + 100 // 100.0 .. 999.9
	phase := float64(tick) / 7

	open := base * (1 + 0.01*math.Sin(phase))
	close := base * (1 + 0.01*math.Sin(phase+0.5))
	high := math.Max(open, close) * 1.002
	low := math.Min(open, close) * 0.998
	volume := int64(100_000 + symbolSeed(symbol)%400_000 + uint64(tick*137))

	return Candle{
		Symbol:    symbol,
		Open:      decimal.NewFromFloat(open).Round(2),
		High:      decimal.NewFromFloat(high).Round(2),
		Low:       decimal.NewFromFloat(low).Round(2),
		Close:     decimal.NewFromFloat(close).Round(2),
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}, nil
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}
