// Package market defines the well-known channel names, the event models
// flowing through them, and the quote source abstraction publishers poll.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known channel names. Channels are not statically typed; these are the
// ones the built-in publishers and subscribers use.
const (
	ChannelCandle  = "market.candle"
	ChannelBreadth = "market.breadth"
	ChannelTrend   = "market.trend"
	ChannelStatus  = "market.status"
)

// Event kinds.
const (
	KindCandle  = "candle"
	KindBreadth = "breadth"
	KindTrend   = "trend"
	KindStatus  = "status"
)

// ChannelFor returns the default channel for an event kind.
func ChannelFor(kind string) string {
	return "market." + kind
}

// Event is a structured value that knows its kind and can render itself as a
// serializable payload map.
type Event interface {
	Kind() string
	Payload() map[string]any
}

// Candle is a per-symbol OHLCV update.
type Candle struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

func (c Candle) Kind() string { return KindCandle }

func (c Candle) Payload() map[string]any {
	return map[string]any{
		"kind":      KindCandle,
		"symbol":    c.Symbol,
		"open":      c.Open,
		"high":      c.High,
		"low":       c.Low,
		"close":     c.Close,
		"volume":    c.Volume,
		"timestamp": c.Timestamp,
	}
}

// Breadth is an aggregate advance/decline snapshot.
type Breadth struct {
	Advances  int
	Declines  int
	Unchanged int
	Timestamp time.Time
}

func (b Breadth) Kind() string { return KindBreadth }

func (b Breadth) Payload() map[string]any {
	return map[string]any{
		"kind":      KindBreadth,
		"advances":  b.Advances,
		"declines":  b.Declines,
		"unchanged": b.Unchanged,
		"timestamp": b.Timestamp,
	}
}

// Trend is a derived per-symbol trend classification.
type Trend struct {
	Symbol         string
	Classification string
	Strength       float64
	Timestamp      time.Time
}

func (t Trend) Kind() string { return KindTrend }

func (t Trend) Payload() map[string]any {
	return map[string]any{
		"kind":           KindTrend,
		"symbol":         t.Symbol,
		"classification": t.Classification,
		"strength":       t.Strength,
		"timestamp":      t.Timestamp,
	}
}

// Status summarizes one publisher fetch cycle.
type Status struct {
	PublisherID      string
	Status           string
	SymbolsSucceeded int
	SymbolsFailed    int
	Errors           []string
	Timestamp        time.Time
}

func (s Status) Kind() string { return KindStatus }

func (s Status) Payload() map[string]any {
	errs := make([]any, len(s.Errors))
	for i, e := range s.Errors {
		errs[i] = e
	}
	return map[string]any{
		"kind":              KindStatus,
		"publisher_id":      s.PublisherID,
		"status":            s.Status,
		"symbols_succeeded": s.SymbolsSucceeded,
		"symbols_failed":    s.SymbolsFailed,
		"errors":            errs,
		"timestamp":         s.Timestamp,
	}
}
