package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker/memory"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/codec"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/market"
)

// flakyQuoter fails for one designated symbol and delegates the rest.
type flakyQuoter struct {
	inner   market.Quoter
	failing string
}

func (q *flakyQuoter) Quote(ctx context.Context, symbol string) (market.Candle, error) {
	if symbol == q.failing {
		return market.Candle{}, fmt.Errorf("quote %s: upstream timeout", symbol)
	}
	return q.inner.Quote(ctx, symbol)
}

func newTestBroker(t *testing.T) broker.Broker {
	t.Helper()
	b := memory.New(broker.Config{})
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	return b
}

func mustJSONCodec(t *testing.T) codec.Codec {
	t.Helper()
	c, err := codec.New(codec.FormatJSON)
	require.NoError(t, err)
	return c
}

func TestCandleSourcePartialFailure(t *testing.T) {
	q := &flakyQuoter{inner: market.NewSimulatedQuoter(), failing: "FAIL"}
	src := NewCandleSource(q, []string{"AAA", "BBB", "FAIL", "CCC", "DDD"})

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Events, 4)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "FAIL")
}

func TestBreadthSourceFoldsSymbols(t *testing.T) {
	src := NewBreadthSource(market.NewSimulatedQuoter(), []string{"AAA", "BBB", "CCC"})

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	breadth, ok := result.Events[0].(market.Breadth)
	require.True(t, ok)
	assert.Equal(t, 3, breadth.Advances+breadth.Declines+breadth.Unchanged)
}

func TestPublishEventWhileStopped(t *testing.T) {
	p := New(Config{ID: "pub-1"}, NewCandleSource(market.NewSimulatedQuoter(), nil), newTestBroker(t), mustJSONCodec(t))

	err := p.PublishEvent(context.Background(), market.Breadth{Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPublishEventWrapsBrokerFailure(t *testing.T) {
	b := memory.New(broker.Config{})
	p := New(Config{ID: "pub-1"}, NewCandleSource(market.NewSimulatedQuoter(), nil), b, mustJSONCodec(t))
	require.NoError(t, p.Start())
	defer p.Stop()

	// Broker never connected, so the publish is rejected.
	err := p.PublishEvent(context.Background(), market.Breadth{Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrPublishFailed)

	stats := p.Stats()
	assert.Equal(t, uint64(0), stats.TotalPublished)
	assert.Equal(t, uint64(1), stats.TotalErrors)
	assert.NotEmpty(t, stats.LastError)
}

func TestCycleEmitsDegradedStatus(t *testing.T) {
	b := newTestBroker(t)
	c := mustJSONCodec(t)

	var mu sync.Mutex
	var statuses []map[string]any
	gotStatus := make(chan struct{}, 1)

	_, err := b.Subscribe(context.Background(), market.ChannelStatus, func(ctx context.Context, channel string, payload []byte) error {
		v, derr := c.Deserialize(payload)
		if derr != nil {
			return derr
		}
		mu.Lock()
		statuses = append(statuses, v.(map[string]any))
		mu.Unlock()
		select {
		case gotStatus <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	q := &flakyQuoter{inner: market.NewSimulatedQuoter(), failing: "FAIL"}
	src := NewCandleSource(q, []string{"AAA", "BBB", "FAIL", "CCC", "DDD"})
	p := New(Config{
		ID:         "pub-candle",
		Interval:   20 * time.Millisecond,
		RateLimit:  100,
		Thresholds: health.DefaultThresholds(),
	}, src, b, c)

	require.NoError(t, p.Start())
	defer p.Stop()

	select {
	case <-gotStatus:
	case <-time.After(3 * time.Second):
		t.Fatal("no status event within 3s")
	}

	mu.Lock()
	status := statuses[0]
	mu.Unlock()

	assert.Equal(t, "pub-candle", status["publisher_id"])
	assert.Equal(t, string(health.StatusDegraded), status["status"])
	assert.EqualValues(t, 4, status["symbols_succeeded"])
	assert.EqualValues(t, 1, status["symbols_failed"])
}

func TestHealthySourceKeepsHealthyStatus(t *testing.T) {
	b := newTestBroker(t)
	src := NewCandleSource(market.NewSimulatedQuoter(), []string{"AAA"})
	p := New(Config{ID: "pub-ok", Interval: 10 * time.Millisecond}, src, b, mustJSONCodec(t))

	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Stats().TotalPublished > 0
	}, 3*time.Second, 10*time.Millisecond)

	report := p.HealthCheck()
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.True(t, report.Running)
	assert.Equal(t, uint64(0), p.Stats().TotalErrors)
}

func TestStopIsCleanAndIdempotent(t *testing.T) {
	b := newTestBroker(t)
	src := NewCandleSource(market.NewSimulatedQuoter(), []string{"AAA"})
	p := New(Config{ID: "pub-stop", Interval: 5 * time.Millisecond}, src, b, mustJSONCodec(t))

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool {
		return p.Stats().TotalPublished > 0
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	after := p.Stats().TotalPublished
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, p.Stats().TotalPublished)

	assert.Equal(t, health.StatusStopped, p.HealthCheck().Status)
	require.NoError(t, p.Stop())

	err := p.PublishEvent(context.Background(), market.Breadth{})
	assert.True(t, errors.Is(err, ErrNotRunning))
}
