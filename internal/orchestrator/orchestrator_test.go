package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/config"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/health"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DLQ.FilePath = filepath.Join(t.TempDir(), "dlq.db")
	return cfg
}

func TestDisabledComponentsNotConstructed(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Publishers = []config.PublisherSpec{
		{ID: "on", Type: "market_candle", Enabled: true, Symbols: []string{"AAA"}},
		{ID: "off", Type: "market_candle", Enabled: false, Symbols: []string{"BBB"}},
	}
	cfg.Subscribers = []config.SubscriberSpec{
		{ID: "sink", Type: "log", Enabled: false, Channels: []string{"market.candle"}},
	}

	o := New(cfg)
	require.NoError(t, o.BuildPublishers())
	require.NoError(t, o.BuildSubscribers())

	assert.Len(t, o.publishers, 1)
	assert.Equal(t, "on", o.publishers[0].id)
	assert.Empty(t, o.subscribers)
}

func TestUnknownTypesFailClosed(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Publishers = []config.PublisherSpec{{ID: "p", Type: "teleport", Enabled: true}}

	o := New(cfg)
	err := o.BuildPublishers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown publisher type "teleport"`)

	cfg = baseConfig(t)
	cfg.Subscribers = []config.SubscriberSpec{{ID: "s", Type: "carrier_pigeon", Enabled: true}}
	err = New(cfg).BuildSubscribers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown subscriber type "carrier_pigeon"`)
}

func TestBuildStepsAreIdempotent(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DLQ.Enabled = true
	o := New(cfg)

	require.NoError(t, o.BuildBroker())
	b := o.broker
	require.NoError(t, o.BuildBroker())
	assert.Same(t, b, o.broker)

	require.NoError(t, o.BuildSerializer())
	c := o.codec
	require.NoError(t, o.BuildSerializer())
	assert.Same(t, c, o.codec)

	require.NoError(t, o.BuildDLQ())
	m := o.dlqManager
	require.NoError(t, o.BuildDLQ())
	assert.Same(t, m, o.dlqManager)
}

func TestBadSerializerType(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Serializer.Type = "xml"

	err := New(cfg).BuildSerializer()
	require.Error(t, err)
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DLQ.Enabled = true
	cfg.Publishers = []config.PublisherSpec{
		{ID: "candles", Type: "market_candle", Enabled: true, Symbols: []string{"AAA", "BBB"}, IntervalSeconds: 1, RateLimit: 100},
	}
	cfg.Subscribers = []config.SubscriberSpec{
		{ID: "sink", Type: "log", Enabled: true, Channels: []string{"market.candle", "market.status"}},
	}

	o := New(cfg)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.True(t, o.IsRunning())
	assert.True(t, o.broker.IsConnected())

	stats := o.Stats()
	assert.Equal(t, true, stats["running"])
	assert.Equal(t, 1, stats["publisher_count"])
	assert.Equal(t, 1, stats["subscriber_count"])
	pubs := stats["publishers"].(map[string]any)
	require.Contains(t, pubs, "candles")
	subs := stats["subscribers"].(map[string]any)
	require.Contains(t, subs, "sink")

	require.NoError(t, o.Stop(ctx))
	assert.False(t, o.IsRunning())
	assert.False(t, o.broker.IsConnected())
	assert.Equal(t, false, o.Stats()["running"])

	// Second stop is a no-op.
	require.NoError(t, o.Stop(ctx))
}

func TestStartFailureUnwindsStartedComponents(t *testing.T) {
	cfg := baseConfig(t)
	o := New(cfg)
	require.NoError(t, o.BuildSerializer())
	require.NoError(t, o.BuildBroker())

	var goodStarts, goodStops atomic.Int32
	good := &component{
		id:     "good",
		start:  func(context.Context) error { goodStarts.Add(1); return nil },
		stop:   func(context.Context) error { goodStops.Add(1); return nil },
		status: func() health.Status { return health.StatusHealthy },
		stats:  func() any { return nil },
	}
	bad := &component{
		id:     "bad",
		start:  func(context.Context) error { return errors.New("bind: address already in use") },
		stop:   func(context.Context) error { return nil },
		status: func() health.Status { return health.StatusStopped },
		stats:  func() any { return nil },
	}
	o.publishers = []*component{}
	o.subscribers = []*component{good, bad}

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting subscriber bad")

	// The component that did start was stopped and the broker released.
	assert.Equal(t, int32(1), goodStarts.Load())
	assert.Equal(t, int32(1), goodStops.Load())
	assert.False(t, o.broker.IsConnected())
	assert.False(t, o.IsRunning())
}

func TestCandleStoreSubscriberRequiresPath(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Subscribers = []config.SubscriberSpec{
		{ID: "store", Type: "candle_store", Enabled: true, Channels: []string{"market.candle"}},
	}

	err := New(cfg).BuildSubscribers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires file_path")
}

func TestRestartBudget(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Health.RestartOnFailure = true
	cfg.Health.MaxRestartAttempts = 2
	cfg.Health.RestartDelaySeconds = 0

	var starts, stops atomic.Int32
	flaky := &component{
		id:     "flaky",
		start:  func(context.Context) error { starts.Add(1); return nil },
		stop:   func(context.Context) error { stops.Add(1); return nil },
		status: func() health.Status { return health.StatusUnhealthy },
		stats:  func() any { return nil },
	}

	o := New(cfg)
	o.publishers = []*component{flaky}

	ctx := context.Background()
	for range 5 {
		o.checkComponents(ctx)
	}

	// Two restart attempts, then one final stop when the budget runs out.
	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, int32(3), stops.Load())
}

func TestRestartBudgetResetsAfterRecovery(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Health.RestartOnFailure = true
	cfg.Health.MaxRestartAttempts = 2
	cfg.Health.RestartDelaySeconds = 0

	var starts atomic.Int32
	var healthy atomic.Bool
	comp := &component{
		id:    "recovering",
		start: func(context.Context) error { starts.Add(1); return nil },
		stop:  func(context.Context) error { return nil },
		status: func() health.Status {
			if healthy.Load() {
				return health.StatusHealthy
			}
			return health.StatusUnhealthy
		},
		stats: func() any { return nil },
	}

	o := New(cfg)
	o.publishers = []*component{comp}
	ctx := context.Background()

	o.checkComponents(ctx)
	require.Equal(t, int32(1), starts.Load())

	// Recovery clears the attempt counter.
	healthy.Store(true)
	o.checkComponents(ctx)
	o.mu.Lock()
	assert.Equal(t, 0, o.restarts["recovering"])
	o.mu.Unlock()

	// A later failure draws on a fresh budget, not the depleted one.
	healthy.Store(false)
	o.checkComponents(ctx)
	o.checkComponents(ctx)
	o.checkComponents(ctx)
	assert.Equal(t, int32(3), starts.Load())
}

func TestRestartDisabledLeavesComponentsAlone(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Health.RestartOnFailure = false

	var starts atomic.Int32
	o := New(cfg)
	o.publishers = []*component{{
		id:     "flaky",
		start:  func(context.Context) error { starts.Add(1); return nil },
		stop:   func(context.Context) error { return nil },
		status: func() health.Status { return health.StatusUnhealthy },
		stats:  func() any { return nil },
	}}

	o.checkComponents(context.Background())
	assert.Equal(t, int32(0), starts.Load())
}

func TestStartFailsOnBadBrokerType(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Broker.Type = "smoke_signals"

	err := New(cfg).Start(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestPushSubscriberEndToEnd(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Subscribers = []config.SubscriberSpec{
		{ID: "pusher", Type: "push", Enabled: true, Channels: []string{"market.trend"}, Host: "127.0.0.1", Port: 0},
	}

	o := New(cfg)
	require.NoError(t, o.BuildSubscribers())
	require.Len(t, o.subscribers, 1)

	stats := o.subscribers[0].stats().(map[string]any)
	assert.Contains(t, stats, "subscriber")
	assert.Contains(t, stats, "push")
}
