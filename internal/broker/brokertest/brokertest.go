// Package brokertest holds the contract suite every broker backend must
// satisfy so backends stay interchangeable at the orchestrator boundary.
package brokertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
)

// Factory builds a fresh, unconnected broker for one contract test.
type Factory func(t *testing.T) broker.Broker

const receiveTimeout = 3 * time.Second

// RunContract runs the backend-agnostic contract tests. Networked backends
// may deliver asynchronously, so receipt is awaited with a timeout.
func RunContract(t *testing.T, factory Factory) {
	t.Run("operations fail while disconnected", func(t *testing.T) {
		b := factory(t)
		ctx := context.Background()

		err := b.Publish(ctx, "market.candle", []byte("x"))
		require.Error(t, err)

		_, err = b.Subscribe(ctx, "market.candle", nopHandler)
		require.Error(t, err)
		assert.True(t, broker.IsKind(err, broker.KindSubscription))

		assert.False(t, b.IsConnected())
	})

	t.Run("publish delivers exact payload to subscriber", func(t *testing.T) {
		b := connect(t, factory)

		received := make(chan []byte, 1)
		_, err := b.Subscribe(context.Background(), "market.candle", func(ctx context.Context, channel string, payload []byte) error {
			received <- payload
			return nil
		})
		require.NoError(t, err)

		payload := []byte(`{"symbol":"INFY"}`)
		require.NoError(t, b.Publish(context.Background(), "market.candle", payload))
		assert.Equal(t, payload, await(t, received))
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		b := connect(t, factory)

		received := make(chan []byte, 4)
		_, err := b.Subscribe(context.Background(), "market.trend", func(ctx context.Context, channel string, payload []byte) error {
			received <- payload
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, b.Publish(context.Background(), "market.trend", []byte("before")))
		await(t, received)

		require.NoError(t, b.Unsubscribe(context.Background(), "market.trend"))
		require.NoError(t, b.Publish(context.Background(), "market.trend", []byte("after")))

		select {
		case payload := <-received:
			t.Fatalf("received %q after unsubscribe", payload)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("unsubscribe handler leaves other handlers registered", func(t *testing.T) {
		b := connect(t, factory)
		ctx := context.Background()

		first := make(chan []byte, 4)
		second := make(chan []byte, 4)

		firstID, err := b.Subscribe(ctx, "market.breadth", func(ctx context.Context, channel string, payload []byte) error {
			first <- payload
			return nil
		})
		require.NoError(t, err)

		_, err = b.Subscribe(ctx, "market.breadth", func(ctx context.Context, channel string, payload []byte) error {
			second <- payload
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, b.UnsubscribeHandler(ctx, "market.breadth", firstID))
		require.NoError(t, b.Publish(ctx, "market.breadth", []byte("snapshot")))

		assert.Equal(t, []byte("snapshot"), await(t, second))
		select {
		case payload := <-first:
			t.Fatalf("removed handler received %q", payload)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("health check reports connected state", func(t *testing.T) {
		b := connect(t, factory)

		h := b.HealthCheck(context.Background())
		assert.True(t, h.Healthy)
		assert.True(t, h.Connected)
		require.NotNil(t, h.Latency)
		assert.GreaterOrEqual(t, *h.Latency, time.Duration(0))

		require.NoError(t, b.Disconnect(context.Background()))
		h = b.HealthCheck(context.Background())
		assert.False(t, h.Connected)
	})

	t.Run("stats track published counts", func(t *testing.T) {
		b := connect(t, factory)
		ctx := context.Background()

		done := make(chan []byte, 1)
		_, err := b.Subscribe(ctx, "market.status", func(ctx context.Context, channel string, payload []byte) error {
			done <- payload
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "market.status", []byte("ok")))
		await(t, done)

		stats := b.Stats()
		assert.True(t, stats.Connected)
		assert.GreaterOrEqual(t, stats.TotalPublished, uint64(1))
		assert.GreaterOrEqual(t, stats.ActiveChannels, 1)
	})
}

func connect(t *testing.T, factory Factory) broker.Broker {
	t.Helper()

	b := factory(t)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })
	return b
}

func await(t *testing.T, ch chan []byte) []byte {
	t.Helper()

	select {
	case payload := <-ch:
		return payload
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func nopHandler(ctx context.Context, channel string, payload []byte) error { return nil }
