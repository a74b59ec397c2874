package natsbroker

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker/brokertest"
)

// Contract tests need a live server; set NATS_URL (e.g. nats://localhost:4222).
func TestContract(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set; skipping nats contract tests")
	}

	brokertest.RunContract(t, func(t *testing.T) broker.Broker {
		return New(broker.Config{Type: BackendName, URL: url})
	})
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	b, err := broker.Build(broker.Config{Type: BackendName})
	require.NoError(t, err)
	assert.IsType(t, &Broker{}, b)
}

func TestOperationsFailWhileDisconnected(t *testing.T) {
	b := New(broker.Config{})
	ctx := context.Background()

	err := b.Publish(ctx, "market.candle", []byte("x"))
	require.Error(t, err)
	assert.True(t, broker.IsKind(err, broker.KindPublish))

	err = b.Unsubscribe(ctx, "market.candle")
	require.Error(t, err)
	assert.True(t, broker.IsKind(err, broker.KindSubscription))

	assert.False(t, b.IsConnected())
}
