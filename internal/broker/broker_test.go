package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFailsClosedOnUnknownType(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", func(cfg Config) (Broker, error) { return nil, nil })

	_, err := r.Build(Config{Type: "kafka"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown broker type")
}

func TestRegistryBuildsRegisteredType(t *testing.T) {
	r := NewRegistry()
	sentinel := errors.New("built")
	r.Register("fake", func(cfg Config) (Broker, error) { return nil, sentinel })

	_, err := r.Build(Config{Type: "fake"})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, []string{"fake"}, r.Names())
}

func TestHandlerTableOrderAndRemoval(t *testing.T) {
	table := NewHandlerTable()

	var order []string
	mk := func(name string) Handler {
		return func(ctx context.Context, channel string, payload []byte) error {
			order = append(order, name)
			return nil
		}
	}

	a := table.Add("ch", mk("a"))
	table.Add("ch", mk("b"))
	table.Add("ch", mk("c"))

	delivered, failed := table.Dispatch(context.Background(), "ch", nil)
	assert.Equal(t, 3, delivered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"a", "b", "c"}, order)

	require.True(t, table.Remove("ch", a))
	require.False(t, table.Remove("ch", a))

	order = nil
	delivered, _ = table.Dispatch(context.Background(), "ch", nil)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"b", "c"}, order)

	assert.Equal(t, 2, table.RemoveChannel("ch"))
	assert.Equal(t, 0, table.Len("ch"))
	assert.Empty(t, table.Channels())
}

func TestHandlerTableIsolatesPanics(t *testing.T) {
	table := NewHandlerTable()

	table.Add("ch", func(ctx context.Context, channel string, payload []byte) error {
		panic("broken handler")
	})
	reached := false
	table.Add("ch", func(ctx context.Context, channel string, payload []byte) error {
		reached = true
		return nil
	})

	delivered, failed := table.Dispatch(context.Background(), "ch", []byte("p"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
	assert.True(t, reached)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewPublishError("publish failed", cause)

	assert.True(t, IsKind(err, KindPublish))
	assert.False(t, IsKind(err, KindConnection))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "publish failed")

	wrapped := fmt.Errorf("cycle 4: %w", NewConnectionError("down", nil))
	assert.True(t, IsKind(wrapped, KindConnection))
	assert.False(t, IsKind(errors.New("plain"), KindPublish))
}
