package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, ChannelCandle, ChannelFor(KindCandle))
	assert.Equal(t, ChannelBreadth, ChannelFor(KindBreadth))
	assert.Equal(t, ChannelTrend, ChannelFor(KindTrend))
	assert.Equal(t, ChannelStatus, ChannelFor(KindStatus))
}

func TestCandlePayloadCarriesKind(t *testing.T) {
	q := NewSimulatedQuoter()
	candle, err := q.Quote(context.Background(), "TCS")
	require.NoError(t, err)

	payload := candle.Payload()
	assert.Equal(t, KindCandle, payload["kind"])
	assert.Equal(t, "TCS", payload["symbol"])
	assert.NotNil(t, payload["open"])
}

func TestSimulatedQuoterAdvancesPerSymbol(t *testing.T) {
	q := NewSimulatedQuoter()
	ctx := context.Background()

	first, err := q.Quote(ctx, "INFY")
	require.NoError(t, err)
	second, err := q.Quote(ctx, "INFY")
	require.NoError(t, err)

	// The walk moves between ticks.
	assert.False(t, first.Close.Equal(second.Close))

	// Prices stay in the documented band and candles are well-formed.
	assert.True(t, second.High.GreaterThanOrEqual(second.Low))
	assert.True(t, second.Volume > 0)
}

func TestSimulatedQuoterHonorsContext(t *testing.T) {
	q := NewSimulatedQuoter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Quote(ctx, "INFY")
	assert.Error(t, err)
}
