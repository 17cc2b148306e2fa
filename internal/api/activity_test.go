// internal/api/activity_test.go
package api

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestActivityFeedRecordsBusEvents(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), 16)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	feed := newActivityFeed(bus)
	defer feed.stop()

	require.NoError(t, bus.Publish(&events.TokenBoughtEvent{
		BaseEvent:   events.NewBaseEvent(events.TokenBought),
		Mint:        "MintAAAA",
		TokenSymbol: "TEST",
		PriceUSD:    0.00001,
	}))
	require.Eventually(t, func() bool {
		return len(feed.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(&events.PositionSoldEvent{
		BaseEvent:   events.NewBaseEvent(events.PositionSold),
		Mint:        "MintAAAA",
		TokenSymbol: "TEST",
		Kind:        "step",
		Step:        1,
		ProfitUSD:   0.5,
	}))

	require.Eventually(t, func() bool {
		return len(feed.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Newest first.
	entries := feed.snapshot()
	assert.Equal(t, string(events.PositionSold), entries[0].Type)
	assert.Equal(t, string(events.TokenBought), entries[1].Type)
	assert.Equal(t, "MintAAAA", entries[0].Mint)
	assert.Contains(t, entries[0].Detail, "step")
}

func TestActivityFeedTrimsToLimit(t *testing.T) {
	feed := newActivityFeed(nil)

	for i := 0; i < activityLimit+10; i++ {
		require.NoError(t, feed.record(context.Background(), &events.PositionRetiredEvent{
			BaseEvent: events.NewBaseEvent(events.PositionRetired),
			Mint:      fmt.Sprintf("Mint%d", i),
			Reason:    "zero_balance",
		}))
	}

	entries := feed.snapshot()
	require.Len(t, entries, activityLimit)
	// The oldest entries fell off; the newest is first.
	assert.Equal(t, fmt.Sprintf("Mint%d", activityLimit+9), entries[0].Mint)
}

func TestActivityFeedWithoutBusIsEmpty(t *testing.T) {
	feed := newActivityFeed(nil)
	assert.Empty(t, feed.snapshot())
	feed.stop() // no subscriptions, no panic
}
