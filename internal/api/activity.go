// internal/api/activity.go
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/events"
)

// activityLimit caps the feed; older entries fall off the end.
const activityLimit = 50

// activityEntry is one line of the operator activity feed.
type activityEntry struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	Mint   string    `json:"mint,omitempty"`
	Detail string    `json:"detail"`
}

// activityFeed consumes the event bus and keeps the most recent entries
// for the status endpoint.
type activityFeed struct {
	mu      sync.Mutex
	entries []activityEntry
	subs    []events.Subscription
}

func newActivityFeed(bus *events.Bus) *activityFeed {
	f := &activityFeed{}
	if bus == nil {
		return f
	}

	types := []events.EventType{
		events.TokenDetected,
		events.TokenBought,
		events.PositionSold,
		events.PositionRetired,
		events.ScannerStopped,
		events.AlertRaised,
	}
	for _, typ := range types {
		f.subs = append(f.subs, bus.SubscribeFunc(typ, f.record))
	}
	return f
}

func (f *activityFeed) record(_ context.Context, event events.Event) error {
	entry := activityEntry{
		Type: string(event.Type()),
		Time: event.Timestamp(),
	}

	switch e := event.(type) {
	case *events.TokenDetectedEvent:
		entry.Mint = e.Mint
		entry.Detail = fmt.Sprintf("detected %s by %s", e.TokenSymbol, e.Creator)
	case *events.TokenBoughtEvent:
		entry.Mint = e.Mint
		entry.Detail = fmt.Sprintf("bought %s at %.8f USD", e.TokenSymbol, e.PriceUSD)
	case *events.PositionSoldEvent:
		entry.Mint = e.Mint
		entry.Detail = fmt.Sprintf("sold %s (%s, step %d): %.4f USD", e.TokenSymbol, e.Kind, e.Step, e.ProfitUSD)
	case *events.PositionRetiredEvent:
		entry.Mint = e.Mint
		entry.Detail = fmt.Sprintf("retired (%s)", e.Reason)
	case *events.ScannerStoppedEvent:
		entry.Detail = fmt.Sprintf("scanner stopped (%s)", e.Reason)
	case *events.AlertRaisedEvent:
		entry.Detail = e.Title
	default:
		entry.Detail = string(event.Type())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	if len(f.entries) > activityLimit {
		f.entries = f.entries[len(f.entries)-activityLimit:]
	}
	return nil
}

// snapshot returns the feed newest first.
func (f *activityFeed) snapshot() []activityEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]activityEntry, len(f.entries))
	for i, entry := range f.entries {
		out[len(f.entries)-1-i] = entry
	}
	return out
}

// stop detaches the feed from the bus.
func (f *activityFeed) stop() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
}
