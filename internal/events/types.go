// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Scanner events
	TokenDetected  EventType = "token.detected"
	TokenBought    EventType = "token.bought"
	ScannerStopped EventType = "scanner.stopped"

	// Position events
	PositionSold    EventType = "position.sold"
	PositionRetired EventType = "position.retired"

	// Operator events
	AlertRaised EventType = "alert.raised"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBaseEvent stamps an event with its type and the current time.
func NewBaseEvent(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// TokenDetectedEvent is emitted when the scanner sees a new launch.
type TokenDetectedEvent struct {
	BaseEvent
	Mint        string
	TokenName   string
	TokenSymbol string
	Creator     string
}

// TokenBoughtEvent is emitted after a confirmed buy fill.
type TokenBoughtEvent struct {
	BaseEvent
	Mint        string
	TokenSymbol string
	PriceUSD    float64
	AmountRaw   float64
	TxHash      string
}

// PositionSoldEvent is emitted after any confirmed sell fill, staged or
// terminal.
type PositionSoldEvent struct {
	BaseEvent
	Mint        string
	TokenSymbol string
	Kind        string // step, stop_loss, stagnation, force_exit
	Step        int
	PriceUSD    float64
	AmountRaw   float64
	ProfitUSD   float64
	TxHash      string
}

// PositionRetiredEvent is emitted when a token leaves the tracked set.
type PositionRetiredEvent struct {
	BaseEvent
	Mint   string
	Reason string // "liquidated", "forced", "zero_balance"
}

// ScannerStoppedEvent is emitted when the kill switch fires.
type ScannerStoppedEvent struct {
	BaseEvent
	Reason string
}

// AlertRaisedEvent carries an operator-facing alert onto the bus.
type AlertRaisedEvent struct {
	BaseEvent
	Title   string
	Content string
}
