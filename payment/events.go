package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the kind of payment lifecycle event
type EventType string

const (
	// EventChallenge is emitted when a challenge is issued
	EventChallenge EventType = "challenge"

	// EventSettled is emitted when a payment settles
	EventSettled EventType = "settled"

	// EventFailed is emitted when processing a payment fails
	EventFailed EventType = "failed"
)

// Event describes one step of a payment.
// Subscribers are called synchronously and should return quickly.
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	Provider    string
	ChallengeID string
	Label       string
	Amount      decimal.Decimal
	Resource    string
	Network     string
	Transaction string
	Payer       string
	Error       error
	Duration    time.Duration

	// FirstForResource is set on settled events when a ledger is attached and
	// this is the first settlement recorded for Resource.
	FirstForResource bool
}

// Subscriber receives payment events
type Subscriber func(Event)
