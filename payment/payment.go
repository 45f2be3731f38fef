// Package payment defines the Payment aggregate, its state machine, and
// the Event it emits on every transition.
package payment

import (
	"encoding/json"
	"time"

	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/fees"
)

type Status string

const (
	StatusQuoted          Status = "QUOTED"
	StatusInitiated       Status = "INITIATED"
	StatusConfirmed       Status = "CONFIRMED"
	StatusOnrampPending   Status = "ONRAMP_PENDING"
	StatusOnrampCompleted Status = "ONRAMP_COMPLETED"
	StatusOnrampFailed    Status = "ONRAMP_FAILED"
	StatusOfframpPending  Status = "OFFRAMP_PENDING"
	StatusOfframpCompleted Status = "OFFRAMP_COMPLETED"
	StatusOfframpFailed   Status = "OFFRAMP_FAILED"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// EventType returns the dotted lower-case event type for reaching this
// status, e.g. StatusOnrampPending -> "onramp.pending".
func (s Status) EventType() string {
	switch s {
	case StatusInitiated:
		return "payment.initiated"
	case StatusConfirmed:
		return "payment.confirmed"
	case StatusOnrampPending:
		return "onramp.pending"
	case StatusOnrampCompleted:
		return "onramp.completed"
	case StatusOnrampFailed:
		return "onramp.failed"
	case StatusOfframpPending:
		return "offramp.pending"
	case StatusOfframpCompleted:
		return "offramp.completed"
	case StatusOfframpFailed:
		return "offramp.failed"
	case StatusCompleted:
		return "payment.completed"
	case StatusFailed:
		return "payment.failed"
	default:
		return "payment.unknown"
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions enumerates every permitted edge. A transition not present
// here fails with apperr.InvalidStateTransition.
var transitions = map[Status]map[Status]bool{
	StatusInitiated:        {StatusConfirmed: true},
	StatusConfirmed:        {StatusOnrampPending: true},
	StatusOnrampPending:    {StatusOnrampCompleted: true, StatusOnrampFailed: true},
	StatusOnrampCompleted:  {StatusOfframpPending: true},
	StatusOfframpPending:   {StatusOfframpCompleted: true, StatusOfframpFailed: true},
	StatusOfframpCompleted: {StatusCompleted: true},
	StatusOnrampFailed:     {StatusFailed: true},
	StatusOfframpFailed:    {StatusFailed: true},
}

// CheckTransition reports whether moving from `from` to `to` is legal.
func CheckTransition(from, to Status) error {
	allowed, ok := transitions[from]
	if !ok || !allowed[to] {
		return apperr.New(apperr.InvalidStateTransition, string(from)+" -> "+string(to)+" is not permitted")
	}
	return nil
}

// Payment is the durable aggregate root. Fee fields are immutable once
// set by Initiate; after that only Status, UpdatedAt, the onramp/offramp
// tx ids, and CompletedAt change.
type Payment struct {
	ID                string
	UserID            string
	QuoteID           string
	SourceCurrency    string // always "USD"
	DestinationCurrency string
	Amount            float64
	PaymentMethod     fees.Method
	FeeHandling       fees.HandlingMode

	FeeOnramp     float64
	FeeCorridor   float64
	FeePlatform   float64
	FeeNetworkGas float64
	FeeTotal      float64
	UsdcSent      float64

	ExchangeRate      float64
	DestinationAmount float64

	QuoteExpiresAt time.Time

	Status Status

	OnrampTxID  string
	OfframpTxID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Event is one append-only row in the per-payment event log.
type Event struct {
	ID        string
	PaymentID string
	EventType string
	Status    Status
	Metadata  json.RawMessage
	Timestamp time.Time
}
