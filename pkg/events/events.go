// Package events defines the vault's audit trail: one typed event per
// state-changing operation, recorded to an append-only, hash-chained ledger
// and optionally to a durable store. Dashboards and the monitor consume this
// trail; it is never consulted for payment decisions.
package events

import (
	"context"
	"time"
)

// Type categorizes an audit event.
type Type string

const (
	TypePaymentRegistered  Type = "PAYMENT_REGISTERED"
	TypeFulfillmentChanged Type = "FULFILLMENT_CHANGED"
	TypePaymentExecuted    Type = "PAYMENT_EXECUTED"
	TypeVaultFunded        Type = "VAULT_FUNDED"
	TypeManagerChanged     Type = "MANAGER_CHANGED"
	TypeOwnershipProposed  Type = "OWNERSHIP_PROPOSED"
	TypeOwnershipAccepted  Type = "OWNERSHIP_ACCEPTED"
	TypeTokensRescued      Type = "TOKENS_RESCUED"
)

// Event is a single audit record. InvoiceID is empty for events that are not
// tied to a payment record (funding, role changes, rescue).
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	InvoiceID string         `json:"invoice_id,omitempty"`
	Actor     string         `json:"actor"`
	Recipient string         `json:"recipient,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Recorder receives audit events. Implementations must not mutate the event.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// multi fans an event out to several recorders.
type multi struct {
	recorders []Recorder
}

// Multi returns a Recorder that forwards to every given recorder, returning
// the first error encountered (remaining recorders still run).
func Multi(recorders ...Recorder) Recorder {
	return &multi{recorders: recorders}
}

func (m *multi) Record(ctx context.Context, ev Event) error {
	var firstErr error
	for _, r := range m.recorders {
		if err := r.Record(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard is a Recorder that drops every event. Useful in tests.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) error { return nil }
