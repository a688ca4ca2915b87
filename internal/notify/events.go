package notify

import (
	"context"
	"time"
)

// Billing-state events consumed by external collaborators (push notifications,
// in-call UI). Delivery is best-effort/at-least-once and must never gate or
// roll back the billing step that produced the event.

type BillingUpdate struct {
	CallID       string    `json:"call_id"`
	SecondsUsed  int64     `json:"seconds_used"`
	LastBilledAt time.Time `json:"last_billed_at"`
}

type CallEnded struct {
	CallID    string `json:"call_id"`
	Status    string `json:"status"` // always "ended"
	EndReason string `json:"end_reason"`
}

// Sink receives billing-state events.
type Sink interface {
	BillingUpdated(ctx context.Context, ev BillingUpdate) error
	CallEnded(ctx context.Context, ev CallEnded) error
}

// NopSink discards all events. Used in tests and notification-less deployments.
type NopSink struct{}

func (NopSink) BillingUpdated(ctx context.Context, ev BillingUpdate) error { return nil }
func (NopSink) CallEnded(ctx context.Context, ev CallEnded) error          { return nil }
