package calls

import "time"

// Call is a metered voice/video call.
//
// Lifecycle: the call-setup collaborator creates the row (ringing) and
// transitions it to connected when both parties join. From then on only the
// metering engine writes to it: advancing the billing counters or ending it.
//
// Money invariant:
//
//	AmountChargedMicros == SecondsUsed * RateMicrosPerSecond
//	                    == sum of LedgerEntry.AmountMicros for this call
//
// RateMicrosPerSecond is snapshotted at creation so billing stays deterministic
// even if the configured default rate changes mid-call.
//
// "Per second" is really per poll interval: one unit is charged per elapsed
// scheduler interval, so billing granularity equals the configured cadence.
type Call struct {
	ID       string `json:"id" db:"id"`
	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt time.Time `json:"started_at" db:"started_at"`

	// LastBilledAt is both the due marker and the dedup key: a call is only
	// re-selected once a full poll interval has elapsed since it.
	LastBilledAt *time.Time `json:"last_billed_at,omitempty" db:"last_billed_at"`

	SecondsUsed         int64 `json:"seconds_used" db:"seconds_used"`
	AmountChargedMicros int64 `json:"amount_charged_micros" db:"amount_charged_micros"`
	RateMicrosPerSecond int64 `json:"rate_micros_per_second" db:"rate_micros_per_second"`

	// FreeUntil is an optional grace window; no charge accrues before it.
	FreeUntil *time.Time `json:"free_until,omitempty" db:"free_until"`

	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	EndReason EndReason  `json:"end_reason,omitempty" db:"end_reason"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
)

type EndReason string

const (
	EndReasonNormal            EndReason = "normal"
	EndReasonInsufficientFunds EndReason = "insufficient_funds"
	EndReasonError             EndReason = "error"
)

// InFreeWindow reports whether the call is still inside its grace window.
func (c Call) InFreeWindow(now time.Time) bool {
	return c.FreeUntil != nil && c.FreeUntil.After(now)
}

// LedgerEntry is one committed billing step. Immutable once written: never
// updated or deleted; it is the audit trail of record for reconciliation.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	CallID        string    `json:"call_id" db:"call_id"`
	SecondsBilled int64     `json:"seconds_billed" db:"seconds_billed"`
	AmountMicros  int64     `json:"amount_micros" db:"amount_micros"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BillingStep carries the values committed by one successful billing step:
// the call counter advance plus its ledger entry, applied as one transaction.
type BillingStep struct {
	CallID       string
	UserID       string
	AmountMicros int64
	At           time.Time
}
