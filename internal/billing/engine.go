package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/notify"
)

// WalletStore is the slice of the wallet service the engine needs.
type WalletStore interface {
	ConditionalDebit(ctx context.Context, userID string, amountMicros int64) (bool, error)
}

// CallStore is the slice of the call repository the engine needs.
type CallStore interface {
	ClaimBillingSlot(ctx context.Context, id string, now time.Time, pollInterval time.Duration) (bool, error)
	RecordBillingStep(ctx context.Context, step calls.BillingStep) (calls.Call, error)
	Terminate(ctx context.Context, id string, reason calls.EndReason, now time.Time) (calls.Call, error)
}

// Outcome classifies one billing step.
type Outcome string

const (
	// OutcomeSkipped: another biller replica claimed this interval first.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFree: inside the grace window; slot consumed, nothing charged.
	OutcomeFree Outcome = "free"
	// OutcomeBilled: debit and ledger commit both landed.
	OutcomeBilled Outcome = "billed"
	// OutcomeEnded: debit rejected; call terminated with insufficient_funds.
	OutcomeEnded Outcome = "ended"
)

// ErrLedgerDrift marks a billing step whose wallet debit committed but whose
// call/ledger transaction did not. The debit is intentionally NOT rolled back:
// the wallet may run slightly ahead of the ledger, but the ledger must never
// claim money that was not actually debited. Reconciliation picks these up
// from the durable records; retrying in-line would risk a double debit.
var ErrLedgerDrift = errors.New("wallet debited without ledger commit")

// Engine executes one billing step per call per poll interval.
//
// Step order is load-bearing:
//
//  1. Claim the interval slot (atomic conditional advance of last_billed_at).
//     Losing the claim means another replica owns this interval; stop.
//  2. Free window: slot consumed, no debit, no ledger entry.
//  3. Conditional debit: the only overdraft guard.
//  4. Transactional counter advance + ledger append.
//  5. Best-effort notification.
type Engine struct {
	wallets WalletStore
	store   CallStore
	sink    notify.Sink
	log     *slog.Logger

	pollInterval time.Duration
}

func NewEngine(wallets WalletStore, store CallStore, sink notify.Sink, log *slog.Logger, pollInterval time.Duration) *Engine {
	if sink == nil {
		sink = notify.NopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		wallets:      wallets,
		store:        store,
		sink:         sink,
		log:          log,
		pollInterval: pollInterval,
	}
}

// Step runs one billing step for a candidate call.
func (e *Engine) Step(ctx context.Context, c calls.Call, now time.Time) (Outcome, error) {
	claimed, err := e.store.ClaimBillingSlot(ctx, c.ID, now, e.pollInterval)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claim billing slot: %w", err)
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	if c.InFreeWindow(now) {
		return OutcomeFree, nil
	}

	ok, err := e.wallets.ConditionalDebit(ctx, c.CallerID, c.RateMicrosPerSecond)
	if err != nil {
		// Transient store error; the claim stands, so this call waits one
		// extra interval. Undercharging beats overcharging.
		return OutcomeSkipped, fmt.Errorf("conditional debit: %w", err)
	}

	if !ok {
		ended, err := e.store.Terminate(ctx, c.ID, calls.EndReasonInsufficientFunds, now)
		if err != nil {
			// No funds moved; next cycle re-runs the rejected debit and
			// retries the termination.
			return OutcomeSkipped, fmt.Errorf("terminate call %s: %w", c.ID, err)
		}
		e.log.Info("call ended: insufficient funds",
			"call_id", c.ID,
			"user_id", c.CallerID,
			"rate_micros", c.RateMicrosPerSecond,
			"seconds_used", ended.SecondsUsed,
		)
		e.notifyEnded(ctx, ended)
		return OutcomeEnded, nil
	}

	updated, err := e.store.RecordBillingStep(ctx, calls.BillingStep{
		CallID:       c.ID,
		UserID:       c.CallerID,
		AmountMicros: c.RateMicrosPerSecond,
		At:           now,
	})
	if err != nil {
		e.log.Error("billing_drift",
			"call_id", c.ID,
			"user_id", c.CallerID,
			"amount_micros", c.RateMicrosPerSecond,
			"err", err,
		)
		return OutcomeSkipped, fmt.Errorf("%w: call %s: %v", ErrLedgerDrift, c.ID, err)
	}

	e.notifyUpdated(ctx, updated)
	return OutcomeBilled, nil
}

func (e *Engine) notifyUpdated(ctx context.Context, c calls.Call) {
	ev := notify.BillingUpdate{
		CallID:      c.ID,
		SecondsUsed: c.SecondsUsed,
	}
	if c.LastBilledAt != nil {
		ev.LastBilledAt = *c.LastBilledAt
	}
	if err := e.sink.BillingUpdated(ctx, ev); err != nil {
		e.log.Warn("billing update notification failed", "call_id", c.ID, "err", err)
	}
}

func (e *Engine) notifyEnded(ctx context.Context, c calls.Call) {
	ev := notify.CallEnded{
		CallID:    c.ID,
		Status:    string(calls.CallStatusEnded),
		EndReason: string(c.EndReason),
	}
	if err := e.sink.CallEnded(ctx, ev); err != nil {
		e.log.Warn("termination notification failed", "call_id", c.ID, "err", err)
	}
}
