package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// A single mutex stands in for the row-level atomicity Postgres provides, so
// the claim and billing-step semantics match the real store.
type MemoryRepo struct {
	mu      sync.Mutex
	calls   map[string]Call
	entries []LedgerEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Connect(ctx context.Context, id string, now time.Time) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Status != CallStatusRinging {
		return Call{}, ErrInvalidTransition
	}
	c.Status = CallStatusConnected
	c.UpdatedAt = now
	r.calls[id] = c
	return c, nil
}

func (r *MemoryRepo) FindBillable(ctx context.Context, now time.Time, pollInterval time.Duration, batchSize int) ([]Call, error) {
	cutoff := now.Add(-pollInterval)
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.Status != CallStatusConnected {
			continue
		}
		if c.LastBilledAt != nil && c.LastBilledAt.After(cutoff) {
			continue
		}
		out = append(out, c)
	}
	// Oldest due first; never-billed calls lead.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastBilledAt, out[j].LastBilledAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}

func (r *MemoryRepo) ClaimBillingSlot(ctx context.Context, id string, now time.Time, pollInterval time.Duration) (bool, error) {
	cutoff := now.Add(-pollInterval)
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok || c.Status != CallStatusConnected {
		return false, nil
	}
	if c.LastBilledAt != nil && c.LastBilledAt.After(cutoff) {
		return false, nil
	}
	t := now
	c.LastBilledAt = &t
	c.UpdatedAt = now
	r.calls[id] = c
	return true, nil
}

func (r *MemoryRepo) RecordBillingStep(ctx context.Context, step BillingStep) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[step.CallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	c.SecondsUsed++
	c.AmountChargedMicros += step.AmountMicros
	c.UpdatedAt = step.At
	r.calls[step.CallID] = c

	r.entries = append(r.entries, LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        step.UserID,
		CallID:        step.CallID,
		SecondsBilled: 1,
		AmountMicros:  step.AmountMicros,
		CreatedAt:     step.At,
	})
	return c, nil
}

func (r *MemoryRepo) Terminate(ctx context.Context, id string, reason EndReason, now time.Time) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if c.Status == CallStatusEnded {
		return c, nil
	}
	c.Status = CallStatusEnded
	c.EndReason = reason
	t := now
	c.EndedAt = &t
	c.UpdatedAt = now
	r.calls[id] = c
	return c, nil
}

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) ListLedgerEntries(ctx context.Context, from, to time.Time) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LedgerForCall returns this call's entries in append order. Test helper.
func (r *MemoryRepo) LedgerForCall(callID string) []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out
}
