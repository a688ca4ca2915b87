package calls

import (
	"context"
	"testing"
	"time"
)

func connectedCall(id string, rate int64) Call {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Call{
		ID:                  id,
		CallerID:            "alice",
		CalleeID:            "bob",
		Status:              CallStatusConnected,
		StartedAt:           now,
		RateMicrosPerSecond: rate,
		UpdatedAt:           now,
	}
}

func TestMemoryRepo_FindBillable_FreshCallsExcluded(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := time.Second

	c := connectedCall("c1", 2100)
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Never billed: immediately eligible.
	got, err := repo.FindBillable(ctx, now, interval, 10)
	if err != nil {
		t.Fatalf("FindBillable: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}

	// Billed just now: excluded until an interval elapses.
	if ok, err := repo.ClaimBillingSlot(ctx, "c1", now, interval); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}
	got, err = repo.FindBillable(ctx, now.Add(500*time.Millisecond), interval, 10)
	if err != nil {
		t.Fatalf("FindBillable: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("fresh call re-selected within the interval")
	}

	// A full interval later it is due again.
	got, err = repo.FindBillable(ctx, now.Add(interval), interval, 10)
	if err != nil {
		t.Fatalf("FindBillable: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("due call not re-selected after the interval")
	}
}

func TestMemoryRepo_FindBillable_RespectsBatchAndStatus(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := repo.Create(ctx, connectedCall(id, 2100)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	ringing := connectedCall("c4", 2100)
	ringing.Status = CallStatusRinging
	_ = repo.Create(ctx, ringing)
	ended := connectedCall("c5", 2100)
	ended.Status = CallStatusEnded
	_ = repo.Create(ctx, ended)

	got, err := repo.FindBillable(ctx, now, time.Second, 2)
	if err != nil {
		t.Fatalf("FindBillable: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want batch-limited 2", len(got))
	}
	for _, c := range got {
		if c.Status != CallStatusConnected {
			t.Fatalf("non-connected call selected: %q", c.Status)
		}
	}
}

func TestMemoryRepo_ClaimBillingSlot_ExactlyOneWinnerPerInterval(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := time.Second

	if err := repo.Create(ctx, connectedCall("c1", 2100)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := repo.ClaimBillingSlot(ctx, "c1", now, interval)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	second, err := repo.ClaimBillingSlot(ctx, "c1", now, interval)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !first || second {
		t.Fatalf("want exactly one winner, got first=%v second=%v", first, second)
	}

	// Ended calls are never claimable.
	if _, err := repo.Terminate(ctx, "c1", EndReasonNormal, now); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	ok, err := repo.ClaimBillingSlot(ctx, "c1", now.Add(2*interval), interval)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatalf("claimed a slot on an ended call")
	}
}

func TestMemoryRepo_RecordBillingStep_AdvancesCountersAndLedger(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, connectedCall("c1", 2100)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 1; i <= 3; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		c, err := repo.RecordBillingStep(ctx, BillingStep{
			CallID:       "c1",
			UserID:       "alice",
			AmountMicros: 2100,
			At:           at,
		})
		if err != nil {
			t.Fatalf("RecordBillingStep %d: %v", i, err)
		}
		if c.SecondsUsed != int64(i) {
			t.Fatalf("seconds_used = %d, want %d", c.SecondsUsed, i)
		}
		if c.AmountChargedMicros != int64(i)*2100 {
			t.Fatalf("amount_charged = %d, want %d", c.AmountChargedMicros, int64(i)*2100)
		}
	}

	entries := repo.LedgerForCall("c1")
	if len(entries) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(entries))
	}
	var sum int64
	for i, e := range entries {
		if e.SecondsBilled != 1 {
			t.Fatalf("entry %d seconds_billed = %d, want 1", i, e.SecondsBilled)
		}
		if e.UserID != "alice" {
			t.Fatalf("entry %d user = %q", i, e.UserID)
		}
		sum += e.AmountMicros
		if i > 0 && entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
			t.Fatalf("ledger entries out of time order")
		}
	}
	if sum != 6300 {
		t.Fatalf("ledger sum = %d, want 6300", sum)
	}
}

func TestMemoryRepo_TerminateIsSticky(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Create(ctx, connectedCall("c1", 2100)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Terminate(ctx, "c1", EndReasonInsufficientFunds, now); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	// A later terminate with a different reason must not rewrite the record.
	c, err := repo.Terminate(ctx, "c1", EndReasonNormal, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if c.EndReason != EndReasonInsufficientFunds {
		t.Fatalf("end_reason rewritten to %q", c.EndReason)
	}
	if !c.EndedAt.Equal(now) {
		t.Fatalf("ended_at rewritten to %v", c.EndedAt)
	}
}

func TestCall_InFreeWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * time.Second)

	c := Call{}
	if c.InFreeWindow(now) {
		t.Fatalf("nil free_until must not be in window")
	}
	c.FreeUntil = &later
	if !c.InFreeWindow(now) {
		t.Fatalf("expected in window before free_until")
	}
	if c.InFreeWindow(later) {
		t.Fatalf("window must close exactly at free_until")
	}
}
