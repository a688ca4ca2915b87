package wallet

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestService(store Store) *Service {
	s := NewService(store)
	s.clock = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestService_RejectsInvalidArgs(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.TopUp(ctx, "", 100); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.TopUp(ctx, "u1", 0); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.TopUp(ctx, "u1", -5); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ConditionalDebit(ctx, "", 100); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ConditionalDebit(ctx, "u1", 0); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Balance(ctx, ""); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestService_LazyWalletReadsAsZero(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	w, err := svc.Balance(ctx, "ghost")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if w.UserID != "ghost" || w.BalanceMicros != 0 {
		t.Fatalf("expected zero wallet, got %+v", w)
	}

	// Debiting a wallet that never existed is an insufficient-funds outcome.
	ok, err := svc.ConditionalDebit(ctx, "ghost", 1)
	if err != nil {
		t.Fatalf("ConditionalDebit: %v", err)
	}
	if ok {
		t.Fatalf("debit against missing wallet must be rejected")
	}
}

func TestService_CreditThenDebit(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	w, err := svc.TopUp(ctx, "u1", 5000)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if w.BalanceMicros != 5000 {
		t.Fatalf("balance = %d, want 5000", w.BalanceMicros)
	}

	ok, err := svc.ConditionalDebit(ctx, "u1", 2100)
	if err != nil || !ok {
		t.Fatalf("debit should succeed, ok=%v err=%v", ok, err)
	}
	ok, err = svc.ConditionalDebit(ctx, "u1", 2100)
	if err != nil || !ok {
		t.Fatalf("second debit should succeed, ok=%v err=%v", ok, err)
	}
	ok, err = svc.ConditionalDebit(ctx, "u1", 2100)
	if err != nil {
		t.Fatalf("third debit errored: %v", err)
	}
	if ok {
		t.Fatalf("third debit must be rejected (800 < 2100)")
	}

	w, err = svc.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if w.BalanceMicros != 800 {
		t.Fatalf("balance = %d, want 800", w.BalanceMicros)
	}
}

func TestMemoryStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// 10 units of funds, 100 goroutines each trying to take 1 unit.
	if _, err := store.Credit(ctx, "u1", 10, now); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConditionalDebit(ctx, "u1", 1, now)
			if err != nil {
				t.Errorf("ConditionalDebit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 10 {
		t.Fatalf("accepted = %d, want exactly 10", accepted)
	}
	w, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.BalanceMicros != 0 {
		t.Fatalf("balance = %d, want 0", w.BalanceMicros)
	}
	if w.BalanceMicros < 0 {
		t.Fatalf("balance went negative: %d", w.BalanceMicros)
	}
}

func TestMemoryStore_RacingCreditAndDebit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Credit(ctx, "u1", 1000, now); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Credit(ctx, "u1", 10, now)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.ConditionalDebit(ctx, "u1", 10, now)
		}()
	}
	wg.Wait()

	// Every credit landed and every accepted debit landed; with equal counts
	// and a covering starting balance nothing can be lost.
	w, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.BalanceMicros != 1000 {
		t.Fatalf("balance = %d, want 1000 (no lost updates)", w.BalanceMicros)
	}
}
