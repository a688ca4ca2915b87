package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store is the durable balance store.
//
// Both mutations must be single atomic operations at the storage layer:
// ConditionalDebit is a conditional write that only succeeds when the balance
// covers the amount, and Credit is an upsert-with-delta. No caller-side locking
// is assumed; multiple biller replicas hit the same rows concurrently.
type Store interface {
	// ConditionalDebit subtracts amountMicros iff the balance covers it.
	// Returns false (and no error) when funds are insufficient.
	ConditionalDebit(ctx context.Context, userID string, amountMicros int64, now time.Time) (bool, error)

	// Credit adds amountMicros, creating the wallet at zero if missing.
	Credit(ctx context.Context, userID string, amountMicros int64, now time.Time) (Wallet, error)

	// Get returns the wallet, or ErrNotFound if it was never credited.
	Get(ctx context.Context, userID string) (Wallet, error)
}

// Service validates inputs and owns the clock. All money semantics live in the
// store primitives.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// ConditionalDebit attempts one atomic debit. A false result means
// insufficient funds, which is a normal business outcome, not an error.
func (s *Service) ConditionalDebit(ctx context.Context, userID string, amountMicros int64) (bool, error) {
	if userID == "" || amountMicros <= 0 {
		return false, ErrInvalidArgument
	}
	return s.store.ConditionalDebit(ctx, userID, amountMicros, s.clock().UTC())
}

// TopUp credits the wallet, creating it lazily at zero.
func (s *Service) TopUp(ctx context.Context, userID string, amountMicros int64) (Wallet, error) {
	if userID == "" || amountMicros <= 0 {
		return Wallet{}, ErrInvalidArgument
	}
	return s.store.Credit(ctx, userID, amountMicros, s.clock().UTC())
}

// Balance reads the wallet. A wallet that was never credited reads as zero,
// matching the lazy-creation contract.
func (s *Service) Balance(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	w, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Wallet{UserID: userID}, nil
	}
	return w, err
}
