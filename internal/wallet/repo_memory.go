package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It honors the same atomicity contract via a mutex.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]Wallet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: map[string]Wallet{}}
}

func (s *MemoryStore) ConditionalDebit(ctx context.Context, userID string, amountMicros int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok || w.BalanceMicros < amountMicros {
		return false, nil
	}
	w.BalanceMicros -= amountMicros
	w.UpdatedAt = now
	s.wallets[userID] = w
	return true, nil
}

func (s *MemoryStore) Credit(ctx context.Context, userID string, amountMicros int64, now time.Time) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = Wallet{UserID: userID}
	}
	w.BalanceMicros += amountMicros
	w.UpdatedAt = now
	s.wallets[userID] = w
	return w, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}
