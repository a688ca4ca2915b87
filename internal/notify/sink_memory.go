package notify

import (
	"context"
	"sync"
)

// MemorySink records events for tests.
type MemorySink struct {
	mu      sync.Mutex
	Updates []BillingUpdate
	Ended   []CallEnded

	// Err, when set, is returned from every delivery. Lets tests verify that
	// notification failures never affect billing outcomes.
	Err error
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) BillingUpdated(ctx context.Context, ev BillingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates = append(s.Updates, ev)
	return s.Err
}

func (s *MemorySink) CallEnded(ctx context.Context, ev CallEnded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ended = append(s.Ended, ev)
	return s.Err
}

func (s *MemorySink) Snapshot() ([]BillingUpdate, []CallEnded) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := append([]BillingUpdate(nil), s.Updates...)
	ended := append([]CallEnded(nil), s.Ended...)
	return updates, ended
}
