package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid call state transition")
)

// Repository is the durable call store plus its append-only billing ledger.
//
// Reads may be eventually consistent (FindBillable in particular); correctness
// is guaranteed by the atomic claim and debit primitives, not by read
// freshness.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)

	// Connect transitions ringing -> connected. Any other source state is
	// ErrInvalidTransition.
	Connect(ctx context.Context, id string, now time.Time) (Call, error)

	// FindBillable returns up to batchSize connected calls whose last billing
	// step is at least one poll interval old (or that were never billed).
	// Calls inside their free window ARE candidates; the free-window decision
	// belongs to the metering engine.
	FindBillable(ctx context.Context, now time.Time, pollInterval time.Duration, batchSize int) ([]Call, error)

	// ClaimBillingSlot atomically advances last_billed_at to now, but only if
	// the call is still connected and still due. Exactly one of any number of
	// racing claimants wins a given interval; the rest get false.
	ClaimBillingSlot(ctx context.Context, id string, now time.Time, pollInterval time.Duration) (bool, error)

	// RecordBillingStep commits one billed unit in a single transaction:
	// counters advance on the call row and one ledger entry is appended.
	RecordBillingStep(ctx context.Context, step BillingStep) (Call, error)

	// Terminate moves the call to ended with the given reason. Terminating an
	// already-ended call is a no-op returning the current row.
	Terminate(ctx context.Context, id string, reason EndReason, now time.Time) (Call, error)

	// Reconciliation reads over the immutable record.
	ListCalls(ctx context.Context, from, to time.Time) ([]Call, error)
	ListLedgerEntries(ctx context.Context, from, to time.Time) ([]LedgerEntry, error)
}

// Service owns call lifecycle rules for the collaborator API. The metering
// engine bypasses it and talks to the repository primitives directly.
type Service struct {
	repo  Repository
	clock func() time.Time

	defaultRateMicros int64
	freeWindow        time.Duration
}

func NewService(repo Repository, defaultRateMicros int64, freeWindow time.Duration) *Service {
	return &Service{
		repo:              repo,
		clock:             time.Now,
		defaultRateMicros: defaultRateMicros,
		freeWindow:        freeWindow,
	}
}

type CreateRequest struct {
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
}

// Create registers a new ringing call, snapshotting the current default rate
// and granting the configured free window.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Call, error) {
	if req.CallerID == "" || req.CalleeID == "" {
		return Call{}, ErrInvalidArgument
	}
	if req.CallerID == req.CalleeID {
		return Call{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	c := Call{
		ID:                  uuid.NewString(),
		CallerID:            req.CallerID,
		CalleeID:            req.CalleeID,
		Status:              CallStatusRinging,
		StartedAt:           now,
		RateMicrosPerSecond: s.defaultRateMicros,
		UpdatedAt:           now,
	}
	if s.freeWindow > 0 {
		freeUntil := now.Add(s.freeWindow)
		c.FreeUntil = &freeUntil
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Call{}, err
	}
	return c, nil
}

func (s *Service) Connect(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrInvalidArgument
	}
	return s.repo.Connect(ctx, id, s.clock().UTC())
}

func (s *Service) Hangup(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrInvalidArgument
	}
	return s.repo.Terminate(ctx, id, EndReasonNormal, s.clock().UTC())
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}
