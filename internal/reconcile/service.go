package reconcile

import (
	"context"
	"errors"
	"time"

	"callbilling/internal/calls"
)

var ErrInvalidRequest = errors.New("reconcile: invalid request")

// Repository abstracts data access for reconciliation.
// Implementations must query the immutable sources (calls, ledger entries);
// reconciliation never writes.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error)
	ListLedgerEntries(ctx context.Context, from, to time.Time) ([]calls.LedgerEntry, error)
}

// Service surfaces billing drift.
//
// The metering engine deliberately keeps a wallet debit when the follow-up
// call/ledger commit fails, so wallets can run slightly ahead of the ledger.
// This report makes that drift visible by checking, per call, that
//
//	amount_charged == seconds_used * rate == sum of its ledger entries
//
// over a window. The window must cover the calls' full billing lifetime;
// entries written outside it would read as false drift.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

type ReportRequest struct {
	From time.Time
	To   time.Time
}

type CallDrift struct {
	CallID string `json:"call_id"`
	UserID string `json:"user_id"`

	SecondsUsed         int64 `json:"seconds_used"`
	AmountChargedMicros int64 `json:"amount_charged_micros"`
	ExpectedMicros      int64 `json:"expected_micros"`
	LedgerSumMicros     int64 `json:"ledger_sum_micros"`

	// DeltaMicros is amount charged minus ledger sum: positive means the
	// wallet side ran ahead of the ledger.
	DeltaMicros int64 `json:"delta_micros"`
}

type Report struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	CallsChecked int         `json:"calls_checked"`
	CleanCalls   int         `json:"clean_calls"`
	Drifted      []CallDrift `json:"drifted,omitempty"`

	TotalChargedMicros int64 `json:"total_charged_micros"`
	TotalLedgerMicros  int64 `json:"total_ledger_micros"`
}

func (s *Service) DriftReport(ctx context.Context, req ReportRequest) (Report, error) {
	if req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		return Report{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Report{}, errors.New("reconcile: repository not configured")
	}

	callRows, err := s.repo.ListCalls(ctx, req.From, req.To)
	if err != nil {
		return Report{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, req.From, req.To)
	if err != nil {
		return Report{}, err
	}

	ledgerByCall := make(map[string]int64, len(callRows))
	for _, e := range entries {
		ledgerByCall[e.CallID] += e.AmountMicros
	}

	out := Report{From: req.From, To: req.To}
	for _, c := range callRows {
		out.CallsChecked++
		ledgerSum := ledgerByCall[c.ID]
		expected := c.SecondsUsed * c.RateMicrosPerSecond

		out.TotalChargedMicros += c.AmountChargedMicros
		out.TotalLedgerMicros += ledgerSum

		if c.AmountChargedMicros == ledgerSum && c.AmountChargedMicros == expected {
			out.CleanCalls++
			continue
		}
		out.Drifted = append(out.Drifted, CallDrift{
			CallID:              c.ID,
			UserID:              c.CallerID,
			SecondsUsed:         c.SecondsUsed,
			AmountChargedMicros: c.AmountChargedMicros,
			ExpectedMicros:      expected,
			LedgerSumMicros:     ledgerSum,
			DeltaMicros:         c.AmountChargedMicros - ledgerSum,
		})
	}
	return out, nil
}
