package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callbilling/internal/calls"
)

// CandidateSource discovers calls due for their next billing step. The read
// may be eventually consistent; the engine's claim primitive carries the
// correctness burden.
type CandidateSource interface {
	FindBillable(ctx context.Context, now time.Time, pollInterval time.Duration, batchSize int) ([]calls.Call, error)
}

type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// Workers bounds per-cycle concurrency. Candidates within a cycle share no
	// state except the wallets, which the store primitives already protect.
	Workers int

	// RetryBackoff is the pause after a failed candidate query.
	RetryBackoff time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	out := c
	if out.Workers <= 0 {
		out.Workers = 8
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 250 * time.Millisecond
	}
	return out
}

// Scheduler drives the metering engine over due calls on a fixed cadence.
// Multiple replicas may run against the same stores; that is the expected
// deployment shape, not an edge case.
type Scheduler struct {
	engine *Engine
	source CandidateSource
	cfg    SchedulerConfig
	log    *slog.Logger

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewScheduler(engine *Engine, source CandidateSource, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		engine: engine,
		source: source,
		cfg:    cfg.withDefaults(),
		log:    log,
		clock:  time.Now,
	}
}

// Run loops until ctx is canceled. Cancellation stops new cycles and keeps new
// steps from starting; steps already in flight run to completion on a detached
// context, so no step is abandoned mid-debit.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("billing scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"batch_size", s.cfg.BatchSize,
		"workers", s.cfg.Workers,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx, s.clock().UTC()); err != nil {
			// Transient discovery errors are never fatal.
			s.log.Warn("candidate discovery failed", "err", err)
			if !sleepCtx(ctx, s.cfg.RetryBackoff) {
				s.log.Info("billing scheduler stopped")
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info("billing scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle processes one batch of due calls and blocks until every step in the
// batch has finished. Exported so tests can single-step the loop with a manual
// clock instead of depending on real timers.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.source.FindBillable(ctx, now, s.cfg.PollInterval, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	// Steps run on a non-cancelable context: a step that has debited the wallet
	// must reach its ledger commit, or every shutdown would strand debits as
	// drift. ctx only gates whether the next step starts.
	stepCtx := context.WithoutCancel(ctx)

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			wg.Wait()
			return len(candidates), nil
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(c calls.Call) {
			defer wg.Done()
			defer func() { <-sem }()

			// One call's failure must not block or abort the rest of the batch.
			outcome, err := s.engine.Step(stepCtx, c, now)
			if err != nil {
				s.log.Error("billing step failed", "call_id", c.ID, "outcome", string(outcome), "err", err)
				return
			}
			s.log.Debug("billing step", "call_id", c.ID, "outcome", string(outcome))
		}(c)
	}
	wg.Wait()

	return len(candidates), nil
}

// sleepCtx waits for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
