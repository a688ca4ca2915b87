package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbilling/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo implements Repository against Postgres.
//
// Assumed schema:
//
//	CREATE TABLE calls (
//	  id                     TEXT PRIMARY KEY,
//	  caller_id              TEXT NOT NULL,
//	  callee_id              TEXT NOT NULL,
//	  status                 TEXT NOT NULL,
//	  started_at             TIMESTAMPTZ NOT NULL,
//	  last_billed_at         TIMESTAMPTZ,
//	  seconds_used           BIGINT NOT NULL DEFAULT 0 CHECK (seconds_used >= 0),
//	  amount_charged_micros  BIGINT NOT NULL DEFAULT 0 CHECK (amount_charged_micros >= 0),
//	  rate_micros_per_second BIGINT NOT NULL CHECK (rate_micros_per_second > 0),
//	  free_until             TIMESTAMPTZ,
//	  ended_at               TIMESTAMPTZ,
//	  end_reason             TEXT NOT NULL DEFAULT '',
//	  updated_at             TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE ledger_entries (
//	  id             TEXT PRIMARY KEY,
//	  user_id        TEXT NOT NULL,
//	  call_id        TEXT NOT NULL REFERENCES calls(id),
//	  seconds_billed BIGINT NOT NULL,
//	  amount_micros  BIGINT NOT NULL,
//	  created_at     TIMESTAMPTZ NOT NULL
//	);
//
// ledger_entries is append-only: no UPDATE or DELETE is ever issued against it.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `
id, caller_id, callee_id, status, started_at, last_billed_at,
seconds_used, amount_charged_micros, rate_micros_per_second,
free_until, ended_at, end_reason, updated_at
`

func scanCall(row interface {
	Scan(dest ...any) error
}) (Call, error) {
	var c Call
	var lastBilled, freeUntil, endedAt sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.CallerID,
		&c.CalleeID,
		&c.Status,
		&c.StartedAt,
		&lastBilled,
		&c.SecondsUsed,
		&c.AmountChargedMicros,
		&c.RateMicrosPerSecond,
		&freeUntil,
		&endedAt,
		&c.EndReason,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	if lastBilled.Valid {
		t := lastBilled.Time
		c.LastBilledAt = &t
	}
	if freeUntil.Valid {
		t := freeUntil.Time
		c.FreeUntil = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, caller_id, callee_id, status, started_at, last_billed_at,
  seconds_used, amount_charged_micros, rate_micros_per_second,
  free_until, ended_at, end_reason, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.CallerID,
		c.CalleeID,
		c.Status,
		c.StartedAt,
		nullTime(c.LastBilledAt),
		c.SecondsUsed,
		c.AmountChargedMicros,
		c.RateMicrosPerSecond,
		nullTime(c.FreeUntil),
		nullTime(c.EndedAt),
		c.EndReason,
		c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) Connect(ctx context.Context, id string, now time.Time) (Call, error) {
	q := `
UPDATE calls
SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, CallStatusConnected, now, CallStatusRinging))
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish missing from already connected/ended.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Call{}, getErr
		}
		return Call{}, ErrInvalidTransition
	}
	return c, err
}

func (r *PostgresRepo) FindBillable(ctx context.Context, now time.Time, pollInterval time.Duration, batchSize int) ([]Call, error) {
	cutoff := now.Add(-pollInterval)
	q := `
SELECT ` + callColumns + `
FROM calls
WHERE status = $1 AND (last_billed_at IS NULL OR last_billed_at <= $2)
ORDER BY last_billed_at ASC NULLS FIRST
LIMIT $3
`
	rows, err := r.db.QueryContext(ctx, q, CallStatusConnected, cutoff, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0, batchSize)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimBillingSlot is the storage-layer dedup primitive: the conditional write
// on last_billed_at serializes racing biller replicas, so at most one billing
// step happens per call per interval.
func (r *PostgresRepo) ClaimBillingSlot(ctx context.Context, id string, now time.Time, pollInterval time.Duration) (bool, error) {
	cutoff := now.Add(-pollInterval)
	const q = `
UPDATE calls
SET last_billed_at = $2, updated_at = $2
WHERE id = $1
  AND status = $3
  AND (last_billed_at IS NULL OR last_billed_at <= $4)
`
	res, err := r.db.ExecContext(ctx, q, id, now, CallStatusConnected, cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) RecordBillingStep(ctx context.Context, step BillingStep) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE calls
SET seconds_used = seconds_used + 1,
    amount_charged_micros = amount_charged_micros + $2,
    updated_at = $3
WHERE id = $1
RETURNING ` + callColumns
		c, err := scanCall(tx.QueryRowContext(ctx, q, step.CallID, step.AmountMicros, step.At))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const ins = `
INSERT INTO ledger_entries (id, user_id, call_id, seconds_billed, amount_micros, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
		if _, err := tx.ExecContext(ctx, ins,
			uuid.NewString(),
			step.UserID,
			step.CallID,
			int64(1),
			step.AmountMicros,
			step.At,
		); err != nil {
			return err
		}

		out = c
		return nil
	})
	return out, err
}

func (r *PostgresRepo) Terminate(ctx context.Context, id string, reason EndReason, now time.Time) (Call, error) {
	q := `
UPDATE calls
SET status = $2, end_reason = $3, ended_at = $4, updated_at = $4
WHERE id = $1 AND status <> $2
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, CallStatusEnded, reason, now))
	if errors.Is(err, sql.ErrNoRows) {
		// Already ended: terminal state is sticky, return the existing row.
		return r.Get(ctx, id)
	}
	return c, err
}

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	q := `
SELECT ` + callColumns + `
FROM calls
WHERE started_at >= $1 AND started_at < $2
ORDER BY started_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListLedgerEntries(ctx context.Context, from, to time.Time) ([]LedgerEntry, error) {
	const q = `
SELECT id, user_id, call_id, seconds_billed, amount_micros, created_at
FROM ledger_entries
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.CallID,
			&e.SecondsBilled,
			&e.AmountMicros,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
