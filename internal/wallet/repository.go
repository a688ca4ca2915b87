package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store against Postgres.
//
// Assumed schema:
//
//	CREATE TABLE wallet_balances (
//	  user_id        TEXT PRIMARY KEY,
//	  balance_micros BIGINT NOT NULL CHECK (balance_micros >= 0),
//	  updated_at     TIMESTAMPTZ NOT NULL
//	);
//
// The CHECK constraint is a backstop; the conditional debit never attempts to
// go below zero in the first place.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConditionalDebit is the single overdraft guard: one conditional UPDATE whose
// WHERE clause rejects the debit when the balance does not cover it. Concurrent
// debits on the same row serialize inside Postgres, so no two winners can both
// spend the same micros.
func (s *PostgresStore) ConditionalDebit(ctx context.Context, userID string, amountMicros int64, now time.Time) (bool, error) {
	const q = `
UPDATE wallet_balances
SET balance_micros = balance_micros - $2,
    updated_at = $3
WHERE user_id = $1 AND balance_micros >= $2
`
	res, err := s.db.ExecContext(ctx, q, userID, amountMicros, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amountMicros int64, now time.Time) (Wallet, error) {
	const q = `
INSERT INTO wallet_balances (user_id, balance_micros, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET balance_micros = wallet_balances.balance_micros + EXCLUDED.balance_micros,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, balance_micros, updated_at
`
	var w Wallet
	if err := s.db.QueryRowContext(ctx, q, userID, amountMicros, now).Scan(
		&w.UserID,
		&w.BalanceMicros,
		&w.UpdatedAt,
	); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Wallet, error) {
	const q = `
SELECT user_id, balance_micros, updated_at
FROM wallet_balances
WHERE user_id = $1
`
	var w Wallet
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&w.UserID,
		&w.BalanceMicros,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}
