package wallet

import "time"

// Wallet is a prepaid balance for one user.
//
// Money invariants:
// - BalanceMicros is never negative. The only debit path is the conditional
//   debit primitive, which refuses to take the balance below zero.
// - Every mutation (metering debits and top-up credits) goes through the same
//   atomic store primitive, so a racing debit and credit cannot lose an update.
//
// Wallets are created lazily: the first credit creates the row; a debit against
// a missing wallet behaves like a debit against a zero balance.
type Wallet struct {
	UserID        string    `json:"user_id" db:"user_id"`
	BalanceMicros int64     `json:"balance_micros" db:"balance_micros"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
