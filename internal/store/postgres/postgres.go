// Package postgres implements the ledger stores on PostgreSQL. Append order
// is a bigserial sequence, ApplyDelta is an upsert, and operations are
// serialized across connections and processes with a session advisory lock.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbook/clearbook/internal/store"
)

// advisoryLockKey identifies the ledger's critical section to
// pg_advisory_lock. One ledger per database.
const advisoryLockKey = int64(0x636c627261)

// Open returns the Postgres-backed store bundle over the pool.
func Open(pool *pgxpool.Pool) *store.Store {
	return &store.Store{
		Log:      &TransactionLog{pool: pool},
		Balances: &BalanceCache{pool: pool},
		Escrows:  &EscrowTable{pool: pool},
		Locker:   &Locker{pool: pool},
	}
}

// Migrate creates the ledger schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_transactions (
			seq BIGSERIAL PRIMARY KEY,
			id UUID NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			order_id TEXT NOT NULL DEFAULT '',
			related_transaction_id UUID,
			metadata JSONB,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			integrity_tag TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_transactions_user
			ON ledger_transactions (user_id, seq);

		CREATE TABLE IF NOT EXISTS ledger_balances (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC(20,2) NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS escrow_holds (
			order_id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL,
			escrow_tx_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			released BOOLEAN NOT NULL DEFAULT FALSE,
			cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			released_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return &store.StorageError{Op: "migrate ledger schema", Err: err}
	}
	return nil
}

// Locker holds pg_advisory_lock on a dedicated pooled connection for the
// duration of one ledger operation.
type Locker struct {
	pool *pgxpool.Pool
}

func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, &store.StorageError{Op: "acquire ledger lock", Err: err}
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		conn.Release()
		return nil, &store.StorageError{Op: "acquire ledger lock", Err: err}
	}
	return func() {
		// Unlock on a fresh context: the operation's context may already
		// be done, and the session lock must still be dropped.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
		conn.Release()
	}, nil
}
