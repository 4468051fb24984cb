package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/models"
)

// ErrDuplicateOrder is returned by EscrowTable.Open when an entry already
// exists for the order.
var ErrDuplicateOrder = errors.New("escrow already opened for order")

// StorageError wraps an I/O failure from one of the backing stores. Business
// rules are validated upstream; a StorageError always means the underlying
// medium failed, not that the operation was invalid.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// TransactionLog is the append-only source of truth. There is no update or
// delete: corrections are new transactions.
type TransactionLog interface {
	// Append durably writes one immutable record. Fails only on I/O.
	Append(ctx context.Context, tx *models.Transaction) error
	// ForEach streams every transaction in append order. Restartable:
	// each call starts a fresh scan. Returning an error from fn stops
	// the scan and propagates the error.
	ForEach(ctx context.Context, fn func(*models.Transaction) error) error
	// ForUser returns the most recent limit transactions for one user,
	// in ascending append order. limit <= 0 means no limit.
	ForUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
}

// BalanceCache is the derived per-user running balance, updated in lock-step
// with log appends so balance reads never scan the log.
type BalanceCache interface {
	// Get returns the current balance, or zero for an unknown user.
	Get(ctx context.Context, userID string) (decimal.Decimal, error)
	// ApplyDelta adds delta to the user's balance, rounded to 2 decimals,
	// and returns the new balance. Called exactly once per completed
	// transaction, immediately after its append succeeds.
	ApplyDelta(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	// All returns every cached balance, for reconciliation.
	All(ctx context.Context) (map[string]decimal.Decimal, error)
}

// EscrowTable tracks held funds per order.
type EscrowTable interface {
	// Open creates the entry, or fails with ErrDuplicateOrder.
	Open(ctx context.Context, hold *models.EscrowHold) error
	// Get returns the entry for the order, or nil if none exists.
	Get(ctx context.Context, orderID string) (*models.EscrowHold, error)
	// Release marks the entry released. Idempotent: returns false without
	// error if the entry is absent or already terminal.
	Release(ctx context.Context, orderID string) (bool, error)
	// Cancel marks the entry cancelled, with the same idempotence.
	Cancel(ctx context.Context, orderID string) (bool, error)
	// Pending returns entries with neither flag set.
	Pending(ctx context.Context) ([]*models.EscrowHold, error)
	// DueForRelease filters Pending to entries older than holdPeriod.
	DueForRelease(ctx context.Context, holdPeriod time.Duration) ([]*models.EscrowHold, error)
}

// Locker serializes whole ledger operations. Append plus cache update is not
// one atomic filesystem transaction, so every operation holds the lock from
// its first read to its last write, across processes sharing the store.
type Locker interface {
	// Acquire blocks until the lock is held, then returns the release
	// function. The caller must call release exactly once.
	Acquire(ctx context.Context) (release func(), err error)
}

// Store bundles the three persisted stores and their operation lock.
type Store struct {
	Log      TransactionLog
	Balances BalanceCache
	Escrows  EscrowTable
	Locker   Locker
}
