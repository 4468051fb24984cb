package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/store"
)

// BalanceCache is the derived per-user balance table.
type BalanceCache struct {
	pool *pgxpool.Pool
}

var _ store.BalanceCache = (*BalanceCache)(nil)

func (c *BalanceCache) Get(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.pool.QueryRow(ctx, `
		SELECT balance FROM ledger_balances WHERE user_id = $1
	`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, &store.StorageError{Op: "read balance", Err: err}
	}
	return balance, nil
}

func (c *BalanceCache) ApplyDelta(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.pool.QueryRow(ctx, `
		INSERT INTO ledger_balances (user_id, balance)
		VALUES ($1, ROUND($2::numeric, 2))
		ON CONFLICT (user_id)
		DO UPDATE SET balance = ROUND(ledger_balances.balance + $2::numeric, 2)
		RETURNING balance
	`, userID, delta).Scan(&balance)
	if err != nil {
		return decimal.Zero, &store.StorageError{Op: "apply balance delta", Err: err}
	}
	return balance, nil
}

func (c *BalanceCache) All(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := c.pool.Query(ctx, `SELECT user_id, balance FROM ledger_balances`)
	if err != nil {
		return nil, &store.StorageError{Op: "read balances", Err: err}
	}
	defer rows.Close()
	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var userID string
		var balance decimal.Decimal
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, &store.StorageError{Op: "scan balance", Err: err}
		}
		balances[userID] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "read balances", Err: err}
	}
	return balances, nil
}
