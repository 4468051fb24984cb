package file

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/store"
)

// BalanceCache is a JSON snapshot of user_id → balance, rewritten atomically
// on every delta. Small by design: one entry per user, 2-decimal precision.
type BalanceCache struct {
	path string
}

var _ store.BalanceCache = (*BalanceCache)(nil)

func (c *BalanceCache) load() (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)
	if err := readSnapshot(c.path, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (c *BalanceCache) Get(ctx context.Context, userID string) (decimal.Decimal, error) {
	balances, err := c.load()
	if err != nil {
		return decimal.Zero, err
	}
	return balances[userID], nil
}

func (c *BalanceCache) ApplyDelta(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	balances, err := c.load()
	if err != nil {
		return decimal.Zero, err
	}
	next := balances[userID].Add(delta).Round(2)
	balances[userID] = next
	if err := writeSnapshot(c.path, balances); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func (c *BalanceCache) All(ctx context.Context) (map[string]decimal.Decimal, error) {
	return c.load()
}
