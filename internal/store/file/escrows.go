package file

import (
	"context"
	"sort"
	"time"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

// EscrowTable is a JSON snapshot of order_id → escrow hold.
type EscrowTable struct {
	path string
}

var _ store.EscrowTable = (*EscrowTable)(nil)

func (t *EscrowTable) load() (map[string]*models.EscrowHold, error) {
	holds := make(map[string]*models.EscrowHold)
	if err := readSnapshot(t.path, &holds); err != nil {
		return nil, err
	}
	return holds, nil
}

func (t *EscrowTable) Open(ctx context.Context, hold *models.EscrowHold) error {
	holds, err := t.load()
	if err != nil {
		return err
	}
	if _, exists := holds[hold.OrderID]; exists {
		return store.ErrDuplicateOrder
	}
	holds[hold.OrderID] = hold
	return writeSnapshot(t.path, holds)
}

func (t *EscrowTable) Get(ctx context.Context, orderID string) (*models.EscrowHold, error) {
	holds, err := t.load()
	if err != nil {
		return nil, err
	}
	return holds[orderID], nil
}

func (t *EscrowTable) Release(ctx context.Context, orderID string) (bool, error) {
	return t.terminate(orderID, true)
}

func (t *EscrowTable) Cancel(ctx context.Context, orderID string) (bool, error) {
	return t.terminate(orderID, false)
}

// terminate sets the released (or cancelled) flag once. A no-op, not an
// error, when the entry is absent or already terminal.
func (t *EscrowTable) terminate(orderID string, released bool) (bool, error) {
	holds, err := t.load()
	if err != nil {
		return false, err
	}
	hold, ok := holds[orderID]
	if !ok || hold.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	if released {
		hold.Released = true
		hold.ReleasedAt = &now
	} else {
		hold.Cancelled = true
		hold.CancelledAt = &now
	}
	if err := writeSnapshot(t.path, holds); err != nil {
		return false, err
	}
	return true, nil
}

func (t *EscrowTable) Pending(ctx context.Context) ([]*models.EscrowHold, error) {
	holds, err := t.load()
	if err != nil {
		return nil, err
	}
	var pending []*models.EscrowHold
	for _, hold := range holds {
		if !hold.Terminal() {
			pending = append(pending, hold)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (t *EscrowTable) DueForRelease(ctx context.Context, holdPeriod time.Duration) ([]*models.EscrowHold, error) {
	pending, err := t.Pending(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-holdPeriod)
	var due []*models.EscrowHold
	for _, hold := range pending {
		if hold.CreatedAt.Before(cutoff) {
			due = append(due, hold)
		}
	}
	return due, nil
}
