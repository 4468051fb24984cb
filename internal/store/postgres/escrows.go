package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

// EscrowTable is the per-order escrow hold table.
type EscrowTable struct {
	pool *pgxpool.Pool
}

var _ store.EscrowTable = (*EscrowTable)(nil)

const holdColumns = `order_id, seller_id, buyer_id, amount, escrow_tx_id,
	created_at, released, cancelled, released_at, cancelled_at`

func (t *EscrowTable) Open(ctx context.Context, hold *models.EscrowHold) error {
	tag, err := t.pool.Exec(ctx, `
		INSERT INTO escrow_holds (order_id, seller_id, buyer_id, amount, escrow_tx_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
	`, hold.OrderID, hold.SellerID, hold.BuyerID, hold.Amount, hold.EscrowTxID, hold.CreatedAt)
	if err != nil {
		return &store.StorageError{Op: "open escrow", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicateOrder
	}
	return nil
}

func scanHold(row pgx.Row) (*models.EscrowHold, error) {
	var h models.EscrowHold
	err := row.Scan(&h.OrderID, &h.SellerID, &h.BuyerID, &h.Amount, &h.EscrowTxID,
		&h.CreatedAt, &h.Released, &h.Cancelled, &h.ReleasedAt, &h.CancelledAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *EscrowTable) Get(ctx context.Context, orderID string) (*models.EscrowHold, error) {
	hold, err := scanHold(t.pool.QueryRow(ctx, `
		SELECT `+holdColumns+` FROM escrow_holds WHERE order_id = $1
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &store.StorageError{Op: "read escrow", Err: err}
	}
	return hold, nil
}

// Release sets the released flag once. The WHERE clause makes it a no-op on
// absent or already-terminal entries.
func (t *EscrowTable) Release(ctx context.Context, orderID string) (bool, error) {
	tag, err := t.pool.Exec(ctx, `
		UPDATE escrow_holds SET released = TRUE, released_at = NOW()
		WHERE order_id = $1 AND NOT released AND NOT cancelled
	`, orderID)
	if err != nil {
		return false, &store.StorageError{Op: "release escrow", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (t *EscrowTable) Cancel(ctx context.Context, orderID string) (bool, error) {
	tag, err := t.pool.Exec(ctx, `
		UPDATE escrow_holds SET cancelled = TRUE, cancelled_at = NOW()
		WHERE order_id = $1 AND NOT released AND NOT cancelled
	`, orderID)
	if err != nil {
		return false, &store.StorageError{Op: "cancel escrow", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (t *EscrowTable) listPending(ctx context.Context, cutoff *time.Time) ([]*models.EscrowHold, error) {
	query := `SELECT ` + holdColumns + ` FROM escrow_holds
		WHERE NOT released AND NOT cancelled ORDER BY created_at`
	var args []any
	if cutoff != nil {
		query = `SELECT ` + holdColumns + ` FROM escrow_holds
			WHERE NOT released AND NOT cancelled AND created_at < $1 ORDER BY created_at`
		args = []any{*cutoff}
	}
	rows, err := t.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "read pending escrows", Err: err}
	}
	defer rows.Close()
	var holds []*models.EscrowHold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, &store.StorageError{Op: "scan escrow", Err: err}
		}
		holds = append(holds, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "read pending escrows", Err: err}
	}
	return holds, nil
}

func (t *EscrowTable) Pending(ctx context.Context) ([]*models.EscrowHold, error) {
	return t.listPending(ctx, nil)
}

func (t *EscrowTable) DueForRelease(ctx context.Context, holdPeriod time.Duration) ([]*models.EscrowHold, error) {
	cutoff := time.Now().Add(-holdPeriod)
	return t.listPending(ctx, &cutoff)
}
