package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

// TransactionLog is the append-only log table. The bigserial seq column
// fixes append order; rows are never updated or deleted.
type TransactionLog struct {
	pool *pgxpool.Pool
}

var _ store.TransactionLog = (*TransactionLog)(nil)

const txColumns = `id, user_id, kind, amount, description, order_id,
	related_transaction_id, metadata, status, created_at, integrity_tag`

func (l *TransactionLog) Append(ctx context.Context, tx *models.Transaction) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO ledger_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, tx.UserID, tx.Kind, tx.Amount, tx.Description, tx.OrderID,
		tx.RelatedTxID, tx.Metadata, tx.Status, tx.CreatedAt, tx.IntegrityTag)
	if err != nil {
		return &store.StorageError{Op: "append transaction", Err: err}
	}
	return nil
}

func scanTx(rows pgx.Rows) (*models.Transaction, error) {
	var tx models.Transaction
	err := rows.Scan(&tx.ID, &tx.UserID, &tx.Kind, &tx.Amount, &tx.Description,
		&tx.OrderID, &tx.RelatedTxID, &tx.Metadata, &tx.Status, &tx.CreatedAt, &tx.IntegrityTag)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (l *TransactionLog) ForEach(ctx context.Context, fn func(*models.Transaction) error) error {
	rows, err := l.pool.Query(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions ORDER BY seq
	`)
	if err != nil {
		return &store.StorageError{Op: "read transaction log", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return &store.StorageError{Op: "scan transaction", Err: err}
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &store.StorageError{Op: "read transaction log", Err: err}
	}
	return nil
}

func (l *TransactionLog) ForUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	// Most recent limit rows, returned in ascending append order.
	query := `
		SELECT ` + txColumns + ` FROM (
			SELECT seq, ` + txColumns + ` FROM ledger_transactions
			WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq
	`
	args := []any{userID, limit}
	if limit <= 0 {
		query = `SELECT ` + txColumns + ` FROM ledger_transactions WHERE user_id = $1 ORDER BY seq`
		args = []any{userID}
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "read user transactions", Err: err}
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, &store.StorageError{Op: "scan transaction", Err: err}
		}
		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "read user transactions", Err: err}
	}
	return list, nil
}
