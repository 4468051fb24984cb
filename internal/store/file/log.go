package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

// TransactionLog is a JSONL append-only log, one transaction per line.
type TransactionLog struct {
	path string
}

var _ store.TransactionLog = (*TransactionLog)(nil)

// Append writes one record and fsyncs before returning, so a transaction
// reported as written survives a crash.
func (l *TransactionLog) Append(ctx context.Context, tx *models.Transaction) error {
	line, err := json.Marshal(tx)
	if err != nil {
		return &store.StorageError{Op: "encode transaction", Err: err}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &store.StorageError{Op: "open transaction log", Err: err}
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return &store.StorageError{Op: "append transaction", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &store.StorageError{Op: "sync transaction log", Err: err}
	}
	return nil
}

func (l *TransactionLog) ForEach(ctx context.Context, fn func(*models.Transaction) error) error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &store.StorageError{Op: "open transaction log", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tx models.Transaction
		if err := json.Unmarshal(line, &tx); err != nil {
			return &store.StorageError{Op: "decode transaction", Err: err}
		}
		if err := fn(&tx); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &store.StorageError{Op: "scan transaction log", Err: err}
	}
	return nil
}

func (l *TransactionLog) ForUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	var list []*models.Transaction
	err := l.ForEach(ctx, func(tx *models.Transaction) error {
		if tx.UserID == userID {
			list = append(list, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}
