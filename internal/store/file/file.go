// Package file implements the ledger stores on plain files: a JSONL
// append-only transaction log, JSON snapshot files for the two derived
// caches, and an advisory flock serializing whole operations across
// processes sharing the directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/clearbook/clearbook/internal/store"
)

const (
	logFile     = "transactions.jsonl"
	balanceFile = "balances.json"
	escrowFile  = "escrows.json"
	lockFile    = "ledger.lock"
)

// Open creates dir if needed and returns the file-backed store bundle.
func Open(dir string) (*store.Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &store.StorageError{Op: "create ledger dir", Err: err}
	}
	return &store.Store{
		Log:      &TransactionLog{path: filepath.Join(dir, logFile)},
		Balances: &BalanceCache{path: filepath.Join(dir, balanceFile)},
		Escrows:  &EscrowTable{path: filepath.Join(dir, escrowFile)},
		Locker:   &Locker{fl: flock.New(filepath.Join(dir, lockFile))},
	}, nil
}

// Locker wraps an advisory file lock. The lock covers one whole ledger
// operation: log append and cache update are separate files, so nothing
// short of this serializes concurrent writers. The flock serializes
// processes; the mutex serializes goroutines within this one, since a
// process-level flock is already held by the whole process.
type Locker struct {
	mu sync.Mutex
	fl *flock.Flock
}

func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	ok, err := l.fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		l.mu.Unlock()
		return nil, &store.StorageError{Op: "acquire ledger lock", Err: err}
	}
	if !ok {
		l.mu.Unlock()
		return nil, &store.StorageError{Op: "acquire ledger lock", Err: fmt.Errorf("lock not acquired")}
	}
	return func() {
		_ = l.fl.Unlock()
		l.mu.Unlock()
	}, nil
}

// writeSnapshot atomically replaces path with the JSON encoding of v,
// via a temp file and rename in the same directory.
func writeSnapshot(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &store.StorageError{Op: "encode " + filepath.Base(path), Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &store.StorageError{Op: "create temp snapshot", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &store.StorageError{Op: "write " + filepath.Base(path), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &store.StorageError{Op: "sync " + filepath.Base(path), Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &store.StorageError{Op: "close " + filepath.Base(path), Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &store.StorageError{Op: "replace " + filepath.Base(path), Err: err}
	}
	return nil
}

// readSnapshot loads path into v. A missing file leaves v untouched.
func readSnapshot(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &store.StorageError{Op: "read " + filepath.Base(path), Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &store.StorageError{Op: "decode " + filepath.Base(path), Err: err}
	}
	return nil
}
