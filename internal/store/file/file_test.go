package file

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func tx(user, kind string, amount string) *models.Transaction {
	record := &models.Transaction{
		ID:        uuid.New(),
		UserID:    user,
		Kind:      kind,
		Amount:    decimal.RequireFromString(amount),
		Status:    models.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	record.IntegrityTag = models.ComputeIntegrityTag(record)
	return record
}

// ---------------------------------------------------------------------------
// Transaction log
// ---------------------------------------------------------------------------

func TestLogAppendOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	want := []*models.Transaction{
		tx("alice", models.KindCreditPurchase, "100"),
		tx("bob", models.KindCreditPurchase, "50"),
		tx("alice", models.KindCreditSpend, "-40"),
	}
	for _, record := range want {
		if err := st.Log.Append(ctx, record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var got []*models.Transaction
	if err := st.Log.ForEach(ctx, func(record *models.Transaction) error {
		got = append(got, record)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d transactions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i].ID)
		}
		if !got[i].VerifyIntegrity() {
			t.Errorf("position %d: integrity tag broken by persistence", i)
		}
	}

	// Restartable: a second scan yields the same sequence.
	var second []*models.Transaction
	if err := st.Log.ForEach(ctx, func(record *models.Transaction) error {
		second = append(second, record)
		return nil
	}); err != nil {
		t.Fatalf("second ForEach: %v", err)
	}
	if len(second) != len(got) {
		t.Errorf("second scan saw %d transactions, want %d", len(second), len(got))
	}
}

func TestLogForUserLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for range 5 {
		record := tx("alice", models.KindCreditPurchase, "10")
		ids = append(ids, record.ID)
		if err := st.Log.Append(ctx, record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := st.Log.Append(ctx, tx("bob", models.KindCreditPurchase, "10")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	list, err := st.Log.ForUser(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d transactions, want 2", len(list))
	}
	// Most recent two, still in ascending append order.
	if list[0].ID != ids[3] || list[1].ID != ids[4] {
		t.Error("ForUser should truncate from the front, keeping append order")
	}
}

func TestLogEmptyDir(t *testing.T) {
	st := newTestStore(t)
	err := st.Log.ForEach(context.Background(), func(*models.Transaction) error {
		t.Fatal("callback on empty log")
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach on missing log file: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Balance cache
// ---------------------------------------------------------------------------

func TestBalanceUnknownUserIsZero(t *testing.T) {
	st := newTestStore(t)
	balance, err := st.Balances.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("unknown user balance: got %s, want 0", balance)
	}
}

func TestBalanceApplyDeltaRounds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	next, err := st.Balances.ApplyDelta(ctx, "alice", decimal.RequireFromString("10.005"))
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if next.String() != "10.01" {
		t.Errorf("rounded balance: got %s, want 10.01", next)
	}

	next, err = st.Balances.ApplyDelta(ctx, "alice", decimal.RequireFromString("-0.01"))
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if next.String() != "10" {
		t.Errorf("after debit: got %s, want 10", next)
	}

	// Persisted across a reopen of the same directory.
	balance, err := st.Balances.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !balance.Equal(next) {
		t.Errorf("Get after deltas: got %s, want %s", balance, next)
	}
}

// ---------------------------------------------------------------------------
// Escrow table
// ---------------------------------------------------------------------------

func hold(order string, age time.Duration) *models.EscrowHold {
	return &models.EscrowHold{
		OrderID:    order,
		SellerID:   "bob",
		BuyerID:    "alice",
		Amount:     decimal.RequireFromString("40"),
		EscrowTxID: uuid.New(),
		CreatedAt:  time.Now().UTC().Add(-age),
	}
}

func TestEscrowOpenDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Escrows.Open(ctx, hold("order-1", 0)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	err := st.Escrows.Open(ctx, hold("order-1", 0))
	if err != store.ErrDuplicateOrder {
		t.Errorf("duplicate Open: got %v, want ErrDuplicateOrder", err)
	}
}

func TestEscrowReleaseIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Escrows.Open(ctx, hold("order-1", 0)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	changed, err := st.Escrows.Release(ctx, "order-1")
	if err != nil || !changed {
		t.Fatalf("first Release: changed=%v err=%v", changed, err)
	}
	changed, err = st.Escrows.Release(ctx, "order-1")
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if changed {
		t.Error("second Release should be a no-op")
	}
	// Cancel after release is also a no-op, not an error.
	changed, err = st.Escrows.Cancel(ctx, "order-1")
	if err != nil {
		t.Fatalf("Cancel after Release: %v", err)
	}
	if changed {
		t.Error("Cancel after Release should be a no-op")
	}

	entry, err := st.Escrows.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.Released || entry.Cancelled || entry.ReleasedAt == nil {
		t.Errorf("terminal state wrong: released=%v cancelled=%v", entry.Released, entry.Cancelled)
	}
}

func TestEscrowReleaseUnknownOrder(t *testing.T) {
	st := newTestStore(t)
	changed, err := st.Escrows.Release(context.Background(), "no-such-order")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if changed {
		t.Error("releasing an unknown order should be a no-op")
	}
}

func TestEscrowPendingAndDue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Escrows.Open(ctx, hold("old-order", 48*time.Hour)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Escrows.Open(ctx, hold("new-order", time.Minute)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Escrows.Open(ctx, hold("done-order", 72*time.Hour)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Escrows.Release(ctx, "done-order"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	pending, err := st.Escrows.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending: got %d, want 2", len(pending))
	}
	// Oldest first.
	if pending[0].OrderID != "old-order" || pending[1].OrderID != "new-order" {
		t.Errorf("pending order wrong: %s, %s", pending[0].OrderID, pending[1].OrderID)
	}

	due, err := st.Escrows.DueForRelease(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DueForRelease: %v", err)
	}
	if len(due) != 1 || due[0].OrderID != "old-order" {
		t.Errorf("due: got %d entries, want only old-order", len(due))
	}
}
