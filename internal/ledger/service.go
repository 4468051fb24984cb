package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store"
)

// Service is the ledger operations API. Every mutation validates its
// preconditions against the caches, appends to the transaction log, then
// updates the derived caches, all under the store's operation lock.
type Service interface {
	AddCredits(ctx context.Context, userID string, amount decimal.Decimal, source, description string) (*models.Transaction, error)
	SpendCredits(ctx context.Context, userID string, amount decimal.Decimal, orderID, sellerID, itemName string) (*models.Transaction, error)
	ReleaseEscrow(ctx context.Context, orderID string) (*models.Transaction, error)
	Refund(ctx context.Context, userID string, amount decimal.Decimal, orderID, reason string) (*models.Transaction, error)
	ReleaseDue(ctx context.Context, holdPeriod time.Duration) ([]*models.Transaction, error)

	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	PendingEscrows(ctx context.Context) ([]*models.EscrowHold, error)
	DueEscrows(ctx context.Context, holdPeriod time.Duration) ([]*models.EscrowHold, error)

	Reconcile(ctx context.Context) (*models.ReconcileReport, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

type service struct {
	store *store.Store
}

// NewService returns a ledger service over the given store bundle. The
// store handle is explicit so tests can instantiate isolated ledgers.
func NewService(st *store.Store) Service {
	return &service{store: st}
}

var _ Service = (*service)(nil)

// newTransaction fills the generated fields and stamps the integrity tag.
func newTransaction(userID, kind string, amount decimal.Decimal, status, description, orderID string) *models.Transaction {
	tx := &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		OrderID:     orderID,
		Status:      status,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	tx.IntegrityTag = models.ComputeIntegrityTag(tx)
	return tx
}

func validateUserAmount(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be > 0"}
	}
	// Sub-cent precision would be rounded away by the balance cache while
	// the log keeps the raw value, breaking conservation.
	if !amount.Equal(amount.Round(2)) {
		return &ValidationError{Field: "amount", Reason: "must not exceed 2 decimal places"}
	}
	return nil
}

func (s *service) AddCredits(ctx context.Context, userID string, amount decimal.Decimal, source, description string) (*models.Transaction, error) {
	if err := validateUserAmount(userID, amount); err != nil {
		return nil, err
	}
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	kind := models.KindCreditPurchase
	if source == "bonus" {
		kind = models.KindBonus
	}
	if description == "" {
		description = fmt.Sprintf("credits added via %s", source)
	}
	tx := newTransaction(userID, kind, amount, models.StatusCompleted, description, "")
	tx.Metadata = map[string]any{"source": source}

	if err := s.store.Log.Append(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.store.Balances.ApplyDelta(ctx, userID, tx.Amount); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *service) SpendCredits(ctx context.Context, userID string, amount decimal.Decimal, orderID, sellerID, itemName string) (*models.Transaction, error) {
	if err := validateUserAmount(userID, amount); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "must not be empty"}
	}
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// All preconditions are checked before the first append so the log
	// never needs a business-rule rollback.
	if sellerID != "" {
		existing, err := s.store.Escrows.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateOrder, orderID)
		}
	}
	balance, err := s.store.Balances.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, &InsufficientFundsError{UserID: userID, Required: amount, Available: balance}
	}

	description := fmt.Sprintf("purchase %s", orderID)
	if itemName != "" {
		description = fmt.Sprintf("purchase of %s (%s)", itemName, orderID)
	}
	spendTx := newTransaction(userID, models.KindCreditSpend, amount.Neg(), models.StatusCompleted, description, orderID)
	if itemName != "" {
		spendTx.Metadata = map[string]any{"item_name": itemName}
	}
	if err := s.store.Log.Append(ctx, spendTx); err != nil {
		return nil, err
	}
	if _, err := s.store.Balances.ApplyDelta(ctx, userID, spendTx.Amount); err != nil {
		return nil, err
	}

	if sellerID != "" {
		// The hold credits the seller's pending balance: status pending,
		// so it stays out of the spendable balance until released.
		holdTx := newTransaction(sellerID, models.KindEscrowHold, amount, models.StatusPending,
			fmt.Sprintf("escrow hold for %s", orderID), orderID)
		holdTx.RelatedTxID = &spendTx.ID
		if err := s.store.Log.Append(ctx, holdTx); err != nil {
			return nil, err
		}
		if err := s.store.Escrows.Open(ctx, &models.EscrowHold{
			OrderID:    orderID,
			SellerID:   sellerID,
			BuyerID:    userID,
			Amount:     amount,
			EscrowTxID: holdTx.ID,
			CreatedAt:  holdTx.CreatedAt,
		}); err != nil {
			return nil, err
		}
	}
	return spendTx, nil
}

func (s *service) ReleaseEscrow(ctx context.Context, orderID string) (*models.Transaction, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "must not be empty"}
	}
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.releaseLocked(ctx, orderID)
}

// releaseLocked performs one escrow release with the operation lock held.
// Absent or terminal entries are a no-op: schedulers call this repeatedly.
func (s *service) releaseLocked(ctx context.Context, orderID string) (*models.Transaction, error) {
	hold, err := s.store.Escrows.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if hold == nil || hold.Terminal() {
		return nil, nil
	}
	tx := newTransaction(hold.SellerID, models.KindEscrowRelease, hold.Amount, models.StatusCompleted,
		fmt.Sprintf("escrow release for %s", orderID), orderID)
	tx.RelatedTxID = &hold.EscrowTxID
	if err := s.store.Log.Append(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.store.Balances.ApplyDelta(ctx, hold.SellerID, tx.Amount); err != nil {
		return nil, err
	}
	if _, err := s.store.Escrows.Release(ctx, orderID); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *service) Refund(ctx context.Context, userID string, amount decimal.Decimal, orderID, reason string) (*models.Transaction, error) {
	if err := validateUserAmount(userID, amount); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "must not be empty"}
	}
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// Cancel any still-pending escrow so the funds never reach the seller.
	// A refund after release stays a buyer-only credit (no clawback).
	hold, err := s.store.Escrows.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if hold != nil && !hold.Terminal() {
		if _, err := s.store.Escrows.Cancel(ctx, orderID); err != nil {
			return nil, err
		}
	}

	// Refunds are system-issued credits, not debits from anyone, so no
	// balance check applies.
	tx := newTransaction(userID, models.KindRefund, amount, models.StatusCompleted,
		fmt.Sprintf("refund for %s: %s", orderID, reason), orderID)
	tx.Metadata = map[string]any{"reason": reason}
	if err := s.store.Log.Append(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.store.Balances.ApplyDelta(ctx, userID, tx.Amount); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *service) ReleaseDue(ctx context.Context, holdPeriod time.Duration) ([]*models.Transaction, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	due, err := s.store.Escrows.DueForRelease(ctx, holdPeriod)
	if err != nil {
		return nil, err
	}
	var released []*models.Transaction
	for _, hold := range due {
		tx, err := s.releaseLocked(ctx, hold.OrderID)
		if err != nil {
			return released, err
		}
		if tx != nil {
			released = append(released, tx)
		}
	}
	return released, nil
}

func (s *service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()
	return s.store.Balances.Get(ctx, userID)
}

func (s *service) GetTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.store.Log.ForUser(ctx, userID, limit)
}

func (s *service) PendingEscrows(ctx context.Context) ([]*models.EscrowHold, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.store.Escrows.Pending(ctx)
}

func (s *service) DueEscrows(ctx context.Context, holdPeriod time.Duration) ([]*models.EscrowHold, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.store.Escrows.DueForRelease(ctx, holdPeriod)
}

// Reconcile replays the whole log, recomputing every balance from completed
// transactions and re-verifying every integrity tag. It never mutates state;
// divergence comes back as data in the report.
func (s *service) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	computed := make(map[string]decimal.Decimal)
	var violations []models.IntegrityViolation
	err = s.store.Log.ForEach(ctx, func(tx *models.Transaction) error {
		if expected := models.ComputeIntegrityTag(tx); expected != tx.IntegrityTag {
			violations = append(violations, models.IntegrityViolation{
				TransactionID: tx.ID,
				Expected:      expected,
				Stored:        tx.IntegrityTag,
			})
		}
		if tx.Status == models.StatusCompleted {
			// Mirror the cache's per-delta rounding so replay and cache
			// agree to the cent.
			computed[tx.UserID] = computed[tx.UserID].Add(tx.Amount).Round(2)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cached, err := s.store.Balances.All(ctx)
	if err != nil {
		return nil, err
	}

	users := make(map[string]struct{}, len(computed)+len(cached))
	for u := range computed {
		users[u] = struct{}{}
	}
	for u := range cached {
		users[u] = struct{}{}
	}
	var mismatches []models.BalanceMismatch
	for u := range users {
		if !cached[u].Equal(computed[u]) {
			mismatches = append(mismatches, models.BalanceMismatch{
				UserID:   u,
				Cached:   cached[u],
				Computed: computed[u],
			})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].UserID < mismatches[j].UserID })

	status := models.ReconcileOK
	if len(mismatches) > 0 || len(violations) > 0 {
		status = models.ReconcileMismatch
	}
	return &models.ReconcileReport{
		Status:          status,
		Mismatches:      mismatches,
		IntegrityErrors: violations,
	}, nil
}

// Stats aggregates counters in a single log scan.
func (s *service) Stats(ctx context.Context) (*models.Stats, error) {
	release, err := s.store.Locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stats := &models.Stats{}
	users := make(map[string]struct{})
	err = s.store.Log.ForEach(ctx, func(tx *models.Transaction) error {
		stats.TxCount++
		users[tx.UserID] = struct{}{}
		switch tx.Kind {
		case models.KindEscrowHold:
			stats.TotalSold = stats.TotalSold.Add(tx.Amount)
		case models.KindCreditSpend:
			if tx.Status == models.StatusCompleted {
				stats.TotalSpent = stats.TotalSpent.Add(tx.Amount.Abs())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.UserCount = len(users)
	return stats, nil
}
