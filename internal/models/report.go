package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconcile report status values.
const (
	ReconcileOK       = "ok"
	ReconcileMismatch = "mismatch"
)

// BalanceMismatch records one user whose cached balance diverged from the
// balance recomputed out of the transaction log.
type BalanceMismatch struct {
	UserID   string          `json:"user_id"`
	Cached   decimal.Decimal `json:"cached"`
	Computed decimal.Decimal `json:"computed"`
}

// IntegrityViolation records one transaction whose integrity tag no longer
// matches its contents.
type IntegrityViolation struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Expected      string    `json:"expected"`
	Stored        string    `json:"stored"`
}

// ReconcileReport is the outcome of a full log replay. Divergence is data,
// not an error: a mismatch report is a successful reconciliation.
type ReconcileReport struct {
	Status          string               `json:"status"`
	Mismatches      []BalanceMismatch    `json:"mismatches"`
	IntegrityErrors []IntegrityViolation `json:"integrity_errors"`
}

// Stats are aggregate counters computed in a single log scan.
type Stats struct {
	TxCount    int             `json:"tx_count"`
	UserCount  int             `json:"user_count"`
	TotalSold  decimal.Decimal `json:"total_sold"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}
