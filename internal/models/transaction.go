package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kind enums. One per financial event the ledger records.
const (
	KindCreditPurchase = "credit_purchase"
	KindCreditSpend    = "credit_spend"
	KindEscrowHold     = "escrow_hold"
	KindEscrowRelease  = "escrow_release"
	KindRefund         = "refund"
	KindReversal       = "reversal"
	KindBonus          = "bonus"
	KindPayout         = "payout"
)

// Transaction status enums. Only StatusCompleted counts toward a balance.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusReversed  = "reversed"
)

// Transaction is one immutable financial event in the append-only log.
// Amount is signed: positive credits the named user, negative debits them.
// Corrections are new transactions (reversal), never edits to history.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description,omitempty"`
	OrderID      string          `json:"order_id,omitempty"`
	RelatedTxID  *uuid.UUID      `json:"related_transaction_id,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	IntegrityTag string          `json:"integrity_tag"`
}

// ComputeIntegrityTag returns the SHA-256 checksum over the fields that
// identify a transaction: id, user, amount, kind and creation time. The
// amount is fixed to 2 decimals and the time is truncated to microseconds
// in UTC so the tag survives both JSON round-trips and timestamptz storage,
// which keeps microsecond precision. Reconciliation recomputes it to detect
// tampering or corruption.
func ComputeIntegrityTag(tx *Transaction) string {
	canonical := strings.Join([]string{
		tx.ID.String(),
		tx.UserID,
		tx.Amount.StringFixed(2),
		tx.Kind,
		tx.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity reports whether the stored tag matches a fresh recompute.
func (t *Transaction) VerifyIntegrity() bool {
	return t.IntegrityTag == ComputeIntegrityTag(t)
}
