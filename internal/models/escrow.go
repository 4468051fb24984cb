package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowHold tracks funds held for a seller pending the hold period.
// Exactly one exists per order that named a seller. Released and Cancelled
// are mutually exclusive once set; an entry with either flag is terminal.
type EscrowHold struct {
	OrderID     string          `json:"order_id"`
	SellerID    string          `json:"seller_id"`
	BuyerID     string          `json:"buyer_id"`
	Amount      decimal.Decimal `json:"amount"`
	EscrowTxID  uuid.UUID       `json:"escrow_tx_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Released    bool            `json:"released"`
	Cancelled   bool            `json:"cancelled"`
	ReleasedAt  *time.Time      `json:"released_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Terminal reports whether the hold has already been released or cancelled.
func (h *EscrowHold) Terminal() bool {
	return h.Released || h.Cancelled
}
