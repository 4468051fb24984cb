package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError rejects malformed input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientFundsError is returned when a spend exceeds the buyer's
// balance. It carries both sides so callers can report the shortfall.
type InsufficientFundsError struct {
	UserID    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: required %s, available %s",
		e.UserID, e.Required.StringFixed(2), e.Available.StringFixed(2))
}
