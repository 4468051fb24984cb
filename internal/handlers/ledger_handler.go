package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/store"
)

// LedgerHandler serves the /v1 ledger operations API. Each endpoint maps to
// exactly one ledger operation.
type LedgerHandler struct {
	Ledger     ledger.Service
	HoldPeriod time.Duration
	Logger     *slog.Logger
}

// --- POST /v1/credits ---

type addCreditsRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	Description string          `json:"description"`
}

func (h *LedgerHandler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	tx, err := h.Ledger.AddCredits(r.Context(), req.UserID, req.Amount, req.Source, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- POST /v1/spend ---

type spendRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	OrderID  string          `json:"order_id"`
	SellerID string          `json:"seller_id"`
	ItemName string          `json:"item_name"`
}

func (h *LedgerHandler) Spend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	tx, err := h.Ledger.SpendCredits(r.Context(), req.UserID, req.Amount, req.OrderID, req.SellerID, req.ItemName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- POST /v1/orders/{order}/release ---

func (h *LedgerHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order")
	tx, err := h.Ledger.ReleaseEscrow(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tx == nil {
		// Already terminal or no escrow for the order: deliberate no-op.
		writeJSON(w, http.StatusOK, map[string]any{"released": false})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- POST /v1/refunds ---

type refundRequest struct {
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"order_id"`
	Reason  string          `json:"reason"`
}

func (h *LedgerHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	tx, err := h.Ledger.Refund(r.Context(), req.UserID, req.Amount, req.OrderID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- GET /v1/balances/{user} ---

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Ledger.GetBalance(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": r.PathValue("user"),
		"balance": balance.StringFixed(2),
	})
}

// --- GET /v1/users/{user}/transactions ---

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.Ledger.GetTransactions(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- GET /v1/escrows/pending, GET /v1/escrows/due ---

func (h *LedgerHandler) PendingEscrows(w http.ResponseWriter, r *http.Request) {
	holds, err := h.Ledger.PendingEscrows(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holds)
}

func (h *LedgerHandler) DueEscrows(w http.ResponseWriter, r *http.Request) {
	holds, err := h.Ledger.DueEscrows(r.Context(), h.HoldPeriod)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holds)
}

// --- GET /v1/reconcile, GET /v1/stats ---

func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *LedgerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Ledger.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

// writeError maps the ledger error taxonomy onto HTTP statuses. Storage
// failures are logged server-side and reported opaquely.
func (h *LedgerHandler) writeError(w http.ResponseWriter, err error) {
	var validationErr *ledger.ValidationError
	var fundsErr *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
	case errors.As(err, &fundsErr):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":     fundsErr.Error(),
			"required":  fundsErr.Required.StringFixed(2),
			"available": fundsErr.Available.StringFixed(2),
		})
	case errors.Is(err, store.ErrDuplicateOrder):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("ledger operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
