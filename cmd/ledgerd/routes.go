package main

import (
	"net/http"

	"github.com/clearbook/clearbook/internal/handlers"
	"github.com/clearbook/clearbook/internal/middleware"
)

// RegisterRoutes adds the /v1 ledger endpoints to the mux. With no apiKey
// configured the API is open, which is only sensible on localhost.
func RegisterRoutes(mux *http.ServeMux, lh *handlers.LedgerHandler, apiKey string) {
	wrap := func(h http.HandlerFunc) http.Handler { return h }
	if apiKey != "" {
		auth := middleware.APIKeyAuth(middleware.HashKey(apiKey))
		wrap = func(h http.HandlerFunc) http.Handler { return auth(h) }
	}

	mux.Handle("POST /v1/credits", wrap(lh.AddCredits))
	mux.Handle("POST /v1/spend", wrap(lh.Spend))
	mux.Handle("POST /v1/orders/{order}/release", wrap(lh.ReleaseEscrow))
	mux.Handle("POST /v1/refunds", wrap(lh.Refund))

	mux.Handle("GET /v1/balances/{user}", wrap(lh.GetBalance))
	mux.Handle("GET /v1/users/{user}/transactions", wrap(lh.ListTransactions))
	mux.Handle("GET /v1/escrows/pending", wrap(lh.PendingEscrows))
	mux.Handle("GET /v1/escrows/due", wrap(lh.DueEscrows))
	mux.Handle("GET /v1/reconcile", wrap(lh.Reconcile))
	mux.Handle("GET /v1/stats", wrap(lh.Stats))
}
