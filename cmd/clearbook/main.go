// Command clearbook is the operator CLI for the credits ledger. Every
// subcommand maps to exactly one ledger operation and exits non-zero if the
// operation fails, so it can be scripted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/models"
	"github.com/clearbook/clearbook/internal/store/file"
)

const usage = `usage: clearbook <command> [flags]

commands:
  balance          -user
  add-credits      -user -amount [-source] [-desc]
  spend            -user -amount -order [-seller] [-item]
  release-escrow   -order
  refund           -user -amount -order [-reason]
  history          -user [-limit]
  reconcile
  stats
  pending-escrows
  release-due      [-hold]

The ledger directory is taken from LEDGER_DIR (default ./ledger-data).
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	dir := os.Getenv("LEDGER_DIR")
	if dir == "" {
		dir = "./ledger-data"
	}
	st, err := file.Open(dir)
	if err != nil {
		fatal(err)
	}
	svc := ledger.NewService(st)
	ctx := context.Background()

	switch os.Args[1] {
	case "balance":
		fs := flag.NewFlagSet("balance", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		parse(fs)
		balance, err := svc.GetBalance(ctx, *user)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("balance of %s: %s\n", *user, balance.StringFixed(2))

	case "add-credits":
		fs := flag.NewFlagSet("add-credits", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		amount := fs.String("amount", "", "amount of credits")
		source := fs.String("source", "manual", "credit source (bonus for bonus credits)")
		desc := fs.String("desc", "", "description")
		parse(fs)
		tx, err := svc.AddCredits(ctx, *user, parseAmount(*amount), *source, *desc)
		if err != nil {
			fatal(err)
		}
		printResult(ctx, svc, tx, *user)

	case "spend":
		fs := flag.NewFlagSet("spend", flag.ExitOnError)
		user := fs.String("user", "", "buyer user id")
		amount := fs.String("amount", "", "amount of credits")
		order := fs.String("order", "", "order id")
		seller := fs.String("seller", "", "seller user id (opens escrow)")
		item := fs.String("item", "", "item name")
		parse(fs)
		tx, err := svc.SpendCredits(ctx, *user, parseAmount(*amount), *order, *seller, *item)
		if err != nil {
			fatal(err)
		}
		printResult(ctx, svc, tx, *user)

	case "release-escrow":
		fs := flag.NewFlagSet("release-escrow", flag.ExitOnError)
		order := fs.String("order", "", "order id")
		parse(fs)
		tx, err := svc.ReleaseEscrow(ctx, *order)
		if err != nil {
			fatal(err)
		}
		if tx == nil {
			fmt.Printf("no pending escrow for %s (already released, cancelled, or never opened)\n", *order)
			return
		}
		printResult(ctx, svc, tx, tx.UserID)

	case "refund":
		fs := flag.NewFlagSet("refund", flag.ExitOnError)
		user := fs.String("user", "", "buyer user id")
		amount := fs.String("amount", "", "amount of credits")
		order := fs.String("order", "", "order id")
		reason := fs.String("reason", "requested by user", "refund reason")
		parse(fs)
		tx, err := svc.Refund(ctx, *user, parseAmount(*amount), *order, *reason)
		if err != nil {
			fatal(err)
		}
		printResult(ctx, svc, tx, *user)

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		limit := fs.Int("limit", 20, "max transactions")
		parse(fs)
		list, err := svc.GetTransactions(ctx, *user, *limit)
		if err != nil {
			fatal(err)
		}
		for _, tx := range list {
			order := tx.OrderID
			if order == "" {
				order = "-"
			}
			fmt.Printf("%s  %-15s %10s  %-9s order=%-12s %s\n",
				tx.CreatedAt.Format(time.RFC3339), tx.Kind, tx.Amount.StringFixed(2),
				tx.Status, order, tx.Description)
		}

	case "reconcile":
		report, err := svc.Reconcile(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("reconciliation: %s\n", report.Status)
		for _, m := range report.Mismatches {
			fmt.Printf("  balance mismatch for %s: cached %s, computed %s\n",
				m.UserID, m.Cached.StringFixed(2), m.Computed.StringFixed(2))
		}
		for _, v := range report.IntegrityErrors {
			fmt.Printf("  integrity violation on transaction %s\n", v.TransactionID)
		}
		if report.Status != models.ReconcileOK {
			os.Exit(1)
		}

	case "stats":
		stats, err := svc.Stats(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("transactions: %d\nusers: %d\ntotal sold: %s\ntotal spent: %s\n",
			stats.TxCount, stats.UserCount,
			stats.TotalSold.StringFixed(2), stats.TotalSpent.StringFixed(2))

	case "pending-escrows":
		holds, err := svc.PendingEscrows(ctx)
		if err != nil {
			fatal(err)
		}
		for _, h := range holds {
			fmt.Printf("%-12s seller=%-10s buyer=%-10s %10s  held since %s\n",
				h.OrderID, h.SellerID, h.BuyerID, h.Amount.StringFixed(2),
				h.CreatedAt.Format(time.RFC3339))
		}

	case "release-due":
		fs := flag.NewFlagSet("release-due", flag.ExitOnError)
		hold := fs.Duration("hold", 168*time.Hour, "escrow hold period")
		parse(fs)
		released, err := svc.ReleaseDue(ctx, *hold)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("released %d escrow(s)\n", len(released))
		for _, tx := range released {
			fmt.Printf("  %s -> %s %s\n", tx.OrderID, tx.UserID, tx.Amount.StringFixed(2))
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func parse(fs *flag.FlagSet) {
	_ = fs.Parse(os.Args[2:])
}

func parseAmount(raw string) decimal.Decimal {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		fatal(fmt.Errorf("invalid amount %q: %w", raw, err))
	}
	return amount
}

// printResult prints the confirmation line the operator expects: what was
// written and the user's resulting balance.
func printResult(ctx context.Context, svc ledger.Service, tx *models.Transaction, userID string) {
	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s %s for %s (tx %s); balance of %s: %s\n",
		tx.Kind, tx.Amount.StringFixed(2), userID, tx.ID, userID, balance.StringFixed(2))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "clearbook: %v\n", err)
	os.Exit(1)
}
