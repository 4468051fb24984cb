// Package release holds the periodic job that pays out escrows whose hold
// period has elapsed. Release is idempotent in the ledger, so the job can
// run on any schedule, or overlap a manual release-escrow, without double
// paying a seller.
package release

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/clearbook/clearbook/internal/models"
)

// DueReleaser is the contract the worker needs from the ledger.
type DueReleaser interface {
	ReleaseDue(ctx context.Context, holdPeriod time.Duration) ([]*models.Transaction, error)
}

type ReleaseDueArgs struct {
	HoldPeriod time.Duration `json:"hold_period"`
}

func (ReleaseDueArgs) Kind() string { return "release_due_escrows" }

type ReleaseDueWorker struct {
	river.WorkerDefaults[ReleaseDueArgs]
	ledger DueReleaser
	logger *slog.Logger
}

func NewReleaseDueWorker(ledger DueReleaser, logger *slog.Logger) *ReleaseDueWorker {
	return &ReleaseDueWorker{ledger: ledger, logger: logger}
}

func (w *ReleaseDueWorker) Work(ctx context.Context, job *river.Job[ReleaseDueArgs]) error {
	released, err := w.ledger.ReleaseDue(ctx, job.Args.HoldPeriod)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		w.logger.Info("released due escrows", "count", len(released))
	}
	return nil
}

// PeriodicJob returns the periodic job definition main registers with the
// River client.
func PeriodicJob(holdPeriod, interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReleaseDueArgs{HoldPeriod: holdPeriod}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
