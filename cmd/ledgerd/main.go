package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/clearbook/clearbook/internal/handlers"
	"github.com/clearbook/clearbook/internal/ledger"
	"github.com/clearbook/clearbook/internal/release"
	"github.com/clearbook/clearbook/internal/store"
	"github.com/clearbook/clearbook/internal/store/file"
	"github.com/clearbook/clearbook/internal/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	holdPeriod := durationEnv("ESCROW_HOLD_PERIOD", 168*time.Hour)
	releaseInterval := durationEnv("ESCROW_RELEASE_INTERVAL", 5*time.Minute)

	// DATABASE_URL selects the Postgres backend with River-scheduled
	// escrow release; otherwise the ledger runs on local files with a
	// ticker doing the same job.
	var st *store.Store
	var pool *pgxpool.Pool
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running", "error", err)
			os.Exit(1)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("Ledger schema migration failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database")
		st = postgres.Open(pool)
	} else {
		dir := os.Getenv("LEDGER_DIR")
		if dir == "" {
			dir = "./ledger-data"
		}
		var err error
		st, err = file.Open(dir)
		if err != nil {
			slog.Error("Unable to open ledger directory", "error", err, "dir", dir)
			os.Exit(1)
		}
		slog.Info("Using file-backed ledger store", "dir", dir)
	}

	ledgerSvc := ledger.NewService(st)

	if pool != nil {
		// River migrations + periodic release job
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")

		workers := river.NewWorkers()
		river.AddWorker(workers, release.NewReleaseDueWorker(ledgerSvc, logger))
		riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 1},
			},
			Workers:      workers,
			PeriodicJobs: []*river.PeriodicJob{release.PeriodicJob(holdPeriod, releaseInterval)},
		})
		if err != nil {
			slog.Error("Failed to create River client", "error", err)
			os.Exit(1)
		}
		riverCtx, stopRiver := context.WithCancel(ctx)
		defer stopRiver()
		go func() {
			if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
				slog.Error("River client stopped", "error", err)
			}
		}()
	} else {
		go func() {
			ticker := time.NewTicker(releaseInterval)
			defer ticker.Stop()
			for range ticker.C {
				released, err := ledgerSvc.ReleaseDue(ctx, holdPeriod)
				if err != nil {
					slog.Error("Periodic escrow release failed", "error", err)
					continue
				}
				if len(released) > 0 {
					slog.Info("Released due escrows", "count", len(released))
				}
			}
		}()
	}

	lh := &handlers.LedgerHandler{Ledger: ledgerSvc, HoldPeriod: holdPeriod, Logger: logger}

	mux := http.NewServeMux()
	RegisterRoutes(mux, lh, os.Getenv("LEDGER_API_KEY"))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	serverAddr := "0.0.0.0:" + port

	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment, using fallback", "var", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return d
}
