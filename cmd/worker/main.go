package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seanbetts/sidebar-sub000/internal/application"
	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/stage"
	"github.com/seanbetts/sidebar-sub000/internal/storage"
	"github.com/seanbetts/sidebar-sub000/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting processing worker service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	store, err := storage.NewFromConfig(conf)
	if err != nil {
		slog.Error("failed to configure storage", "error", err)
		os.Exit(1)
	}

	// Fail jobs that already burned through their attempt budget so they
	// stop cycling through claim and reclaim.
	if n, err := dbc.Queries(ctx).FailExhaustedProcessingJobs(ctx); err != nil {
		slog.Error("failed to fail exhausted jobs", "error", err)
	} else if n > 0 {
		slog.Warn("permanently failed jobs with exhausted attempts", "count", n)
	}
	worker.SweepTerminalLeases(ctx, dbc.Queries(ctx), conf.StagingDir)

	// Expired leases on claimable jobs are reclaimed by the claim query
	// itself; the periodic sweep retires jobs whose attempt budget ran out
	// between claims and cleans up after workers that died mid-job.
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := dbc.Queries(ctx).FailExhaustedProcessingJobs(ctx); err != nil {
					slog.Error("periodic: failed to fail exhausted jobs", "error", err)
				} else if n > 0 {
					slog.Warn("periodic: permanently failed jobs with exhausted attempts", "count", n)
				}
				worker.SweepTerminalLeases(ctx, dbc.Queries(ctx), conf.StagingDir)
			}
		}
	}()

	wake := make(chan struct{}, 1)
	go listenAndSignal(ctx, conf.DatabaseDSN, wake)

	registry := stage.DefaultRegistry(conf)
	finalizer := worker.NewFinalizer(dbc, store)

	slog.Info("Processing workers started", "workers", conf.WorkerCount)
	for i := 0; i < conf.WorkerCount; i++ {
		w := worker.New(dbc.Queries(ctx), finalizer, registry, conf)
		go w.Run(ctx, wake)
	}

	<-ctx.Done()
	slog.Info("Processing worker service stopping")
}

// listenAndSignal holds a LISTEN connection on the job channel and coalesces
// notifications into wake. Workers fall back to interval polling while the
// connection is down.
func listenAndSignal(ctx context.Context, dsn string, wake chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Parse using pgxpool so pool_* DSN params are consumed client-side
		// (otherwise they get forwarded to Postgres as startup params and cause FATAL).
		poolConf, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			slog.Error("listen parse config failed", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		conn, err := pgx.ConnectConfig(ctx, poolConf.ConnConfig)
		if err != nil {
			slog.Error("listen connect failed", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		if err := db.New(conn).ListenProcessingJobs(ctx); err != nil {
			slog.Error("LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			time.Sleep(2 * time.Second)
			continue
		}

		for {
			if ctx.Err() != nil {
				_ = conn.Close(ctx)
				return
			}

			if err := conn.PgConn().WaitForNotification(ctx); err != nil {
				slog.Error("wait for notification failed", "error", err)
				_ = conn.Close(ctx)
				break
			}

			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
