package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/seanbetts/sidebar-sub000/internal/application"
	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
)

func main() {
	slog.Info("Starting database migrator service")

	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conf, err := config.LoadConfig(startupCtx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(startupCtx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Database pool connection established")

	databaseConnection, err := db.NewDatabaseConnection(startupCtx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer databaseConnection.Close()
	slog.Info("Database connection established")

	if err := databaseConnection.Migrate(startupCtx); err != nil {
		slog.Error("failed to run PostgreSQL migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("Database migrations completed successfully")
}
