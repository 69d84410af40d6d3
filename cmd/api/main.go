package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/seanbetts/sidebar-sub000/internal/application"
	"github.com/seanbetts/sidebar-sub000/internal/config"
	"github.com/seanbetts/sidebar-sub000/internal/db"
	"github.com/seanbetts/sidebar-sub000/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting control API service")

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

	e := newServer(dbc.Queries(ctx), store, conf)

	addr := ":" + strconv.Itoa(conf.APIServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		if ctx.Err() != nil {
			slog.Info("Control API service stopped")
			return
		}
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newServer(q db.Querier, store storage.Store, conf *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	e.POST("/api/jobs", handleJobCreate(q, conf))
	e.GET("/api/jobs/:file_id", handleJobStatus(q))
	e.POST("/api/jobs/:file_id/pause", handleJobPause(q))
	e.POST("/api/jobs/:file_id/resume", handleJobResume(q))
	e.POST("/api/jobs/:file_id/cancel", handleJobCancel(q, conf))
	e.DELETE("/api/jobs/:file_id", handleJobDelete(q, store))
	e.GET("/api/jobs/:file_id/derivatives", handleDerivativesList(q))

	return e
}
