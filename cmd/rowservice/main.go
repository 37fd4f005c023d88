package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/rowservice"
	"github.com/joho/godotenv"
)

const tokenSweepInterval = time.Minute

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"addr", cfg.RowService.Addr(),
		"store", cfg.Store.Driver,
		"page_size", cfg.RowService.PageSize,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
	)

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		slog.Error("failed to ping store", "error", err)
		os.Exit(1)
	}
	slog.Info("store ready", "driver", cfg.Store.Driver)

	tokens := rowservice.NewTokenStore(cfg.Session.TTL)
	limiter := rowservice.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	svc := rowservice.NewService(store, tokens, limiter, rowservice.Options{
		PageSize:      cfg.RowService.PageSize,
		UploadTimeout: cfg.Upload.Timeout,
		Logger:        slog.Default().With("component", "rowservice"),
	})

	server := rowservice.NewServer(svc, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go tokens.RunSweeper(jobCtx, tokenSweepInterval)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if n := limiter.Active(); n > 0 {
			slog.Info("waiting for uploads to complete", "active", n)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("row service starting", "addr", cfg.RowService.Addr())
	if err := server.Start(cfg.RowService.Addr()); err != nil {
		slog.Info("row service stopped", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (rowservice.Store, error) {
	if strings.EqualFold(cfg.Store.Driver, "postgres") {
		return rowservice.OpenPostgres(ctx, cfg.Store.URL, rowservice.PoolConfig{
			MaxConns:        int32(cfg.Store.MaxConns),
			MinConns:        int32(cfg.Store.MinConns),
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
			MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
		})
	}
	return rowservice.OpenSQLite(cfg.Store.URL, cfg.Upload.BatchSize)
}
