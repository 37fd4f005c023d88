package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
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
		"port", cfg.Server.Port,
		"row_service", cfg.RowService.URL,
		"session_ttl", cfg.Session.TTL,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	client, err := rowclient.New(cfg.RowService.URL,
		rowclient.WithTimeout(cfg.RowService.Timeout),
		rowclient.WithLogger(slog.Default().With("component", "rowclient")),
	)
	if err != nil {
		slog.Error("failed to create row service client", "error", err)
		os.Exit(1)
	}

	// The front end starts without the row service; pages report NET001
	// until it comes up.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := client.Health(pingCtx); err != nil {
		slog.Warn("row service not reachable", "url", cfg.RowService.URL, "error", err)
	} else {
		slog.Info("row service reachable", "url", cfg.RowService.URL)
	}
	cancelPing()

	server := web.NewServer(cfg, client)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
