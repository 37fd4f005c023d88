package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/tui"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
)

const defaultLogFile = "csvbrowse.log"

func main() {
	var (
		user       string
		exportPath string
		serviceURL string
	)
	flag.StringVar(&user, "user", "", "Username to prefill on the login screen")
	flag.StringVar(&exportPath, "export", "filtered_data.csv", "Default file for filtered exports")
	flag.StringVar(&serviceURL, "url", "", "Row service base URL (overrides ROWSERVICE_URL)")
	flag.Parse()

	// Nothing may log to stdout before the log file is set up, so the .env
	// result is logged afterwards.
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if serviceURL != "" {
		cfg.RowService.URL = serviceURL
	}

	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = defaultLogFile
	}
	closeLog, err := logging.SetupFile(logPath, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	logEnvResult(slog.Default(), envErr)

	client, err := rowclient.New(cfg.RowService.URL,
		rowclient.WithTimeout(cfg.RowService.Timeout),
		rowclient.WithLogger(slog.Default().With("component", "rowclient")),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("terminal client starting", "row_service", cfg.RowService.URL)
	err = tui.Run(ctx, client, tui.Options{
		Username:   user,
		Timeout:    cfg.RowService.Timeout,
		ExportPath: exportPath,
		Dark:       lipgloss.HasDarkBackground(),
		Logger:     slog.Default(),
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("terminal client failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.Info("terminal client stopped")
}

// logEnvResult records how godotenv.Overload went, once logging points at
// the log file.
func logEnvResult(logger *slog.Logger, err error) {
	if err != nil {
		logger.Info("no .env file found, using environment variables", "error", err)
		return
	}
	logger.Info("loaded .env file (overwriting existing env vars)")
}
