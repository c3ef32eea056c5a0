// Package cli is the docqa command line: local parsing, ingestion runs,
// questions against a session, and the MCP server.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"docqa/internal/config"
	"docqa/internal/providers"
	"docqa/internal/query"
	"docqa/internal/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "docqa",
	Short:         "Document question answering over ingested files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load(".env")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (defaults to $DOCQA_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	path := configFile
	if path == "" {
		path = os.Getenv("DOCQA_CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, logger, nil
}

// openQueryStack is replaced in tests.
var openQueryStack = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*query.Stack, func(), error) {
	db, err := storage.NewDB(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		return nil, nil, err
	}
	pm, err := providers.NewManager(cfg, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	stack, err := query.NewStack(cfg, db, pm, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return stack, db.Close, nil
}
