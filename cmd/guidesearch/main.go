// Command guidesearch searches maternal health guidelines offline.
//
// Stdout is reserved for command output and, under serve, for the MCP
// protocol. Logs always go to stderr.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/guidesearch/internal/app"
	"github.com/dshills/guidesearch/internal/config"
	"github.com/dshills/guidesearch/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "guidesearch",
	Short: "Offline semantic search over maternal health guidelines",
	Long: `guidesearch ranks WHO maternal health guidelines against free text in
English or Bengali. It runs an embedding model locally when one is
available and falls back to keyword matching otherwise.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $GUIDESEARCH_CONFIG, ./guidesearch.yaml, ~/.guidesearch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config and GUIDESEARCH_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file and applies command line overrides
func loadConfig() (*config.AppConfig, error) {
	cfg, _, err := config.LoadDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp loads config, builds the logger and assembles the search subsystem
func newApp() (*app.App, *config.AppConfig, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := app.New(cfg, app.Options{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return a, cfg, logger, nil
}
