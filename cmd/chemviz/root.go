package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/config"
	"github.com/chemdata-visualizer/client/internal/logging"
)

// Global flags
var (
	configPath   string
	apiURL       string
	logLevel     string
	outputFormat string
)

// Loaded by the persistent pre-run of every command
var (
	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chemviz",
	Short: "Client for the ChemData equipment dataset service",
	Long: `chemviz talks to a ChemData backend: log in, upload equipment CSV
datasets, list them, and inspect the statistics, records and PDF report of
a dataset.

Run "chemviz serve" to open the browser UI, or use the sub-commands
directly from a terminal.

Examples:
  chemviz login -u alice
  chemviz upload equipment.csv
  chemviz datasets -o yaml
  chemviz show 3 --chart types.png --xlsx dataset_3.xlsx
  chemviz report 3`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: "+config.DefaultFileName+" next to the executable)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFiles(".env"); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(exePath), config.DefaultFileName)
	}
	configPath = path

	loaded, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if apiURL != "" {
		loaded.API.BaseURL = apiURL
	}
	if logLevel != "" {
		loaded.Advanced.LogLevel = logLevel
	}
	if err := loaded.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	switch outputFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	level := loaded.Advanced.LogLevel
	if logLevel == "" && cmd.Name() != serveCmd.Name() {
		// Terminal commands print their own results
		level = "warn"
	}
	lg, err := logging.New(level, loaded.Advanced.LogFormat, "chemviz")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	cfg, logger = loaded, lg
	return nil
}

// openApp builds the client core and loads the stored session.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(app.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	if _, err := a.Start(ctx); err != nil {
		logger.Warn("stored session unavailable", zap.Error(err))
	}
	return a, nil
}
