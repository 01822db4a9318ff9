package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiredm-server/internal/app"
	"github.com/vovakirdan/wiredm-server/internal/config"
	"github.com/vovakirdan/wiredm-server/internal/log"
)

var (
	version = "dev"

	configPath string
	overrides  config.Config
)

var rootCmd = &cobra.Command{
	Use:           "wiredm",
	Short:         "Direct messaging server",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (default ./config.yaml)")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.Database.Driver, "db-driver", "", "database driver: sqlite or postgres")
	flags.StringVar(&overrides.Database.Path, "db-path", "", "sqlite database file")
	flags.StringVar(&overrides.Database.DSN, "db-dsn", "", "postgres connection string")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// loadConfig resolves file, env and flag settings and builds the logger.
func loadConfig() (*config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info", "console")

	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.UpdateFrom(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("path", path).Msg("config loaded")
	return &cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting wiredm server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	return app.Migrate(cmd.Context(), cfg, logger)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
