package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"paycore/internal/common/database"
	"paycore/internal/common/lock"
	"paycore/internal/common/nats"
	"paycore/internal/executor"
	"paycore/internal/fees"
	"paycore/internal/intent"
	"paycore/internal/risk"
	"paycore/internal/routing/selector"
)

var Version = "dev"

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PAYCORE_PORT" default:"8090"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// StoreBackend is memory or postgres.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	// ExecutorMode is sandbox, http or nats.
	ExecutorMode string `envconfig:"EXECUTOR_MODE" default:"sandbox"`

	SweepInterval         time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	RoutesFile            string        `envconfig:"ROUTES_FILE"`
	RoutesRefreshInterval time.Duration `envconfig:"ROUTES_REFRESH_INTERVAL" default:"5m"`
	RateLimitRPS          float64       `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst        int           `envconfig:"RATE_LIMIT_BURST" default:"40"`
	IdempotencyTTL        time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	CORSOrigins           []string      `envconfig:"CORS_ORIGINS" default:"*"`

	Database database.Config
	NATS     nats.Config
	Redis    lock.RedisConfig
	Intents  intent.Config
	Scoring  selector.Config
	Risk     risk.Config
	Fees     fees.Config
	Sandbox  executor.SandboxConfig
	HTTP     executor.HTTPConfig
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "paycore",
		Short:         "Payment intent orchestration service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(routesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing config: %w", err)
	}
	return cfg, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("service", "paycore")
}
