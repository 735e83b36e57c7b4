package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/internal/httpserver"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/internal/notify"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/internal/observability"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/internal/store/gormstore"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagExpiryHorizonDays = "expiry-horizon-days"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyExpiryHorizonDays = "expiry_horizon_days"

	defaultDatabaseURL       = "sqlite:///tmp/coins.db"
	defaultListenAddr        = ":8080"
	defaultExpiryHorizonDays = 365
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    []string
	ExpiryHorizonDays int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "coinsd",
		Short:         "Rental platform coin ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.PersistentFlags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.PersistentFlags().Int(flagExpiryHorizonDays, defaultExpiryHorizonDays, "days before unused coins expire")

	cmd.AddCommand(newServeCommand(cfg), newSweepCommand(cfg), newWarnCommand(cfg))

	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coin ledger HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			return httpserver.Run(ctx, httpserver.Config{
				ListenAddr:     cfg.ListenAddr,
				AllowedOrigins: cfg.AllowedOrigins,
			}, httpserver.Dependencies{
				Logger:     app.logger,
				Service:    app.service,
				Aggregator: app.aggregator,
				Sweeper:    app.sweeper,
				Metrics:    app.metricsHandler,
			})
		},
	}
}

func newSweepCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.sweeper.RunExpirySweep(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("expiry sweep report",
				zap.Int("accounts_processed", report.AccountsProcessed),
				zap.Int64("total_frozen", report.TotalFrozen),
				zap.Int("errors", report.Errors))
			return nil
		},
	}
}

func newWarnCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "warn",
		Short: "Run one expiry warning pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.sweeper.RunExpiryWarnings(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("expiry warning report",
				zap.Int("accounts_scanned", report.AccountsScanned),
				zap.Int("notices_sent", report.NoticesSent),
				zap.Int("errors", report.Errors))
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// Local development reads a .env file when present.
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyAllowedOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyExpiryHorizonDays, "EXPIRY_HORIZON_DAYS"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyAllowedOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyExpiryHorizonDays, cmd.Flags().Lookup(flagExpiryHorizonDays)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.ExpiryHorizonDays = viper.GetInt(configKeyExpiryHorizonDays)
	if cfg.ExpiryHorizonDays <= 0 {
		cfg.ExpiryHorizonDays = defaultExpiryHorizonDays
	}
	return nil
}

type application struct {
	logger         *zap.Logger
	service        *coins.Service
	aggregator     *coins.Aggregator
	sweeper        *coins.Sweeper
	metricsHandler http.Handler
	cleanup        func() error
}

func buildApplication(ctx context.Context, cfg *runtimeConfig) (*application, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database open: %w", err)
	}

	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		_ = logger.Sync()
		return nil, err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	registry := prometheus.NewRegistry()
	recorder := observability.NewOperationRecorder(logger, registry)

	service, err := coins.NewService(store, clock,
		coins.WithOperationLogger(recorder),
		coins.WithExpiryHorizon(cfg.ExpiryHorizonDays))
	if err != nil {
		_ = cleanup()
		_ = logger.Sync()
		return nil, fmt.Errorf("coin service init: %w", err)
	}
	aggregator, err := coins.NewAggregator(store)
	if err != nil {
		_ = cleanup()
		_ = logger.Sync()
		return nil, fmt.Errorf("aggregator init: %w", err)
	}
	sweeper, err := coins.NewSweeper(store, notify.NewLogNotifier(logger), clock, logger)
	if err != nil {
		_ = cleanup()
		_ = logger.Sync()
		return nil, fmt.Errorf("sweeper init: %w", err)
	}

	return &application{
		logger:         logger,
		service:        service,
		aggregator:     aggregator,
		sweeper:        sweeper,
		metricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		cleanup: func() error {
			_ = logger.Sync()
			return cleanup()
		},
	}, nil
}

func (app *application) close() {
	if app.cleanup != nil {
		_ = app.cleanup()
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "coins.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
