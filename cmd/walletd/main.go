package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/brushmint/wallet/internal/store/walletstore"
	"github.com/brushmint/wallet/internal/walletd"
)

const (
	flagListenAddr      = "listen-addr"
	flagDatabaseURL     = "database-url"
	flagAllowedOrigins  = "allowed-origins"
	flagTokenSigningKey = "token-signing-key"
	flagTokenIssuer     = "token-issuer"
	flagTokenTTL        = "token-ttl"
	flagCheckoutBaseURL = "checkout-base-url"
	envPrefix           = "WALLETD"

	defaultDatabaseURL = "sqlite://walletd.db"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := walletd.Config{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Brushmint wallet backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite path or postgres URL)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "session token signing key (required)")
	cmd.Flags().String(flagTokenIssuer, "", "session token issuer")
	cmd.Flags().Duration(flagTokenTTL, 0, "session token lifetime (e.g. 24h)")
	cmd.Flags().String(flagCheckoutBaseURL, "", "base URL for hosted checkout pages")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *walletd.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := []string{flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagTokenSigningKey, flagTokenIssuer, flagTokenTTL, flagCheckoutBaseURL}
	for _, flagName := range flags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabasePath = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AllowedOrigins = walletd.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.TokenSigningKey = v.GetString(flagTokenSigningKey)
	cfg.TokenIssuer = strings.TrimSpace(v.GetString(flagTokenIssuer))
	cfg.TokenTTL = v.GetDuration(flagTokenTTL)
	cfg.CheckoutBaseURL = strings.TrimSpace(v.GetString(flagCheckoutBaseURL))

	return cfg.Validate()
}

func runServer(ctx context.Context, cfg walletd.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if driver == "sqlite" {
		if err := walletstore.Migrate(gormDB); err != nil {
			return err
		}
	}

	store := walletstore.New(gormDB)
	return walletd.Run(ctx, cfg, store, logger)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
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
			path = "walletd.db"
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
