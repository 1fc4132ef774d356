package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/careermate/authcore"
	"github.com/careermate/authcore/logging"
	"github.com/careermate/authcore/store/postgres"
)

func main() {
	// The migrator never signs tokens, so the JWT settings are not validated.
	cfg, err := authcore.ReadConfig(authcore.DefaultEnvPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	var (
		dsn       = flag.String("dsn", "", "postgres connection string; overrides "+authcore.DefaultEnvPrefix+"STORE__POSTGRES_DSN")
		prune     = flag.Bool("prune", false, "delete expired rows after migrating")
		retention = flag.Duration("retention", cfg.Refresh.Retention, "how long expired refresh tokens are kept before pruning")
		timeout   = flag.Duration("timeout", time.Minute, "overall deadline")
		logLevel  = flag.String("log-level", cfg.Log.Level, "log level")
	)
	flag.Parse()

	cfg.Log.Level = *logLevel
	logger := logging.New(cfg.Log, os.Stderr)

	if *dsn != "" {
		cfg.Store.PostgresDSN = logging.SecretString(*dsn)
	}
	if cfg.Store.PostgresDSN == "" {
		logger.Error("migrate.no_dsn",
			slog.String("hint", "pass -dsn or set "+authcore.DefaultEnvPrefix+"STORE__POSTGRES_DSN"))
		os.Exit(2)
	}
	if *retention < 0 {
		logger.Error("migrate.invalid_retention", slog.Duration("retention", *retention))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, logger, cfg.Store.PostgresDSN, *prune, *retention); err != nil {
		logger.Error("migrate.failed",
			slog.Bool("deadline_exceeded", errors.Is(err, context.DeadlineExceeded)),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dsn logging.SecretString, prune bool, retention time.Duration) error {
	db, err := postgres.Open(ctx, dsn.Expose())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("migrate.applied")

	if !prune {
		return nil
	}
	res, err := postgres.Prune(ctx, db, time.Now(), retention)
	if err != nil {
		return err
	}
	logger.Info("migrate.pruned",
		slog.Int64("refresh_tokens", res.RefreshTokens),
		slog.Int64("revocations", res.Revocations),
		slog.Int64("passcodes", res.Passcodes),
	)
	return nil
}
