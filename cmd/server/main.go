package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-prefacturation/internal/config"
	"github.com/diewo77/go-prefacturation/internal/db"
	"github.com/diewo77/go-prefacturation/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "prefacturation"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Transport pre-invoicing service",
		Long: `Generates carrier pre-invoices from delivered orders, drives them through
industrial validation, carrier invoice control and payment, and exports the
resulting sales journal to accounting.

Configuration is read from the environment, optionally seeded from a .env file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(envFile)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return migrate(cfg, log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "countdowns",
		Short: "Refresh payment countdowns, reminders and overdue alerts once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), envFile, func(ctx context.Context, c *container) (any, error) {
				return c.prefacturations.UpdateCountdowns(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reevaluate-vigilance",
		Short: "Re-derive every carrier compliance file once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), envFile, func(ctx context.Context, c *container) (any, error) {
				return c.compliance.ReevaluateAll(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup loads the environment and builds the logger.
func setup(envFile string) (*config.Config, *zap.Logger, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load(envFile)

	cfg := config.Load()
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

// migrate applies the schema and closes the connection.
func migrate(cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("migrations completed")
	return nil
}

// runJob executes a one-shot batch operation and logs its result.
func runJob(ctx context.Context, envFile string, job func(context.Context, *container) (any, error)) error {
	cfg, log, err := setup(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c, err := newContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := job(ctx, c)
	if err != nil {
		return err
	}
	log.Info("job completed", zap.Any("result", res))
	return nil
}

func serve(ctx context.Context, envFile string) error {
	cfg, log, err := setup(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	c, err := newContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(log, NewApp(c)),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Bool("dev", cfg.App.Dev),
			zap.String("lock_backend", cfg.Lock.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	log.Info("server stopped gracefully")
	return nil
}
