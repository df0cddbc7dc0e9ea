package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CDCgov/RecordLinker-sub000/internal/config"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/linkage"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/tuning"
	"github.com/CDCgov/RecordLinker-sub000/internal/platform/auth"
	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
	"github.com/CDCgov/RecordLinker-sub000/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "record-linker",
		Short: "Master Patient Index record linkage service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the record linkage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	inTx := db.PoolTxRunner(pool)

	// Repositories and services
	mpiRepo := mpi.NewRepoPG(pool)
	mpiSvc := mpi.NewService(mpiRepo, inTx, logger)

	algoRepo := algorithm.NewRepoPG(pool)
	algoSvc := algorithm.NewService(algoRepo, inTx, logger)

	engine := linkage.NewEngine(mpiRepo, algoSvc, inTx, logger)

	jobRepo := tuning.NewRepoPG(pool)
	tuningSvc := tuning.NewService(jobRepo, mpiRepo, algoSvc, cfg.TuningTimeout(), logger)
	if err := tuningSvc.ReapStale(ctx, cfg.TuningStaleAfter()); err != nil {
		logger.Error().Err(err).Msg("failed to reap stale tuning jobs")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API group
	api := e.Group("/api")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(auth.Middleware([]byte(cfg.AuthSecret)))

	linkage.NewHandler(engine).RegisterRoutes(api)
	mpi.NewHandler(mpiSvc).RegisterRoutes(api)
	algorithm.NewHandler(algoSvc).RegisterRoutes(api)
	tuning.NewHandler(tuningSvc).RegisterRoutes(api)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	// Let in-flight tuning workers record their outcome before the pool closes.
	tuningSvc.Wait()

	logger.Info().Msg("server stopped")
	return nil
}
