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

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	v1 "github.com/dmehra2102/prod-golang-projects/medref/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/attachment"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/notify"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/summary"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/tracer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medref",
		Short: "Medical referral tracking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openMigrator()
			if err != nil {
				return err
			}
			defer cleanup()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openMigrator()
			if err != nil {
				return err
			}
			defer cleanup()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	})

	return cmd
}

func openMigrator() (*database.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		_ = log.Sync()
	}

	m, err := database.NewMigrator(db, database.Migrations())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return m, cleanup, nil
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.Log,
		zap.String("service", cfg.App.Name),
		zap.String("env", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	tp, err := tracer.Init(ctx, cfg.Tracing, cfg.App.Version)
	if err != nil {
		return fmt.Errorf("initialising tracer: %w", err)
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	if migrate {
		if err := database.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	m := metrics.NewCollector("medref", prometheus.DefaultRegisterer)
	store := postgres.NewStore(db, m)

	files, err := attachment.NewLocalStore(cfg.Storage.AttachmentRoot, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("opening attachment store: %w", err)
	}

	var channels notify.Multi
	var events *notify.EventNotifier
	if cfg.SMTP.Enabled {
		channels = append(channels, notify.NewEmailNotifier(cfg.SMTP, cfg.App.PortalURL))
	}
	if cfg.Kafka.Enabled {
		events = notify.NewEventNotifier(cfg.Kafka)
		channels = append(channels, events)
	}
	if len(channels) == 0 {
		log.Warn("no notification channel enabled; referral notifications are discarded")
	}

	var summarizer service.Summarizer
	if cfg.Summary.Enabled {
		summarizer = summary.NewClient(cfg.Summary)
	}

	jwtManager := auth.NewJWTManager(cfg.JWT)
	auditSvc := service.NewAuditService(store, m, log)
	ledger := service.NewStatusLedger(store)

	authSvc := service.NewAuthService(store, jwtManager, auditSvc, log)
	referralSvc := service.NewReferralService(store, ledger, auditSvc, files, summarizer, channels, m, log)
	consultationSvc := service.NewConsultationService(store, ledger, auditSvc, files, channels, m, log)
	analyticsSvc := service.NewAnalyticsService(postgres.NewAnalyticsRepository(db, m), log)

	router := v1.NewRouter(v1.RouterDeps{
		Config:    cfg,
		Log:       log,
		Metrics:   m,
		Tokens:    jwtManager,
		DB:        store,
		Auth:      v1.NewAuthHandler(authSvc, auditSvc, log),
		Referrals: v1.NewReferralHandler(referralSvc, consultationSvc, cfg.Storage.MaxUploadBytes, log),
		Analytics: v1.NewAnalyticsHandler(analyticsSvc, log),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	// Drain buffered activity entries before the pool closes.
	auditSvc.Shutdown()

	if events != nil {
		if err := events.Close(); err != nil {
			log.Warn("closing event writer", zap.Error(err))
		}
	}

	tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tracerCancel()
	if err := tp.Shutdown(tracerCtx); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Info("server stopped")
	return nil
}
