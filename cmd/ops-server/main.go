// Package main is the entry point for the MedRemind ops server.
//
// The ops server exposes health checks and manual triggers for the
// evaluation cycle and the maintenance jobs. It backs runbook intervention
// and local development; the production cadence is driven by EventBridge
// invoking the worker Lambdas directly.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"medremind/internal/api"
	"medremind/internal/config"
	"medremind/internal/db"
	"medremind/internal/external"
	"medremind/internal/queue"
	"medremind/internal/reminder"
	"medremind/internal/scheduler"
	"medremind/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("medremind ops server starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	publisher := queue.NewEventPublisher(sqsClient, cfg.AWS.EventQueueURL, logger)

	reminderRepo := db.NewReminderRepository(pool)
	medicationRepo := db.NewMedicationRepository(pool)
	userRepo := db.NewUserRepository(pool)
	doseLogRepo := db.NewDoseLogRepository(pool)

	expoClient := external.NewExpoClient(
		&http.Client{Timeout: cfg.Push.Timeout},
		external.ExpoClientConfig{
			AccessToken: cfg.Push.AccessToken.Unmask(),
			BaseURL:     cfg.Push.BaseURL,
			Logger:      logger,
		},
	)

	processor := reminder.NewProcessor(
		reminderRepo,
		doseLogRepo,
		userRepo,
		userRepo,
		expoClient,
		types.RealClock{},
		reminder.Options{
			WindowMinutes:     cfg.Reminder.WindowMinutes,
			ResendSuppression: cfg.Reminder.ResendSuppression,
			LockTTL:           cfg.Reminder.SendLockTTL,
			FallbackTimezone:  cfg.Reminder.FallbackTimezone,
			UserConcurrency:   cfg.Reminder.UserConcurrency,
			WorkerID:          "ops:" + uuid.New().String(),
		},
		logger,
	)

	orphans := scheduler.NewOrphanReconciler(
		struct {
			*db.ReminderRepository
			*db.MedicationRepository
		}{reminderRepo, medicationRepo},
		publisher,
		logger,
	)
	// No archive bucket means the purger skips the archive step.
	var archiver scheduler.Archiver
	if cfg.AWS.ArchiveBucket != "" {
		archiver = &s3Archiver{client: s3Client, bucket: cfg.AWS.ArchiveBucket}
	}
	purger := scheduler.NewRetentionPurger(reminderRepo, archiver, publisher, logger)
	backfill := scheduler.NewTimingBackfill(
		struct {
			*db.ReminderRepository
			*db.UserRepository
		}{reminderRepo, userRepo},
		cfg.Reminder.FallbackTimezone,
		logger,
	)

	opsHandler := api.NewOpsHandler(pool, processor, orphans, purger, backfill, types.RealClock{}, logger)

	router := chi.NewRouter()
	router.Use(api.Recoverer(logger))
	router.Use(api.RequestID)
	router.Use(api.RequestLogger(logger))
	opsHandler.RegisterRoutes(router)

	return runHTTPServer(router, cfg, logger)
}

// s3Archiver implements scheduler.Archiver against the archive bucket.
type s3Archiver struct {
	client *s3.Client
	bucket string
}

func (a *s3Archiver) UploadArchive(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s: %w", key, err)
	}
	return nil
}

// runHTTPServer starts the server with graceful shutdown.
func runHTTPServer(handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
