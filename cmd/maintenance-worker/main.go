// Package main is the entrypoint for the Maintenance Worker Lambda function.
//
// The worker acts as a maintenance multiplexer. EventBridge rules send JSON
// payloads indicating the TaskType, and the handler routes execution to the
// appropriate scheduler service. Consolidating the low-frequency maintenance
// tasks into a single Lambda reduces cold starts and infrastructure sprawl.
//
// Handler flow:
//  1. Parse MaintenancePayload from EventBridge.
//  2. Acquire a distributed job lock to prevent concurrent execution.
//  3. Switch on TaskType and call the appropriate service method.
//  4. Record job history for operational visibility.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"medremind/internal/config"
	"medremind/internal/db"
	"medremind/internal/queue"
	"medremind/internal/scheduler"
)

// lockTTL is the time-to-live for job locks. Set to 15 minutes to cover the
// typical Lambda execution duration with margin.
const lockTTL = 15 * time.Minute

// --- S3 Archiver Implementation ---

// s3API is the subset of the S3 SDK client used for archive uploads.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Archiver is the production implementation of scheduler.Archiver. It
// uploads gzipped JSONL archives to the cold storage bucket before the purge
// hard-deletes the rows.
type s3Archiver struct {
	client s3API
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

// newArchiver returns the S3 archiver, or nil when no archive bucket is
// configured so the purger skips the archive step instead of failing every
// upload.
func newArchiver(client s3API, bucket string) scheduler.Archiver {
	if bucket == "" {
		return nil
	}
	return &s3Archiver{client: client, bucket: bucket}
}

// --- Service Interfaces ---

// OrphanService disables reminders whose medication no longer exists.
type OrphanService interface {
	ReconcileOrphanedReminders(ctx context.Context, now time.Time) (int, error)
}

// PurgeService archives and hard-deletes expired soft-deleted reminders.
type PurgeService interface {
	PurgeSoftDeletedReminders(ctx context.Context, now time.Time, retentionDays, pageSize int) (scheduler.PurgeResult, error)
}

// BackfillService fills missing timing policy fields on legacy reminders.
type BackfillService interface {
	BackfillTimingPolicy(ctx context.Context, now time.Time, cursor string, pageSize int) (scheduler.BackfillResult, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, now time.Time, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string, now time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, now time.Time, jobErr error) error
}

// ServiceRegistry holds the service implementations the multiplexer routes
// to. Services are eagerly initialized during cold start and reused across
// invocations.
type ServiceRegistry struct {
	Orphans  OrphanService
	Purger   PurgeService
	Backfill BackfillService
}

// Handler holds the dependencies for the maintenance Lambda handler function.
type Handler struct {
	Services   ServiceRegistry
	JobLock    JobLocker
	JobHistory JobHistorian
	Defaults   config.ReminderConfig
	WorkerID   string
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge, routing to the
// appropriate service method based on the TaskType.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "maintenance handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	// Lock per task and hour so a retried EventBridge delivery within the
	// same window is a no-op.
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, now, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := h.JobHistory.Start(ctx, taskStr, now)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: proceed even if history tracking fails. jobID=0
		// signals that Finish should be skipped.
		jobID = 0
	}

	summary, items, execErr := h.dispatch(ctx, payload, now)

	status := db.JobStatusSuccess
	if execErr != nil {
		status = db.JobStatusFailed
	}

	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, time.Now().UTC(), execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %s", taskStr, summary)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)
	return result, nil
}

// dispatch routes a TaskType to the appropriate service method. Returns a
// human-readable summary, the number of items affected, and any error.
func (h *Handler) dispatch(ctx context.Context, payload scheduler.MaintenancePayload, now time.Time) (string, int, error) {
	switch payload.Task {
	case scheduler.TaskReconcileOrphans:
		disabled, err := h.Services.Orphans.ReconcileOrphanedReminders(ctx, now)
		return fmt.Sprintf("%d reminders disabled", disabled), disabled, err

	case scheduler.TaskPurgeReminders:
		retention := payload.RetentionDays
		if retention <= 0 {
			retention = h.Defaults.RetentionDays
		}
		pageSize := payload.PageSize
		if pageSize <= 0 {
			pageSize = h.Defaults.PurgePageSize
		}
		res, err := h.Services.Purger.PurgeSoftDeletedReminders(ctx, now, retention, pageSize)
		return fmt.Sprintf("scanned=%d purged=%d has_more=%t", res.Scanned, res.Purged, res.HasMore), res.Purged, err

	case scheduler.TaskBackfillTiming:
		pageSize := payload.PageSize
		if pageSize <= 0 {
			pageSize = h.Defaults.BackfillPageSize
		}
		res, err := h.Services.Backfill.BackfillTimingPolicy(ctx, now, payload.Cursor, pageSize)
		return fmt.Sprintf("processed=%d updated=%d has_more=%t next_cursor=%s",
			res.Processed, res.Updated, res.HasMore, res.NextCursor), res.Updated, err

	default:
		return "", 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Maintenance Worker Lambda initializing (cold start)")

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("Failed to create database pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("Failed to ping database", "error", err)
		os.Exit(1)
	}

	// LocalStack support: point AWS clients at the local endpoint when set.
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
	archiver := newArchiver(s3Client, cfg.AWS.ArchiveBucket)

	reminderRepo := db.NewReminderRepository(pool)
	medicationRepo := db.NewMedicationRepository(pool)
	userRepo := db.NewUserRepository(pool)

	workerID := uuid.New().String()

	handler := &Handler{
		Services: ServiceRegistry{
			Orphans: scheduler.NewOrphanReconciler(
				struct {
					*db.ReminderRepository
					*db.MedicationRepository
				}{reminderRepo, medicationRepo},
				publisher,
				logger,
			),
			Purger: scheduler.NewRetentionPurger(reminderRepo, archiver, publisher, logger),
			Backfill: scheduler.NewTimingBackfill(
				struct {
					*db.ReminderRepository
					*db.UserRepository
				}{reminderRepo, userRepo},
				cfg.Reminder.FallbackTimezone,
				logger,
			),
		},
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		Defaults:   cfg.Reminder,
		WorkerID:   workerID,
		Logger:     logger,
	}

	logger.Info("Maintenance Worker Lambda initialized",
		"worker_id", workerID,
		"archive_bucket", cfg.AWS.ArchiveBucket,
	)

	// Local mode: read the JSON payload from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"task":"purge_reminders"}' | go run cmd/maintenance-worker/main.go
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading payload from stdin")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
		var payload scheduler.MaintenancePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Error("Failed to parse payload", "error", err)
			os.Exit(1)
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info(result)
		return
	}

	lambda.Start(handler.Handle)
}
