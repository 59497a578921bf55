// Package main is the entrypoint for the Reminder Worker Lambda function.
//
// The worker runs every minute via an EventBridge rule. Each invocation
// executes one evaluation cycle: load enabled reminders, resolve each user's
// timezone, find doses due within the delivery window, and push notifications
// through the Expo API. Cycle totals are published to CloudWatch so a missing
// datapoint can trip a dead man's switch alarm.
//
// This file handles dependency wiring (cold start) and delegates the cycle
// logic to the internal/reminder package.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"medremind/internal/config"
	"medremind/internal/db"
	"medremind/internal/external"
	"medremind/internal/reminder"
	"medremind/internal/types"
)

// --- Metric Publisher ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used by the worker.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// cycleMetricPublisher publishes one datapoint per metric per cycle under the
// configured namespace. The RemindersProcessed metric doubles as the worker's
// heartbeat: an alarm on missing data detects a stalled schedule.
type cycleMetricPublisher struct {
	client    cloudwatchAPI
	namespace string
}

func (p *cycleMetricPublisher) PublishCycle(ctx context.Context, result reminder.CycleResult) error {
	datum := func(name string, value int) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(value)),
			Unit:       cwTypes.StandardUnitCount,
		}
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			datum("RemindersProcessed", result.Processed),
			datum("RemindersSent", result.Sent),
			datum("CycleErrors", result.Errors),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish cycle metrics: %w", err)
	}
	return nil
}

// --- Handler ---

// Handler holds the dependencies for the worker Lambda handler function.
type Handler struct {
	Processor *reminder.Processor
	Metrics   *cycleMetricPublisher
	Logger    *slog.Logger
}

// Handle runs one evaluation cycle. Metric publication is best effort; a
// metrics failure never fails an otherwise successful cycle.
func (h *Handler) Handle(ctx context.Context) (string, error) {
	result, err := h.Processor.ProcessAndNotifyDueReminders(ctx)
	if err != nil {
		return "", fmt.Errorf("evaluation cycle failed: %w", err)
	}

	if h.Metrics != nil {
		if merr := h.Metrics.PublishCycle(ctx, result); merr != nil {
			h.Logger.WarnContext(ctx, "failed to publish cycle metrics", "error", merr)
		}
	}

	return fmt.Sprintf("cycle complete: processed=%d sent=%d errors=%d",
		result.Processed, result.Sent, result.Errors), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Reminder Worker Lambda initializing (cold start)")

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := newDBPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	// LocalStack support: point CloudWatch at the local endpoint when set.
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	expoClient := external.NewExpoClient(
		&http.Client{Timeout: cfg.Push.Timeout},
		external.ExpoClientConfig{
			AccessToken: cfg.Push.AccessToken.Unmask(),
			BaseURL:     cfg.Push.BaseURL,
			Logger:      logger,
		},
	)

	// Worker ID identifies this Lambda instance in send_locked_by.
	workerID := uuid.New().String()

	processor := reminder.NewProcessor(
		db.NewReminderRepository(pool),
		db.NewDoseLogRepository(pool),
		db.NewUserRepository(pool),
		db.NewUserRepository(pool),
		expoClient,
		types.RealClock{},
		reminder.Options{
			WindowMinutes:     cfg.Reminder.WindowMinutes,
			ResendSuppression: cfg.Reminder.ResendSuppression,
			LockTTL:           cfg.Reminder.SendLockTTL,
			FallbackTimezone:  cfg.Reminder.FallbackTimezone,
			UserConcurrency:   cfg.Reminder.UserConcurrency,
			WorkerID:          workerID,
		},
		logger,
	)

	handler := &Handler{
		Processor: processor,
		Metrics: &cycleMetricPublisher{
			client:    cwClient,
			namespace: "MedRemind",
		},
		Logger: logger,
	}

	logger.Info("Reminder Worker Lambda initialized",
		"worker_id", workerID,
		"window_minutes", cfg.Reminder.WindowMinutes,
		"fallback_timezone", cfg.Reminder.FallbackTimezone,
	)

	// Local mode: run a single cycle and exit instead of starting the Lambda
	// runtime. This enables local integration testing without the AWS RIE.
	if cfg.Environment == "local" {
		result, err := handler.Handle(ctx)
		if err != nil {
			logger.Error("Cycle execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info(result)
		return
	}

	lambda.Start(handler.Handle)
}
