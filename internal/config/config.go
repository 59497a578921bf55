// Package config defines the global configuration structure for the MedRemind
// workers. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter; values come from the OS
// environment with an optional .env file for local development.
//
// Any missing required value or invalid format causes the process to fail
// immediately on startup.
package config

import (
	"time"

	"medremind/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"medremind"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Push     PushConfig
	Reminder ReminderConfig
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Cold storage for purged reminder archives.
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`
	// Lifecycle events (reminder.disabled, reminder.purged).
	EventQueueURL string `envconfig:"SQS_REMINDER_EVENTS"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PushConfig holds push provider configuration.
type PushConfig struct {
	// BaseURL override exists for local testing against a stub server.
	BaseURL     string        `envconfig:"PUSH_API_URL" default:"https://exp.host/--/api/v2"`
	AccessToken SecretString  `envconfig:"PUSH_ACCESS_TOKEN"`
	Timeout     time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s"`
}

// ReminderConfig holds the evaluation and maintenance tuning parameters.
type ReminderConfig struct {
	// WindowMinutes is the radius around a scheduled clock time within
	// which a dose counts as due.
	WindowMinutes int `envconfig:"REMINDER_WINDOW_MINUTES" default:"7"`
	// ResendSuppression is the minimum gap between sends for one reminder.
	ResendSuppression time.Duration `envconfig:"REMINDER_RESEND_SUPPRESSION" default:"30m"`
	// SendLockTTL is how long a stale send lock blocks re-acquisition.
	SendLockTTL time.Duration `envconfig:"REMINDER_SEND_LOCK_TTL" default:"10m"`
	// FallbackTimezone is used when a local-mode reminder's user has no
	// usable timezone on file.
	FallbackTimezone string `envconfig:"REMINDER_FALLBACK_TZ" default:"UTC"`
	// RetentionDays is how long soft-deleted reminders are kept before
	// the purger removes them.
	RetentionDays int `envconfig:"REMINDER_RETENTION_DAYS" default:"90"`
	// PurgePageSize bounds one purge pass.
	PurgePageSize int `envconfig:"REMINDER_PURGE_PAGE_SIZE" default:"100"`
	// BackfillPageSize bounds one timing policy backfill pass.
	BackfillPageSize int `envconfig:"REMINDER_BACKFILL_PAGE_SIZE" default:"100"`
	// UserConcurrency bounds the per-cycle fan-out across users.
	UserConcurrency int `envconfig:"REMINDER_USER_CONCURRENCY" default:"8"`
}
