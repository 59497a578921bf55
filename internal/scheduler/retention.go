package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"medremind/internal/types"
)

// DefaultRetentionDays is how long soft-deleted reminders are kept before
// the purger removes them.
const DefaultRetentionDays = 90

// DefaultPurgePageSize bounds one purge pass to keep Lambda invocations
// short.
const DefaultPurgePageSize = 100

// RetentionDB defines the database operations needed by the
// RetentionPurger.
type RetentionDB interface {
	// ListSoftDeletedBefore returns up to limit reminders soft-deleted
	// before the cutoff, oldest first.
	ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.Reminder, error)

	// HardDelete permanently removes the reminders and returns the count
	// actually deleted.
	HardDelete(ctx context.Context, reminderIDs []string) (int, error)
}

// Archiver uploads a purge batch to cold storage.
type Archiver interface {
	UploadArchive(ctx context.Context, key string, data []byte) error
}

// jsonMarshal is a package-level var to allow testing serialization
// failures without import cycles.
var jsonMarshal = json.Marshal

// RetentionPurger hard-deletes reminders whose soft-delete has aged past
// the retention period, archiving each batch to S3 first.
type RetentionPurger struct {
	db       RetentionDB
	archiver Archiver
	events   EventPublisher
	logger   *slog.Logger
}

// NewRetentionPurger creates a RetentionPurger. A nil archiver skips the
// archive step; a nil logger uses slog.Default().
func NewRetentionPurger(db RetentionDB, archiver Archiver, events EventPublisher, logger *slog.Logger) *RetentionPurger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionPurger{db: db, archiver: archiver, events: events, logger: logger}
}

// PurgeSoftDeletedReminders processes one page of expired soft-deletes:
// fetch, archive as compressed JSONL, hard-delete. HasMore reports whether
// a full page came back, in which case the caller reinvokes until the
// backlog drains.
//
// An archive failure aborts the pass before anything is deleted; rows are
// only ever removed after their batch is safely in cold storage.
func (s *RetentionPurger) PurgeSoftDeletedReminders(ctx context.Context, now time.Time, retentionDays, pageSize int) (PurgeResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if pageSize <= 0 || pageSize > DefaultPurgePageSize {
		pageSize = DefaultPurgePageSize
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	var result PurgeResult

	batch, err := s.db.ListSoftDeletedBefore(ctx, cutoff, pageSize)
	if err != nil {
		return result, fmt.Errorf("listing expired soft-deletes: %w", err)
	}
	result.Scanned = len(batch)
	if len(batch) == 0 {
		return result, nil
	}

	if s.archiver != nil {
		data, err := compressRemindersJSONL(batch)
		if err != nil {
			return result, fmt.Errorf("serializing purge batch: %w", err)
		}
		key := fmt.Sprintf("reminders/%d/%02d/batch_%d.jsonl.gz",
			now.Year(), now.Month(), now.UnixNano())
		if err := s.archiver.UploadArchive(ctx, key, data); err != nil {
			return result, fmt.Errorf("uploading purge archive to %s: %w", key, err)
		}
		s.logger.Info("archived purge batch", "s3_key", key, "batch_size", len(batch))
	}

	ids := make([]string, len(batch))
	for i, rem := range batch {
		ids[i] = rem.ID
	}
	deleted, err := s.db.HardDelete(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("hard-deleting purge batch: %w", err)
	}
	result.Purged = deleted
	result.HasMore = len(batch) == pageSize

	if s.events != nil {
		for _, rem := range batch {
			ev := types.ReminderEvent{
				Type:         types.EventReminderPurged,
				ReminderID:   rem.ID,
				UserID:       rem.UserID,
				MedicationID: rem.MedicationID,
				OccurredAt:   now,
			}
			if err := s.events.PublishReminderEvent(ctx, ev); err != nil {
				s.logger.Error("failed to publish reminder.purged event",
					"reminder_id", rem.ID, "error", err)
			}
		}
	}

	s.logger.Info("purge pass complete",
		"scanned", result.Scanned,
		"purged", result.Purged,
		"has_more", result.HasMore,
	)
	return result, nil
}

// compressRemindersJSONL serializes reminders to gzip-compressed
// newline-delimited JSON.
func compressRemindersJSONL(reminders []*types.Reminder) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, rem := range reminders {
		line, err := jsonMarshal(rem)
		if err != nil {
			return nil, fmt.Errorf("marshaling reminder %s: %w", rem.ID, err)
		}
		if _, err := zw.Write(append(line, '\n')); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
