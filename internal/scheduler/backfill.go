package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medremind/internal/types"
)

// DefaultBackfillPageSize bounds one backfill pass.
const DefaultBackfillPageSize = 100

// BackfillDB defines the database operations needed by the timing policy
// backfill.
type BackfillDB interface {
	// ListMissingTimingPolicy pages through reminders lacking timing
	// policy fields, keyed by id. Pass an empty afterID for the first page.
	ListMissingTimingPolicy(ctx context.Context, afterID string, limit int) ([]*types.Reminder, error)

	// ApplyTimingPolicy fills the timing policy fields, preserving any
	// already set. Returns true if the row still needed the backfill.
	ApplyTimingPolicy(ctx context.Context, reminderID string, mode types.TimingMode, anchorTimezone *string, criticality types.Criticality, now time.Time) (bool, error)

	// GetTimezone resolves a user's current timezone profile.
	GetTimezone(ctx context.Context, userID string) (*types.UserTimezoneProfile, error)
}

// TimingBackfill assigns timing policy fields to reminders created before
// the policy existed. Legacy reminders were always evaluated in the user's
// then-current timezone, so the backfill anchors each one to the timezone
// on the user's profile at backfill time, preserving the schedule the user
// has been living with. Medication doses default to time_sensitive.
type TimingBackfill struct {
	db               BackfillDB
	fallbackTimezone string
	logger           *slog.Logger
}

// NewTimingBackfill creates a TimingBackfill. The fallback timezone is used
// for users with no profile zone; a nil logger uses slog.Default().
func NewTimingBackfill(db BackfillDB, fallbackTimezone string, logger *slog.Logger) *TimingBackfill {
	if fallbackTimezone == "" {
		fallbackTimezone = "UTC"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimingBackfill{db: db, fallbackTimezone: fallbackTimezone, logger: logger}
}

// BackfillTimingPolicy processes one page of reminders starting after
// cursor. Per-reminder failures are logged and skipped so one bad row never
// wedges the migration; the row is retried on the next full sweep.
func (s *TimingBackfill) BackfillTimingPolicy(ctx context.Context, now time.Time, cursor string, pageSize int) (BackfillResult, error) {
	if pageSize <= 0 || pageSize > DefaultBackfillPageSize {
		pageSize = DefaultBackfillPageSize
	}

	var result BackfillResult

	batch, err := s.db.ListMissingTimingPolicy(ctx, cursor, pageSize)
	if err != nil {
		return result, fmt.Errorf("listing reminders missing timing policy: %w", err)
	}
	if len(batch) == 0 {
		return result, nil
	}

	// Zone lookups are cached per user; a page is typically dominated by a
	// few users' reminders.
	zones := make(map[string]string)

	for _, rem := range batch {
		result.Processed++
		result.NextCursor = rem.ID

		zone, ok := zones[rem.UserID]
		if !ok {
			profile, err := s.db.GetTimezone(ctx, rem.UserID)
			if err != nil {
				s.logger.Warn("timezone lookup failed, skipping reminder",
					"user_id", rem.UserID, "reminder_id", rem.ID, "error", err)
				continue
			}
			zone = s.fallbackTimezone
			if profile.Timezone != nil && *profile.Timezone != "" {
				if _, err := time.LoadLocation(*profile.Timezone); err == nil {
					zone = *profile.Timezone
				}
			}
			zones[rem.UserID] = zone
		}

		anchorTZ := zone
		updated, err := s.db.ApplyTimingPolicy(ctx, rem.ID,
			types.TimingModeAnchor, &anchorTZ, types.CriticalityTimeSensitive, now)
		if err != nil {
			s.logger.Error("failed to apply timing policy",
				"reminder_id", rem.ID, "error", err)
			continue
		}
		if updated {
			result.Updated++
		}
	}

	result.HasMore = len(batch) == pageSize

	s.logger.Info("backfill pass complete",
		"processed", result.Processed,
		"updated", result.Updated,
		"has_more", result.HasMore,
		"next_cursor", result.NextCursor,
	)
	return result, nil
}
