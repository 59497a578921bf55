package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"medremind/internal/types"
)

// ReminderRepository provides data access for the reminders table. It covers
// the evaluation read path, the per-reminder send lock, soft-disable for
// orphan handling, retention purge pagination, and the timing policy
// backfill cursor.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository backed by the given
// database connection (pool or transaction).
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// reminderColumns is the canonical column list shared by every SELECT so the
// scan helper stays in one place.
const reminderColumns = `id, user_id, medication_id, medication_name, times, enabled,
	timing_mode, anchor_timezone, criticality,
	last_sent_at, send_locked_at, send_locked_by,
	deleted_at, deleted_by, created_at, updated_at`

func scanReminder(row pgx.Row) (*types.Reminder, error) {
	var r types.Reminder
	var timingMode, criticality *string
	err := row.Scan(
		&r.ID, &r.UserID, &r.MedicationID, &r.MedicationName, &r.Times, &r.Enabled,
		&timingMode, &r.AnchorTimezone, &criticality,
		&r.LastSentAt, &r.SendLockedAt, &r.SendLockedBy,
		&r.DeletedAt, &r.DeletedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if timingMode != nil {
		m := types.TimingMode(*timingMode)
		r.TimingMode = &m
	}
	if criticality != nil {
		c := types.Criticality(*criticality)
		r.Criticality = &c
	}
	return &r, nil
}

// ListEnabled returns every enabled, non-deleted reminder. The evaluation
// cycle groups the result by user before resolving timezones.
func (r *ReminderRepository) ListEnabled(ctx context.Context) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE enabled = TRUE AND deleted_at IS NULL
		 ORDER BY user_id, id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list enabled reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list enabled reminders", err)
	}
	return out, nil
}

// AcquireSendLock attempts to take the per-reminder send lock in a single
// atomic statement. It returns true only when this worker now holds the
// lock; false means another worker holds a live lock, a send already
// happened at or after notSentSince, or the reminder is gone.
//
// SQL pattern:
//
//	UPDATE reminders
//	SET send_locked_at = $3, send_locked_by = $4
//	WHERE id = $1
//	  AND enabled = TRUE AND deleted_at IS NULL
//	  AND (send_locked_at IS NULL OR send_locked_at < $5)
//	  AND (last_sent_at IS NULL OR last_sent_at < $2)
//
// The lock expiry bound ($5 = now - ttl) is computed as a concrete timestamp
// in Go to avoid PostgreSQL interval parsing incompatibilities with Go's
// duration format. A stale lock older than the TTL is silently reclaimed.
//
// The last_sent_at guard re-checks send suppression under the lock, closing
// the race where two workers evaluated the same reminder before either
// dispatched. For schedule candidates notSentSince is the start of the
// resend suppression window; for snooze candidates it is the snooze log's
// own timestamp.
func (r *ReminderRepository) AcquireSendLock(ctx context.Context, reminderID, workerID string, now, notSentSince time.Time, ttl time.Duration) (bool, error) {
	staleBefore := now.Add(-ttl)

	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET send_locked_at = $3, send_locked_by = $4
		 WHERE id = $1
		   AND enabled = TRUE AND deleted_at IS NULL
		   AND (send_locked_at IS NULL OR send_locked_at < $5)
		   AND (last_sent_at IS NULL OR last_sent_at < $2)`,
		reminderID,
		notSentSince,
		now,
		workerID,
		staleBefore,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire send lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearLockAndMarkSent releases the send lock and records the successful
// dispatch time in one statement.
func (r *ReminderRepository) ClearLockAndMarkSent(ctx context.Context, reminderID string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET last_sent_at = $2, send_locked_at = NULL, send_locked_by = NULL, updated_at = NOW()
		 WHERE id = $1`,
		reminderID,
		sentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear send lock after dispatch", err)
	}
	return nil
}

// ClearLock releases the send lock without recording a send. Used when
// dispatch failed for every device, so the next cycle retries.
func (r *ReminderRepository) ClearLock(ctx context.Context, reminderID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET send_locked_at = NULL, send_locked_by = NULL
		 WHERE id = $1`,
		reminderID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear send lock", err)
	}
	return nil
}

// SoftDisable disables a reminder and stamps the soft-delete audit fields.
// Returns false if the reminder was already soft-deleted or does not exist,
// so callers can keep their counts honest on repeat runs.
func (r *ReminderRepository) SoftDisable(ctx context.Context, reminderID, deletedBy string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET enabled = FALSE, deleted_at = $3, deleted_by = $2, updated_at = $3
		 WHERE id = $1 AND deleted_at IS NULL`,
		reminderID,
		deletedBy,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to soft-disable reminder", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSoftDeletedBefore returns up to limit reminders whose deleted_at is
// older than the cutoff, oldest first. The purger calls this repeatedly
// until a page comes back short.
func (r *ReminderRepository) ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE deleted_at IS NOT NULL AND deleted_at < $1
		 ORDER BY deleted_at ASC, id ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list soft-deleted reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list soft-deleted reminders", err)
	}
	return out, nil
}

// HardDelete permanently removes the given reminders and returns how many
// rows were actually deleted.
func (r *ReminderRepository) HardDelete(ctx context.Context, reminderIDs []string) (int, error) {
	if len(reminderIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM reminders WHERE id = ANY($1)`,
		reminderIDs,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to hard-delete reminders", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListMissingTimingPolicy pages through reminders that predate the timing
// policy fields, keyed by id for a stable cursor. Pass an empty afterID for
// the first page.
func (r *ReminderRepository) ListMissingTimingPolicy(ctx context.Context, afterID string, limit int) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE id > $1
		   AND (timing_mode IS NULL OR criticality IS NULL)
		 ORDER BY id ASC
		 LIMIT $2`,
		afterID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminders missing timing policy", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminders missing timing policy", err)
	}
	return out, nil
}

// ApplyTimingPolicy fills in the timing policy fields, preserving any value
// that is already set. Returns true if the row still needed the backfill.
func (r *ReminderRepository) ApplyTimingPolicy(ctx context.Context, reminderID string, mode types.TimingMode, anchorTimezone *string, criticality types.Criticality, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET timing_mode = COALESCE(timing_mode, $2),
		     anchor_timezone = COALESCE(anchor_timezone, $3),
		     criticality = COALESCE(criticality, $4),
		     updated_at = $5
		 WHERE id = $1
		   AND (timing_mode IS NULL OR criticality IS NULL)`,
		reminderID,
		string(mode),
		anchorTimezone,
		string(criticality),
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply timing policy", err)
	}
	return tag.RowsAffected() > 0, nil
}
