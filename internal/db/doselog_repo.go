package db

import (
	"context"
	"time"

	"medremind/internal/types"
)

// DoseLogRepository provides read access to the dose_logs table for the
// evaluation cycle.
type DoseLogRepository struct {
	db DBTX
}

// NewDoseLogRepository creates a new DoseLogRepository backed by the given
// database connection (pool or transaction).
func NewDoseLogRepository(db DBTX) *DoseLogRepository {
	return &DoseLogRepository{db: db}
}

// ListForUserDay returns the user's dose logs for one evaluation day,
// oldest first. day is the local calendar date ("2006-01-02"); [from, to)
// are the UTC instants bounding it. Logs carrying an explicit
// scheduled_date match on the date alone, so a dose logged after midnight
// for the previous day still lands in the right bucket; logs without one
// fall back to the logged_at window. Ascending order makes
// most-recent-wins tie breaking a simple overwrite.
func (r *DoseLogRepository) ListForUserDay(ctx context.Context, userID, day string, from, to time.Time) ([]*types.DoseLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, medication_id, reminder_id, scheduled_time,
		        scheduled_date, action, snooze_until, logged_at
		 FROM dose_logs
		 WHERE user_id = $1
		   AND (scheduled_date = $2
		        OR (scheduled_date IS NULL AND logged_at >= $3 AND logged_at < $4))
		 ORDER BY logged_at ASC, id ASC`,
		userID,
		day,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dose logs", err)
	}
	defer rows.Close()

	var out []*types.DoseLog
	for rows.Next() {
		var l types.DoseLog
		var action string
		err := rows.Scan(
			&l.ID, &l.UserID, &l.MedicationID, &l.ReminderID, &l.ScheduledTime,
			&l.ScheduledDate, &action, &l.SnoozeUntil, &l.LoggedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dose log", err)
		}
		l.Action = types.DoseAction(action)
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dose logs", err)
	}
	return out, nil
}
