package db

import (
	"context"
	"time"

	"medremind/internal/types"
)

// JobLockRepository provides distributed locking via the job_locks table so
// that only one worker runs a given maintenance task per schedule window.
// The lock ID is typically "task:window" (e.g. "purge_reminders:2026-08-31").
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to take the lock, reclaiming it if a previous holder's
// TTL has lapsed. Returns true if this worker now holds the lock.
//
// The INSERT ... ON CONFLICT DO UPDATE form is a single atomic statement:
// if the row exists and has not expired, the conditional UPDATE matches
// nothing and zero rows are affected. Expiry is computed in Go as a
// concrete timestamp because PostgreSQL does not parse Go duration strings
// as intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, now time.Time, ttl time.Duration) (bool, error) {
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Job history statuses.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// JobHistoryRepository records maintenance task executions in the
// job_history table for operational visibility.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running job_history row and returns its generated ID for
// the matching Finish call.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string, now time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		jobType,
		now,
		JobStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes a job_history row with the final status and item count.
// A non-nil jobErr is recorded in the error column.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, now time.Time, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = $2, status = $3, items_count = $4, error = $5
		 WHERE id = $1`,
		id,
		now,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
