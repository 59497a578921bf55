package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medremind/internal/types"
)

// DeletedBySystemReconciler marks soft-deletes performed by the orphan
// reconciler, distinguishing them from user-initiated deletes in audit
// queries.
const DeletedBySystemReconciler = "system:orphan_reconciler"

// OrphanDB defines the database operations needed by the OrphanReconciler.
type OrphanDB interface {
	// ListEnabled returns every enabled, non-deleted reminder.
	ListEnabled(ctx context.Context) ([]*types.Reminder, error)

	// GetState returns the medication's existence and lifecycle state.
	// A missing medication is (Exists=false, nil); only transport failures
	// return an error.
	GetState(ctx context.Context, medicationID string) (types.MedicationState, error)

	// SoftDisable disables the reminder and stamps the soft-delete fields.
	// Returns false when the reminder was already soft-deleted.
	SoftDisable(ctx context.Context, reminderID, deletedBy string, now time.Time) (bool, error)
}

// EventPublisher announces reminder lifecycle transitions to the event
// queue. A nil publisher disables announcements.
type EventPublisher interface {
	PublishReminderEvent(ctx context.Context, ev types.ReminderEvent) error
}

// OrphanReconciler soft-disables reminders whose medication no longer
// exists or is no longer active. Reminders are never hard-deleted here; the
// soft-delete keeps them recoverable and visible to the retention purger.
type OrphanReconciler struct {
	db     OrphanDB
	events EventPublisher
	logger *slog.Logger
}

// NewOrphanReconciler creates an OrphanReconciler. A nil logger uses
// slog.Default().
func NewOrphanReconciler(db OrphanDB, events EventPublisher, logger *slog.Logger) *OrphanReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanReconciler{db: db, events: events, logger: logger}
}

// ReconcileOrphanedReminders scans every enabled reminder and soft-disables
// the ones pointing at missing or inactive medications. Returns the number
// disabled.
//
// A failed medication lookup skips that reminder: an unreachable medications
// table must never be mistaken for a deleted medication. The skip is logged
// and the next scheduled run retries.
func (s *OrphanReconciler) ReconcileOrphanedReminders(ctx context.Context, now time.Time) (int, error) {
	reminders, err := s.db.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing reminders for reconciliation: %w", err)
	}

	// Many reminders share a medication; resolve each one once.
	states := make(map[string]types.MedicationState)
	lookupFailed := make(map[string]bool)

	disabled := 0
	for _, rem := range reminders {
		state, ok := states[rem.MedicationID]
		if !ok {
			if lookupFailed[rem.MedicationID] {
				continue
			}
			state, err = s.db.GetState(ctx, rem.MedicationID)
			if err != nil {
				s.logger.Warn("medication lookup failed, skipping reminder",
					"medication_id", rem.MedicationID,
					"reminder_id", rem.ID,
					"error", err,
				)
				lookupFailed[rem.MedicationID] = true
				continue
			}
			states[rem.MedicationID] = state
		}

		if state.Exists && state.Active {
			continue
		}

		wasDisabled, err := s.db.SoftDisable(ctx, rem.ID, DeletedBySystemReconciler, now)
		if err != nil {
			s.logger.Error("failed to soft-disable orphaned reminder",
				"reminder_id", rem.ID, "error", err)
			continue
		}
		if !wasDisabled {
			continue
		}

		disabled++
		s.logger.Info("soft-disabled orphaned reminder",
			"reminder_id", rem.ID,
			"medication_id", rem.MedicationID,
			"medication_exists", state.Exists,
		)

		if s.events != nil {
			ev := types.ReminderEvent{
				Type:         types.EventReminderDisabled,
				ReminderID:   rem.ID,
				UserID:       rem.UserID,
				MedicationID: rem.MedicationID,
				Actor:        DeletedBySystemReconciler,
				OccurredAt:   now,
			}
			if err := s.events.PublishReminderEvent(ctx, ev); err != nil {
				// The disable already committed; the event is best effort.
				s.logger.Error("failed to publish reminder.disabled event",
					"reminder_id", rem.ID, "error", err)
			}
		}
	}

	return disabled, nil
}
