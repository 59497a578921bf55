package reminder

import (
	"time"

	"medremind/internal/types"
)

// DueCandidate is a single dose that should be dispatched this cycle.
// A reminder yields at most one candidate per cycle regardless of how many
// of its times are due.
type DueCandidate struct {
	Reminder      *types.Reminder
	ScheduledTime string
	Reason        types.DueReason

	// NotSentSince is the suppression bound re-checked atomically during
	// lock acquisition: the send proceeds only if last_sent_at is still
	// older than this instant.
	NotSentSince time.Time
}

// evaluateReminder decides whether one reminder has a due dose right now.
//
// Doses already taken or skipped today never fire, even when an earlier
// snooze for the same dose has expired. An expired, unanswered snooze wins
// over a schedule match: the user explicitly asked to be re-notified, so
// the snoozed dose fires even if a different scheduled time happens to be
// in its window. A snooze that has not expired suppresses its dose
// entirely; a snooze already answered with a send is spent, and the dose
// can still come due again on its own schedule. A schedule match
// additionally requires that nothing was sent for this reminder within the
// resend suppression interval.
//
// Unparsable schedule entries are skipped rather than failing the reminder;
// the remaining times still evaluate.
func evaluateReminder(rem *types.Reminder, idx *doseLogIndex, now, local time.Time, windowRadius int, resendSuppression time.Duration) *DueCandidate {
	var scheduleCandidate *DueCandidate

	for _, scheduledTime := range rem.Times {
		key := types.DoseKey(rem.MedicationID, scheduledTime)

		if idx.isLogged(key) {
			// Taken or skipped is terminal for the day, snoozes included.
			continue
		}

		if snooze, ok := idx.snoozeFor(key); ok {
			if snooze.SnoozeUntil == nil || snooze.SnoozeUntil.After(now) {
				// Snooze still pending; this dose stays quiet.
				continue
			}
			if rem.LastSentAt == nil || rem.LastSentAt.Before(snooze.LoggedAt) {
				return &DueCandidate{
					Reminder:      rem,
					ScheduledTime: scheduledTime,
					Reason:        types.DueReasonSnooze,
					NotSentSince:  snooze.LoggedAt,
				}
			}
			// The expired snooze was already answered with a send; the
			// slot may still come due on its own schedule below.
		}

		if scheduleCandidate != nil {
			continue
		}

		target, err := parseClockTime(scheduledTime)
		if err != nil {
			continue
		}
		if !withinWindow(local, target, windowRadius) {
			continue
		}
		if rem.LastSentAt != nil && now.Sub(*rem.LastSentAt) < resendSuppression {
			continue
		}

		// Keep scanning: a later time may carry an expired snooze, which
		// takes priority.
		scheduleCandidate = &DueCandidate{
			Reminder:      rem,
			ScheduledTime: scheduledTime,
			Reason:        types.DueReasonSchedule,
			NotSentSince:  now.Add(-resendSuppression),
		}
	}

	return scheduleCandidate
}
