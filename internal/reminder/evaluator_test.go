package reminder

import (
	"testing"
	"time"

	"medremind/internal/types"
)

func timePtr(t time.Time) *time.Time { return &t }

func testReminder(times ...string) *types.Reminder {
	return &types.Reminder{
		ID:             "rem_1",
		UserID:         "user_a",
		MedicationID:   "med_1",
		MedicationName: "Metformin",
		Times:          times,
		Enabled:        true,
	}
}

func emptyIndex() *doseLogIndex {
	return buildDoseLogIndex(nil)
}

func TestEvaluateReminder_ScheduleMatch(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 3, 0, 0, time.UTC)
	rem := testReminder("09:00", "21:00")

	cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("expected a schedule candidate")
	}
	if cand.Reason != types.DueReasonSchedule {
		t.Errorf("expected schedule reason, got %s", cand.Reason)
	}
	if cand.ScheduledTime != "09:00" {
		t.Errorf("expected 09:00, got %s", cand.ScheduledTime)
	}
	if !cand.NotSentSince.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("unexpected suppression bound: %s", cand.NotSentSince)
	}
}

func TestEvaluateReminder_OutsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 8, 0, 0, time.UTC)
	rem := testReminder("09:00")

	if cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("9:08 is outside a 7-minute window of 09:00, got candidate %+v", cand)
	}
}

func TestEvaluateReminder_RecentSendSuppresses(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 3, 0, 0, time.UTC)
	rem := testReminder("09:00")
	rem.LastSentAt = timePtr(now.Add(-10 * time.Minute))

	if cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("send 10 minutes ago should suppress, got candidate %+v", cand)
	}

	rem.LastSentAt = timePtr(now.Add(-31 * time.Minute))
	if cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute); cand == nil {
		t.Error("send 31 minutes ago should not suppress")
	}
}

func TestEvaluateReminder_LoggedDoseSuppresses(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	rem := testReminder("09:00")
	idx := buildDoseLogIndex([]*types.DoseLog{
		{MedicationID: "med_1", ScheduledTime: "09:00", Action: types.DoseActionTaken, LoggedAt: now.Add(-time.Hour)},
	})

	if cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("taken dose should suppress, got candidate %+v", cand)
	}
}

func TestEvaluateReminder_ExpiredSnoozeFires(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	rem := testReminder("09:00")
	loggedAt := now.Add(-45 * time.Minute)
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(now.Add(-time.Minute)),
			LoggedAt:      loggedAt,
		},
	})

	// 10:00 is nowhere near the 09:00 window, but the expired snooze fires.
	cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("expected a snooze candidate")
	}
	if cand.Reason != types.DueReasonSnooze {
		t.Errorf("expected snooze reason, got %s", cand.Reason)
	}
	if !cand.NotSentSince.Equal(loggedAt) {
		t.Errorf("snooze suppression bound should be the log time, got %s", cand.NotSentSince)
	}
}

func TestEvaluateReminder_PendingSnoozeSuppresses(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 3, 0, 0, time.UTC)
	rem := testReminder("09:00")
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(now.Add(15 * time.Minute)),
			LoggedAt:      now.Add(-5 * time.Minute),
		},
	})

	// Inside the schedule window, but the user snoozed minutes ago.
	if cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("pending snooze should suppress the dose, got %+v", cand)
	}
}

func TestEvaluateReminder_SnoozeAlreadyAnswered(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	rem := testReminder("09:00")
	loggedAt := now.Add(-45 * time.Minute)
	rem.LastSentAt = timePtr(now.Add(-10 * time.Minute)) // sent after the snooze was logged
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(now.Add(-20 * time.Minute)),
			LoggedAt:      loggedAt,
		},
	})

	if cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("snooze already answered by a later send, got %+v", cand)
	}
}

func TestEvaluateReminder_TakenAfterSnoozeStaysQuiet(t *testing.T) {
	// Snoozed at 09:00 until 09:30, then taken at 09:20. The expired
	// snooze must not resurrect a dose the user already took.
	now := time.Date(2026, 8, 31, 9, 35, 0, 0, time.UTC)
	rem := testReminder("09:00")
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)),
			LoggedAt:      time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		},
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionTaken,
			LoggedAt:      time.Date(2026, 8, 31, 9, 20, 0, 0, time.UTC),
		},
	})

	if cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("dose taken at 09:20 should stay quiet after the snooze expires, got %+v", cand)
	}
}

func TestEvaluateReminder_AnsweredSnoozeStillFiresOnSchedule(t *testing.T) {
	// An early-morning snooze was answered long ago; at 09:00 the same
	// slot comes due on its own schedule again.
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	rem := testReminder("09:00")
	rem.LastSentAt = timePtr(time.Date(2026, 8, 31, 8, 15, 0, 0, time.UTC))
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "09:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(time.Date(2026, 8, 31, 8, 10, 0, 0, time.UTC)),
			LoggedAt:      time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC),
		},
	})

	cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("answered snooze should not block the slot's own schedule firing")
	}
	if cand.Reason != types.DueReasonSchedule {
		t.Errorf("expected schedule reason, got %s", cand.Reason)
	}
	if cand.ScheduledTime != "09:00" {
		t.Errorf("expected 09:00, got %s", cand.ScheduledTime)
	}
}

func TestEvaluateReminder_SnoozeWinsOverSchedule(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 3, 0, 0, time.UTC)
	rem := testReminder("09:00", "21:00")
	idx := buildDoseLogIndex([]*types.DoseLog{
		{
			MedicationID:  "med_1",
			ScheduledTime: "21:00",
			Action:        types.DoseActionSnoozed,
			SnoozeUntil:   timePtr(now.Add(-time.Minute)),
			LoggedAt:      now.Add(-time.Hour),
		},
	})

	// 09:00 matches the window, but the expired 21:00 snooze takes priority.
	cand := evaluateReminder(rem, idx, now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("expected a candidate")
	}
	if cand.Reason != types.DueReasonSnooze || cand.ScheduledTime != "21:00" {
		t.Errorf("expected snooze candidate for 21:00, got %s for %s", cand.Reason, cand.ScheduledTime)
	}
}

func TestEvaluateReminder_AtMostOneCandidate(t *testing.T) {
	// Two times one minute apart both fall inside the window; only the
	// first becomes the candidate.
	now := time.Date(2026, 8, 31, 9, 1, 0, 0, time.UTC)
	rem := testReminder("09:00", "09:02")

	cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("expected a candidate")
	}
	if cand.ScheduledTime != "09:00" {
		t.Errorf("expected the first matching time, got %s", cand.ScheduledTime)
	}
}

func TestEvaluateReminder_InvalidTimeSkipped(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	rem := testReminder("banana", "09:00")

	cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("valid time should still evaluate after an invalid entry")
	}
	if cand.ScheduledTime != "09:00" {
		t.Errorf("expected 09:00, got %s", cand.ScheduledTime)
	}
}

func TestEvaluateReminder_EvaluatesInLocalZone(t *testing.T) {
	la, _ := time.LoadLocation("America/Los_Angeles")
	// 21:00 Los Angeles == 04:00 UTC next day.
	now := time.Date(2026, 9, 1, 4, 2, 0, 0, time.UTC)
	rem := testReminder("21:00")

	cand := evaluateReminder(rem, emptyIndex(), now, now.In(la), 7, 30*time.Minute)
	if cand == nil {
		t.Fatal("expected 21:00 LA dose due at 04:02 UTC")
	}

	if cand := evaluateReminder(rem, emptyIndex(), now, now, 7, 30*time.Minute); cand != nil {
		t.Errorf("same instant evaluated in UTC should not match 21:00, got %+v", cand)
	}
}
