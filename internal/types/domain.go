package types

import "time"

// TimingMode controls which timezone a reminder's schedule is evaluated in.
type TimingMode string

const (
	// TimingModeLocal evaluates reminder times in the user's current
	// timezone, re-resolved on every cycle.
	TimingModeLocal TimingMode = "local"
	// TimingModeAnchor evaluates reminder times in the timezone captured
	// when the reminder was created, regardless of where the user is now.
	TimingModeAnchor TimingMode = "anchor"
)

// Criticality distinguishes reminders that must fire on time even while the
// user travels from ordinary ones.
type Criticality string

const (
	CriticalityStandard      Criticality = "standard"
	CriticalityTimeSensitive Criticality = "time_sensitive"
)

// DoseAction is the user's recorded response to a dose.
type DoseAction string

const (
	DoseActionTaken   DoseAction = "taken"
	DoseActionSkipped DoseAction = "skipped"
	DoseActionSnoozed DoseAction = "snoozed"
)

// DueReason says why a dose became a notification candidate.
type DueReason string

const (
	DueReasonSchedule DueReason = "schedule"
	DueReasonSnooze   DueReason = "snooze"
)

// Reminder is a medication reminder schedule. Times are clock times in
// "HH:MM" 24-hour form; the timezone they are interpreted in depends on
// TimingMode. Pointer fields are nullable columns.
type Reminder struct {
	ID              string
	UserID          string
	MedicationID    string
	MedicationName  string
	Times           []string
	Enabled         bool
	TimingMode      *TimingMode
	AnchorTimezone  *string
	Criticality     *Criticality
	LastSentAt      *time.Time
	SendLockedAt    *time.Time
	SendLockedBy    *string
	DeletedAt       *time.Time
	DeletedBy       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DoseLog records a user's response to a single scheduled dose.
// ScheduledDate, when present, fixes the calendar day the dose belongs to;
// a log without one is attributed to the day of LoggedAt. The distinction
// matters for doses logged just after midnight for the previous day.
type DoseLog struct {
	ID            string
	UserID        string
	MedicationID  string
	ReminderID    string
	ScheduledTime string
	ScheduledDate *time.Time
	Action        DoseAction
	SnoozeUntil   *time.Time
	LoggedAt      time.Time
}

// DoseKey identifies one scheduled dose occurrence within an evaluation day.
func DoseKey(medicationID, scheduledTime string) string {
	return medicationID + "_" + scheduledTime
}

// MedicationState is the minimal view of a medication needed to decide
// whether reminders pointing at it are orphaned.
type MedicationState struct {
	ID        string
	Exists    bool
	Active    bool
	DeletedAt *time.Time
}

// UserTimezoneProfile holds the user's current timezone as reported by
// their device, if any.
type UserTimezoneProfile struct {
	UserID   string
	Timezone *string
}

// PushToken is a device push registration for a user.
type PushToken struct {
	Token    string
	Platform string
}

// PushPayload is one notification to deliver to one device.
type PushPayload struct {
	Token          string
	Title          string
	Body           string
	ReminderID     string
	MedicationID   string
	ScheduledTime  string
	Reason         DueReason
	TimeSensitive  bool
}

// Push result statuses.
const (
	PushStatusOK    = "ok"
	PushStatusError = "error"

	// PushErrorDeviceNotRegistered means the token is permanently dead
	// and should be removed from the user's registrations.
	PushErrorDeviceNotRegistered = "DeviceNotRegistered"
)

// PushResult is the provider's per-payload outcome, index-aligned with the
// payload slice passed to the sender.
type PushResult struct {
	Status      string
	ErrorDetail string
	Token       string
}

// ReminderEvent is published to the lifecycle queue when a reminder is
// disabled or purged by a maintenance task.
type ReminderEvent struct {
	Type         string    `json:"type"`
	ReminderID   string    `json:"reminder_id"`
	UserID       string    `json:"user_id"`
	MedicationID string    `json:"medication_id"`
	Actor        string    `json:"actor,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Reminder lifecycle event types.
const (
	EventReminderDisabled = "reminder.disabled"
	EventReminderPurged   = "reminder.purged"
)
