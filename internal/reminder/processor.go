// Package reminder implements the due-dose evaluation cycle: deciding which
// medication reminders are due right now, taking the per-reminder send lock,
// and dispatching push notifications.
//
// The cycle runs every few minutes from a scheduled worker. All decisions
// are made against a single `now` captured at cycle start so every reminder
// in one cycle sees the same instant.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"medremind/internal/types"
)

// ReminderStore defines the reminder table operations the processor needs.
type ReminderStore interface {
	// ListEnabled returns every enabled, non-deleted reminder.
	ListEnabled(ctx context.Context) ([]*types.Reminder, error)

	// AcquireSendLock atomically takes the per-reminder send lock.
	// Returns false without error when another worker holds a live lock
	// or a send already happened at or after notSentSince.
	AcquireSendLock(ctx context.Context, reminderID, workerID string, now, notSentSince time.Time, ttl time.Duration) (bool, error)

	// ClearLockAndMarkSent releases the lock and records the send time.
	ClearLockAndMarkSent(ctx context.Context, reminderID string, sentAt time.Time) error

	// ClearLock releases the lock without recording a send.
	ClearLock(ctx context.Context, reminderID string) error
}

// DoseLogStore defines the dose log read the processor needs. day is the
// evaluation day's local calendar date ("2006-01-02"); [from, to) are the
// UTC instants bounding it.
type DoseLogStore interface {
	ListForUserDay(ctx context.Context, userID, day string, from, to time.Time) ([]*types.DoseLog, error)
}

// ProfileStore resolves a user's current timezone.
type ProfileStore interface {
	GetTimezone(ctx context.Context, userID string) (*types.UserTimezoneProfile, error)
}

// TokenStore manages a user's push token registrations.
type TokenStore interface {
	ListPushTokens(ctx context.Context, userID string) ([]types.PushToken, error)
	RemoveToken(ctx context.Context, userID, token string) error
}

// PushSender delivers a batch of notifications and reports a result per
// payload, index-aligned with the input.
type PushSender interface {
	Send(ctx context.Context, payloads []types.PushPayload) ([]types.PushResult, error)
}

// Options tunes one processor instance. The zero value is not usable; use
// DefaultOptions as a base.
type Options struct {
	// WindowMinutes is the radius around each scheduled time within which
	// a dose counts as due.
	WindowMinutes int
	// ResendSuppression is the minimum gap between sends per reminder.
	ResendSuppression time.Duration
	// LockTTL bounds how long a crashed worker's lock blocks a reminder.
	LockTTL time.Duration
	// FallbackTimezone is used when a user has no usable timezone.
	FallbackTimezone string
	// UserConcurrency bounds the parallel per-user fan-out.
	UserConcurrency int
	// WorkerID identifies this worker in send_locked_by for debugging.
	WorkerID string
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		WindowMinutes:     7,
		ResendSuppression: 30 * time.Minute,
		LockTTL:           10 * time.Minute,
		FallbackTimezone:  "UTC",
		UserConcurrency:   8,
		WorkerID:          "reminder-worker",
	}
}

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Errors    int `json:"errors"`
}

// Processor runs the due-dose evaluation cycle.
type Processor struct {
	reminders ReminderStore
	doseLogs  DoseLogStore
	profiles  ProfileStore
	tokens    TokenStore
	sender    PushSender
	clock     types.Clock
	opts      Options
	logger    *slog.Logger
}

// NewProcessor creates a Processor. A nil clock uses the real clock; a nil
// logger uses slog.Default().
func NewProcessor(reminders ReminderStore, doseLogs DoseLogStore, profiles ProfileStore, tokens TokenStore, sender PushSender, clock types.Clock, opts Options, logger *slog.Logger) *Processor {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		reminders: reminders,
		doseLogs:  doseLogs,
		profiles:  profiles,
		tokens:    tokens,
		sender:    sender,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}
}

// ProcessAndNotifyDueReminders runs one full evaluation cycle: list enabled
// reminders, group them by user, evaluate each user's reminders in their
// resolved timezone, and dispatch whatever came due.
//
// Users are isolated from each other: a failure while processing one user is
// counted and logged but never aborts the cycle. The returned error is
// non-nil only when the cycle could not start at all.
func (p *Processor) ProcessAndNotifyDueReminders(ctx context.Context) (CycleResult, error) {
	now := p.clock.Now()

	all, err := p.reminders.ListEnabled(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	byUser := make(map[string][]*types.Reminder)
	for _, rem := range all {
		byUser[rem.UserID] = append(byUser[rem.UserID], rem)
	}

	var mu sync.Mutex
	var total CycleResult

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.UserConcurrency)

	for userID, rems := range byUser {
		userID, rems := userID, rems
		g.Go(func() error {
			res := p.processUser(gCtx, userID, rems, now)
			mu.Lock()
			total.Processed += res.Processed
			total.Sent += res.Sent
			total.Errors += res.Errors
			mu.Unlock()
			// User failures are already counted; never fail the group.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, types.NewAppError(types.ErrCodeInternalUnexpected, "evaluation cycle aborted", err)
	}

	p.logger.Info("reminder cycle complete",
		"processed", total.Processed,
		"sent", total.Sent,
		"errors", total.Errors,
		"users", len(byUser),
	)
	return total, nil
}

// processUser evaluates and dispatches all of one user's reminders.
func (p *Processor) processUser(ctx context.Context, userID string, rems []*types.Reminder, now time.Time) CycleResult {
	var res CycleResult

	profile, err := p.profiles.GetTimezone(ctx, userID)
	if err != nil {
		p.logger.Error("failed to resolve user timezone", "user_id", userID, "error", err)
		res.Errors++
		return res
	}

	// Reminders for one user can evaluate in different zones (anchored vs
	// local), and each zone has its own calendar day. Cache the dose log
	// index per zone so the logs are fetched once per distinct day window.
	indexes := make(map[string]*doseLogIndex)
	indexFor := func(loc *time.Location) (*doseLogIndex, error) {
		if idx, ok := indexes[loc.String()]; ok {
			return idx, nil
		}
		from, to := dayBounds(now, loc)
		day := now.In(loc).Format("2006-01-02")
		logs, err := p.doseLogs.ListForUserDay(ctx, userID, day, from, to)
		if err != nil {
			return nil, err
		}
		idx := buildDoseLogIndex(logs)
		indexes[loc.String()] = idx
		return idx, nil
	}

	for _, rem := range rems {
		res.Processed++

		loc := resolveEvaluationZone(rem, profile.Timezone, p.opts.FallbackTimezone)
		idx, err := indexFor(loc)
		if err != nil {
			p.logger.Error("failed to load dose logs",
				"user_id", userID, "reminder_id", rem.ID, "error", err)
			res.Errors++
			continue
		}

		cand := evaluateReminder(rem, idx, now, now.In(loc), p.opts.WindowMinutes, p.opts.ResendSuppression)
		if cand == nil {
			continue
		}

		sent, err := p.dispatch(ctx, userID, cand, now)
		if err != nil {
			p.logger.Error("failed to dispatch reminder",
				"user_id", userID, "reminder_id", rem.ID, "error", err)
			res.Errors++
			continue
		}
		if sent {
			res.Sent++
		}
	}

	return res
}

// dispatch takes the send lock and delivers the candidate to every
// registered device. Returns true only when at least one device accepted
// the notification; lock contention returns (false, nil) and is silent.
func (p *Processor) dispatch(ctx context.Context, userID string, cand *DueCandidate, now time.Time) (bool, error) {
	rem := cand.Reminder

	acquired, err := p.reminders.AcquireSendLock(ctx, rem.ID, p.opts.WorkerID, now, cand.NotSentSince, p.opts.LockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		p.logger.Debug("send lock contended, skipping",
			"reminder_id", rem.ID, "user_id", userID)
		return false, nil
	}

	tokens, err := p.tokens.ListPushTokens(ctx, userID)
	if err != nil {
		if clearErr := p.reminders.ClearLock(ctx, rem.ID); clearErr != nil {
			p.logger.Error("failed to release send lock", "reminder_id", rem.ID, "error", clearErr)
		}
		return false, err
	}
	if len(tokens) == 0 {
		// Nothing to deliver to. Release without marking sent so the
		// reminder fires as soon as a device registers.
		p.logger.Warn("no push tokens registered", "user_id", userID, "reminder_id", rem.ID)
		if err := p.reminders.ClearLock(ctx, rem.ID); err != nil {
			return false, err
		}
		return false, nil
	}

	payloads := make([]types.PushPayload, 0, len(tokens))
	for _, tok := range tokens {
		payloads = append(payloads, types.PushPayload{
			Token:         tok.Token,
			Title:         "Medication Reminder",
			Body:          notificationBody(rem, cand),
			ReminderID:    rem.ID,
			MedicationID:  rem.MedicationID,
			ScheduledTime: cand.ScheduledTime,
			Reason:        cand.Reason,
			TimeSensitive: rem.Criticality != nil && *rem.Criticality == types.CriticalityTimeSensitive,
		})
	}

	results, err := p.sender.Send(ctx, payloads)
	if err != nil {
		if clearErr := p.reminders.ClearLock(ctx, rem.ID); clearErr != nil {
			p.logger.Error("failed to release send lock", "reminder_id", rem.ID, "error", clearErr)
		}
		return false, err
	}

	delivered := 0
	for i, r := range results {
		if r.Status == types.PushStatusOK {
			delivered++
			continue
		}
		p.logger.Warn("push delivery failed",
			"reminder_id", rem.ID,
			"error_detail", r.ErrorDetail,
		)
		if r.ErrorDetail == types.PushErrorDeviceNotRegistered {
			if err := p.tokens.RemoveToken(ctx, userID, payloads[i].Token); err != nil {
				p.logger.Error("failed to remove dead push token", "user_id", userID, "error", err)
			}
		}
	}

	if delivered == 0 {
		// Every device rejected the send; retry next cycle.
		if err := p.reminders.ClearLock(ctx, rem.ID); err != nil {
			return false, err
		}
		return false, fmt.Errorf("all %d push deliveries failed for reminder %s", len(results), rem.ID)
	}

	if err := p.reminders.ClearLockAndMarkSent(ctx, rem.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

func notificationBody(rem *types.Reminder, cand *DueCandidate) string {
	if cand.Reason == types.DueReasonSnooze {
		return fmt.Sprintf("Snoozed reminder: time to take %s", rem.MedicationName)
	}
	return fmt.Sprintf("Time to take %s (%s)", rem.MedicationName, cand.ScheduledTime)
}
