package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medremind/internal/types"
)

// mockClock implements types.Clock for deterministic testing.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// --- Store mocks ---

type mockReminderStore struct {
	mu sync.Mutex

	reminders []*types.Reminder
	listErr   error

	acquireResult bool
	acquireErr    error
	acquireCalls  []string

	markedSent  []string
	clearedOnly []string
}

func (m *mockReminderStore) ListEnabled(ctx context.Context) ([]*types.Reminder, error) {
	return m.reminders, m.listErr
}

func (m *mockReminderStore) AcquireSendLock(ctx context.Context, reminderID, workerID string, now, notSentSince time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireCalls = append(m.acquireCalls, reminderID)
	return m.acquireResult, m.acquireErr
}

func (m *mockReminderStore) ClearLockAndMarkSent(ctx context.Context, reminderID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markedSent = append(m.markedSent, reminderID)
	return nil
}

func (m *mockReminderStore) ClearLock(ctx context.Context, reminderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearedOnly = append(m.clearedOnly, reminderID)
	return nil
}

type mockDoseLogStore struct {
	mu      sync.Mutex
	logs    []*types.DoseLog
	err     error
	gotDays []string
}

func (m *mockDoseLogStore) ListForUserDay(ctx context.Context, userID, day string, from, to time.Time) ([]*types.DoseLog, error) {
	m.mu.Lock()
	m.gotDays = append(m.gotDays, day)
	m.mu.Unlock()
	return m.logs, m.err
}

type mockProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*types.UserTimezoneProfile
	errFor   map[string]error
}

func (m *mockProfileStore) GetTimezone(ctx context.Context, userID string) (*types.UserTimezoneProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errFor[userID]; ok {
		return nil, err
	}
	if p, ok := m.profiles[userID]; ok {
		return p, nil
	}
	return &types.UserTimezoneProfile{UserID: userID}, nil
}

type mockTokenStore struct {
	mu      sync.Mutex
	tokens  []types.PushToken
	err     error
	removed []string
}

func (m *mockTokenStore) ListPushTokens(ctx context.Context, userID string) ([]types.PushToken, error) {
	return m.tokens, m.err
}

func (m *mockTokenStore) RemoveToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, token)
	return nil
}

type mockSender struct {
	mu       sync.Mutex
	results  []types.PushResult
	err      error
	payloads [][]types.PushPayload
}

func (m *mockSender) Send(ctx context.Context, payloads []types.PushPayload) ([]types.PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payloads)
	if m.err != nil {
		return nil, m.err
	}
	if m.results != nil {
		return m.results, nil
	}
	results := make([]types.PushResult, len(payloads))
	for i := range results {
		results[i] = types.PushResult{Status: types.PushStatusOK}
	}
	return results, nil
}

// testNow is inside the window of a 09:00 dose.
var testNow = time.Date(2026, 8, 31, 9, 2, 0, 0, time.UTC)

func newTestProcessor(rs *mockReminderStore, dl *mockDoseLogStore, ps *mockProfileStore, ts *mockTokenStore, snd *mockSender) *Processor {
	opts := DefaultOptions()
	opts.UserConcurrency = 2
	return NewProcessor(rs, dl, ps, ts, snd, &mockClock{now: testNow}, opts, nil)
}

func dueReminder(id, userID string) *types.Reminder {
	return &types.Reminder{
		ID:             id,
		UserID:         userID,
		MedicationID:   "med_" + id,
		MedicationName: "Lisinopril",
		Times:          []string{"09:00"},
		Enabled:        true,
	}
}

func TestProcessor_SendsDueReminder(t *testing.T) {
	rs := &mockReminderStore{
		reminders:     []*types.Reminder{dueReminder("rem_1", "user_a")},
		acquireResult: true,
	}
	ts := &mockTokenStore{tokens: []types.PushToken{{Token: "tok_1", Platform: "ios"}}}
	snd := &mockSender{}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, ts, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 || res.Sent != 1 || res.Errors != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(rs.markedSent) != 1 || rs.markedSent[0] != "rem_1" {
		t.Errorf("expected rem_1 marked sent, got %v", rs.markedSent)
	}
	if len(snd.payloads) != 1 || len(snd.payloads[0]) != 1 {
		t.Fatalf("expected one send with one payload, got %v", snd.payloads)
	}
	if snd.payloads[0][0].Reason != types.DueReasonSchedule {
		t.Errorf("expected schedule reason payload, got %s", snd.payloads[0][0].Reason)
	}
}

func TestProcessor_NothingDue(t *testing.T) {
	rem := dueReminder("rem_1", "user_a")
	rem.Times = []string{"15:00"}
	rs := &mockReminderStore{reminders: []*types.Reminder{rem}, acquireResult: true}
	snd := &mockSender{}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, &mockTokenStore{}, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 || res.Sent != 0 || res.Errors != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(rs.acquireCalls) != 0 {
		t.Errorf("no lock should be taken when nothing is due, got %v", rs.acquireCalls)
	}
}

func TestProcessor_LockContentionSkipsSilently(t *testing.T) {
	rs := &mockReminderStore{
		reminders:     []*types.Reminder{dueReminder("rem_1", "user_a")},
		acquireResult: false,
	}
	snd := &mockSender{}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, &mockTokenStore{}, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 0 || res.Errors != 0 {
		t.Errorf("contention is not an error: %+v", res)
	}
	if len(snd.payloads) != 0 {
		t.Error("nothing should be sent when the lock is contended")
	}
}

func TestProcessor_NoTokensReleasesLockWithoutSend(t *testing.T) {
	rs := &mockReminderStore{
		reminders:     []*types.Reminder{dueReminder("rem_1", "user_a")},
		acquireResult: true,
	}
	snd := &mockSender{}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, &mockTokenStore{}, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 0 || res.Errors != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(rs.clearedOnly) != 1 {
		t.Errorf("lock should be released without marking sent, got cleared=%v marked=%v", rs.clearedOnly, rs.markedSent)
	}
}

func TestProcessor_DeadTokenRemoved(t *testing.T) {
	rs := &mockReminderStore{
		reminders:     []*types.Reminder{dueReminder("rem_1", "user_a")},
		acquireResult: true,
	}
	ts := &mockTokenStore{tokens: []types.PushToken{
		{Token: "tok_dead", Platform: "ios"},
		{Token: "tok_live", Platform: "android"},
	}}
	snd := &mockSender{results: []types.PushResult{
		{Status: types.PushStatusError, ErrorDetail: types.PushErrorDeviceNotRegistered},
		{Status: types.PushStatusOK},
	}}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, ts, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("one live delivery still counts as sent: %+v", res)
	}
	if len(ts.removed) != 1 || ts.removed[0] != "tok_dead" {
		t.Errorf("dead token should be removed, got %v", ts.removed)
	}
	if len(rs.markedSent) != 1 {
		t.Errorf("partial success still marks sent, got %v", rs.markedSent)
	}
}

func TestProcessor_AllDeliveriesFailedReleasesLock(t *testing.T) {
	rs := &mockReminderStore{
		reminders:     []*types.Reminder{dueReminder("rem_1", "user_a")},
		acquireResult: true,
	}
	ts := &mockTokenStore{tokens: []types.PushToken{{Token: "tok_1"}}}
	snd := &mockSender{results: []types.PushResult{
		{Status: types.PushStatusError, ErrorDetail: "MessageRateExceeded"},
	}}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, ts, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 0 || res.Errors != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(rs.clearedOnly) != 1 || len(rs.markedSent) != 0 {
		t.Errorf("total failure must release the lock without last_sent_at, cleared=%v marked=%v", rs.clearedOnly, rs.markedSent)
	}
}

func TestProcessor_UserFailureIsolated(t *testing.T) {
	rs := &mockReminderStore{
		reminders: []*types.Reminder{
			dueReminder("rem_1", "user_bad"),
			dueReminder("rem_2", "user_good"),
		},
		acquireResult: true,
	}
	ps := &mockProfileStore{errFor: map[string]error{"user_bad": errors.New("profile lookup failed")}}
	ts := &mockTokenStore{tokens: []types.PushToken{{Token: "tok_1"}}}
	snd := &mockSender{}

	p := newTestProcessor(rs, &mockDoseLogStore{}, ps, ts, snd)
	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Errors != 1 {
		t.Errorf("expected one error for the failing user, got %+v", res)
	}
	if res.Sent != 1 {
		t.Errorf("the healthy user should still be served, got %+v", res)
	}
}

func TestProcessor_ListEnabledErrorAbortsCycle(t *testing.T) {
	rs := &mockReminderStore{listErr: errors.New("db down")}

	p := newTestProcessor(rs, &mockDoseLogStore{}, &mockProfileStore{}, &mockTokenStore{}, &mockSender{})
	if _, err := p.ProcessAndNotifyDueReminders(context.Background()); err == nil {
		t.Fatal("expected error when the reminder list cannot be loaded")
	}
}

func TestProcessor_DoseLogsFetchedForLocalDay(t *testing.T) {
	// 01:01 UTC on Sep 1 is still Aug 31 in New York; the dose log query
	// must ask for the zone's calendar day, not the UTC one.
	now := time.Date(2026, 9, 1, 1, 1, 0, 0, time.UTC)

	rem := dueReminder("rem_1", "user_a")
	rem.Times = []string{"21:00"}
	mode := types.TimingModeAnchor
	tz := "America/New_York"
	rem.TimingMode = &mode
	rem.AnchorTimezone = &tz

	rs := &mockReminderStore{reminders: []*types.Reminder{rem}, acquireResult: true}
	dl := &mockDoseLogStore{}
	ts := &mockTokenStore{tokens: []types.PushToken{{Token: "tok_1"}}}

	p := NewProcessor(rs, dl, &mockProfileStore{}, ts, &mockSender{}, &mockClock{now: now}, DefaultOptions(), nil)
	if _, err := p.ProcessAndNotifyDueReminders(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dl.gotDays) != 1 || dl.gotDays[0] != "2026-08-31" {
		t.Errorf("expected dose logs fetched for 2026-08-31, got %v", dl.gotDays)
	}
}

func TestProcessor_AnchoredReminderUsesAnchorZone(t *testing.T) {
	// 21:00 America/New_York == 01:00 UTC next day (summer). The user's
	// profile says Los Angeles, where it is 18:00; only the anchored
	// reminder is due.
	now := time.Date(2026, 9, 1, 1, 1, 0, 0, time.UTC)

	anchored := dueReminder("rem_anchor", "user_a")
	anchored.Times = []string{"21:00"}
	mode := types.TimingModeAnchor
	tz := "America/New_York"
	anchored.TimingMode = &mode
	anchored.AnchorTimezone = &tz

	local := dueReminder("rem_local", "user_a")
	local.Times = []string{"21:00"}

	rs := &mockReminderStore{reminders: []*types.Reminder{anchored, local}, acquireResult: true}
	laTZ := "America/Los_Angeles"
	ps := &mockProfileStore{profiles: map[string]*types.UserTimezoneProfile{
		"user_a": {UserID: "user_a", Timezone: &laTZ},
	}}
	ts := &mockTokenStore{tokens: []types.PushToken{{Token: "tok_1"}}}
	snd := &mockSender{}

	opts := DefaultOptions()
	p := NewProcessor(rs, &mockDoseLogStore{}, ps, ts, snd, &mockClock{now: now}, opts, nil)

	res, err := p.ProcessAndNotifyDueReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("expected exactly the anchored reminder to fire, got %+v", res)
	}
	if len(rs.markedSent) != 1 || rs.markedSent[0] != "rem_anchor" {
		t.Errorf("expected rem_anchor sent, got %v", rs.markedSent)
	}
}
