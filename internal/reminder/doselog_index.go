package reminder

import "medremind/internal/types"

// doseLogIndex indexes one evaluation day's dose logs by dose key
// (medicationID + scheduled time) for constant-time suppression checks.
//
// Taken and skipped logs are terminal: any such log for a dose suppresses
// it for the rest of the day. Snoozed logs keep only the most recent entry
// per dose; when two logs carry the same logged_at, the later one in input
// order wins.
type doseLogIndex struct {
	logged  map[string]struct{}
	snoozed map[string]*types.DoseLog
}

func buildDoseLogIndex(logs []*types.DoseLog) *doseLogIndex {
	idx := &doseLogIndex{
		logged:  make(map[string]struct{}),
		snoozed: make(map[string]*types.DoseLog),
	}
	for _, l := range logs {
		key := types.DoseKey(l.MedicationID, l.ScheduledTime)
		switch l.Action {
		case types.DoseActionTaken, types.DoseActionSkipped:
			idx.logged[key] = struct{}{}
		case types.DoseActionSnoozed:
			prev, ok := idx.snoozed[key]
			if !ok || !l.LoggedAt.Before(prev.LoggedAt) {
				idx.snoozed[key] = l
			}
		}
	}
	return idx
}

// isLogged reports whether the dose was taken or skipped today.
func (i *doseLogIndex) isLogged(key string) bool {
	_, ok := i.logged[key]
	return ok
}

// snoozeFor returns the effective snooze log for the dose, if any.
func (i *doseLogIndex) snoozeFor(key string) (*types.DoseLog, bool) {
	l, ok := i.snoozed[key]
	return l, ok
}
