package reminder

import (
	"time"

	"medremind/internal/types"
)

// resolveEvaluationZone picks the timezone a reminder's clock times are
// interpreted in for this cycle.
//
// Anchor-mode reminders use their captured anchor timezone so doses stay
// pinned to home-time while the user travels. Everything else follows the
// user's current profile timezone, re-resolved every cycle so a device
// timezone change takes effect immediately. An unset or unloadable zone
// falls through to the configured fallback, and a bad fallback to UTC.
func resolveEvaluationZone(rem *types.Reminder, profileTZ *string, fallback string) *time.Location {
	if rem.TimingMode != nil && *rem.TimingMode == types.TimingModeAnchor &&
		rem.AnchorTimezone != nil && *rem.AnchorTimezone != "" {
		if loc, err := time.LoadLocation(*rem.AnchorTimezone); err == nil {
			return loc
		}
	}

	if profileTZ != nil && *profileTZ != "" {
		if loc, err := time.LoadLocation(*profileTZ); err == nil {
			return loc
		}
	}

	if loc, err := time.LoadLocation(fallback); err == nil {
		return loc
	}
	return time.UTC
}

// dayBounds returns the UTC instants bounding the calendar day that now
// falls on in loc. time.Date normalizes DST gaps, so a 23- or 25-hour day
// comes out with the correct width.
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}
