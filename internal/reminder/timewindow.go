package reminder

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// clockTime represents a wall-clock time with hour and minute components.
type clockTime struct {
	hour   int
	minute int
}

// toMinutes converts a clockTime to minutes since midnight for comparison.
func (t clockTime) toMinutes() int {
	return t.hour*60 + t.minute
}

// parseClockTime parses a "HH:MM" string into a clockTime.
func parseClockTime(s string) (clockTime, error) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return clockTime{}, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return clockTime{}, fmt.Errorf("time out of range: %q", s)
	}
	return clockTime{hour: h, minute: m}, nil
}

// withinWindow reports whether the local wall-clock time is within radius
// minutes of the target. The distance is computed on the 24-hour circle, so
// 23:58 is four minutes from 00:02 rather than most of a day.
func withinWindow(local time.Time, target clockTime, radius int) bool {
	nowMin := local.Hour()*60 + local.Minute()
	diff := nowMin - target.toMinutes()
	if diff < 0 {
		diff = -diff
	}
	if wrapped := minutesPerDay - diff; wrapped < diff {
		diff = wrapped
	}
	return diff <= radius
}
