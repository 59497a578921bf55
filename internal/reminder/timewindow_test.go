package reminder

import (
	"testing"
	"time"
)

func TestParseClockTime_Valid(t *testing.T) {
	cases := []struct {
		in      string
		hour    int
		minute  int
	}{
		{"00:00", 0, 0},
		{"08:05", 8, 5},
		{"23:59", 23, 59},
	}
	for _, tc := range cases {
		got, err := parseClockTime(tc.in)
		if err != nil {
			t.Fatalf("parseClockTime(%q): unexpected error: %v", tc.in, err)
		}
		if got.hour != tc.hour || got.minute != tc.minute {
			t.Errorf("parseClockTime(%q) = %d:%d, want %d:%d", tc.in, got.hour, got.minute, tc.hour, tc.minute)
		}
	}
}

func TestParseClockTime_Invalid(t *testing.T) {
	for _, in := range []string{"", "8", "24:00", "12:60", "-1:30", "noon"} {
		if _, err := parseClockTime(in); err == nil {
			t.Errorf("parseClockTime(%q): expected error", in)
		}
	}
}

func localAt(hour, minute int) time.Time {
	return time.Date(2026, 8, 31, hour, minute, 30, 0, time.UTC)
}

func TestWithinWindow_InsideRadius(t *testing.T) {
	target := clockTime{hour: 9, minute: 0}

	for _, tc := range []struct {
		now  time.Time
		want bool
	}{
		{localAt(9, 0), true},
		{localAt(8, 53), true},
		{localAt(9, 7), true},
		{localAt(8, 52), false},
		{localAt(9, 8), false},
	} {
		if got := withinWindow(tc.now, target, 7); got != tc.want {
			t.Errorf("withinWindow(%s, 09:00) = %v, want %v", tc.now.Format("15:04"), got, tc.want)
		}
	}
}

func TestWithinWindow_MidnightWraparound(t *testing.T) {
	// 23:58 is 4 minutes from a 00:02 dose, not 1436.
	target := clockTime{hour: 0, minute: 2}
	if !withinWindow(localAt(23, 58), target, 7) {
		t.Error("23:58 should be within 7 minutes of 00:02 across midnight")
	}

	target = clockTime{hour: 23, minute: 58}
	if !withinWindow(localAt(0, 3), target, 7) {
		t.Error("00:03 should be within 7 minutes of 23:58 across midnight")
	}
	if withinWindow(localAt(0, 6), target, 7) {
		t.Error("00:06 is 8 minutes past 23:58 and should be outside the window")
	}
}
