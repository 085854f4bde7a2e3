// Package clock converts between the wall-clock "HH:MM" strings carried on the
// wire and the minute-of-day integers used for interval arithmetic. All times
// are timezone-naive; comparisons only ever happen between values for the same
// provider on the same calendar date.
package clock

import (
	"fmt"
	"time"
)

const (
	// MinutesPerDay bounds every valid minute-of-day value: [0, MinutesPerDay).
	MinutesPerDay = 24 * 60

	dateLayout = "2006-01-02"
)

// ParseHHMM parses a zero-padded 24-hour "HH:MM" string into a minute-of-day.
// "9:00" is rejected; the stored format is always two-digit ("09:00").
func ParseHHMM(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := twoDigits(s[0], s[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	m, err := twoDigits(s[3], s[4])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

// FormatHHMM renders a minute-of-day as a zero-padded "HH:MM" string.
func FormatHHMM(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ValidMinute reports whether minute is a representable minute-of-day.
func ValidMinute(minute int) bool {
	return minute >= 0 && minute < MinutesPerDay
}

// ParseDate parses a "YYYY-MM-DD" calendar date. The returned time is midnight
// UTC; only the date component is meaningful.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// FormatDate renders the date component of t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Weekday returns the calendar weekday of t as an integer, 0 = Sunday.
func Weekday(t time.Time) int {
	return int(t.Weekday())
}

func twoDigits(a, b byte) (int, error) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, fmt.Errorf("not a two-digit number")
	}
	return int(a-'0')*10 + int(b-'0'), nil
}
