package dispatch

import (
	"strings"
	"time"
)

// ResolveInstant combines a calendar date, wall-clock time and IANA timezone
// into an absolute instant. Impossible calendar values (Feb 31, 25:00) are
// rejected rather than normalized forward.
func ResolveInstant(date, clock, tz string) (time.Time, error) {
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timezone", Message: "unknown timezone " + tz}
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: "not a real calendar date: " + date}
	}
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "time", Message: "not a valid time of day: " + clock}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc), nil
}

// dedupeKey identifies one scheduling attempt within a session. A retried or
// duplicated tool call for the same activity at the same instant maps to the
// same key.
func dedupeKey(instant time.Time, title string) string {
	return instant.UTC().Format(time.RFC3339) + "|" + normalizeTitle(title)
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// withClock replaces the wall-clock portion of t, keeping its day and zone.
func withClock(t time.Time, clock string) (time.Time, error) {
	c, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "new_time", Message: "not a valid time of day: " + clock}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), c.Hour(), c.Minute(), 0, 0, t.Location()), nil
}
