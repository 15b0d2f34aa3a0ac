package dispatch

import (
	"time"

	"github.com/seanesla/kanari-sub001/store"
)

// MaxOccurrences bounds recurrence expansion so a malformed or adversarial
// rule cannot flood the store.
const MaxOccurrences = 52

// Scope selects which occurrences of a series an edit or cancel touches.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		wd, ok := weekdayNames[n]
		if !ok {
			return nil, &ValidationError{Field: "weekdays", Message: "unknown weekday " + n}
		}
		out = append(out, wd)
	}
	return out, nil
}

// buildSeries validates recurrence arguments into a series record. The
// returned series carries StartDate at the occurrence wall-clock time in the
// rule's zone.
func buildSeries(a *ScheduleRecurringArgs) (*store.RecurringSeries, error) {
	start, err := ResolveInstant(a.StartDate, a.Time, a.Timezone)
	if err != nil {
		return nil, err
	}
	weekdays, err := parseWeekdays(a.Weekdays)
	if err != nil {
		return nil, err
	}
	s := &store.RecurringSeries{
		Title:     a.Title,
		Category:  a.Category,
		Frequency: a.Frequency,
		Weekdays:  weekdays,
		StartDate: start,
		Duration:  a.DurationMin,
		Count:     a.Count,
		Timezone:  a.Timezone,
		CreatedAt: time.Now(),
	}
	if a.Until != "" {
		until, err := time.ParseInLocation("2006-01-02", a.Until, start.Location())
		if err != nil {
			return nil, &ValidationError{Field: "until", Message: "not a real calendar date: " + a.Until}
		}
		// Inclusive of the until day itself.
		s.Until = until.AddDate(0, 0, 1)
		if !s.Until.After(start) {
			return nil, &ValidationError{Field: "until", Message: "before start date"}
		}
	}
	return s, nil
}

// expandSeries materializes the rule into concrete occurrence instants,
// capped at MaxOccurrences.
func expandSeries(s *store.RecurringSeries) []time.Time {
	include := func(day time.Time) bool {
		if s.Frequency == "daily" || len(s.Weekdays) == 0 {
			if s.Frequency == "weekly" && len(s.Weekdays) == 0 {
				return day.Weekday() == s.StartDate.Weekday()
			}
			return true
		}
		for _, wd := range s.Weekdays {
			if day.Weekday() == wd {
				return true
			}
		}
		return false
	}

	limit := s.Count
	if limit <= 0 || limit > MaxOccurrences {
		limit = MaxOccurrences
	}
	var out []time.Time
	for day := s.StartDate; len(out) < limit; day = day.AddDate(0, 0, 1) {
		if !s.Until.IsZero() && !day.Before(s.Until) {
			break
		}
		if include(day) {
			out = append(out, day)
		}
	}
	return out
}

// resolveAnchor picks the occurrence an edit or cancel is anchored on:
// the one on the explicit anchor date, or the nearest upcoming one.
func resolveAnchor(occs []*store.Suggestion, anchor string, now time.Time) (*store.Suggestion, error) {
	if anchor != "" {
		for _, o := range occs {
			if o.ScheduledAt.Format("2006-01-02") == anchor {
				return o, nil
			}
		}
		return nil, &ValidationError{Field: "anchor", Message: "no occurrence on " + anchor}
	}
	var best *store.Suggestion
	for _, o := range occs {
		if o.ScheduledAt.Before(now) {
			continue
		}
		if best == nil || o.ScheduledAt.Before(best.ScheduledAt) {
			best = o
		}
	}
	if best == nil {
		return nil, &ValidationError{Field: "anchor", Message: "series has no upcoming occurrences"}
	}
	return best, nil
}

// inScope reports whether occurrence o is touched by an operation anchored
// at anchor with the given scope.
func inScope(o, anchor *store.Suggestion, scope Scope) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopeSingle:
		return o.ID == anchor.ID
	case ScopeFuture:
		return !o.ScheduledAt.Before(anchor.ScheduledAt)
	}
	return false
}
