package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of one widget card.
type Status string

const (
	StatusActive    Status = "active"    // interactive widgets (breathing, journal, gauge)
	StatusScheduled Status = "scheduled" // scheduling widgets that persisted
	StatusFailed    Status = "failed"
)

// Widget is one card surfaced to the user in response to a tool call. A
// failed widget carries its error message; it never takes the session down.
type Widget struct {
	ID        string
	Kind      Kind
	Title     string
	Status    Status
	Error     string
	CreatedAt time.Time

	// Scheduling results, populated for the schedule kinds.
	SuggestionID string
	SeriesID     string
	Occurrences  int
	Mutated      int

	// Interactive payloads, populated per kind.
	Breathing *BreathingExerciseArgs
	Journal   *JournalPromptArgs
	Gauge     *StressGaugeArgs
	Actions   []string
}

// widgetList holds the session's widgets in creation order. Callers hold the
// dispatcher's lock.
type widgetList struct {
	items []*Widget
}

func (wl *widgetList) add(kind Kind, title string) *Widget {
	w := &Widget{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
	wl.items = append(wl.items, w)
	return w
}

func (wl *widgetList) byID(id string) *Widget {
	for _, w := range wl.items {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (wl *widgetList) dismiss(id string) bool {
	for i, w := range wl.items {
		if w.ID == id {
			wl.items = append(wl.items[:i], wl.items[i+1:]...)
			return true
		}
	}
	return false
}

func (wl *widgetList) snapshot() []Widget {
	out := make([]Widget, len(wl.items))
	for i, w := range wl.items {
		out[i] = *w
	}
	return out
}
