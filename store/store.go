// Package store persists the scheduling and journaling records produced by
// check-in sessions. The engine behind the interface is interchangeable;
// the session core only depends on Store.
package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Suggestion is one scheduled wellness activity. A recurring activity has
// one Suggestion per occurrence, each referencing its generating series.
type Suggestion struct {
	ID              string
	SessionID       string
	Title           string
	Category        string
	ScheduledAt     time.Time
	DurationMin     int
	SeriesID        string // empty for one-off activities
	OccurrenceIndex int
	Status          string // scheduled | cancelled | done
	CreatedAt       time.Time
}

// RecoveryBlock is the calendar materialization of a Suggestion.
type RecoveryBlock struct {
	ID           string
	SuggestionID string
	StartAt      time.Time
	EndAt        time.Time
	CalendarRef  string
	CreatedAt    time.Time
}

// RecurringSeries is the generating rule for a recurring activity.
type RecurringSeries struct {
	ID        string
	Title     string
	Category  string
	Frequency string // daily | weekly
	Weekdays  []time.Weekday
	StartDate time.Time // first candidate day, at the occurrence time
	Duration  int       // minutes
	Count     int       // 0 when Until set
	Until     time.Time // zero when Count set
	Timezone  string
	CreatedAt time.Time
}

// JournalEntry is a saved reflection from a journal prompt widget.
type JournalEntry struct {
	ID        string
	SessionID string
	Prompt    string
	Content   string
	CreatedAt time.Time
}

type Store interface {
	CreateSuggestion(s *Suggestion) error
	GetSuggestion(id string) (*Suggestion, error)
	UpdateSuggestion(s *Suggestion) error
	DeleteSuggestion(id string) error
	SuggestionsInSeries(seriesID string) ([]*Suggestion, error)

	CreateRecoveryBlock(b *RecoveryBlock) error
	RecoveryBlocksBySuggestion(suggestionID string) ([]*RecoveryBlock, error)

	CreateSeries(s *RecurringSeries) error
	GetSeries(id string) (*RecurringSeries, error)
	DeleteSeries(id string) error

	CreateJournalEntry(e *JournalEntry) error
	JournalEntriesBySession(sessionID string) ([]*JournalEntry, error)

	Close() error
}

// Scheduler materializes a Suggestion on the user's calendar.
type Scheduler interface {
	ScheduleEvent(s *Suggestion, timeZone string) (*RecoveryBlock, error)
}
