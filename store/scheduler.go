package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BlockScheduler materializes suggestions as recovery blocks in the store.
// The calendar ref is a stable local identifier; an external calendar
// integration would replace it with the provider's event id.
type BlockScheduler struct {
	Store Store
}

func NewBlockScheduler(st Store) *BlockScheduler {
	return &BlockScheduler{Store: st}
}

func (bs *BlockScheduler) ScheduleEvent(s *Suggestion, timeZone string) (*RecoveryBlock, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", s.Title, err)
	}
	start := s.ScheduledAt.In(loc)
	b := &RecoveryBlock{
		ID:           uuid.NewString(),
		SuggestionID: s.ID,
		StartAt:      start,
		EndAt:        start.Add(time.Duration(s.DurationMin) * time.Minute),
		CalendarRef:  "local:" + s.ID,
		CreatedAt:    time.Now(),
	}
	if err := bs.Store.CreateRecoveryBlock(b); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", s.Title, err)
	}
	return b, nil
}
