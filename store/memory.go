package store

import (
	"sort"
	"sync"
)

// Memory is an in-process store for tests and ephemeral sessions.
type Memory struct {
	mu          sync.Mutex
	suggestions map[string]*Suggestion
	blocks      map[string]*RecoveryBlock
	series      map[string]*RecurringSeries
	journal     map[string]*JournalEntry

	// FailCreateSuggestion makes the next n suggestion inserts fail, for
	// exercising persistence-failure paths.
	FailCreateSuggestion int
}

func NewMemory() *Memory {
	return &Memory{
		suggestions: make(map[string]*Suggestion),
		blocks:      make(map[string]*RecoveryBlock),
		series:      make(map[string]*RecurringSeries),
		journal:     make(map[string]*JournalEntry),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateSuggestion(s *Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateSuggestion > 0 {
		m.FailCreateSuggestion--
		return errFailInjected
	}
	cp := *s
	m.suggestions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSuggestion(id string) (*Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateSuggestion(s *Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suggestions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.suggestions[s.ID] = &cp
	return nil
}

func (m *Memory) DeleteSuggestion(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suggestions, id)
	return nil
}

func (m *Memory) SuggestionsInSeries(seriesID string) ([]*Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Suggestion
	for _, s := range m.suggestions {
		if s.SeriesID == seriesID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurrenceIndex < out[j].OccurrenceIndex })
	return out, nil
}

func (m *Memory) CreateRecoveryBlock(b *RecoveryBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.blocks[b.ID] = &cp
	return nil
}

func (m *Memory) RecoveryBlocksBySuggestion(suggestionID string) ([]*RecoveryBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RecoveryBlock
	for _, b := range m.blocks {
		if b.SuggestionID == suggestionID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) CreateSeries(s *RecurringSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.series[s.ID] = &cp
	return nil
}

func (m *Memory) GetSeries(id string) (*RecurringSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) DeleteSeries(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, id)
	return nil
}

func (m *Memory) CreateJournalEntry(e *JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.journal[e.ID] = &cp
	return nil
}

func (m *Memory) JournalEntriesBySession(sessionID string) ([]*JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*JournalEntry
	for _, e := range m.journal {
		if e.SessionID == sessionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type injectedError string

func (e injectedError) Error() string { return string(e) }

var errFailInjected = injectedError("injected store failure")
