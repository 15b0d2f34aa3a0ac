package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS suggestions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	scheduled_at INTEGER NOT NULL,
	duration_min INTEGER NOT NULL,
	series_id TEXT NOT NULL DEFAULT '',
	occurrence_index INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'scheduled',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suggestions_series ON suggestions(series_id);

CREATE TABLE IF NOT EXISTS recovery_blocks (
	id TEXT PRIMARY KEY,
	suggestion_id TEXT NOT NULL,
	start_at INTEGER NOT NULL,
	end_at INTEGER NOT NULL,
	calendar_ref TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocks_suggestion ON recovery_blocks(suggestion_id);

CREATE TABLE IF NOT EXISTS recurring_series (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	frequency TEXT NOT NULL,
	weekdays TEXT NOT NULL DEFAULT '',
	start_date INTEGER NOT NULL,
	duration_min INTEGER NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 0,
	until_date INTEGER NOT NULL DEFAULT 0,
	timezone TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_session ON journal_entries(session_id);
`

// SQLite is the default on-device store.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateSuggestion(sg *Suggestion) error {
	_, err := s.db.Exec(
		`INSERT INTO suggestions (id, session_id, title, category, scheduled_at, duration_min, series_id, occurrence_index, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.SessionID, sg.Title, sg.Category, sg.ScheduledAt.Unix(), sg.DurationMin,
		sg.SeriesID, sg.OccurrenceIndex, sg.Status, sg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating suggestion: %w", err)
	}
	return nil
}

func (s *SQLite) GetSuggestion(id string) (*Suggestion, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, title, category, scheduled_at, duration_min, series_id, occurrence_index, status, created_at
		 FROM suggestions WHERE id = ?`, id)
	return scanSuggestion(row)
}

func (s *SQLite) UpdateSuggestion(sg *Suggestion) error {
	res, err := s.db.Exec(
		`UPDATE suggestions SET title = ?, category = ?, scheduled_at = ?, duration_min = ?, status = ? WHERE id = ?`,
		sg.Title, sg.Category, sg.ScheduledAt.Unix(), sg.DurationMin, sg.Status, sg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating suggestion: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteSuggestion(id string) error {
	_, err := s.db.Exec(`DELETE FROM suggestions WHERE id = ?`, id)
	return err
}

func (s *SQLite) SuggestionsInSeries(seriesID string) ([]*Suggestion, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, title, category, scheduled_at, duration_min, series_id, occurrence_index, status, created_at
		 FROM suggestions WHERE series_id = ? ORDER BY occurrence_index`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(row rowScanner) (*Suggestion, error) {
	var sg Suggestion
	var scheduledAt, createdAt int64
	err := row.Scan(&sg.ID, &sg.SessionID, &sg.Title, &sg.Category, &scheduledAt,
		&sg.DurationMin, &sg.SeriesID, &sg.OccurrenceIndex, &sg.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sg.ScheduledAt = time.Unix(scheduledAt, 0)
	sg.CreatedAt = time.Unix(createdAt, 0)
	return &sg, nil
}

func (s *SQLite) CreateRecoveryBlock(b *RecoveryBlock) error {
	_, err := s.db.Exec(
		`INSERT INTO recovery_blocks (id, suggestion_id, start_at, end_at, calendar_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SuggestionID, b.StartAt.Unix(), b.EndAt.Unix(), b.CalendarRef, b.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating recovery block: %w", err)
	}
	return nil
}

func (s *SQLite) RecoveryBlocksBySuggestion(suggestionID string) ([]*RecoveryBlock, error) {
	rows, err := s.db.Query(
		`SELECT id, suggestion_id, start_at, end_at, calendar_ref, created_at
		 FROM recovery_blocks WHERE suggestion_id = ?`, suggestionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RecoveryBlock
	for rows.Next() {
		var b RecoveryBlock
		var startAt, endAt, createdAt int64
		if err := rows.Scan(&b.ID, &b.SuggestionID, &startAt, &endAt, &b.CalendarRef, &createdAt); err != nil {
			return nil, err
		}
		b.StartAt = time.Unix(startAt, 0)
		b.EndAt = time.Unix(endAt, 0)
		b.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateSeries(sr *RecurringSeries) error {
	days := make([]string, len(sr.Weekdays))
	for i, d := range sr.Weekdays {
		days[i] = fmt.Sprintf("%d", int(d))
	}
	var until int64
	if !sr.Until.IsZero() {
		until = sr.Until.Unix()
	}
	_, err := s.db.Exec(
		`INSERT INTO recurring_series (id, title, category, frequency, weekdays, start_date, duration_min, occurrence_count, until_date, timezone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.Title, sr.Category, sr.Frequency, strings.Join(days, ","),
		sr.StartDate.Unix(), sr.Duration, sr.Count, until, sr.Timezone, sr.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating series: %w", err)
	}
	return nil
}

func (s *SQLite) GetSeries(id string) (*RecurringSeries, error) {
	var sr RecurringSeries
	var days string
	var startDate, until, createdAt int64
	err := s.db.QueryRow(
		`SELECT id, title, category, frequency, weekdays, start_date, duration_min, occurrence_count, until_date, timezone, created_at
		 FROM recurring_series WHERE id = ?`, id).
		Scan(&sr.ID, &sr.Title, &sr.Category, &sr.Frequency, &days, &startDate,
			&sr.Duration, &sr.Count, &until, &sr.Timezone, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sr.StartDate = time.Unix(startDate, 0)
	if until != 0 {
		sr.Until = time.Unix(until, 0)
	}
	sr.CreatedAt = time.Unix(createdAt, 0)
	if days != "" {
		for _, d := range strings.Split(days, ",") {
			var wd int
			fmt.Sscanf(d, "%d", &wd)
			sr.Weekdays = append(sr.Weekdays, time.Weekday(wd))
		}
	}
	return &sr, nil
}

func (s *SQLite) DeleteSeries(id string) error {
	_, err := s.db.Exec(`DELETE FROM recurring_series WHERE id = ?`, id)
	return err
}

func (s *SQLite) CreateJournalEntry(e *JournalEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO journal_entries (id, session_id, prompt, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Prompt, e.Content, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating journal entry: %w", err)
	}
	return nil
}

func (s *SQLite) JournalEntriesBySession(sessionID string) ([]*JournalEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, prompt, content, created_at FROM journal_entries WHERE session_id = ? ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JournalEntry
	for rows.Next() {
		var e JournalEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Prompt, &e.Content, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &e)
	}
	return out, rows.Err()
}
