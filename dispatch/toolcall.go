// Package dispatch turns conversation tool calls into widgets and persisted
// scheduling records. Tool arguments arrive as loose JSON; everything is
// validated into a typed payload at this boundary so the handlers never see
// an untyped map.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seanesla/kanari-sub001/convo"
)

// Kind names one tool the assistant can invoke.
type Kind string

const (
	KindScheduleActivity  Kind = "schedule_activity"
	KindScheduleRecurring Kind = "schedule_recurring"
	KindEditRecurring     Kind = "edit_recurring"
	KindCancelRecurring   Kind = "cancel_recurring"
	KindBreathingExercise Kind = "breathing_exercise"
	KindJournalPrompt     Kind = "journal_prompt"
	KindStressGauge       Kind = "stress_gauge"
	KindQuickActions      Kind = "quick_actions"
)

// ValidationError reports a rejected tool argument. It is surfaced on the
// widget, never thrown through the session.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type ScheduleActivityArgs struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Date        string `json:"date"` // 2006-01-02
	Time        string `json:"time"` // 15:04
	DurationMin int    `json:"duration_min"`
	Timezone    string `json:"timezone"`
}

type ScheduleRecurringArgs struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Frequency   string   `json:"frequency"` // daily | weekly
	Weekdays    []string `json:"weekdays"`  // monday..sunday, weekly only
	StartDate   string   `json:"start_date"`
	Time        string   `json:"time"`
	DurationMin int      `json:"duration_min"`
	Count       int      `json:"count"`
	Until       string   `json:"until"` // exclusive with count
	Timezone    string   `json:"timezone"`
}

type EditRecurringArgs struct {
	SeriesID       string `json:"series_id"`
	Anchor         string `json:"anchor"` // 2006-01-02, empty for nearest upcoming
	Scope          string `json:"scope"`  // single | future | all
	NewTime        string `json:"new_time"`
	NewDurationMin int    `json:"new_duration_min"`
}

type CancelRecurringArgs struct {
	SeriesID string `json:"series_id"`
	Anchor   string `json:"anchor"`
	Scope    string `json:"scope"`
}

type BreathingExerciseArgs struct {
	Pattern     string `json:"pattern"` // box | 478 | coherent
	DurationMin int    `json:"duration_min"`
}

type JournalPromptArgs struct {
	Prompt string `json:"prompt"`
}

type StressGaugeArgs struct {
	Level int    `json:"level"` // 1..10
	Label string `json:"label"`
}

type QuickActionsArgs struct {
	Actions []string `json:"actions"`
}

// ToolCall is the validated, typed form of a conversation tool call.
// Exactly one payload field matching Kind is non-nil.
type ToolCall struct {
	ID   string
	Kind Kind

	ScheduleActivity  *ScheduleActivityArgs
	ScheduleRecurring *ScheduleRecurringArgs
	EditRecurring     *EditRecurringArgs
	CancelRecurring   *CancelRecurringArgs
	BreathingExercise *BreathingExerciseArgs
	JournalPrompt     *JournalPromptArgs
	StressGauge       *StressGaugeArgs
	QuickActions      *QuickActionsArgs
}

// ParseToolCall validates a raw tool call into its typed form.
func ParseToolCall(tc convo.ToolCall) (*ToolCall, error) {
	out := &ToolCall{ID: tc.ID, Kind: Kind(tc.Name)}
	args := tc.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch out.Kind {
	case KindScheduleActivity:
		var a ScheduleActivityArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if strings.TrimSpace(a.Title) == "" {
			return nil, &ValidationError{Field: "title", Message: "required"}
		}
		if a.DurationMin <= 0 {
			return nil, &ValidationError{Field: "duration_min", Message: "must be positive"}
		}
		out.ScheduleActivity = &a
	case KindScheduleRecurring:
		var a ScheduleRecurringArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if strings.TrimSpace(a.Title) == "" {
			return nil, &ValidationError{Field: "title", Message: "required"}
		}
		if a.Frequency != "daily" && a.Frequency != "weekly" {
			return nil, &ValidationError{Field: "frequency", Message: "must be daily or weekly"}
		}
		if a.DurationMin <= 0 {
			return nil, &ValidationError{Field: "duration_min", Message: "must be positive"}
		}
		if a.Count <= 0 && a.Until == "" {
			return nil, &ValidationError{Field: "count", Message: "count or until required"}
		}
		if a.Count > 0 && a.Until != "" {
			return nil, &ValidationError{Field: "until", Message: "exclusive with count"}
		}
		out.ScheduleRecurring = &a
	case KindEditRecurring:
		var a EditRecurringArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if a.SeriesID == "" {
			return nil, &ValidationError{Field: "series_id", Message: "required"}
		}
		if err := validScope(a.Scope); err != nil {
			return nil, err
		}
		if a.NewTime == "" && a.NewDurationMin == 0 {
			return nil, &ValidationError{Field: "new_time", Message: "nothing to change"}
		}
		out.EditRecurring = &a
	case KindCancelRecurring:
		var a CancelRecurringArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if a.SeriesID == "" {
			return nil, &ValidationError{Field: "series_id", Message: "required"}
		}
		if err := validScope(a.Scope); err != nil {
			return nil, err
		}
		out.CancelRecurring = &a
	case KindBreathingExercise:
		var a BreathingExerciseArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if a.Pattern == "" {
			a.Pattern = "box"
		}
		out.BreathingExercise = &a
	case KindJournalPrompt:
		var a JournalPromptArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if strings.TrimSpace(a.Prompt) == "" {
			return nil, &ValidationError{Field: "prompt", Message: "required"}
		}
		out.JournalPrompt = &a
	case KindStressGauge:
		var a StressGaugeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if a.Level < 1 || a.Level > 10 {
			return nil, &ValidationError{Field: "level", Message: "must be 1..10"}
		}
		out.StressGauge = &a
	case KindQuickActions:
		var a QuickActionsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &ValidationError{Field: "args", Message: err.Error()}
		}
		if len(a.Actions) == 0 {
			return nil, &ValidationError{Field: "actions", Message: "required"}
		}
		out.QuickActions = &a
	default:
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("unknown tool %q", tc.Name)}
	}
	return out, nil
}

func validScope(s string) error {
	switch Scope(s) {
	case ScopeSingle, ScopeFuture, ScopeAll:
		return nil
	}
	return &ValidationError{Field: "scope", Message: "must be single, future or all"}
}
