package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/log"
	"github.com/seanesla/kanari-sub001/store"
)

// Config wires a Dispatcher to its session.
type Config struct {
	Store     store.Store
	Scheduler store.Scheduler
	SessionID string
	Timezone  string // default zone for tool calls that omit one

	// OnChange receives a snapshot of the widget list after every change.
	// It must not call back into the dispatcher.
	OnChange func([]Widget)

	// FallbackGrace is how long the fallback intent timer waits for the
	// assistant's own tool call before scheduling itself. Zero disables
	// the fallback.
	FallbackGrace time.Duration

	Now func() time.Time // test hook
}

// Dispatcher owns the session's widget list and executes tool calls against
// the store. A failing tool call produces a failed widget, never an error
// that propagates into the session.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	widgets widgetList

	// dedupe maps instant|title keys to the suggestion they produced, so a
	// retried tool call returns the original record instead of a second one.
	dedupe map[string]string

	// assistantScheduled records when the assistant's own tool calls
	// persisted something, for debouncing the fallback timer.
	assistantScheduled []time.Time

	fallback *fallbackTimer
}

func New(cfg Config) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	d := &Dispatcher{
		cfg:    cfg,
		now:    cfg.Now,
		dedupe: make(map[string]string),
	}
	if cfg.FallbackGrace > 0 {
		d.fallback = newFallbackTimer(cfg.FallbackGrace, d.fireFallback)
	}
	return d
}

// Widgets returns a snapshot of the current widget list.
func (d *Dispatcher) Widgets() []Widget {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.widgets.snapshot()
}

// Dismiss removes a widget. Unknown ids are ignored.
func (d *Dispatcher) Dismiss(id string) {
	d.mu.Lock()
	changed := d.widgets.dismiss(id)
	d.mu.Unlock()
	if changed {
		d.notify()
	}
}

// Close stops the fallback timer.
func (d *Dispatcher) Close() {
	if d.fallback != nil {
		d.fallback.stop()
	}
}

// Dispatch executes one tool call from the conversation. The returned widget
// reflects the outcome; inspect Status and Error.
func (d *Dispatcher) Dispatch(tc convo.ToolCall) *Widget {
	parsed, err := ParseToolCall(tc)
	if err != nil {
		log.Warnf("tool call %s rejected: %v", tc.Name, err)
		d.mu.Lock()
		w := d.widgets.add(Kind(tc.Name), tc.Name)
		w.Status = StatusFailed
		w.Error = err.Error()
		d.mu.Unlock()
		d.notify()
		return w
	}

	d.mu.Lock()
	var w *Widget
	switch parsed.Kind {
	case KindScheduleActivity:
		w = d.scheduleActivity(parsed.ScheduleActivity, true)
	case KindScheduleRecurring:
		w = d.scheduleRecurring(parsed.ScheduleRecurring)
	case KindEditRecurring:
		w = d.editRecurring(parsed.EditRecurring)
	case KindCancelRecurring:
		w = d.cancelRecurring(parsed.CancelRecurring)
	case KindBreathingExercise:
		w = d.widgets.add(KindBreathingExercise, "Breathing exercise")
		w.Breathing = parsed.BreathingExercise
	case KindJournalPrompt:
		w = d.widgets.add(KindJournalPrompt, "Journal prompt")
		w.Journal = parsed.JournalPrompt
	case KindStressGauge:
		w = d.widgets.add(KindStressGauge, "Stress check")
		w.Gauge = parsed.StressGauge
	case KindQuickActions:
		w = d.widgets.add(KindQuickActions, "Quick actions")
		w.Actions = parsed.QuickActions.Actions
	}
	d.mu.Unlock()
	d.notify()
	return w
}

// SubmitJournal persists the user's response to a journal prompt widget and
// removes the widget.
func (d *Dispatcher) SubmitJournal(widgetID, content string) error {
	d.mu.Lock()
	w := d.widgets.byID(widgetID)
	if w == nil || w.Journal == nil {
		d.mu.Unlock()
		return fmt.Errorf("no journal widget %s", widgetID)
	}
	prompt := w.Journal.Prompt
	d.mu.Unlock()

	entry := &store.JournalEntry{
		ID:        uuid.NewString(),
		SessionID: d.cfg.SessionID,
		Prompt:    prompt,
		Content:   content,
		CreatedAt: d.now(),
	}
	if err := d.cfg.Store.CreateJournalEntry(entry); err != nil {
		return fmt.Errorf("save journal entry: %w", err)
	}
	d.Dismiss(widgetID)
	return nil
}

func (d *Dispatcher) notify() {
	if d.cfg.OnChange == nil {
		return
	}
	d.mu.Lock()
	snap := d.widgets.snapshot()
	d.mu.Unlock()
	d.cfg.OnChange(snap)
}

// scheduleActivity handles one single-occurrence schedule. Caller holds the
// lock. fromAssistant distinguishes the assistant's own tool calls from the
// fallback timer when recording the debounce timestamp.
func (d *Dispatcher) scheduleActivity(a *ScheduleActivityArgs, fromAssistant bool) *Widget {
	w := d.widgets.add(KindScheduleActivity, a.Title)

	tz := a.Timezone
	if tz == "" {
		tz = d.cfg.Timezone
	}
	instant, err := ResolveInstant(a.Date, a.Time, tz)
	if err != nil {
		w.Status = StatusFailed
		w.Error = err.Error()
		return w
	}

	key := dedupeKey(instant, a.Title)
	if existing, ok := d.dedupe[key]; ok {
		w.Status = StatusScheduled
		w.SuggestionID = existing
		return w
	}
	d.dedupe[key] = "" // reserve

	s := &store.Suggestion{
		ID:          uuid.NewString(),
		SessionID:   d.cfg.SessionID,
		Title:       a.Title,
		Category:    a.Category,
		ScheduledAt: instant,
		DurationMin: a.DurationMin,
		Status:      "scheduled",
		CreatedAt:   d.now(),
	}
	if err := d.cfg.Store.CreateSuggestion(s); err != nil {
		delete(d.dedupe, key) // release so a legitimate retry can succeed
		log.Errorf("persist suggestion %q: %v", a.Title, err)
		w.Status = StatusFailed
		w.Error = "could not save the activity, please try again"
		return w
	}
	d.dedupe[key] = s.ID

	if d.cfg.Scheduler != nil {
		if _, err := d.cfg.Scheduler.ScheduleEvent(s, tz); err != nil {
			log.Warnf("calendar event for %q: %v", a.Title, err)
		}
	}
	if fromAssistant {
		d.assistantScheduled = append(d.assistantScheduled, d.now())
	}
	w.Status = StatusScheduled
	w.SuggestionID = s.ID
	return w
}

// scheduleRecurring expands and persists a recurring series. Caller holds
// the lock.
func (d *Dispatcher) scheduleRecurring(a *ScheduleRecurringArgs) *Widget {
	w := d.widgets.add(KindScheduleRecurring, a.Title)

	series, err := buildSeries(a)
	if err != nil {
		w.Status = StatusFailed
		w.Error = err.Error()
		return w
	}
	occs := expandSeries(series)
	if len(occs) == 0 {
		w.Status = StatusFailed
		w.Error = "the recurrence rule produces no occurrences"
		return w
	}

	series.ID = uuid.NewString()
	w.SeriesID = series.ID
	if err := d.cfg.Store.CreateSeries(series); err != nil {
		log.Errorf("persist series %q: %v", a.Title, err)
		w.Status = StatusFailed
		w.Error = "could not save the recurring activity, please try again"
		return w
	}

	persisted := 0
	for i, at := range occs {
		key := dedupeKey(at, a.Title)
		if _, ok := d.dedupe[key]; ok {
			continue
		}
		s := &store.Suggestion{
			ID:              uuid.NewString(),
			SessionID:       d.cfg.SessionID,
			Title:           a.Title,
			Category:        a.Category,
			ScheduledAt:     at,
			DurationMin:     a.DurationMin,
			SeriesID:        series.ID,
			OccurrenceIndex: i,
			Status:          "scheduled",
			CreatedAt:       d.now(),
		}
		if err := d.cfg.Store.CreateSuggestion(s); err != nil {
			log.Warnf("persist occurrence %d of %q: %v", i, a.Title, err)
			continue
		}
		d.dedupe[key] = s.ID
		persisted++
	}
	if persisted == 0 {
		// Nothing landed, do not leave an empty series behind.
		if err := d.cfg.Store.DeleteSeries(series.ID); err != nil {
			log.Errorf("roll back series %s: %v", series.ID, err)
		}
		w.Status = StatusFailed
		w.Error = "could not save any occurrence, please try again"
		return w
	}

	d.assistantScheduled = append(d.assistantScheduled, d.now())
	w.Status = StatusScheduled
	w.Occurrences = persisted
	return w
}

// editRecurring applies a time or duration change across a scope of series
// occurrences. Caller holds the lock.
func (d *Dispatcher) editRecurring(a *EditRecurringArgs) *Widget {
	series, err := d.cfg.Store.GetSeries(a.SeriesID)
	if err != nil {
		w := d.widgets.add(KindEditRecurring, "Edit series")
		w.Status = StatusFailed
		w.Error = "unknown series"
		return w
	}
	w := d.widgets.add(KindEditRecurring, series.Title)

	occs, err := d.cfg.Store.SuggestionsInSeries(a.SeriesID)
	if err != nil {
		w.Status = StatusFailed
		w.Error = "could not load the series occurrences"
		return w
	}
	anchor, aerr := resolveAnchor(occs, a.Anchor, d.now())
	if aerr != nil {
		w.Status = StatusFailed
		w.Error = aerr.Error()
		return w
	}

	mutated := 0
	for _, o := range occs {
		if o.Status != "scheduled" || !inScope(o, anchor, Scope(a.Scope)) {
			continue
		}
		if a.NewTime != "" {
			at, err := withClock(o.ScheduledAt, a.NewTime)
			if err != nil {
				w.Status = StatusFailed
				w.Error = err.Error()
				return w
			}
			o.ScheduledAt = at
		}
		if a.NewDurationMin > 0 {
			o.DurationMin = a.NewDurationMin
		}
		if err := d.cfg.Store.UpdateSuggestion(o); err != nil {
			log.Warnf("update occurrence %s: %v", o.ID, err)
			continue
		}
		mutated++
	}
	w.Status = StatusScheduled
	w.SeriesID = a.SeriesID
	w.Mutated = mutated
	return w
}

// cancelRecurring cancels a scope of series occurrences. Cancelling the
// whole series also removes the series record. Caller holds the lock.
func (d *Dispatcher) cancelRecurring(a *CancelRecurringArgs) *Widget {
	series, err := d.cfg.Store.GetSeries(a.SeriesID)
	if err != nil {
		w := d.widgets.add(KindCancelRecurring, "Cancel series")
		w.Status = StatusFailed
		w.Error = "unknown series"
		return w
	}
	w := d.widgets.add(KindCancelRecurring, series.Title)

	occs, err := d.cfg.Store.SuggestionsInSeries(a.SeriesID)
	if err != nil {
		w.Status = StatusFailed
		w.Error = "could not load the series occurrences"
		return w
	}
	anchor, aerr := resolveAnchor(occs, a.Anchor, d.now())
	if aerr != nil {
		w.Status = StatusFailed
		w.Error = aerr.Error()
		return w
	}

	mutated := 0
	for _, o := range occs {
		if o.Status != "scheduled" || !inScope(o, anchor, Scope(a.Scope)) {
			continue
		}
		o.Status = "cancelled"
		if err := d.cfg.Store.UpdateSuggestion(o); err != nil {
			log.Warnf("cancel occurrence %s: %v", o.ID, err)
			continue
		}
		mutated++
	}
	if Scope(a.Scope) == ScopeAll {
		if err := d.cfg.Store.DeleteSeries(a.SeriesID); err != nil {
			log.Warnf("delete series %s: %v", a.SeriesID, err)
		}
	}
	w.Status = StatusScheduled
	w.SeriesID = a.SeriesID
	w.Mutated = mutated
	return w
}
