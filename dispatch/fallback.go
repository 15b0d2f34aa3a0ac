package dispatch

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seanesla/kanari-sub001/log"
)

// The assistant is expected to call the scheduling tool itself when the user
// asks for an activity. If that call never arrives within the grace window,
// the fallback timer schedules from the user's own words so the request is
// not silently lost.

var (
	intentRe   = regexp.MustCompile(`(?i)\b(?:schedule|book|plan)\s+(?:a|an|the|my)?\s*(.+)`)
	dayRe      = regexp.MustCompile(`(?i)\b(today|tomorrow|on\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	clockRe    = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	durationRe = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s*(?:minutes?|mins?)\b`)
	hourRe     = regexp.MustCompile(`(?i)\bfor\s+an?\s+hour\b`)
)

// DetectScheduleIntent extracts a concrete scheduling request from a user
// message like "schedule a walk tomorrow at 3pm for 20 minutes". It only
// fires when both an activity and a time of day are present.
func DetectScheduleIntent(text string, now time.Time) (*ScheduleActivityArgs, bool) {
	m := intentRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	rest := m[1]

	cm := clockRe.FindStringSubmatch(text)
	if cm == nil {
		return nil, false
	}
	hour, _ := strconv.Atoi(cm[1])
	minute := 0
	if cm[2] != "" {
		minute, _ = strconv.Atoi(cm[2])
	}
	switch strings.ToLower(cm[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return nil, false
	}

	day := now
	if dm := dayRe.FindStringSubmatch(text); dm != nil {
		switch {
		case strings.EqualFold(dm[1], "tomorrow"):
			day = now.AddDate(0, 0, 1)
		case dm[2] != "":
			want, ok := weekdayNames[strings.ToLower(dm[2])]
			if ok {
				day = now.AddDate(0, 0, 1)
				for day.Weekday() != want {
					day = day.AddDate(0, 0, 1)
				}
			}
		}
	}

	duration := 30
	if um := durationRe.FindStringSubmatch(text); um != nil {
		duration, _ = strconv.Atoi(um[1])
	} else if hourRe.MatchString(text) {
		duration = 60
	}

	// The activity is whatever sits between the verb and the first cue word.
	title := rest
	for _, re := range []*regexp.Regexp{dayRe, clockRe, durationRe, hourRe} {
		if loc := re.FindStringIndex(title); loc != nil {
			title = title[:loc[0]]
		}
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), ".,!?"))
	if title == "" {
		return nil, false
	}

	return &ScheduleActivityArgs{
		Title:       title,
		Category:    "activity",
		Date:        day.Format("2006-01-02"),
		Time:        twoDigit(hour) + ":" + twoDigit(minute),
		DurationMin: duration,
	}, true
}

func twoDigit(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

type fallbackTimer struct {
	mu    sync.Mutex
	grace time.Duration
	fire  func(intent *ScheduleActivityArgs, messageAt time.Time)
	timer *time.Timer
}

func newFallbackTimer(grace time.Duration, fire func(*ScheduleActivityArgs, time.Time)) *fallbackTimer {
	return &fallbackTimer{grace: grace, fire: fire}
}

// arm starts (or restarts) the grace window for one detected intent. A newer
// intent replaces an older pending one.
func (f *fallbackTimer) arm(intent *ScheduleActivityArgs, messageAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.grace, func() { f.fire(intent, messageAt) })
}

func (f *fallbackTimer) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// NoteUserMessage feeds a finalized user utterance to the fallback detector.
func (d *Dispatcher) NoteUserMessage(text string) {
	if d.fallback == nil {
		return
	}
	intent, ok := DetectScheduleIntent(text, d.now())
	if !ok {
		return
	}
	log.Infof("scheduling intent detected, arming fallback: %q", intent.Title)
	d.fallback.arm(intent, d.now())
}

// fireFallback runs when the grace window lapses. It stands down if the
// assistant scheduled anything after the triggering message.
func (d *Dispatcher) fireFallback(intent *ScheduleActivityArgs, messageAt time.Time) {
	d.mu.Lock()
	for _, at := range d.assistantScheduled {
		if !at.Before(messageAt) {
			d.mu.Unlock()
			return
		}
	}
	log.Infof("assistant did not schedule %q, falling back", intent.Title)
	d.scheduleActivity(intent, false)
	d.mu.Unlock()
	d.notify()
}
