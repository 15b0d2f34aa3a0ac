package dispatch

import (
	"testing"
	"time"
)

func TestDetectScheduleIntent(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC) // a Friday

	tests := []struct {
		text     string
		want     *ScheduleActivityArgs
		detected bool
	}{
		{
			text:     "schedule a walk tomorrow at 3pm for 20 minutes",
			want:     &ScheduleActivityArgs{Title: "walk", Date: "2026-03-21", Time: "15:00", DurationMin: 20},
			detected: true,
		},
		{
			text:     "please book my yoga class on monday at 7:15am",
			want:     &ScheduleActivityArgs{Title: "yoga class", Date: "2026-03-23", Time: "07:15", DurationMin: 30},
			detected: true,
		},
		{
			text:     "plan a deep work block today at 14:00 for an hour",
			want:     &ScheduleActivityArgs{Title: "deep work block", Date: "2026-03-20", Time: "14:00", DurationMin: 60},
			detected: true,
		},
		{text: "I had a long day", detected: false},
		{text: "schedule something sometime", detected: false}, // no time of day
		{text: "we should at 3pm move on", detected: false},    // no verb
	}
	for _, tt := range tests {
		got, ok := DetectScheduleIntent(tt.text, now)
		if ok != tt.detected {
			t.Errorf("%q: detected = %v, want %v", tt.text, ok, tt.detected)
			continue
		}
		if !ok {
			continue
		}
		if got.Title != tt.want.Title || got.Date != tt.want.Date ||
			got.Time != tt.want.Time || got.DurationMin != tt.want.DurationMin {
			t.Errorf("%q: got %+v, want %+v", tt.text, got, tt.want)
		}
	}
}

func TestFallbackSchedulesWhenAssistantDoesNot(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	d, mem := newTestDispatcher(t, now)

	intent, ok := DetectScheduleIntent("schedule a walk tomorrow at 3pm for 20 minutes", now)
	if !ok {
		t.Fatal("intent not detected")
	}
	d.fireFallback(intent, now)

	if n := oneOffCount(t, mem); n != 1 {
		t.Fatalf("persisted %d suggestions, want 1", n)
	}
	ws := d.Widgets()
	if len(ws) != 1 || ws[0].Status != StatusScheduled {
		t.Errorf("widgets = %+v", ws)
	}
}

func TestFallbackStandsDownAfterAssistantSchedules(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	d, mem := newTestDispatcher(t, now)

	// Assistant's own tool call lands after the user message.
	d.Dispatch(call("schedule_activity",
		`{"title":"walk","date":"2026-03-21","time":"15:00","duration_min":20,"timezone":"UTC"}`))

	intent, _ := DetectScheduleIntent("schedule a walk tomorrow at 3pm for 20 minutes", now)
	d.fireFallback(intent, now.Add(-time.Second))

	if n := oneOffCount(t, mem); n != 1 {
		t.Errorf("fallback double-scheduled: %d suggestions", n)
	}
}

func TestFallbackTimerFires(t *testing.T) {
	fired := make(chan *ScheduleActivityArgs, 1)
	ft := newFallbackTimer(5*time.Millisecond, func(i *ScheduleActivityArgs, _ time.Time) {
		fired <- i
	})
	ft.arm(&ScheduleActivityArgs{Title: "stale"}, time.Now())
	ft.arm(&ScheduleActivityArgs{Title: "walk"}, time.Now()) // replaces the pending one

	select {
	case got := <-fired:
		if got.Title != "walk" {
			t.Errorf("fired with %q, want the newer intent", got.Title)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	ft.stop()
}
