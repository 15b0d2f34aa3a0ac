package session

import (
	"errors"
	"testing"
)

func preservedEnv(t *testing.T) (*env, *Preserved) {
	t.Helper()
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitModelTranscript("How was your week?", true)
	e.client.EmitTurnComplete()
	e.client.EmitUserSpeechStart()
	e.client.EmitUserTranscript("pretty rough honestly", true)

	p, err := e.o.Preserve()
	if err != nil {
		t.Fatalf("preserve: %v", err)
	}
	return e, p
}

func TestPreserveReleasesAudioKeepsChannel(t *testing.T) {
	e, p := preservedEnv(t)

	if e.client.Disconnects != 0 {
		t.Errorf("channel disconnected by preserve")
	}
	for i, pb := range e.fctx.Playbacks() {
		if !pb.Closed() {
			t.Errorf("playback %d still open after preserve", i)
		}
	}
	if got := e.o.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if len(e.o.Messages()) != 0 {
		t.Errorf("messages survived on the detached orchestrator")
	}
	if p.Fingerprint == "" || len(p.messages) != 2 {
		t.Errorf("handoff = fingerprint %q, %d messages", p.Fingerprint, len(p.messages))
	}
}

func TestPreserveRequiresActiveSession(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.o.Preserve(); err == nil {
		t.Errorf("preserve accepted with no session")
	}
}

func TestResumeReplaysAndListens(t *testing.T) {
	e, p := preservedEnv(t)

	if err := e.o.Resume(p); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := e.o.State(); got != StateListening {
		t.Errorf("state = %s, want listening", got)
	}
	msgs := e.o.Messages()
	if len(msgs) != 2 {
		t.Fatalf("replayed %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.IsStreaming {
			t.Errorf("replayed message still streaming")
		}
	}
	// Conversation already underway: the user is not re-blocked.
	if err := e.o.SendText("anyway, as I was saying"); err != nil {
		t.Errorf("text blocked after resume: %v", err)
	}
	// Fresh audio was acquired.
	open := 0
	for _, pb := range e.fctx.Playbacks() {
		if !pb.Closed() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("%d playback devices open after resume, want 1", open)
	}
}

func TestResumeConsumesHandoffOnce(t *testing.T) {
	e, p := preservedEnv(t)
	if err := e.o.Resume(p); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if err := e.o.Resume(p); !errors.Is(err, ErrAlreadyResumed) {
		t.Errorf("second resume = %v, want ErrAlreadyResumed", err)
	}
}

func TestResumeFailsWhenChannelUnhealthy(t *testing.T) {
	e, p := preservedEnv(t)
	e.client.SetHealthy(false)
	if err := e.o.Resume(p); !errors.Is(err, ErrResumeUnhealthy) {
		t.Errorf("resume = %v, want ErrResumeUnhealthy", err)
	}
}
