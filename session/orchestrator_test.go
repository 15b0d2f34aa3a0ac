package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seanesla/kanari-sub001/analyzer"
	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/store"
)

type env struct {
	o      *Orchestrator
	fctx   *audio.FakeContext
	client *convo.Fake
	mem    *store.Memory
	anl    *analyzer.Fake
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	t.Helper()
	e := &env{
		fctx:   audio.NewSilentFakeContext(),
		client: convo.NewFake(),
		mem:    store.NewMemory(),
		anl:    analyzer.NewFake(),
	}
	cfg := Config{
		Audio:         e.fctx,
		Client:        e.client,
		Store:         e.mem,
		Scheduler:     store.NewBlockScheduler(e.mem),
		Analyzer:      e.anl,
		Detector:      e.anl,
		Timezone:      "UTC",
		PhaseTimeout:  2 * time.Second,
		YieldDelay:    time.Millisecond,
		FallbackGrace: time.Hour, // inert unless a test drives it
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e.o = New(cfg)
	t.Cleanup(func() { e.o.End() })
	return e
}

func (e *env) queueLen() int {
	e.o.mu.Lock()
	pb := e.o.playback
	e.o.mu.Unlock()
	if pb == nil {
		return 0
	}
	return pb.QueueLen()
}

func pcmChunk() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 4096))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartHappyPath(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := e.o.State(); got != StateAIGreeting {
		t.Errorf("state = %s, want ai_greeting", got)
	}
	if e.client.ConnectCalls != 1 || e.client.Starts != 1 {
		t.Errorf("connects = %d, starts = %d", e.client.ConnectCalls, e.client.Starts)
	}
	pbs := e.fctx.Playbacks()
	if len(pbs) != 1 || pbs[0].Closed() {
		t.Errorf("playback devices = %d", len(pbs))
	}
}

func TestAssistantSpeaksFirst(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Mic frames flow (the fake capture pumps silence) but nothing may be
	// forwarded before the assistant's first output.
	time.Sleep(30 * time.Millisecond)
	if n := e.client.SentAudioCount(); n != 0 {
		t.Fatalf("%d frames forwarded before first assistant output", n)
	}
	if err := e.o.SendText("hello"); err == nil {
		t.Errorf("text accepted before first assistant output")
	}

	e.client.EmitAudioChunk(pcmChunk())
	waitFor(t, "mic frames to flow", func() bool { return e.client.SentAudioCount() > 0 })
	if err := e.o.SendText("hello"); err != nil {
		t.Errorf("text blocked after assistant spoke: %v", err)
	}
}

func TestSilenceSignalUnblocksUser(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitSilenceChosen("user seems mid-thought")
	if got := e.o.State(); got != StateListening {
		t.Errorf("state = %s, want listening", got)
	}
	if err := e.o.SendText("hi"); err != nil {
		t.Errorf("text blocked after explicit silence: %v", err)
	}
}

func TestInterruptDropsLateChunks(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.client.EmitAudioChunk(pcmChunk())
	if got := e.o.State(); got != StateAssistantSpeaking {
		t.Fatalf("state = %s, want assistant_speaking", got)
	}
	if e.queueLen() != 1 {
		t.Fatalf("queue = %d", e.queueLen())
	}

	e.o.InterruptAssistant()
	if e.queueLen() != 0 {
		t.Errorf("queue = %d after interrupt", e.queueLen())
	}
	if got := e.o.State(); got != StateListening {
		t.Errorf("state = %s, want listening", got)
	}

	// A buffered chunk from the interrupted turn arrives late: dropped.
	e.client.EmitAudioChunk(pcmChunk())
	if e.queueLen() != 0 {
		t.Errorf("late chunk enqueued, queue = %d", e.queueLen())
	}

	// The turn boundary lifts the suppression.
	e.client.EmitTurnComplete()
	e.client.EmitAudioChunk(pcmChunk())
	if e.queueLen() != 1 {
		t.Errorf("next turn chunk not enqueued, queue = %d", e.queueLen())
	}
	if got := e.o.State(); got != StateAssistantSpeaking {
		t.Errorf("state = %s, want assistant_speaking", got)
	}
}

func TestInterruptWhileNotSpeakingIsNoop(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.o.InterruptAssistant()
	if got := e.o.State(); got != StateAIGreeting {
		t.Errorf("state = %s after no-op interrupt", got)
	}
}

func TestRapidRestartSingleActiveRun(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.YieldDelay = 100 * time.Millisecond })

	errCh := make(chan error, 1)
	go func() { errCh <- e.o.Start(StartOptions{}) }()
	time.Sleep(20 * time.Millisecond)

	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first start = %v, want ErrSuperseded", err)
	}

	if got := e.o.State(); got != StateAIGreeting {
		t.Errorf("state = %s", got)
	}
	if e.client.ConnectCalls != 1 {
		t.Errorf("connects = %d, want 1", e.client.ConnectCalls)
	}
	open := 0
	for _, pb := range e.fctx.Playbacks() {
		if !pb.Closed() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("%d playback devices open, want 1", open)
	}
}

// Restarting over a fully published session must drop the old conversation
// channel first or the backend rejects the new dial as a duplicate.
func TestRestartOverLiveSessionReconnects(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if e.client.Disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", e.client.Disconnects)
	}
	if e.client.ConnectCalls != 2 {
		t.Errorf("connects = %d, want 2", e.client.ConnectCalls)
	}
	if !e.client.Ready() {
		t.Error("conversation channel not ready after restart")
	}
	if got := e.o.State(); got != StateAIGreeting {
		t.Errorf("state = %s", got)
	}
}

func TestAbortBeforeFirstAwaitLeavesIdle(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.YieldDelay = 50 * time.Millisecond })

	errCh := make(chan error, 1)
	go func() { errCh <- e.o.Start(StartOptions{}) }()
	time.Sleep(10 * time.Millisecond)
	e.o.Abort()

	if err := <-errCh; !errors.Is(err, ErrAborted) {
		t.Fatalf("start = %v, want ErrAborted", err)
	}
	if got := e.o.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if e.o.LastError() != "" {
		t.Errorf("error state set: %q", e.o.LastError())
	}
	if n := len(e.fctx.Playbacks()); n != 0 {
		t.Errorf("%d playback devices allocated before abort checkpoint", n)
	}
	if e.client.ConnectCalls != 0 {
		t.Errorf("connected despite abort")
	}
}

type stuckPlaybackContext struct {
	audio.Context
	delay time.Duration
}

func (s *stuckPlaybackContext) NewPlayback(audio.PlaybackConfig) (audio.PlaybackDevice, error) {
	time.Sleep(s.delay)
	return nil, errors.New("device gave up")
}

func TestPhaseTimeoutActionableError(t *testing.T) {
	e := newEnv(t, func(c *Config) {
		c.Audio = &stuckPlaybackContext{Context: audio.NewSilentFakeContext(), delay: 200 * time.Millisecond}
		c.PhaseTimeout = 30 * time.Millisecond
	})
	err := e.o.Start(StartOptions{UserGesture: true})
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != "speaker" {
		t.Fatalf("start = %v, want speaker phase error", err)
	}
	if got := e.o.State(); got != StateError {
		t.Errorf("state = %s, want error", got)
	}
	if !strings.Contains(e.o.LastError(), "speaker setup timed out") {
		t.Errorf("LastError = %q", e.o.LastError())
	}
}

func TestConnectFailureRollsBackAudio(t *testing.T) {
	e := newEnv(t, nil)
	e.client.SetConnectError(errors.New("refused"))

	if err := e.o.Start(StartOptions{UserGesture: true}); err == nil {
		t.Fatal("start succeeded with broken backend")
	}
	if got := e.o.State(); got != StateError {
		t.Errorf("state = %s, want error", got)
	}
	for i, pb := range e.fctx.Playbacks() {
		if !pb.Closed() {
			t.Errorf("playback %d leaked after rollback", i)
		}
	}
}

func TestScheduleWalkScenario(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitUserSpeechStart()
	e.client.EmitUserTranscript("schedule a walk tomorrow at 3pm for 20 minutes", true)

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	args := fmt.Sprintf(`{"title":"walk","category":"movement","date":%q,"time":"15:00","duration_min":20}`,
		tomorrow.Format("2006-01-02"))
	e.client.EmitWidget(convo.ToolCall{ID: "t1", Name: "schedule_activity", Args: json.RawMessage(args)})

	ws := e.o.Widgets()
	if len(ws) != 1 {
		t.Fatalf("widgets = %d, want 1", len(ws))
	}
	if ws[0].Status != "scheduled" {
		t.Fatalf("widget status = %s (%s)", ws[0].Status, ws[0].Error)
	}
	s, err := e.mem.GetSuggestion(ws[0].SuggestionID)
	if err != nil {
		t.Fatalf("suggestion: %v", err)
	}
	want := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 15, 0, 0, 0, time.UTC)
	if !s.ScheduledAt.Equal(want) || s.DurationMin != 20 {
		t.Errorf("suggestion = %+v, want %v / 20 min", s, want)
	}
}

func TestMismatchCountsOncePerMessage(t *testing.T) {
	e := newEnv(t, func(c *Config) {
		c.ShouldAnalyze = func(string, float64) bool { return true }
	})
	e.anl.SetMismatch(analyzer.MismatchResult{
		Detected:    true,
		Confidence:  0.9,
		UserSaying:  "I'm fine",
		UserFeeling: "tense",
	})
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitUserSpeechStart()
	e.client.EmitUserTranscript("I'm fine", false)
	e.client.EmitUserSpeechEnd()

	if got := e.o.MismatchCount(); got != 1 {
		t.Fatalf("mismatch count = %d, want 1", got)
	}
	if len(e.client.Injected) != 1 {
		t.Fatalf("injected contexts = %d, want 1", len(e.client.Injected))
	}

	var userID string
	for _, m := range e.o.Messages() {
		if m.Role == "user" {
			userID = m.ID
			if m.Mismatch == nil || !m.Mismatch.Detected {
				t.Errorf("mismatch not attached to message")
			}
		}
	}

	// Re-processing the same message must not double-count or re-inject.
	e.o.analyzeUtterance(userID, "I'm fine", nil)
	if got := e.o.MismatchCount(); got != 1 {
		t.Errorf("mismatch count after reprocess = %d", got)
	}
	if len(e.client.Injected) != 1 {
		t.Errorf("injected contexts after reprocess = %d", len(e.client.Injected))
	}
}

func TestMismatchRunsWhenFinalFragmentBeatsSpeechEnd(t *testing.T) {
	e := newEnv(t, func(c *Config) {
		c.ShouldAnalyze = func(string, float64) bool { return true }
	})
	e.anl.SetMismatch(analyzer.MismatchResult{
		Detected:    true,
		Confidence:  0.9,
		UserSaying:  "I'm fine",
		UserFeeling: "tense",
	})
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitUserSpeechStart()
	// Backends routinely deliver the final transcript fragment before the
	// speech-end event; analysis must still run off speech end.
	e.client.EmitUserTranscript("I'm fine", true)
	e.client.EmitUserSpeechEnd()

	if got := e.o.MismatchCount(); got != 1 {
		t.Fatalf("mismatch count = %d, want 1", got)
	}
	if len(e.client.Injected) != 1 {
		t.Fatalf("injected contexts = %d, want 1", len(e.client.Injected))
	}
	for _, m := range e.o.Messages() {
		if m.Role == "user" && (m.Mismatch == nil || !m.Mismatch.Detected) {
			t.Error("mismatch not attached to the finalized message")
		}
	}
}

func TestDisconnectAfterInteractionCompletes(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitUserSpeechStart()
	e.client.EmitUserTranscript("I'm doing okay today", true)

	e.client.EmitDisconnected("server hung up")
	waitFor(t, "graceful completion", func() bool { return e.o.State() == StateComplete })
	rec := e.o.Record()
	if rec == nil || rec.EndedAt.IsZero() {
		t.Errorf("record not finalized")
	}
	if e.o.LastError() != "" {
		t.Errorf("graceful disconnect set error %q", e.o.LastError())
	}
}

func TestDisconnectBeforeInteractionIsError(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitDisconnected("handshake died")
	if got := e.o.State(); got != StateError {
		t.Fatalf("state = %s, want error", got)
	}
	if e.o.LastError() == "" {
		t.Errorf("no user-facing message for broken handshake")
	}
}

func TestEndFinalizesRecord(t *testing.T) {
	e := newEnv(t, nil)
	if err := e.o.Start(StartOptions{UserGesture: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.client.EmitAudioChunk(pcmChunk())
	e.client.EmitModelTranscript("How are you feeling today?", true)
	e.client.EmitTurnComplete()
	e.client.EmitUserSpeechStart()
	e.client.EmitUserTranscript("a bit tired", true)

	if err := e.o.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if got := e.o.State(); got != StateComplete {
		t.Errorf("state = %s, want complete", got)
	}
	rec := e.o.Record()
	if rec == nil || rec.EndedAt.IsZero() || len(rec.Messages) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if e.client.Disconnects == 0 {
		t.Errorf("channel not disconnected")
	}
	for i, pb := range e.fctx.Playbacks() {
		if !pb.Closed() {
			t.Errorf("playback %d leaked after end", i)
		}
	}
	// End with nothing active is a no-op.
	if err := e.o.End(); err != nil {
		t.Errorf("second end: %v", err)
	}
}

func TestResetFromError(t *testing.T) {
	e := newEnv(t, nil)
	e.client.SetConnectError(errors.New("refused"))
	e.o.Start(StartOptions{UserGesture: true})
	if e.o.State() != StateError {
		t.Fatalf("setup: state = %s", e.o.State())
	}
	e.o.Reset()
	if got := e.o.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if e.o.LastError() != "" {
		t.Errorf("error survived reset: %q", e.o.LastError())
	}
}
