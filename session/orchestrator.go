package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seanesla/kanari-sub001/analyzer"
	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/capture"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/dispatch"
	"github.com/seanesla/kanari-sub001/log"
	"github.com/seanesla/kanari-sub001/playback"
	"github.com/seanesla/kanari-sub001/store"
	"github.com/seanesla/kanari-sub001/transcript"

	"sync"
)

const (
	captureSampleRate = 16000

	defaultPhaseTimeout  = 10 * time.Second
	defaultYieldDelay    = 10 * time.Millisecond
	defaultFallbackGrace = 4 * time.Second
)

// PhaseError is a startup phase exceeding its timeout. Message is the
// user-facing actionable text.
type PhaseError struct {
	Phase   string
	Message string
}

func (e *PhaseError) Error() string { return e.Phase + ": " + e.Message }

// Config assembles the orchestrator's collaborators. Audio and Client are
// required; the rest degrade gracefully when unset.
type Config struct {
	Audio  audio.Context
	Client convo.Client

	Store     store.Store
	Scheduler store.Scheduler
	Analyzer  analyzer.Analyzer
	Detector  analyzer.MismatchDetector

	Device   *audio.DeviceInfo
	Timezone string

	// RecordAudio keeps the raw session PCM on the finalized record.
	RecordAudio bool

	// Merge overrides the transcript fragment merge heuristic.
	Merge transcript.MergeStrategy

	// ShouldAnalyze gates the per-utterance mismatch analysis. Default:
	// non-empty transcript and at least half a second of audio.
	ShouldAnalyze func(text string, seconds float64) bool

	PhaseTimeout  time.Duration
	YieldDelay    time.Duration
	FallbackGrace time.Duration

	OnState      func(from, to State)
	OnLevel      func(level float64)
	OnTranscript func(msgs []transcript.Message)
	OnWidgets    func(ws []dispatch.Widget)
}

// StartOptions modify one startup run.
type StartOptions struct {
	// UserGesture marks a start triggered directly by the user. Without it
	// the orchestrator yields briefly before touching hardware, giving a
	// concurrently-unmounting caller the chance to abort first.
	UserGesture bool

	// Context is injected into the conversation at connect time.
	Context string
}

// Orchestrator owns the single active check-in session.
type Orchestrator struct {
	cfg   Config
	fsm   *Machine
	guard runGuard
	asm   *transcript.Assembler

	mu          sync.Mutex
	capture     *capture.Pipeline
	playback    *playback.Pipeline
	disp        *dispatch.Dispatcher
	record      *Record
	silenceStop chan struct{}

	assistantSpoke bool // first assistant output seen; user input blocked until then
	suppress       bool // barge-in latch: drop assistant audio until turn boundary
	counted        map[string]bool
	noted          map[string]bool // user messages already logged and announced
	bargeIns       int
	userErr        string
}

func New(cfg Config) *Orchestrator {
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = defaultPhaseTimeout
	}
	if cfg.YieldDelay <= 0 {
		cfg.YieldDelay = defaultYieldDelay
	}
	if cfg.FallbackGrace <= 0 {
		cfg.FallbackGrace = defaultFallbackGrace
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.ShouldAnalyze == nil {
		cfg.ShouldAnalyze = func(text string, seconds float64) bool {
			return text != "" && seconds >= 0.5
		}
	}
	o := &Orchestrator{
		cfg: cfg,
		asm: transcript.NewAssembler(cfg.Merge),
	}
	o.fsm = NewMachine(cfg.OnState)
	return o
}

func (o *Orchestrator) State() State { return o.fsm.State() }

// LastError is the user-facing message behind the error state.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userErr
}

func (o *Orchestrator) Messages() []transcript.Message { return o.asm.Messages() }

func (o *Orchestrator) Widgets() []dispatch.Widget {
	o.mu.Lock()
	d := o.disp
	o.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Widgets()
}

func (o *Orchestrator) MismatchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.record == nil {
		return 0
	}
	return o.record.MismatchCount
}

// Record returns the session record, nil before the first successful start.
func (o *Orchestrator) Record() *Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.record
}

// Abort cancels any in-flight startup run without surfacing an error. The
// caller tearing down mid-start uses this.
func (o *Orchestrator) Abort() { o.guard.abort() }

// Start brings the session up: yield (unless user gesture), speaker,
// microphone, conversation channel, in that order. A newer Start supersedes
// an in-flight one; sentinel results are returned but require no handling.
func (o *Orchestrator) Start(opts StartOptions) error {
	tok := o.guard.next()

	// A previous published session yields to the new run, conversation
	// channel included, or the fresh Connect is rejected as a duplicate.
	if tok.Active() {
		o.releaseCurrent(true)
	}
	o.dispatchIf(tok, EventReset, "new startup run")
	o.dispatchIf(tok, EventStart, "start requested")

	err := o.startRun(tok, opts)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	if errors.Is(err, ErrAborted) {
		// Only the aborted run itself resets; a newer run owns the machine.
		if errors.Is(tok.Check(), ErrAborted) {
			o.fsm.Dispatch(EventReset, "startup aborted")
		}
		return err
	}
	o.fail(tok, err)
	return err
}

func (o *Orchestrator) startRun(tok *Token, opts StartOptions) error {
	if !opts.UserGesture {
		time.Sleep(o.cfg.YieldDelay)
	}
	if err := tok.Check(); err != nil {
		return err
	}

	rec := newRecord()
	disp := dispatch.New(dispatch.Config{
		Store:         o.cfg.Store,
		Scheduler:     o.cfg.Scheduler,
		SessionID:     rec.ID,
		Timezone:      o.cfg.Timezone,
		OnChange:      o.cfg.OnWidgets,
		FallbackGrace: o.cfg.FallbackGrace,
	})

	pb, cp, err := o.acquireAudio(tok)
	if err != nil {
		disp.Close()
		return err
	}
	release := func(connected bool) {
		// Reverse acquisition order: channel, microphone, speaker.
		if connected {
			o.cfg.Client.Disconnect()
		}
		cp.Close()
		pb.Close()
		disp.Close()
	}

	if err := tok.Check(); err != nil {
		release(false)
		return err
	}
	o.dispatchIf(tok, EventResourcesReady, "audio resources acquired")

	o.asm.Reset()
	o.cfg.Client.ReattachHandlers(o.handlers(pb, disp))
	err = o.phase(tok, "connect", "connection timed out, check your key and network",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PhaseTimeout)
			defer cancel()
			return o.cfg.Client.Connect(ctx, opts.Context)
		},
		func() { o.cfg.Client.Disconnect() })
	if err != nil {
		release(false)
		return err
	}
	if err := tok.Check(); err != nil {
		release(true)
		return err
	}

	stop := make(chan struct{})
	o.mu.Lock()
	o.playback, o.capture, o.disp, o.record = pb, cp, disp, rec
	o.silenceStop = stop
	o.assistantSpoke = false
	o.suppress = false
	o.counted = make(map[string]bool)
	o.noted = make(map[string]bool)
	o.bargeIns = 0
	o.userErr = ""
	o.mu.Unlock()

	o.dispatchIf(tok, EventConnected, "conversation connected")
	o.dispatchIf(tok, EventGreet, "assistant speaks first")
	if err := o.cfg.Client.StartConversation(); err != nil {
		log.Warnf("start conversation signal: %v", err)
	}

	mon := capture.NewSilenceMonitor(func() bool {
		return o.fsm.State() == StateListening
	})
	go o.runSilence(stop, cp, mon)

	log.SessionStart(rec.ID, "conversation")
	return nil
}

// acquireAudio brings up the speaker then the microphone. Loading both
// streams concurrently is unreliable on some platforms, so the order is
// strict.
func (o *Orchestrator) acquireAudio(tok *Token) (*playback.Pipeline, *capture.Pipeline, error) {
	var pb *playback.Pipeline
	err := o.phase(tok, "speaker", "speaker setup timed out, check your audio output device",
		func() error {
			var p *playback.Pipeline
			p = playback.New(o.cfg.Audio, playback.Config{
				OnPlaying: func() { o.onPlaying(p) },
				OnDrained: func() { o.onDrained(p) },
			})
			if err := p.Init(); err != nil {
				return err
			}
			pb = p
			return nil
		},
		func() {
			if pb != nil {
				pb.Close()
			}
		})
	if err != nil {
		return nil, nil, err
	}
	if err := tok.Check(); err != nil {
		pb.Close()
		return nil, nil, err
	}

	var cp *capture.Pipeline
	err = o.phase(tok, "microphone", "microphone setup timed out, check your input device and permissions",
		func() error {
			var p *capture.Pipeline
			p = capture.New(o.cfg.Audio, capture.Config{
				Device:            o.cfg.Device,
				Sink:              func(b64 string) { o.forwardAudio(p, b64) },
				OnLevel:           o.cfg.OnLevel,
				OnBargeIn:         o.InterruptAssistant,
				AssistantSpeaking: func() bool { return pb.Playing() },
				RecordSession:     o.cfg.RecordAudio,
			})
			if err := p.Start(); err != nil {
				return err
			}
			cp = p
			return nil
		},
		func() {
			if cp != nil {
				cp.Close()
			}
		})
	if err != nil {
		pb.Close()
		return nil, nil, err
	}
	if err := tok.Check(); err != nil {
		cp.Close()
		pb.Close()
		return nil, nil, err
	}
	return pb, cp, nil
}

// phase runs one startup step under the phase timeout. On timeout the
// straggling step is abandoned: once it eventually returns, abandon releases
// whatever it allocated.
func (o *Orchestrator) phase(tok *Token, name, timeoutMsg string, f func() error, abandon func()) error {
	if err := tok.Check(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- f() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s phase: %w", name, err)
		}
		return nil
	case <-time.After(o.cfg.PhaseTimeout):
		go func() {
			if err := <-done; err == nil && abandon != nil {
				abandon()
			}
		}()
		return &PhaseError{Phase: name, Message: timeoutMsg}
	}
}

func (o *Orchestrator) dispatchIf(tok *Token, ev Event, cause string) {
	if tok.Active() {
		o.fsm.Dispatch(ev, cause)
	}
}

func (o *Orchestrator) fail(tok *Token, err error) {
	msg := userMessage(err)
	o.mu.Lock()
	o.userErr = msg
	o.mu.Unlock()
	log.Errorf("session failed: %v", err)
	if tok == nil || tok.Active() {
		o.fsm.Dispatch(EventFail, msg)
	}
}

func userMessage(err error) string {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return de.Message
	}
	return "something went wrong starting the check-in, please try again"
}

// End tears the session down: final analysis, release in reverse acquisition
// order, finalize the record. Individual release failures are collected for
// diagnostics, never allowed to stop teardown.
func (o *Orchestrator) End() error {
	o.guard.abort()

	o.mu.Lock()
	cp, pb, disp, rec := o.capture, o.playback, o.disp, o.record
	stop := o.silenceStop
	bargeIns := o.bargeIns
	o.capture, o.playback, o.disp, o.silenceStop = nil, nil, nil, nil
	o.mu.Unlock()

	if rec == nil {
		return nil
	}
	o.fsm.Dispatch(EventEnd, "end requested")
	if stop != nil {
		close(stop)
	}

	var errs []error
	if cp != nil {
		samples := cp.SessionSamples()
		if err := o.finalAnalysis(rec, samples); err != nil {
			errs = append(errs, err)
			log.Warnf("final session analysis: %v", err)
		}
		if o.cfg.RecordAudio && len(samples) > 0 {
			rec.Audio = samples
			rec.SampleRate = captureSampleRate
		}
	}

	o.cfg.Client.Disconnect()
	if cp != nil {
		cp.Close()
	}
	if pb != nil {
		pb.Close()
	}
	if disp != nil {
		disp.Close()
	}

	rec.EndedAt = time.Now()
	rec.Messages = o.asm.Messages()
	o.fsm.Dispatch(EventComplete, "session ended")

	o.logMetrics(rec, bargeIns, disp)
	return errors.Join(errs...)
}

// Reset discards all session state and returns to idle. The terminal error
// state uses this to recover.
func (o *Orchestrator) Reset() {
	o.guard.abort()
	o.releaseCurrent(true)
	o.asm.Reset()
	o.mu.Lock()
	o.record = nil
	o.userErr = ""
	o.counted = nil
	o.noted = nil
	o.bargeIns = 0
	o.assistantSpoke = false
	o.suppress = false
	o.mu.Unlock()
	o.fsm.Dispatch(EventReset, "reset")
}

// releaseCurrent quietly closes any published resources. disconnect also
// drops the conversation channel.
func (o *Orchestrator) releaseCurrent(disconnect bool) {
	o.mu.Lock()
	cp, pb, disp := o.capture, o.playback, o.disp
	stop := o.silenceStop
	o.capture, o.playback, o.disp, o.silenceStop = nil, nil, nil, nil
	o.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if disconnect && (cp != nil || pb != nil) {
		o.cfg.Client.Disconnect()
	}
	if cp != nil {
		cp.Close()
	}
	if pb != nil {
		pb.Close()
	}
	if disp != nil {
		disp.Close()
	}
}

func (o *Orchestrator) finalAnalysis(rec *Record, samples []int16) error {
	if o.cfg.Analyzer == nil || rec.AggregateMetrics != nil || len(samples) == 0 {
		return nil
	}
	f32 := make([]float32, len(samples))
	for i, s := range samples {
		f32[i] = float32(s) / 32768
	}
	feat, err := o.cfg.Analyzer.ProcessAudio(f32, analyzer.ProcessOptions{SampleRate: captureSampleRate})
	if err != nil {
		return fmt.Errorf("whole-session features: %w", err)
	}
	met, err := o.cfg.Analyzer.AnalyzeVoiceMetrics(feat)
	if err != nil {
		return fmt.Errorf("whole-session metrics: %w", err)
	}
	rec.AggregateMetrics = &met
	return nil
}

func (o *Orchestrator) logMetrics(rec *Record, bargeIns int, disp *dispatch.Dispatcher) {
	userTurns, assistantTurns := 0, 0
	for _, m := range rec.Messages {
		switch m.Role {
		case transcript.RoleUser:
			userTurns++
		case transcript.RoleAssistant:
			assistantTurns++
		}
	}
	widgets := 0
	if disp != nil {
		widgets = len(disp.Widgets())
	}
	log.SessionEnd(rec.ID, len(rec.Messages))
	log.SessionMetrics(log.SessionMetricsData{
		DurationS:      rec.DurationS(),
		UserTurns:      userTurns,
		AssistantTurns: assistantTurns,
		Mismatches:     rec.MismatchCount,
		BargeIns:       bargeIns,
		AudioS:         float64(len(rec.Audio)) / captureSampleRate,
		Widgets:        widgets,
	})
}

// InterruptAssistant is the barge-in path: clear the playback queue, flip
// out of assistant-speaking, and drop late-arriving chunks from the
// interrupted turn until its turn boundary event arrives.
func (o *Orchestrator) InterruptAssistant() {
	o.mu.Lock()
	pb := o.playback
	if pb == nil || !pb.Playing() {
		o.mu.Unlock()
		return
	}
	o.suppress = true
	o.bargeIns++
	o.mu.Unlock()

	pb.Clear()
	o.asm.Interrupted()
	o.fsm.Dispatch(EventInterrupt, "barge-in")
	o.notifyTranscript()
}

// SendText delivers a typed user message. Blocked until the assistant has
// produced its first output, keeping turn order assistant-first.
func (o *Orchestrator) SendText(text string) error {
	o.mu.Lock()
	spoke := o.assistantSpoke
	disp := o.disp
	o.mu.Unlock()
	if !spoke {
		return fmt.Errorf("the assistant is still starting, give it a moment")
	}
	if err := o.cfg.Client.SendText(text); err != nil {
		return err
	}
	o.asm.AddText(transcript.RoleUser, text)
	log.CheckinText("user", text)
	if disp != nil {
		disp.NoteUserMessage(text)
	}
	o.notifyTranscript()
	return nil
}

// SubmitJournal forwards a journal widget response.
func (o *Orchestrator) SubmitJournal(widgetID, content string) error {
	o.mu.Lock()
	disp := o.disp
	o.mu.Unlock()
	if disp == nil {
		return fmt.Errorf("no active session")
	}
	return disp.SubmitJournal(widgetID, content)
}

// DismissWidget removes a widget card.
func (o *Orchestrator) DismissWidget(id string) {
	o.mu.Lock()
	disp := o.disp
	o.mu.Unlock()
	if disp != nil {
		disp.Dismiss(id)
	}
}

func (o *Orchestrator) handlers(pb *playback.Pipeline, disp *dispatch.Dispatcher) convo.Handlers {
	return convo.Handlers{
		Connecting:   func() { log.Info("connecting to conversation backend") },
		Connected:    func() { log.Info("conversation backend connected") },
		Disconnected: o.onDisconnect,
		Error:        func(err error) { log.Errorf("conversation error: %v", err) },

		AudioChunk:      func(b64 string) { o.onAssistantAudio(pb, b64) },
		UserTranscript:  o.onUserTranscript,
		ModelTranscript: o.onModelTranscript,
		ModelThinking:   func(text string) { log.Infof("model thinking: %s", text) },
		TurnComplete:    o.onTurnComplete,
		Interrupted:     o.onInterrupted,
		SilenceChosen:   o.onSilenceChosen,
		UserSpeechStart: o.onUserSpeechStart,
		UserSpeechEnd:   o.onUserSpeechEnd,
		Widget:          func(tc convo.ToolCall) { o.onWidget(disp, tc) },
	}
}

func (o *Orchestrator) onAssistantAudio(pb *playback.Pipeline, b64 string) {
	o.mu.Lock()
	if o.playback != pb { // stale instance
		o.mu.Unlock()
		return
	}
	o.assistantSpoke = true
	if o.suppress {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := pb.EnqueueBase64(b64); err != nil {
		log.Warnf("assistant audio chunk: %v", err)
		return
	}
	o.fsm.Dispatch(EventAssistantOutput, "assistant audio")
}

func (o *Orchestrator) onPlaying(pb *playback.Pipeline) {
	o.mu.Lock()
	stale := o.playback != pb
	o.mu.Unlock()
	if stale {
		return
	}
	o.fsm.Dispatch(EventAssistantOutput, "playback started")
}

func (o *Orchestrator) onDrained(pb *playback.Pipeline) {
	o.mu.Lock()
	stale := o.playback != pb
	o.mu.Unlock()
	if stale {
		return
	}
	o.fsm.Dispatch(EventPlaybackDone, "playback drained")
}

func (o *Orchestrator) forwardAudio(cp *capture.Pipeline, b64 string) {
	o.mu.Lock()
	ok := o.capture == cp && o.assistantSpoke
	o.mu.Unlock()
	if !ok || !o.cfg.Client.Ready() {
		return
	}
	if err := o.cfg.Client.SendAudio(b64); err != nil {
		log.Warnf("forwarding mic frame: %v", err)
	}
}

func (o *Orchestrator) onUserTranscript(text string, final bool) {
	msg := o.asm.UserFragment(text, final)
	if final && msg != nil {
		o.userFinalized(msg)
	}
	o.notifyTranscript()
}

func (o *Orchestrator) onModelTranscript(text string, finished bool) {
	o.mu.Lock()
	o.assistantSpoke = true
	o.mu.Unlock()
	o.asm.AssistantFragment(text, finished)
	o.notifyTranscript()
}

func (o *Orchestrator) onTurnComplete() {
	msg := o.asm.TurnComplete()
	o.mu.Lock()
	o.suppress = false
	pb := o.playback
	o.mu.Unlock()
	if msg != nil {
		log.CheckinText("assistant", msg.Content)
	}
	if pb == nil || !pb.Playing() {
		o.fsm.Dispatch(EventPlaybackDone, "turn complete")
	}
	o.notifyTranscript()
}

func (o *Orchestrator) onInterrupted() {
	o.asm.Interrupted()
	o.mu.Lock()
	o.suppress = false
	pb := o.playback
	o.mu.Unlock()
	if pb != nil {
		pb.Clear()
	}
	o.fsm.Dispatch(EventInterrupt, "assistant interrupted")
	o.notifyTranscript()
}

func (o *Orchestrator) onSilenceChosen(reason string) {
	o.mu.Lock()
	o.assistantSpoke = true // explicit silence counts as first output
	o.mu.Unlock()
	o.fsm.Dispatch(EventSilence, "assistant chose silence: "+reason)
}

func (o *Orchestrator) onUserSpeechStart() {
	o.asm.UserSpeechStart()
	o.mu.Lock()
	cp := o.capture
	o.mu.Unlock()
	if cp != nil {
		cp.ResetUtterance()
	}
	o.fsm.Dispatch(EventUserSpeech, "user speech start")
}

func (o *Orchestrator) onUserSpeechEnd() {
	msg := o.asm.UserSpeechEnd()
	o.fsm.Dispatch(EventUserDone, "user speech end")
	if err := o.cfg.Client.SendAudioEnd(); err != nil {
		log.Warnf("audio end signal: %v", err)
	}
	if msg == nil {
		return
	}
	o.userFinalized(msg)

	o.mu.Lock()
	cp := o.capture
	o.mu.Unlock()
	if cp != nil {
		o.analyzeUtterance(msg.ID, msg.Content, cp.DrainUtterance())
	}
	o.notifyTranscript()
}

func (o *Orchestrator) onWidget(disp *dispatch.Dispatcher, tc convo.ToolCall) {
	o.mu.Lock()
	stale := o.disp != disp
	o.mu.Unlock()
	if stale {
		return
	}
	disp.Dispatch(tc)
}

// userFinalized runs once per user message, whichever of the final fragment
// and the speech-end event lands first.
func (o *Orchestrator) userFinalized(msg *transcript.Message) {
	o.mu.Lock()
	if o.noted[msg.ID] {
		o.mu.Unlock()
		return
	}
	if o.noted != nil {
		o.noted[msg.ID] = true
	}
	disp := o.disp
	o.mu.Unlock()
	log.CheckinText("user", msg.Content)
	if disp != nil {
		disp.NoteUserMessage(msg.Content)
	}
}

// onDisconnect classifies a dropped channel: a conversation the user took
// part in completes gracefully; a drop before any interaction is an error.
func (o *Orchestrator) onDisconnect(reason string) {
	st := o.fsm.State()
	if !st.Active() {
		log.Infof("disconnected while %s: %s", st, reason)
		return
	}
	if o.asm.UserMessageCount() > 0 {
		log.Infof("conversation ended by remote: %s", reason)
		go o.End()
		return
	}
	o.mu.Lock()
	o.userErr = "the conversation dropped before you said anything, check your network and try again"
	o.mu.Unlock()
	o.fsm.Dispatch(EventFail, "disconnected before first interaction: "+reason)
	go o.releaseCurrent(false)
}

// analyzeUtterance runs the mismatch trigger over a drained utterance. The
// session counter moves exactly once per message; re-analysis of the same
// message never double-counts.
func (o *Orchestrator) analyzeUtterance(msgID, text string, samples []float32) {
	if o.cfg.Analyzer == nil || o.cfg.Detector == nil {
		return
	}
	seconds := float64(len(samples)) / captureSampleRate
	if !o.cfg.ShouldAnalyze(text, seconds) {
		return
	}
	feat, err := o.cfg.Analyzer.ProcessAudio(samples, analyzer.ProcessOptions{
		SampleRate: captureSampleRate,
		EnableVAD:  true,
	})
	if err != nil {
		log.Warnf("utterance features: %v", err)
		return
	}
	met, err := o.cfg.Analyzer.AnalyzeVoiceMetrics(feat)
	if err != nil {
		log.Warnf("utterance metrics: %v", err)
		return
	}
	mm := o.cfg.Detector.Detect(text, feat, met)
	o.asm.Attach(msgID, &feat, &met, &mm)

	inject := false
	o.mu.Lock()
	if mm.Detected && o.counted != nil && !o.counted[msgID] {
		o.counted[msgID] = true
		if o.record != nil {
			o.record.MismatchCount++
			o.record.LatestMismatch = &mm
		}
		inject = true
	}
	o.mu.Unlock()

	if inject {
		if err := o.cfg.Client.InjectContext(mismatchContext(mm)); err != nil {
			log.Warnf("mismatch context: %v", err)
		}
		log.Infof("mismatch detected (confidence %.2f): %s", mm.Confidence, mm.Reason)
	}
	o.notifyTranscript()
}

func mismatchContext(mm analyzer.MismatchResult) string {
	saying, feeling := mm.UserSaying, mm.UserFeeling
	if saying == "" {
		saying = "things are fine"
	}
	if feeling == "" {
		feeling = "strained"
	}
	return fmt.Sprintf(
		"The user's tone does not match their words: they say %q but their voice sounds %s. Gently acknowledge how they might actually be feeling.",
		saying, feeling)
}

func (o *Orchestrator) runSilence(stop <-chan struct{}, cp *capture.Pipeline, mon *capture.SilenceMonitor) {
	ticker := time.NewTicker(capture.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			switch mon.Tick(cp.VoiceDetected()) {
			case capture.SilenceWarn:
				log.Warn("no speech detected")
			case capture.SilenceWarnClear:
				log.Info("speech resumed")
			case capture.SilenceRepeat:
				if err := o.cfg.Client.InjectContext("The user has been quiet for a while. Gently check in with them."); err != nil {
					log.Warnf("silence nudge: %v", err)
				}
			case capture.SilenceAutoClose:
				log.Warn("prolonged silence, ending check-in")
				go o.End()
				return
			}
		}
	}
}

func (o *Orchestrator) notifyTranscript() {
	if o.cfg.OnTranscript != nil {
		o.cfg.OnTranscript(o.asm.Messages())
	}
}
