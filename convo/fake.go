package convo

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scriptable conversation client for tests: records everything
// sent, and exposes Emit* helpers that drive the attached handlers the way
// the real backend would.
type Fake struct {
	mu         sync.Mutex
	handlers   Handlers
	ready      bool
	healthy    bool
	connectErr error

	SentAudio    []string
	SentText     []string
	Injected     []string
	AudioEnds    int
	Starts       int
	Disconnects  int
	ConnectCalls int
}

func NewFake() *Fake {
	return &Fake{healthy: true}
}

func (f *Fake) SetConnectError(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *Fake) SetHealthy(healthy bool) {
	f.mu.Lock()
	f.healthy = healthy
	f.mu.Unlock()
}

func (f *Fake) Connect(_ context.Context, optionalContext string) error {
	f.mu.Lock()
	f.ConnectCalls++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	if f.ready {
		f.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	f.ready = true
	if optionalContext != "" {
		f.Injected = append(f.Injected, optionalContext)
	}
	h := f.handlers
	f.mu.Unlock()
	if h.Connected != nil {
		h.Connected()
	}
	return nil
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	f.ready = false
	f.Disconnects++
	f.mu.Unlock()
}

func (f *Fake) SendAudio(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return fmt.Errorf("not ready")
	}
	f.SentAudio = append(f.SentAudio, b64)
	return nil
}

// SentAudioCount is safe to poll while audio is still flowing.
func (f *Fake) SentAudioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SentAudio)
}

func (f *Fake) SendAudioEnd() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AudioEnds++
	return nil
}

func (f *Fake) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return fmt.Errorf("not ready")
	}
	f.SentText = append(f.SentText, text)
	return nil
}

func (f *Fake) InjectContext(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Injected = append(f.Injected, text)
	return nil
}

func (f *Fake) StartConversation() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	return nil
}

func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *Fake) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *Fake) DetachHandlers() {
	f.mu.Lock()
	f.handlers = Handlers{}
	f.mu.Unlock()
}

func (f *Fake) ReattachHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *Fake) current() Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *Fake) EmitAudioChunk(b64 string) {
	if h := f.current(); h.AudioChunk != nil {
		h.AudioChunk(b64)
	}
}

func (f *Fake) EmitAudioEnd() {
	if h := f.current(); h.AudioEnd != nil {
		h.AudioEnd()
	}
}

func (f *Fake) EmitUserTranscript(text string, final bool) {
	if h := f.current(); h.UserTranscript != nil {
		h.UserTranscript(text, final)
	}
}

func (f *Fake) EmitModelTranscript(text string, finished bool) {
	if h := f.current(); h.ModelTranscript != nil {
		h.ModelTranscript(text, finished)
	}
}

func (f *Fake) EmitTurnComplete() {
	if h := f.current(); h.TurnComplete != nil {
		h.TurnComplete()
	}
}

func (f *Fake) EmitInterrupted() {
	if h := f.current(); h.Interrupted != nil {
		h.Interrupted()
	}
}

func (f *Fake) EmitSilenceChosen(reason string) {
	if h := f.current(); h.SilenceChosen != nil {
		h.SilenceChosen(reason)
	}
}

func (f *Fake) EmitUserSpeechStart() {
	if h := f.current(); h.UserSpeechStart != nil {
		h.UserSpeechStart()
	}
}

func (f *Fake) EmitUserSpeechEnd() {
	if h := f.current(); h.UserSpeechEnd != nil {
		h.UserSpeechEnd()
	}
}

func (f *Fake) EmitWidget(call ToolCall) {
	if h := f.current(); h.Widget != nil {
		h.Widget(call)
	}
}

func (f *Fake) EmitDisconnected(reason string) {
	if h := f.current(); h.Disconnected != nil {
		h.Disconnected(reason)
	}
}

func (f *Fake) EmitError(err error) {
	if h := f.current(); h.Error != nil {
		h.Error(err)
	}
}
