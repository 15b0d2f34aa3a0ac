package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/seanesla/kanari-sub001/capture"
	"github.com/seanesla/kanari-sub001/convo"
	"github.com/seanesla/kanari-sub001/dispatch"
	"github.com/seanesla/kanari-sub001/log"
	"github.com/seanesla/kanari-sub001/transcript"
)

// ErrResumeUnhealthy means the preserved conversation channel failed its
// health check; the caller should start a fresh session instead.
var ErrResumeUnhealthy = errors.New("preserved conversation is no longer healthy")

// ErrAlreadyResumed means the handoff was consumed once already.
var ErrAlreadyResumed = errors.New("preserved session already resumed")

// Preserved is the explicit handoff object for a session surviving a UI
// teardown: the open conversation channel plus enough state to rebuild the
// orchestrator. It has a single owner and can be consumed exactly once.
type Preserved struct {
	mu    sync.Mutex
	taken bool

	client   convo.Client
	messages []transcript.Message
	disp     *dispatch.Dispatcher
	record   *Record
	counted  map[string]bool
	noted    map[string]bool
	bargeIns int

	// Fingerprint identifies the conversation this handoff belongs to.
	Fingerprint string
}

func (p *Preserved) take() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taken {
		return ErrAlreadyResumed
	}
	p.taken = true
	return nil
}

// Preserve detaches the session from its local resources without ending it:
// event handlers come off, microphone and speaker are released, the network
// channel stays open. The returned handoff is the sole way back in.
func (o *Orchestrator) Preserve() (*Preserved, error) {
	st := o.fsm.State()
	if !st.Active() {
		return nil, fmt.Errorf("no active session to preserve (state %s)", st)
	}
	o.guard.abort()
	o.cfg.Client.DetachHandlers()

	o.mu.Lock()
	cp, pb, disp, rec := o.capture, o.playback, o.disp, o.record
	stop := o.silenceStop
	counted, noted := o.counted, o.noted
	bargeIns := o.bargeIns
	o.capture, o.playback, o.disp, o.record, o.silenceStop = nil, nil, nil, nil, nil
	o.counted, o.noted = nil, nil
	o.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if cp != nil {
		cp.Close()
	}
	if pb != nil {
		pb.Close()
	}

	p := &Preserved{
		client:      o.cfg.Client,
		messages:    o.asm.Messages(),
		disp:        disp,
		record:      rec,
		counted:     counted,
		noted:       noted,
		bargeIns:    bargeIns,
		Fingerprint: rec.ID,
	}
	o.asm.Reset()
	o.fsm.Dispatch(EventReset, "session preserved")
	log.Infof("session %s preserved with %d messages", rec.ID, len(p.messages))
	return p, nil
}

// Resume re-enters a preserved session: re-acquire local audio, health-check
// and reattach to the open channel, replay messages and widgets, land in
// listening.
func (o *Orchestrator) Resume(p *Preserved) error {
	if err := p.take(); err != nil {
		return err
	}
	if !p.client.Healthy() {
		return ErrResumeUnhealthy
	}

	tok := o.guard.next()
	pb, cp, err := o.acquireAudio(tok)
	if err != nil {
		if errors.Is(err, ErrAborted) || errors.Is(err, ErrSuperseded) {
			return err
		}
		o.fail(tok, err)
		return err
	}

	disp := p.disp
	stop := make(chan struct{})
	o.mu.Lock()
	o.playback, o.capture, o.disp, o.record = pb, cp, disp, p.record
	o.silenceStop = stop
	o.counted = p.counted
	if o.counted == nil {
		o.counted = make(map[string]bool)
	}
	o.noted = p.noted
	if o.noted == nil {
		o.noted = make(map[string]bool)
	}
	o.bargeIns = p.bargeIns
	o.assistantSpoke = true // conversation already underway, user unblocked
	o.suppress = false
	o.userErr = ""
	o.mu.Unlock()

	o.asm.Replay(p.messages)
	p.client.ReattachHandlers(o.handlers(pb, disp))

	mon := capture.NewSilenceMonitor(func() bool {
		return o.fsm.State() == StateListening
	})
	go o.runSilence(stop, cp, mon)

	o.fsm.force(StateListening, "session resumed")
	o.notifyTranscript()
	log.Infof("session %s resumed", p.Fingerprint)
	return nil
}
