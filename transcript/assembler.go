package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seanesla/kanari-sub001/analyzer"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Content is mutable while IsStreaming;
// it only grows or is replaced wholesale, never shrinks except on reset.
// Acoustic fields are set on user messages only.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	IsStreaming bool

	Features *analyzer.Features
	Metrics  *analyzer.Metrics
	Mismatch *analyzer.MismatchResult
}

// Assembler merges streamed transcript fragments into stable messages.
// At most one message per role is streaming at any time; updates to the
// active message are O(1) via its tracked id.
type Assembler struct {
	mu    sync.Mutex
	merge MergeStrategy

	messages []*Message
	byID     map[string]*Message

	activeUser      string
	activeAssistant string
	userDone        bool // speech-end and `finished` both finalize; first wins

	// finishedUser holds the finalized utterance until speech end consumes
	// it, so a final fragment arriving first does not starve the speech-end
	// path of its message.
	finishedUser *Message

	now func() time.Time
}

func NewAssembler(merge MergeStrategy) *Assembler {
	if merge == nil {
		merge = DefaultMerge
	}
	return &Assembler{
		merge: merge,
		byID:  make(map[string]*Message),
		now:   time.Now,
	}
}

// UserSpeechStart resets per-utterance state ahead of incoming fragments.
func (a *Assembler) UserSpeechStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeUser = ""
	a.userDone = false
	a.finishedUser = nil
}

// UserFragment merges one user transcript fragment. The message bubble is
// created on the first non-empty fragment and updated in place after.
// A final fragment finalizes the message.
func (a *Assembler) UserFragment(text string, final bool) *Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.userDone {
		return nil
	}

	msg := a.byID[a.activeUser]
	if msg == nil {
		if text == "" {
			return nil
		}
		msg = a.appendLocked(RoleUser, text)
		a.activeUser = msg.ID
	} else {
		msg.Content = a.merge(msg.Content, text)
	}

	if final {
		a.finalizeUserLocked()
	}
	return msg
}

// UserSpeechEnd finalizes the current user utterance and returns it. When a
// final fragment already finalized it, the held message is returned instead;
// either way each utterance is delivered exactly once.
func (a *Assembler) UserSpeechEnd() *Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.userDone {
		a.finalizeUserLocked()
	}
	msg := a.finishedUser
	a.finishedUser = nil
	return msg
}

func (a *Assembler) finalizeUserLocked() {
	if msg := a.byID[a.activeUser]; msg != nil {
		msg.IsStreaming = false
		a.finishedUser = msg
	}
	a.activeUser = ""
	a.userDone = true
}

// AssistantFragment merges one assistant transcript fragment, creating the
// streaming message on first fragment.
func (a *Assembler) AssistantFragment(text string, finished bool) *Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg := a.byID[a.activeAssistant]
	if msg == nil {
		if text == "" {
			return nil
		}
		msg = a.appendLocked(RoleAssistant, text)
		a.activeAssistant = msg.ID
	} else {
		msg.Content = a.merge(msg.Content, text)
	}

	if finished {
		msg.IsStreaming = false
		a.activeAssistant = ""
	}
	return msg
}

// TurnComplete finalizes the streaming assistant message and clears
// accumulation state.
func (a *Assembler) TurnComplete() *Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := a.byID[a.activeAssistant]
	if msg != nil {
		msg.IsStreaming = false
	}
	a.activeAssistant = ""
	return msg
}

// Interrupted clears assistant accumulation state without finalizing
// content; the utterance was cut off.
func (a *Assembler) Interrupted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if msg := a.byID[a.activeAssistant]; msg != nil {
		msg.IsStreaming = false
	}
	a.activeAssistant = ""
}

// AddText appends a complete, non-streaming message (typed input, replayed
// history).
func (a *Assembler) AddText(role Role, text string) *Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := a.appendLocked(role, text)
	msg.IsStreaming = false
	return msg
}

// Attach sets acoustic results on the identified message. Stale ids are
// tolerated; the bool reports whether the message was found.
func (a *Assembler) Attach(id string, feat *analyzer.Features, metrics *analyzer.Metrics, mismatch *analyzer.MismatchResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := a.byID[id]
	if msg == nil {
		return false
	}
	if feat != nil {
		msg.Features = feat
	}
	if metrics != nil {
		msg.Metrics = metrics
	}
	if mismatch != nil {
		msg.Mismatch = mismatch
	}
	return true
}

// Messages returns a copy of the message list in order.
func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	for i, m := range a.messages {
		out[i] = *m
	}
	return out
}

// Message returns a copy of the identified message.
func (a *Assembler) Message(id string) (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg := a.byID[id]
	if msg == nil {
		return Message{}, false
	}
	return *msg, true
}

// LastUser returns the most recent user message.
func (a *Assembler) LastUser() (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == RoleUser {
			return *a.messages[i], true
		}
	}
	return Message{}, false
}

// UserMessageCount reports how many user messages exist; drives the
// graceful-vs-error disconnect classification.
func (a *Assembler) UserMessageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, m := range a.messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Replay restores stored messages into a fresh assembler (session resume).
// Streaming flags are cleared; a preserved session has no live stream.
func (a *Assembler) Replay(msgs []Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range msgs {
		m := msgs[i]
		m.IsStreaming = false
		cp := m
		a.messages = append(a.messages, &cp)
		a.byID[cp.ID] = &cp
	}
}

// Reset drops all state.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
	a.byID = make(map[string]*Message)
	a.activeUser = ""
	a.activeAssistant = ""
	a.userDone = false
	a.finishedUser = nil
}

func (a *Assembler) appendLocked(role Role, text string) *Message {
	msg := &Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     text,
		Timestamp:   a.now(),
		IsStreaming: true,
	}
	a.messages = append(a.messages, msg)
	a.byID[msg.ID] = msg
	return msg
}
