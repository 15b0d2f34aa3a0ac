// Package convo is the boundary to the conversational AI backend: an
// abstract duplex channel that accepts audio/text/context and emits typed
// events. All wire framing stays behind this boundary.
package convo

import (
	"context"
	"encoding/json"
)

// ToolCall is a tool/widget invocation requested by the assistant. Args are
// parsed into a typed payload at the dispatcher boundary.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Handlers carries the event callbacks for one attached owner. Unset fields
// are skipped. Handlers may be detached and reattached while the underlying
// network session stays open (session preservation).
type Handlers struct {
	Connecting      func()
	Connected       func()
	Disconnected    func(reason string)
	Error           func(err error)
	AudioChunk      func(b64 string)
	AudioEnd        func()
	UserTranscript  func(text string, final bool)
	ModelTranscript func(text string, finished bool)
	ModelThinking   func(text string)
	TurnComplete    func()
	Interrupted     func()
	SilenceChosen   func(reason string)
	UserSpeechStart func()
	UserSpeechEnd   func()
	Widget          func(call ToolCall)
}

type Client interface {
	Connect(ctx context.Context, optionalContext string) error
	Disconnect()

	SendAudio(b64PCM string) error
	SendAudioEnd() error
	SendText(text string) error
	// InjectContext feeds out-of-band context the assistant can react to
	// without it appearing as a user message.
	InjectContext(text string) error
	// StartConversation asks the assistant to speak first.
	StartConversation() error

	Ready() bool
	Healthy() bool

	DetachHandlers()
	ReattachHandlers(h Handlers)
}
