package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/seanesla/kanari-sub001/log"
)

const (
	healthCheckTimeout = 2 * time.Second
	sendQueueDepth     = 256
)

// wire envelope shared by both directions.
type envelope struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Audio    string    `json:"audio,omitempty"`
	Final    bool      `json:"final,omitempty"`
	Finished bool      `json:"finished,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Tool     *ToolCall `json:"tool,omitempty"`
}

// WSClient talks to the conversation backend over a websocket, one sender
// and one receiver goroutine per connection.
type WSClient struct {
	url    string
	apiKey string

	mu       sync.Mutex
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	handlers Handlers
	attached bool
	ready    bool
	closing  bool

	sendCh   chan envelope
	sendDone chan struct{}
	recvDone chan struct{}
}

func NewWSClient(url, apiKey string) *WSClient {
	return &WSClient{url: url, apiKey: apiKey}
}

func (c *WSClient) Connect(ctx context.Context, optionalContext string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	h := c.handlers
	c.mu.Unlock()

	if h.Connecting != nil {
		h.Connecting()
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return fmt.Errorf("dialing conversation backend: %w", err)
	}
	conn.SetReadLimit(1 << 22) // audio chunks are large

	c.mu.Lock()
	c.conn = conn
	c.ctx = streamCtx
	c.cancel = cancel
	c.ready = true
	c.closing = false
	c.sendCh = make(chan envelope, sendQueueDepth)
	c.sendDone = make(chan struct{})
	c.recvDone = make(chan struct{})
	c.mu.Unlock()

	go c.runSender(streamCtx, conn, c.sendCh, c.sendDone)
	go c.runReceiver()

	if optionalContext != "" {
		c.enqueue(envelope{Type: "context", Text: optionalContext})
	}
	c.emit(func(h Handlers) {
		if h.Connected != nil {
			h.Connected()
		}
	})
	return nil
}

func (c *WSClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.ready = false
	c.conn = nil
	cancel := c.cancel
	sendDone := c.sendDone
	recvDone := c.recvDone
	c.mu.Unlock()

	// Cancel first: the sender exits on ctx.Done even mid-Write, so a stalled
	// frame can never hang the teardown. The queue channel is never closed;
	// late producers park an envelope in the buffer and it is dropped.
	cancel()
	select {
	case <-sendDone:
	case <-time.After(2 * time.Second):
		log.Warn("conversation sender drain timeout")
	}
	conn.Close(websocket.StatusNormalClosure, "")
	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("conversation receiver drain timeout")
	}
}

func (c *WSClient) SendAudio(b64PCM string) error {
	return c.enqueue(envelope{Type: "audio", Audio: b64PCM})
}

func (c *WSClient) SendAudioEnd() error {
	return c.enqueue(envelope{Type: "audio_end"})
}

func (c *WSClient) SendText(text string) error {
	return c.enqueue(envelope{Type: "text", Text: text})
}

func (c *WSClient) InjectContext(text string) error {
	return c.enqueue(envelope{Type: "context", Text: text})
}

func (c *WSClient) StartConversation() error {
	return c.enqueue(envelope{Type: "start"})
}

func (c *WSClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Healthy pings the backend and reports whether it answered in time.
func (c *WSClient) Healthy() bool {
	c.mu.Lock()
	conn := c.conn
	parent := c.ctx
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()
	return conn.Ping(ctx) == nil
}

func (c *WSClient) DetachHandlers() {
	c.mu.Lock()
	c.handlers = Handlers{}
	c.attached = false
	c.mu.Unlock()
}

func (c *WSClient) ReattachHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.attached = true
	c.mu.Unlock()
}

func (c *WSClient) enqueue(env envelope) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return fmt.Errorf("conversation channel not ready")
	}
	sendCh := c.sendCh
	ctx := c.ctx
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("conversation channel closed")
	case sendCh <- env:
		return nil
	default:
		return fmt.Errorf("conversation send queue full")
	}
}

func (c *WSClient) runSender(ctx context.Context, conn *websocket.Conn, sendCh chan envelope, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sendCh:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *WSClient) runReceiver() {
	defer close(c.recvDone)
	for {
		c.mu.Lock()
		conn := c.conn
		ctx := c.ctx
		closing := c.closing
		c.mu.Unlock()
		if conn == nil || closing {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				return
			}
			c.fail(err)
			c.emit(func(h Handlers) {
				if h.Disconnected != nil {
					h.Disconnected(err.Error())
				}
			})
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("conversation: bad frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *WSClient) dispatch(env envelope) {
	c.emit(func(h Handlers) {
		switch env.Type {
		case "audio":
			if h.AudioChunk != nil {
				h.AudioChunk(env.Audio)
			}
		case "audio_end":
			if h.AudioEnd != nil {
				h.AudioEnd()
			}
		case "user_transcript":
			if h.UserTranscript != nil {
				h.UserTranscript(env.Text, env.Final)
			}
		case "model_transcript":
			if h.ModelTranscript != nil {
				h.ModelTranscript(env.Text, env.Finished)
			}
		case "thinking":
			if h.ModelThinking != nil {
				h.ModelThinking(env.Text)
			}
		case "turn_complete":
			if h.TurnComplete != nil {
				h.TurnComplete()
			}
		case "interrupted":
			if h.Interrupted != nil {
				h.Interrupted()
			}
		case "silence":
			if h.SilenceChosen != nil {
				h.SilenceChosen(env.Reason)
			}
		case "speech_start":
			if h.UserSpeechStart != nil {
				h.UserSpeechStart()
			}
		case "speech_end":
			if h.UserSpeechEnd != nil {
				h.UserSpeechEnd()
			}
		case "tool":
			if env.Tool != nil && h.Widget != nil {
				h.Widget(*env.Tool)
			}
		case "disconnect":
			if h.Disconnected != nil {
				h.Disconnected(env.Reason)
			}
		default:
			log.Warnf("conversation: unknown event type %q", env.Type)
		}
	})
}

func (c *WSClient) emit(fn func(Handlers)) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	fn(h)
}

func (c *WSClient) fail(err error) {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.emit(func(h Handlers) {
		if h.Error != nil {
			h.Error(err)
		}
	})
}
