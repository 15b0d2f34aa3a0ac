package convo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeBackend accepts one websocket, replays scripted server events, and
// records every client frame.
type fakeBackend struct {
	mu       sync.Mutex
	received []envelope
	script   []envelope
}

func (b *fakeBackend) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()

	for _, env := range b.script {
		data, _ := json.Marshal(env)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if json.Unmarshal(data, &env) == nil {
			b.mu.Lock()
			b.received = append(b.received, env)
			b.mu.Unlock()
		}
	}
}

func (b *fakeBackend) frames() []envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]envelope, len(b.received))
	copy(out, b.received)
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWSClientDispatchesEvents(t *testing.T) {
	backend := &fakeBackend{script: []envelope{
		{Type: "model_transcript", Text: "hello", Finished: false},
		{Type: "audio", Audio: "AAAA"},
		{Type: "turn_complete"},
		{Type: "tool", Tool: &ToolCall{ID: "t1", Name: "journal_prompt"}},
	}}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	var mu sync.Mutex
	var transcripts, chunks []string
	turns := 0
	var tools []ToolCall

	c := NewWSClient(wsURL(srv), "test-key")
	c.ReattachHandlers(Handlers{
		ModelTranscript: func(text string, _ bool) {
			mu.Lock()
			transcripts = append(transcripts, text)
			mu.Unlock()
		},
		AudioChunk: func(b64 string) {
			mu.Lock()
			chunks = append(chunks, b64)
			mu.Unlock()
		},
		TurnComplete: func() {
			mu.Lock()
			turns++
			mu.Unlock()
		},
		Widget: func(call ToolCall) {
			mu.Lock()
			tools = append(tools, call)
			mu.Unlock()
		},
	})

	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return turns == 1 && len(tools) == 1
	}, "scripted events")

	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "hello" {
		t.Errorf("transcripts = %v", transcripts)
	}
	if len(chunks) != 1 || chunks[0] != "AAAA" {
		t.Errorf("chunks = %v", chunks)
	}
	if tools[0].Name != "journal_prompt" {
		t.Errorf("tool = %+v", tools[0])
	}
}

func TestWSClientSendsFrames(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	c := NewWSClient(wsURL(srv), "test-key")
	if err := c.Connect(context.Background(), "user prefers short sessions"); err != nil {
		t.Fatal(err)
	}

	if err := c.StartConversation(); err != nil {
		t.Fatal(err)
	}
	if err := c.SendAudio("UElORw=="); err != nil {
		t.Fatal(err)
	}
	if err := c.SendText("hello"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendAudioEnd(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(backend.frames()) >= 5 }, "client frames")
	c.Disconnect()

	types := map[string]int{}
	for _, f := range backend.frames() {
		types[f.Type]++
	}
	for _, want := range []string{"context", "start", "audio", "text", "audio_end"} {
		if types[want] == 0 {
			t.Errorf("backend never received %q frame (got %v)", want, types)
		}
	}
}

// Mic frames keep arriving while the session tears down, so SendAudio must
// tolerate a concurrent Disconnect without panicking.
func TestWSClientSendDuringDisconnect(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	c := NewWSClient(wsURL(srv), "test-key")
	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.SendAudio("UElORw==")
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	c.Disconnect()
	close(stop)
	wg.Wait()

	if err := c.SendAudio("UElORw=="); err == nil {
		t.Error("SendAudio after disconnect should fail")
	}
	if c.Ready() {
		t.Error("ready after disconnect")
	}
}

func TestWSClientNotReady(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:0", "k")
	if err := c.SendText("x"); err == nil {
		t.Error("SendText before connect should fail")
	}
	if c.Ready() {
		t.Error("ready before connect")
	}
	if c.Healthy() {
		t.Error("healthy before connect")
	}
}

func TestWSClientDetachSilencesHandlers(t *testing.T) {
	backend := &fakeBackend{script: []envelope{{Type: "turn_complete"}}}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	var mu sync.Mutex
	turns := 0
	c := NewWSClient(wsURL(srv), "k")
	c.DetachHandlers()
	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := turns
	mu.Unlock()
	if got != 0 {
		t.Errorf("detached handler fired %d times", got)
	}

	c.ReattachHandlers(Handlers{TurnComplete: func() {
		mu.Lock()
		turns++
		mu.Unlock()
	}})
	if !c.Healthy() {
		t.Error("expected healthy live connection")
	}
}
