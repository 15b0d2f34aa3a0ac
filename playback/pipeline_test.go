package playback

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/seanesla/kanari-sub001/audio"
)

type events struct {
	mu      sync.Mutex
	playing int
	drained int
}

func (e *events) onPlaying() { e.mu.Lock(); e.playing++; e.mu.Unlock() }
func (e *events) onDrained() { e.mu.Lock(); e.drained++; e.mu.Unlock() }

func (e *events) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing, e.drained
}

func newTestPipeline(t *testing.T) (*Pipeline, *audio.FakePlayback, *events) {
	t.Helper()
	ctx := audio.NewSilentFakeContext()
	ev := &events{}
	p := New(ctx, Config{OnPlaying: ev.onPlaying, OnDrained: ev.onDrained})
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	pbs := ctx.Playbacks()
	if len(pbs) != 1 {
		t.Fatalf("playback devices = %d, want 1", len(pbs))
	}
	return p, pbs[0], ev
}

func waitDrained(t *testing.T, ev *events, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, d := ev.counts(); d == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	_, d := ev.counts()
	t.Fatalf("drained = %d, want %d", d, want)
}

func TestInitIdempotent(t *testing.T) {
	ctx := audio.NewSilentFakeContext()
	p := New(ctx, Config{})
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	if got := len(ctx.Playbacks()); got != 1 {
		t.Fatalf("devices acquired = %d, want 1", got)
	}
	p.Close()
}

func TestPlayingTransition(t *testing.T) {
	p, _, ev := newTestPipeline(t)
	defer p.Close()

	if p.Playing() {
		t.Fatal("playing before enqueue")
	}
	p.Enqueue(make([]byte, 64))
	if !p.Playing() {
		t.Fatal("not playing after enqueue")
	}
	playing, _ := ev.counts()
	if playing != 1 {
		t.Fatalf("onPlaying fired %d times, want 1", playing)
	}
	// second chunk while already playing does not re-fire
	p.Enqueue(make([]byte, 64))
	playing, _ = ev.counts()
	if playing != 1 {
		t.Fatalf("onPlaying fired %d times after second enqueue, want 1", playing)
	}
}

func TestDrainFiresPlaybackEnd(t *testing.T) {
	p, dev, ev := newTestPipeline(t)
	defer p.Close()

	p.Enqueue([]byte{1, 2, 3, 4})
	out := dev.Pull(8)
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("pulled %v, want data then silence", out[:4])
	}
	waitDrained(t, ev, 1)
	if p.Playing() {
		t.Error("still playing after drain")
	}
}

func TestClearSuppressesStaleDrain(t *testing.T) {
	p, dev, ev := newTestPipeline(t)
	defer p.Close()

	p.Enqueue(make([]byte, 4))
	// drain decision happens inside Pull; Clear races ahead of the
	// notification and must win
	p.mu.Lock()
	p.queue = nil
	p.playing = false
	gen := p.gen
	p.gen++
	p.mu.Unlock()

	p.notifyDrained(gen)
	time.Sleep(10 * time.Millisecond)
	if _, d := ev.counts(); d != 0 {
		t.Fatalf("stale drain fired %d times after Clear", d)
	}
	_ = dev
}

func TestClearZeroesQueueImmediately(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	defer p.Close()

	p.Enqueue(make([]byte, 64))
	p.Enqueue(make([]byte, 64))
	p.Clear()
	if p.QueueLen() != 0 {
		t.Fatal("queue not cleared")
	}
	if p.Playing() {
		t.Fatal("still playing after clear")
	}
}

func TestEnqueueBase64(t *testing.T) {
	p, dev, _ := newTestPipeline(t)
	defer p.Close()

	pcm := []byte{9, 8, 7, 6}
	if err := p.EnqueueBase64(base64.StdEncoding.EncodeToString(pcm)); err != nil {
		t.Fatal(err)
	}
	out := dev.Pull(4)
	for i := range pcm {
		if out[i] != pcm[i] {
			t.Fatalf("pulled %v, want %v", out, pcm)
		}
	}

	if err := p.EnqueueBase64("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestPullSpansChunks(t *testing.T) {
	p, dev, _ := newTestPipeline(t)
	defer p.Close()

	p.Enqueue([]byte{1, 2})
	p.Enqueue([]byte{3, 4, 5})
	out := dev.Pull(5)
	for i, want := range []byte{1, 2, 3, 4, 5} {
		if out[i] != want {
			t.Fatalf("pulled %v", out)
		}
	}
	if p.BufferedBytes() != 0 {
		t.Errorf("buffered = %d, want 0", p.BufferedBytes())
	}
}

func TestCloseIdempotentAndReleasesDevice(t *testing.T) {
	p, dev, _ := newTestPipeline(t)
	p.Close()
	p.Close()
	if !dev.Closed() {
		t.Error("device not closed")
	}
	if err := p.Init(); err == nil {
		t.Error("Init after Close should fail")
	}
}
