// Package playback buffers streamed assistant PCM and plays it through the
// audio backend, reporting playing/drained transitions to the orchestrator.
package playback

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/encoder"
)

type Config struct {
	// OnPlaying fires when the queue goes non-empty from idle.
	OnPlaying func()
	// OnDrained fires when playback runs the buffer dry. A Clear between
	// the drain and the callback suppresses it.
	OnDrained func()
}

type Pipeline struct {
	ctx audio.Context
	cfg Config

	mu      sync.Mutex
	dev     audio.PlaybackDevice
	inited  bool
	closed  bool
	queue   [][]byte
	offset  int
	playing bool
	gen     uint64 // bumped by Clear; stale drain signals check it
}

func New(ctx audio.Context, cfg Config) *Pipeline {
	return &Pipeline{ctx: ctx, cfg: cfg}
}

// Init acquires the output device and starts the pull loop. Idempotent: a
// second call while ready is a no-op, so rapid re-entry cannot leave two
// devices alive.
func (p *Pipeline) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("playback pipeline closed")
	}
	if p.inited {
		return nil
	}

	dev, err := p.ctx.NewPlayback(audio.PlaybackConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return audio.ClassifyError(err)
	}
	dev.SetSource(p.pull)
	if err := dev.Start(); err != nil {
		dev.ClearSource()
		dev.Close()
		return audio.ClassifyError(err)
	}

	p.dev = dev
	p.inited = true
	return nil
}

// EnqueueBase64 decodes and buffers one assistant audio chunk.
func (p *Pipeline) EnqueueBase64(b64 string) error {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decoding audio chunk: %w", err)
	}
	p.Enqueue(pcm)
	return nil
}

func (p *Pipeline) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	wasIdle := !p.playing
	p.queue = append(p.queue, pcm)
	p.playing = true
	p.mu.Unlock()

	if wasIdle && p.cfg.OnPlaying != nil {
		p.cfg.OnPlaying()
	}
}

// pull is the device source callback. It only moves bytes; the drained
// notification is dispatched outside the audio path.
func (p *Pipeline) pull(out []byte) int {
	p.mu.Lock()
	filled := 0
	for filled < len(out) && len(p.queue) > 0 {
		head := p.queue[0]
		n := copy(out[filled:], head[p.offset:])
		filled += n
		p.offset += n
		if p.offset >= len(head) {
			p.queue = p.queue[1:]
			p.offset = 0
		}
	}
	drained := p.playing && len(p.queue) == 0 && filled > 0
	gen := p.gen
	if drained {
		p.playing = false
	}
	p.mu.Unlock()

	if drained {
		go p.notifyDrained(gen)
	}
	return filled
}

func (p *Pipeline) notifyDrained(gen uint64) {
	p.mu.Lock()
	stale := gen != p.gen || p.closed
	p.mu.Unlock()
	if stale {
		return
	}
	if p.cfg.OnDrained != nil {
		p.cfg.OnDrained()
	}
}

// Clear empties the queue and flips not-playing before any late drain
// signal can fire a stale playback-end event (barge-in path).
func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.queue = nil
	p.offset = 0
	p.playing = false
	p.gen++
	p.mu.Unlock()
}

func (p *Pipeline) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// BufferedBytes reports how much undelivered PCM is queued.
func (p *Pipeline) BufferedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := -p.offset
	for _, c := range p.queue {
		total += len(c)
	}
	if total < 0 {
		total = 0
	}
	return total
}

func (p *Pipeline) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close releases the output device. Idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.inited = false
	dev := p.dev
	p.dev = nil
	p.queue = nil
	p.playing = false
	p.mu.Unlock()

	if dev != nil {
		dev.ClearSource()
		dev.Stop()
		dev.Close()
	}
}
