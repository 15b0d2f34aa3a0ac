package capture

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/seanesla/kanari-sub001/audio"
	"github.com/seanesla/kanari-sub001/encoder"
	"github.com/seanesla/kanari-sub001/log"
)

const (
	// FrameSamples is the fixed frame size forwarded to the conversation
	// channel: 2048 samples at 16 kHz, 128 ms.
	FrameSamples = 2048
	frameBytes   = FrameSamples * 2

	// RingFrames bounds the utterance buffer at roughly 10 s of audio.
	RingFrames = 1000

	levelScale    = 4.0
	levelInterval = 60 * time.Millisecond
)

// Config wires the pipeline's outputs. Callbacks fire on the audio thread
// and must only enqueue; blocking on network or storage here stalls capture.
type Config struct {
	Device *audio.DeviceInfo

	// Sink receives each frame as base64 16-bit PCM.
	Sink func(b64 string)
	// OnLevel receives throttled level updates in [0,1].
	OnLevel func(level float64)
	// OnBargeIn fires at most once per assistant turn.
	OnBargeIn func()
	// AssistantSpeaking reports whether barge-in detection is armed.
	AssistantSpeaking func() bool

	// RecordSession keeps the full session PCM for archival.
	RecordSession bool
}

// Pipeline frames microphone audio, meters it, buffers recent frames for
// acoustic analysis, and runs local barge-in detection.
type Pipeline struct {
	ctx audio.Context
	cfg Config

	mu       sync.Mutex
	dev      audio.CaptureDevice
	started  bool
	closed   bool
	pending  []byte
	level    float64
	lastSent time.Time
	session  []int16

	ring    *FrameRing
	vad     *vadProcessor
	bargein *bargeInDetector
}

func New(ctx audio.Context, cfg Config) *Pipeline {
	p := &Pipeline{
		ctx:     ctx,
		cfg:     cfg,
		ring:    NewFrameRing(RingFrames),
		bargein: newBargeInDetector(BargeInThreshold, BargeInFrames),
	}
	if vp, err := newVADProcessor(); err == nil {
		p.vad = vp
	} else {
		log.Warnf("vad unavailable: %v", err)
	}
	return p
}

// Start acquires the microphone and begins framing. Acquisition failures are
// returned as *audio.DeviceError with a stable code and actionable message.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return nil
	}

	dev, err := p.ctx.NewCapture(p.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return audio.ClassifyError(err)
	}
	dev.SetCallback(p.onData)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return audio.ClassifyError(err)
	}

	p.dev = dev
	p.started = true
	return nil
}

func (p *Pipeline) onData(data []byte, _ uint32) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, data...)

	var frames [][]byte
	for len(p.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, p.pending[:frameBytes])
		p.pending = p.pending[frameBytes:]
		frames = append(frames, frame)
	}
	p.mu.Unlock()

	for _, frame := range frames {
		p.processFrame(frame)
	}
}

func (p *Pipeline) processFrame(frame []byte) {
	samples := make([]float32, FrameSamples)
	var sumSq float64
	for i := 0; i < FrameSamples; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		f := float32(s) / 32768.0
		samples[i] = f
		sumSq += float64(f) * float64(f)
	}
	rms := math.Sqrt(sumSq / FrameSamples)
	level := min(rms*levelScale, 1.0)

	p.ring.Append(samples)
	if p.vad != nil {
		p.vad.Process(frame)
	}

	p.mu.Lock()
	p.level = level
	if p.cfg.RecordSession {
		for i := 0; i < FrameSamples; i++ {
			p.session = append(p.session, int16(binary.LittleEndian.Uint16(frame[i*2:])))
		}
	}
	sendLevel := false
	if p.cfg.OnLevel != nil && time.Since(p.lastSent) >= levelInterval {
		p.lastSent = time.Now()
		sendLevel = true
	}
	fire := p.bargein.Frame(level, p.cfg.AssistantSpeaking != nil && p.cfg.AssistantSpeaking())
	p.mu.Unlock()

	if p.cfg.Sink != nil {
		p.cfg.Sink(base64.StdEncoding.EncodeToString(frame))
	}
	if sendLevel {
		p.cfg.OnLevel(level)
	}
	if fire && p.cfg.OnBargeIn != nil {
		p.cfg.OnBargeIn()
	}
}

// Level returns the most recent frame level.
func (p *Pipeline) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// DrainUtterance returns and clears the buffered utterance samples.
func (p *Pipeline) DrainUtterance() []float32 {
	return p.ring.Drain()
}

// ResetUtterance clears per-utterance buffers at user speech start.
func (p *Pipeline) ResetUtterance() {
	p.ring.Drain()
	if p.vad != nil {
		p.vad.Reset()
	}
}

// VoiceDetected reports whether the VAD confirmed speech in the current
// utterance. Without a VAD backend it assumes speech.
func (p *Pipeline) VoiceDetected() bool {
	if p.vad == nil {
		return true
	}
	return p.vad.VoiceDetected()
}

// SessionSamples returns the accumulated whole-session PCM.
func (p *Pipeline) SessionSamples() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int16, len(p.session))
	copy(out, p.session)
	return out
}

// Close releases the device. Idempotent; safe to call from any state.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dev := p.dev
	p.dev = nil
	p.started = false
	p.mu.Unlock()

	if dev != nil {
		dev.ClearCallback()
		dev.Stop()
		dev.Close()
	}
}
