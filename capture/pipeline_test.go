package capture

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync"
	"testing"
)

// frameOfLevel builds one 2048-sample frame whose RMS maps to roughly the
// given normalized level (level = rms * 4).
func frameOfLevel(level float64) []byte {
	amp := level / levelScale * 32768 * math.Sqrt2
	buf := make([]byte, frameBytes)
	for i := 0; i < FrameSamples; i++ {
		s := int16(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func silentFrame() []byte {
	return make([]byte, frameBytes)
}

func newTestPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		ring:    NewFrameRing(RingFrames),
		bargein: newBargeInDetector(BargeInThreshold, BargeInFrames),
	}
	return p
}

func TestFramingAndSink(t *testing.T) {
	var mu sync.Mutex
	var sunk []string
	p := newTestPipeline(Config{
		Sink: func(b64 string) {
			mu.Lock()
			sunk = append(sunk, b64)
			mu.Unlock()
		},
	})

	// Feed 2.5 frames of data in odd-sized chunks; expect exactly 2 frames.
	data := make([]byte, frameBytes*5/2)
	for sent := 0; sent < len(data); {
		n := min(777, len(data)-sent)
		p.onData(data[sent:sent+n], uint32(n/2))
		sent += n
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sunk) != 2 {
		t.Fatalf("sink received %d frames, want 2", len(sunk))
	}
	decoded, err := base64.StdEncoding.DecodeString(sunk[0])
	if err != nil {
		t.Fatalf("sink output not base64: %v", err)
	}
	if len(decoded) != frameBytes {
		t.Errorf("frame size = %d, want %d", len(decoded), frameBytes)
	}
}

func TestLevelComputation(t *testing.T) {
	p := newTestPipeline(Config{})
	p.onData(frameOfLevel(0.5), FrameSamples)
	got := p.Level()
	if got < 0.35 || got > 0.65 {
		t.Errorf("level = %.3f, want near 0.5", got)
	}

	p.onData(silentFrame(), FrameSamples)
	if got := p.Level(); got > 0.01 {
		t.Errorf("silent level = %.3f, want ~0", got)
	}
}

func TestLevelClamped(t *testing.T) {
	p := newTestPipeline(Config{})
	loud := make([]byte, frameBytes)
	for i := 0; i < FrameSamples; i++ {
		v := int16(32767)
		if i%2 == 1 {
			v = -32767
		}
		binary.LittleEndian.PutUint16(loud[i*2:], uint16(v))
	}
	p.onData(loud, FrameSamples)
	if got := p.Level(); got > 1.0 {
		t.Errorf("level = %.3f, want clamped to 1.0", got)
	}
}

func TestBargeInFiresOncePerTurn(t *testing.T) {
	speaking := true
	fired := 0
	p := newTestPipeline(Config{
		AssistantSpeaking: func() bool { return speaking },
		OnBargeIn:         func() { fired++ },
	})

	loud := frameOfLevel(0.5)

	// one loud frame is not enough
	p.onData(loud, FrameSamples)
	if fired != 0 {
		t.Fatal("fired after a single loud frame")
	}
	// second consecutive loud frame fires
	p.onData(loud, FrameSamples)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	// further loud frames in the same turn stay latched
	for i := 0; i < 10; i++ {
		p.onData(loud, FrameSamples)
	}
	if fired != 1 {
		t.Fatalf("fired = %d after latch, want 1", fired)
	}

	// assistant stops then speaks again: latch resets
	speaking = false
	p.onData(silentFrame(), FrameSamples)
	speaking = true
	p.onData(loud, FrameSamples)
	p.onData(loud, FrameSamples)
	if fired != 2 {
		t.Fatalf("fired = %d after new turn, want 2", fired)
	}
}

func TestBargeInInactiveWhileAssistantSilent(t *testing.T) {
	fired := 0
	p := newTestPipeline(Config{
		AssistantSpeaking: func() bool { return false },
		OnBargeIn:         func() { fired++ },
	})
	loud := frameOfLevel(0.8)
	for i := 0; i < 20; i++ {
		p.onData(loud, FrameSamples)
	}
	if fired != 0 {
		t.Fatalf("barge-in fired %d times while assistant silent", fired)
	}
}

func TestBargeInResetByQuietFrame(t *testing.T) {
	fired := 0
	p := newTestPipeline(Config{
		AssistantSpeaking: func() bool { return true },
		OnBargeIn:         func() { fired++ },
	})
	loud := frameOfLevel(0.5)
	// loud, quiet, loud: run never reaches 2
	p.onData(loud, FrameSamples)
	p.onData(silentFrame(), FrameSamples)
	p.onData(loud, FrameSamples)
	if fired != 0 {
		t.Fatal("barge-in fired without consecutive loud frames")
	}
}

func TestDrainUtterance(t *testing.T) {
	p := newTestPipeline(Config{})
	p.onData(frameOfLevel(0.3), FrameSamples)
	p.onData(frameOfLevel(0.3), FrameSamples)

	samples := p.DrainUtterance()
	if len(samples) != FrameSamples*2 {
		t.Fatalf("drained %d samples, want %d", len(samples), FrameSamples*2)
	}
	if len(p.DrainUtterance()) != 0 {
		t.Error("second drain should be empty")
	}
}

func TestSessionRecording(t *testing.T) {
	p := newTestPipeline(Config{RecordSession: true})
	p.onData(frameOfLevel(0.2), FrameSamples)
	p.onData(frameOfLevel(0.2), FrameSamples)
	if got := len(p.SessionSamples()); got != FrameSamples*2 {
		t.Errorf("session samples = %d, want %d", got, FrameSamples*2)
	}
}

func TestCloseIdempotent(t *testing.T) {
	p := newTestPipeline(Config{})
	p.Close()
	p.Close()
	// data after close is dropped
	p.onData(frameOfLevel(0.5), FrameSamples)
	if p.Level() != 0 {
		t.Error("frame processed after close")
	}
}
