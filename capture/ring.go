package capture

import "sync"

// FrameRing holds the most recent capture frames for utterance-level
// acoustic analysis. Appends are O(1) amortized; the backing array is
// compacted lazily so dropping old frames never reallocates per frame.
type FrameRing struct {
	mu     sync.Mutex
	frames [][]float32
	start  int
	limit  int
}

func NewFrameRing(limit int) *FrameRing {
	return &FrameRing{limit: limit}
}

func (r *FrameRing) Append(frame []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, frame)
	if len(r.frames)-r.start > r.limit {
		r.frames[r.start] = nil
		r.start++
	}
	// Compact once the dead prefix dominates the backing array.
	if r.start > r.limit {
		n := copy(r.frames, r.frames[r.start:])
		for i := n; i < len(r.frames); i++ {
			r.frames[i] = nil
		}
		r.frames = r.frames[:n]
		r.start = 0
	}
}

func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.start
}

// Drain returns all buffered samples concatenated in order and clears the
// ring.
func (r *FrameRing) Drain() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, f := range r.frames[r.start:] {
		total += len(f)
	}
	out := make([]float32, 0, total)
	for _, f := range r.frames[r.start:] {
		out = append(out, f...)
	}
	r.frames = nil
	r.start = 0
	return out
}
