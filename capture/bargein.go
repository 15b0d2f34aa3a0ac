package capture

const (
	// BargeInThreshold is the normalized level a frame must exceed to count
	// as the user talking over the assistant.
	BargeInThreshold = 0.10
	// BargeInFrames is how many consecutive loud frames confirm a barge-in
	// (2 frames at 2048 samples / 16 kHz is roughly 256 ms).
	BargeInFrames = 2
)

// bargeInDetector fires at most once per assistant turn. The latch resets
// whenever assistant speech ends.
type bargeInDetector struct {
	threshold float64
	needed    int

	run     int
	latched bool
}

func newBargeInDetector(threshold float64, needed int) *bargeInDetector {
	if threshold <= 0 {
		threshold = BargeInThreshold
	}
	if needed <= 0 {
		needed = BargeInFrames
	}
	return &bargeInDetector{threshold: threshold, needed: needed}
}

// Frame feeds one level sample. Returns true exactly when the detector
// fires; it only fires while the assistant is speaking.
func (d *bargeInDetector) Frame(level float64, assistantSpeaking bool) bool {
	if !assistantSpeaking {
		d.run = 0
		d.latched = false
		return false
	}
	if level <= d.threshold {
		d.run = 0
		return false
	}
	d.run++
	if d.run >= d.needed && !d.latched {
		d.latched = true
		return true
	}
	return false
}
