package capture

import "testing"

func TestFrameRingBounded(t *testing.T) {
	r := NewFrameRing(10)
	for i := 0; i < 100; i++ {
		r.Append([]float32{float32(i)})
	}
	if r.Len() != 10 {
		t.Fatalf("len = %d, want 10", r.Len())
	}
	samples := r.Drain()
	if len(samples) != 10 {
		t.Fatalf("drained %d samples, want 10", len(samples))
	}
	// oldest retained frame is 90
	if samples[0] != 90 || samples[9] != 99 {
		t.Errorf("retained window = [%v..%v], want [90..99]", samples[0], samples[9])
	}
}

func TestFrameRingDrainClears(t *testing.T) {
	r := NewFrameRing(4)
	r.Append([]float32{1, 2})
	r.Append([]float32{3})
	got := r.Drain()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("drain = %v", got)
	}
	if r.Len() != 0 {
		t.Error("ring not cleared")
	}
	if len(r.Drain()) != 0 {
		t.Error("second drain not empty")
	}
}

func TestFrameRingCompaction(t *testing.T) {
	r := NewFrameRing(8)
	// push far past the compaction point; backing array must stay bounded
	for i := 0; i < 10000; i++ {
		r.Append([]float32{float32(i)})
	}
	if r.Len() != 8 {
		t.Fatalf("len = %d, want 8", r.Len())
	}
	if cap(r.frames) > 64 {
		t.Errorf("backing array grew to %d frames", cap(r.frames))
	}
	samples := r.Drain()
	if samples[len(samples)-1] != 9999 {
		t.Errorf("newest sample = %v, want 9999", samples[len(samples)-1])
	}
}
