package analyzer

import (
	"math"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	baselineFrameMs = 20
	minPitchHz      = 60.0
	maxPitchHz      = 400.0
	voicedRMSFloor  = 0.012
)

// Baseline is a time-domain analyzer good enough to drive the mismatch
// detector without the full acoustic model: per-frame RMS for energy and
// voicing, autocorrelation for pitch, energy onsets as a speech-rate proxy.
type Baseline struct {
	vad *webrtcvad.VAD
}

func NewBaseline() (*Baseline, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(2); err != nil {
		return nil, err
	}
	return &Baseline{vad: v}, nil
}

func (b *Baseline) ProcessAudio(samples []float32, opts ProcessOptions) (Features, error) {
	sr := opts.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	feat := Features{
		SampleRate: sr,
		DurationS:  float64(len(samples)) / float64(sr),
	}
	if len(samples) == 0 {
		return feat, nil
	}

	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	feat.RMSEnergy = math.Sqrt(sumSq / float64(len(samples)))

	frameLen := sr * baselineFrameMs / 1000
	if frameLen == 0 {
		frameLen = len(samples)
	}

	var (
		total, voiced int
		onsets        int
		prevVoiced    bool
		pitches       []float64
	)
	for off := 0; off+frameLen <= len(samples); off += frameLen {
		frame := samples[off : off+frameLen]
		total++

		isVoiced := b.frameVoiced(frame, sr, opts.EnableVAD)
		if isVoiced {
			voiced++
			if !prevVoiced {
				onsets++
			}
			// Pitch needs more context than one frame; use a window
			// around the frame when available.
			end := off + 4*frameLen
			if end > len(samples) {
				end = len(samples)
			}
			if hz := estimatePitch(samples[off:end], sr); hz > 0 {
				pitches = append(pitches, hz)
			}
		}
		prevVoiced = isVoiced
	}

	if total > 0 {
		feat.VoicedPct = float64(voiced) / float64(total)
	}
	if feat.DurationS > 0 {
		feat.SpeechRate = float64(onsets) / feat.DurationS
	}
	if len(pitches) > 0 {
		var sum float64
		for _, p := range pitches {
			sum += p
		}
		mean := sum / float64(len(pitches))
		var varSum float64
		for _, p := range pitches {
			varSum += (p - mean) * (p - mean)
		}
		feat.PitchHz = mean
		feat.PitchVar = math.Sqrt(varSum / float64(len(pitches)))
	}
	return feat, nil
}

func (b *Baseline) frameVoiced(frame []float32, sr int, useVAD bool) bool {
	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))
	if rms < voicedRMSFloor {
		return false
	}
	if !useVAD || b.vad == nil {
		return true
	}
	pcm := make([]byte, len(frame)*2)
	for i, s := range frame {
		v := int16(s * 32767)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	active, err := b.vad.Process(sr, pcm)
	if err != nil {
		return true
	}
	return active
}

// estimatePitch runs normalized autocorrelation over the plausible voice
// lag range and returns 0 when no lag clears the periodicity bar.
func estimatePitch(samples []float32, sr int) float64 {
	minLag := int(float64(sr) / maxPitchHz)
	maxLag := int(float64(sr) / minPitchHz)
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	if energy == 0 {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(samples); i++ {
			corr += float64(samples[i]) * float64(samples[i+lag])
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 || bestCorr < 0.3 {
		return 0
	}
	return float64(sr) / float64(bestLag)
}

func (b *Baseline) AnalyzeVoiceMetrics(f Features) (Metrics, error) {
	// Heuristic mapping; calibrated against conversational speech at rest
	// (pitch ~85..255 Hz, 2..5 onsets/s).
	energy := clamp01(f.RMSEnergy * 8)
	rate := clamp01(f.SpeechRate / 6)
	jitter := clamp01(f.PitchVar / 60)

	m := Metrics{
		Stress:    clamp01(0.45*jitter + 0.35*rate + 0.20*energy),
		Fatigue:   clamp01(0.5*(1-energy) + 0.3*(1-rate) + 0.2*(1-f.VoicedPct)),
		Arousal:   clamp01(0.6*energy + 0.4*rate),
		Stability: clamp01(1 - jitter),
	}
	return m, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
