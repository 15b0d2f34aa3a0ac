// Package analyzer is the boundary to the on-device acoustic analysis
// engine. The feature math lives outside this repository; the session core
// consumes it as a black box.
package analyzer

// Features are utterance-level acoustic features extracted from raw PCM.
type Features struct {
	SampleRate int
	DurationS  float64
	RMSEnergy  float64
	PitchHz    float64
	PitchVar   float64
	SpeechRate float64
	VoicedPct  float64
}

// Metrics are higher-level voice signals derived from Features.
type Metrics struct {
	Stress    float64 // 0..1
	Fatigue   float64 // 0..1
	Arousal   float64 // 0..1
	Stability float64 // 0..1
}

// MismatchResult reports a divergence between words and vocal tone.
type MismatchResult struct {
	Detected       bool
	Confidence     float64
	Reason         string
	UserFeeling    string
	UserSaying     string
	AcousticSignal string
}

type ProcessOptions struct {
	SampleRate int
	EnableVAD  bool
}

type Analyzer interface {
	ProcessAudio(samples []float32, opts ProcessOptions) (Features, error)
	AnalyzeVoiceMetrics(features Features) (Metrics, error)
}

// DetectMismatch compares transcript sentiment cues against metrics. The
// real model lives behind the Analyzer boundary; this wrapper only shapes
// its output into a MismatchResult.
type MismatchDetector interface {
	Detect(transcript string, features Features, metrics Metrics) MismatchResult
}
