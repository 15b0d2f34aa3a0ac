package analyzer

import "strings"

// RuleDetector flags utterances whose words claim one state while the
// voice metrics point at another. It only fires on explicit self-report
// ("I'm fine", "doing great") so neutral chatter never trips it.
type RuleDetector struct {
	// MinConfidence below which a divergence is reported as not detected.
	MinConfidence float64
}

func NewRuleDetector() *RuleDetector {
	return &RuleDetector{MinConfidence: 0.55}
}

var positiveClaims = []string{
	"fine", "good", "great", "okay", "ok", "alright", "well",
	"relaxed", "calm", "rested", "fantastic", "wonderful", "no problem",
	"nothing's wrong", "all good",
}

var negativeClaims = []string{
	"tired", "exhausted", "stressed", "anxious", "overwhelmed",
	"terrible", "awful", "bad", "sad", "worried", "burned out", "drained",
}

func (d *RuleDetector) Detect(transcript string, features Features, metrics Metrics) MismatchResult {
	text := strings.ToLower(transcript)

	claim := ""
	for _, w := range negativeClaims {
		if strings.Contains(text, w) {
			// Words already admit distress; nothing to surface.
			return MismatchResult{UserSaying: transcript}
		}
	}
	for _, w := range positiveClaims {
		if strings.Contains(text, w) {
			claim = w
			break
		}
	}
	if claim == "" {
		return MismatchResult{UserSaying: transcript}
	}

	signal, feeling, strength := dominantSignal(metrics)
	if strength < 0.6 {
		return MismatchResult{UserSaying: transcript}
	}

	conf := clamp01((strength - 0.6) / 0.4)
	res := MismatchResult{
		Detected:       conf >= d.MinConfidence,
		Confidence:     conf,
		Reason:         "self-reported \"" + claim + "\" while voice reads " + feeling,
		UserFeeling:    feeling,
		UserSaying:     transcript,
		AcousticSignal: signal,
	}
	if !res.Detected {
		res.Confidence = 0
	}
	return res
}

func dominantSignal(m Metrics) (signal, feeling string, strength float64) {
	signal, feeling, strength = "elevated stress markers", "stressed", m.Stress
	if m.Fatigue > strength {
		signal, feeling, strength = "flat energy and slow pacing", "fatigued", m.Fatigue
	}
	if inst := 1 - m.Stability; inst > strength {
		signal, feeling, strength = "unsteady pitch", "shaky", inst
	}
	return signal, feeling, strength
}
