package analyzer

import "sync"

// Fake is a scriptable analyzer for tests.
type Fake struct {
	mu        sync.Mutex
	features  Features
	metrics   Metrics
	mismatch  MismatchResult
	procErr   error
	calls     int
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) SetFeatures(feat Features)       { f.mu.Lock(); f.features = feat; f.mu.Unlock() }
func (f *Fake) SetMetrics(m Metrics)            { f.mu.Lock(); f.metrics = m; f.mu.Unlock() }
func (f *Fake) SetMismatch(m MismatchResult)    { f.mu.Lock(); f.mismatch = m; f.mu.Unlock() }
func (f *Fake) SetProcessError(err error)       { f.mu.Lock(); f.procErr = err; f.mu.Unlock() }

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) ProcessAudio(samples []float32, opts ProcessOptions) (Features, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.procErr != nil {
		return Features{}, f.procErr
	}
	feat := f.features
	if feat.SampleRate == 0 {
		feat.SampleRate = opts.SampleRate
	}
	if feat.DurationS == 0 && opts.SampleRate > 0 {
		feat.DurationS = float64(len(samples)) / float64(opts.SampleRate)
	}
	return feat, nil
}

func (f *Fake) AnalyzeVoiceMetrics(features Features) (Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics, nil
}

func (f *Fake) Detect(transcript string, features Features, metrics Metrics) MismatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mismatch
}
