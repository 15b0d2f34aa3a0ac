package capture

import "time"

const (
	TickInterval        = 100 * time.Millisecond
	silenceWarnEvery    = 8 * time.Second
	silenceAutoCloseDur = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // repeat prompt (every 8s)
	SilenceAutoClose              // 30s dead air, end the check-in
)

// SilenceMonitor watches the listening state for dead air. autoEnd gates
// whether prolonged silence ends the session (it should not while the
// assistant holds the floor).
type SilenceMonitor struct {
	warnAt   int
	windowSz int

	autoEnd func() bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastPrompt  int
}

func NewSilenceMonitor(autoEnd func() bool) *SilenceMonitor {
	warnAt := int(silenceWarnEvery / TickInterval)
	windowSz := int(silenceAutoCloseDur / TickInterval)
	return &SilenceMonitor{
		warnAt:   warnAt,
		windowSz: windowSz,
		autoEnd:  autoEnd,
		window:   make([]bool, windowSz),
	}
}

func (m *SilenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *SilenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	// Warn: 8s window below threshold
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastPrompt = m.ticks
		return SilenceWarn
	}
	// Clear: speech ratio above clear threshold
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoEnd() {
		return SilenceNone
	}

	// Auto-close: 30s window below threshold (checked before repeat)
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoClose
	}

	// Repeat prompt every 8s
	if m.warned && m.ticks-m.lastPrompt >= m.warnAt {
		m.lastPrompt = m.ticks
		return SilenceRepeat
	}

	return SilenceNone
}

func (m *SilenceMonitor) Reset() {
	m.ticks = 0
	m.speechCount = 0
	m.warned = false
	m.lastPrompt = 0
	for i := range m.window {
		m.window[i] = false
	}
}
