package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanesla/kanari-sub001/analyzer"
	"github.com/seanesla/kanari-sub001/encoder"
	"github.com/seanesla/kanari-sub001/transcript"
)

// Record is the finalized account of one check-in session.
type Record struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time

	Messages      []transcript.Message
	MismatchCount int
	LatestMismatch *analyzer.MismatchResult

	// AggregateMetrics is the best-effort whole-session analysis computed
	// during teardown.
	AggregateMetrics *analyzer.Metrics

	// Audio is the raw session PCM when recording was enabled.
	Audio      []int16
	SampleRate int
}

func newRecord() *Record {
	return &Record{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// ArchiveAudio encodes the session audio for storage. Format is "flac" or
// "wav".
func (r *Record) ArchiveAudio(format string) ([]byte, error) {
	if len(r.Audio) == 0 {
		return nil, fmt.Errorf("no session audio recorded")
	}
	enc, err := encoder.New(format)
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(r.Audio); off += encoder.BlockSize {
		end := off + encoder.BlockSize
		if end > len(r.Audio) {
			end = len(r.Audio)
		}
		if err := enc.EncodeBlock(r.Audio[off:end]); err != nil {
			return nil, fmt.Errorf("encoding session audio: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finishing session audio: %w", err)
	}
	return enc.Bytes(), nil
}

// DurationS is the session length in seconds, zero until finalized.
func (r *Record) DurationS() float64 {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt).Seconds()
}
