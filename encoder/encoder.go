package encoder

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Encoder compresses session audio for archival on the finalized session
// record. Blocks are 16-bit mono PCM at SampleRate.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

// New returns the encoder for the given archival format ("flac" or "wav").
func New(format string) (Encoder, error) {
	switch format {
	case "flac":
		return NewFlac()
	case "wav":
		return NewWav(), nil
	default:
		return nil, &UnknownFormatError{Format: format}
	}
}

type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return "unknown archival format " + e.Format + " (use flac or wav)"
}
