package encoder

import (
	"fmt"
	"strings"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	MIMEType() string
}

// New returns an encoder for format at sampleRate (SampleRate when <= 0).
func New(format string, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	switch strings.ToLower(format) {
	case FormatWAV, "":
		return NewWAV(sampleRate), nil
	case FormatFLAC:
		return NewFlac(sampleRate)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
