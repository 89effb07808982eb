package encoder

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type WAVEncoder struct {
	out         memFile
	enc         *wav.Encoder
	format      *audio.Format
	totalFrames uint64
	closed      bool
	mu          sync.Mutex
}

func NewWAV(sampleRate int) *WAVEncoder {
	e := &WAVEncoder{
		format: &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
	}
	e.enc = wav.NewEncoder(&e.out, sampleRate, BitsPerSample, Channels, 1)
	return e
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("wav encoder closed")
	}

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav block: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close patches the RIFF and data chunk sizes. A capture with no frames still
// yields a valid 44-byte header.
func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.totalFrames == 0 {
		empty := &audio.IntBuffer{Format: e.format, Data: []int{}, SourceBitDepth: BitsPerSample}
		if err := e.enc.Write(empty); err != nil {
			return fmt.Errorf("writing wav header: %w", err)
		}
	}
	return e.enc.Close()
}

func (e *WAVEncoder) Bytes() []byte       { return e.out.buf }
func (e *WAVEncoder) TotalFrames() uint64 { return e.totalFrames }
func (e *WAVEncoder) MIMEType() string    { return "audio/wav" }

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to patch
// chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
