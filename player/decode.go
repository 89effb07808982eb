package player

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var ErrUnsupported = errors.New("unsupported audio format")

// PCM is interleaved signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	return float64(len(p.Samples)/p.Channels) / float64(p.SampleRate)
}

func (p *PCM) bytes() []byte {
	out := make([]byte, 0, len(p.Samples)*2)
	for _, s := range p.Samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

type codec int

const (
	codecUnknown codec = iota
	codecWAV
	codecMP3
)

func codecFor(mimeType string, head []byte) codec {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return codecWAV
	case "audio/mpeg", "audio/mp3":
		return codecMP3
	}
	// Declared type is generic or wrong; trust the bytes.
	switch {
	case len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return codecWAV
	case len(head) >= 3 && string(head[:3]) == "ID3":
		return codecMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return codecMP3
	}
	return codecUnknown
}

// Decode reads a whole WAV or MP3 stream into PCM.
func Decode(r io.ReadSeeker, mimeType string) (*PCM, error) {
	head := make([]byte, 12)
	n, _ := io.ReadFull(r, head)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch codecFor(mimeType, head[:n]) {
	case codecWAV:
		return decodeWAV(r)
	case codecMP3:
		return decodeMP3(r)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
}

func decodeWAV(r io.ReadSeeker) (*PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, errors.New("wav has no channels")
	}

	depth := int(dec.BitDepth)
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = to16(v, depth)
	}
	return &PCM{Samples: samples, SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}, nil
}

func to16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}

// decodeMP3 always yields stereo; go-mp3 upmixes mono streams.
func decodeMP3(r io.Reader) (*PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("decoding mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding mp3: %w", err)
	}
	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(samples)*2]), binary.LittleEndian, samples); err != nil {
		return nil, err
	}
	return &PCM{Samples: samples, SampleRate: dec.SampleRate(), Channels: 2}, nil
}
