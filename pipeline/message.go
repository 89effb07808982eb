package pipeline

import "time"

const (
	// FieldName and FileName describe the single multipart part the webhook expects.
	FieldName = "voice_message"
	FileName  = "audio.wav"

	MIMEWav  = "audio/wav"
	MIMEMpeg = "audio/mpeg"
	MIMEFlac = "audio/flac"
)

// AudioCapture is one finished recording, owned by the pipeline for the
// duration of a single Submit.
type AudioCapture struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// AudioSource is where a reply's audio can be played from. It is either
// InlineAudio (decoded from a JSON reply) or BlobAudio (a raw audio reply
// stored behind a transient URL).
type AudioSource interface {
	MIME() string
	audioSource()
}

type InlineAudio struct {
	Data     []byte
	MIMEType string
}

func (a InlineAudio) MIME() string { return a.MIMEType }
func (InlineAudio) audioSource()   {}

type BlobAudio struct {
	URL      string
	MIMEType string
}

func (a BlobAudio) MIME() string { return a.MIMEType }
func (BlobAudio) audioSource()   {}

// Message is a reply normalized independently of the wire shape it arrived in.
// A successful reply always carries text, audio, or both.
type Message struct {
	Text    string
	HasText bool
	Audio   AudioSource // nil when the reply had no usable audio
}

func (m *Message) HasAudio() bool { return m.Audio != nil }

// State is the per-pipeline request lifecycle.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Status is the user-facing progress line reported to the Notifier.
type Status int

const (
	StatusSending Status = iota
	StatusReceived
	StatusError
	// Reported by playback, not by Submit.
	StatusPlaying
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "Sending message..."
	case StatusReceived:
		return "Response received"
	case StatusError:
		return "Error sending message"
	case StatusPlaying:
		return "Playing response..."
	case StatusComplete:
		return "Response complete"
	}
	return ""
}
