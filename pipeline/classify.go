package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime"
	"strings"

	"talkback/log"
)

const (
	contentJSON   = "application/json"
	contentOctets = "application/octet-stream"

	// TextHeader carries the caption of a raw audio reply.
	TextHeader = "text"
)

// BlobStore turns raw reply bytes into a transient URL.
type BlobStore interface {
	Put(data []byte, mimeType string) (string, error)
}

type path int

const (
	pathUnsupported path = iota
	pathJSON
	pathAudio
)

// mediaType lowercases the declared content type and strips its parameters.
// Unparsable values are returned trimmed and lowercased so they still show up
// in the UnsupportedContentType message.
func mediaType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = declared[:i]
		}
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}

func selectPath(mt string) path {
	switch {
	case mt == contentJSON:
		return pathJSON
	case strings.HasPrefix(mt, "audio/"), mt == contentOctets:
		return pathAudio
	}
	return pathUnsupported
}

// Classify normalizes a successful (2xx) reply into a Message. store may be
// nil, in which case raw audio replies are kept inline.
func Classify(env *Envelope, store BlobStore) (*Message, *Error) {
	mt := mediaType(env.ContentType)
	switch selectPath(mt) {
	case pathJSON:
		return classifyJSON(env.Body)
	case pathAudio:
		return classifyAudio(env, mt, store)
	}
	return nil, newUnsupportedContentType(env.ContentType)
}

type jsonReply struct {
	Error json.RawMessage `json:"error"`
	Text  json.RawMessage `json:"text"`
	Audio audioField      `json:"audio"`
}

// audioField resolves the two accepted audio encodings at parse time:
// a bare base64 string (legacy, always WAV) or {"base64", "mimeType"}.
// Anything else leaves src nil, meaning the reply has no usable audio.
type audioField struct {
	src *InlineAudio
}

func (a *audioField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		a.src = inlineFromBase64(s, MIMEWav)
	case '{':
		var obj struct {
			Base64   *string `json:"base64"`
			MIMEType string  `json:"mimeType"`
		}
		if err := json.Unmarshal(b, &obj); err != nil || obj.Base64 == nil {
			return nil
		}
		mimeType := strings.TrimSpace(obj.MIMEType)
		if mimeType == "" {
			mimeType = MIMEMpeg
		}
		a.src = inlineFromBase64(*obj.Base64, mimeType)
	}
	return nil
}

func inlineFromBase64(s, mimeType string) *InlineAudio {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil
		}
	}
	if len(data) == 0 {
		return nil
	}
	return &InlineAudio{Data: data, MIMEType: mimeType}
}

// nonEmptyString reports the string value of raw, treating null, non-string
// values and "" as absent.
func nonEmptyString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// remoteErrorMessage treats null, false, zero and the empty string as no error.
func remoteErrorMessage(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		return nonEmptyString(raw)
	}
	if bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil && n == 0 {
		return "", false
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw), true
	}
	return compact.String(), true
}

// isBlankLiteral reports a top-level null or a string holding only whitespace.
func isBlankLiteral(value json.RawMessage) bool {
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return true
	}
	if value[0] != '"' {
		return false
	}
	var s string
	return json.Unmarshal(value, &s) == nil && strings.TrimSpace(s) == ""
}

var utf8BOM = []byte("\xef\xbb\xbf")

func classifyJSON(body []byte) (*Message, *Error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 {
		return nil, newEmptyResponse()
	}

	var value json.RawMessage
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, newMalformedResponse(err)
	}

	if value[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, newMalformedResponse(err)
		}
		if len(items) == 0 {
			return nil, newEmptyResponse()
		}
		if len(items) > 1 {
			log.Warnf("json reply carried %d items, using the first", len(items))
		}
		value = bytes.TrimSpace(items[0])
	}

	if isBlankLiteral(value) {
		return nil, newEmptyResponse()
	}

	if len(value) == 0 || value[0] != '{' {
		return nil, newInvalidFormat()
	}

	var r jsonReply
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, newMalformedResponse(err)
	}

	if msg, ok := remoteErrorMessage(r.Error); ok {
		return nil, newRemoteError(msg)
	}

	text, hasText := nonEmptyString(r.Text)
	var audio AudioSource
	if r.Audio.src != nil {
		audio = *r.Audio.src
	}

	if !hasText && audio == nil {
		return nil, newInvalidFormat()
	}
	return &Message{Text: text, HasText: hasText, Audio: audio}, nil
}

func classifyAudio(env *Envelope, mt string, store BlobStore) (*Message, *Error) {
	if len(env.Body) == 0 {
		return nil, newEmptyResponse()
	}

	msg := &Message{}
	if text := strings.TrimSpace(env.Header.Get(TextHeader)); text != "" {
		msg.Text = text
		msg.HasText = true
	}

	if store != nil {
		url, err := store.Put(env.Body, mt)
		if err == nil {
			msg.Audio = BlobAudio{URL: url, MIMEType: mt}
			return msg, nil
		}
		log.Warnf("blob store put failed, keeping reply inline: %v", err)
	}
	msg.Audio = InlineAudio{Data: env.Body, MIMEType: mt}
	return msg, nil
}
