package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
)

type memStore struct {
	puts [][]byte
	err  error
}

func (s *memStore) Put(data []byte, mimeType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, data)
	return "file:///tmp/blob-" + mimeType, nil
}

func jsonEnv(body string) *Envelope {
	return &Envelope{StatusCode: 200, ContentType: "application/json", Body: []byte(body)}
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func mustInline(t *testing.T, m *Message) InlineAudio {
	t.Helper()
	a, ok := m.Audio.(InlineAudio)
	if !ok {
		t.Fatalf("Audio = %#v, want InlineAudio", m.Audio)
	}
	return a
}

func TestClassifyJSONTextAndLegacyAudio(t *testing.T) {
	m, err := Classify(jsonEnv(`{"text":"hello there","audio":"`+b64("RIFFdata")+`"}`), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !m.HasText || m.Text != "hello there" {
		t.Errorf("Text = %q (has=%v), want verbatim text", m.Text, m.HasText)
	}
	a := mustInline(t, m)
	if a.MIMEType != MIMEWav {
		t.Errorf("MIMEType = %q, want %q", a.MIMEType, MIMEWav)
	}
	if string(a.Data) != "RIFFdata" {
		t.Errorf("Data = %q, want decoded base64", a.Data)
	}
}

func TestClassifyJSONStructuredAudio(t *testing.T) {
	for _, tt := range []struct {
		name, body, wantMIME string
		wantText             bool
	}{
		{"ogg audio only", `{"audio":{"base64":"` + b64("OggS") + `","mimeType":"audio/ogg"}}`, "audio/ogg", false},
		{"default mpeg", `{"text":"t","audio":{"base64":"` + b64("ID3") + `"}}`, MIMEMpeg, true},
		{"blank mime", `{"text":"t","audio":{"base64":"` + b64("ID3") + `","mimeType":"  "}}`, MIMEMpeg, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Classify(jsonEnv(tt.body), nil)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if m.HasText != tt.wantText {
				t.Errorf("HasText = %v, want %v", m.HasText, tt.wantText)
			}
			if a := mustInline(t, m); a.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %q, want %q", a.MIMEType, tt.wantMIME)
			}
		})
	}
}

func TestClassifyJSONTextOnly(t *testing.T) {
	m, err := Classify(jsonEnv(`{"text":"hi"}`), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if m.Text != "hi" || m.HasAudio() {
		t.Errorf("got %+v, want text-only message", m)
	}
}

func TestClassifyJSONArrayMatchesObject(t *testing.T) {
	obj, err := Classify(jsonEnv(`{"text":"hi"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	arr, err := Classify(jsonEnv(`[{"text":"hi"}]`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if *obj != *arr {
		t.Errorf("array reply %+v differs from object reply %+v", arr, obj)
	}

	first, err := Classify(jsonEnv(`[{"text":"first"},{"text":"second"}]`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Text != "first" {
		t.Errorf("Text = %q, want first element", first.Text)
	}
}

func TestClassifyJSONErrorPriority(t *testing.T) {
	for _, tt := range []struct{ name, body, want string }{
		{"string", `{"error":"quota exceeded","text":"ignored","audio":"` + b64("x") + `"}`, "quota exceeded"},
		{"object", `{"error":{"code": 5}}`, `{"code":5}`},
		{"in array", `[{"error":"boom"}]`, "boom"},
		{"true", `{"error":true,"text":"hi"}`, "true"},
		{"nonzero number", `{"error":7}`, "7"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(jsonEnv(tt.body), nil)
			if err == nil || err.Kind != RemoteError {
				t.Fatalf("err = %v, want RemoteError", err)
			}
			if err.Message != tt.want {
				t.Errorf("Message = %q, want %q", err.Message, tt.want)
			}
		})
	}
}

func TestClassifyJSONFalsyErrorIsAbsent(t *testing.T) {
	for _, body := range []string{
		`{"error":false,"text":"hi"}`,
		`{"error":0,"text":"hi"}`,
		`{"error":0.0,"text":"hi"}`,
		`{"error":"","text":"hi"}`,
		`{"error":null,"text":"hi"}`,
	} {
		m, err := Classify(jsonEnv(body), nil)
		if err != nil {
			t.Errorf("%s: err = %v, want text reply", body, err)
			continue
		}
		if m.Text != "hi" {
			t.Errorf("%s: Text = %q", body, m.Text)
		}
	}
}

func TestClassifyJSONLeadingBOM(t *testing.T) {
	m, err := Classify(jsonEnv("\xef\xbb\xbf{\"text\":\"hi\"}"), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if m.Text != "hi" {
		t.Errorf("Text = %q, want hi", m.Text)
	}
	if _, err := Classify(jsonEnv("\xef\xbb\xbf  "), nil); err == nil || err.Kind != EmptyResponse {
		t.Errorf("BOM-only body: err = %v, want EmptyResponse", err)
	}
}

func TestClassifyJSONFailures(t *testing.T) {
	for _, tt := range []struct {
		name, body string
		want       ErrorKind
	}{
		{"empty", ``, EmptyResponse},
		{"quoted empty string", `""`, EmptyResponse},
		{"quoted blank string", `"  "`, EmptyResponse},
		{"null", `null`, EmptyResponse},
		{"non-empty string", `"hi"`, InvalidFormat},
		{"whitespace", " \n\t ", EmptyResponse},
		{"empty array", `[]`, EmptyResponse},
		{"not json", `{not json`, MalformedResponse},
		{"truncated", `{"text":"hi"`, MalformedResponse},
		{"no known fields", `{"foo":"bar"}`, InvalidFormat},
		{"null error and text", `{"error":null,"text":null}`, InvalidFormat},
		{"empty text", `{"text":""}`, InvalidFormat},
		{"audio object without base64", `{"audio":{"mimeType":"audio/ogg"}}`, InvalidFormat},
		{"audio not base64", `{"audio":"%%%"}`, InvalidFormat},
		{"scalar", `42`, InvalidFormat},
		{"array of scalars", `["hi"]`, InvalidFormat},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Classify(jsonEnv(tt.body), nil)
			if err == nil {
				t.Fatalf("got message %+v, want %v", m, tt.want)
			}
			if err.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", err.Kind, tt.want)
			}
		})
	}
}

func TestClassifyJSONWithCharsetParameter(t *testing.T) {
	env := jsonEnv(`{"text":"hi"}`)
	env.ContentType = "Application/JSON; charset=utf-8"
	if _, err := Classify(env, nil); err != nil {
		t.Fatalf("Classify: %v", err)
	}
}

func TestClassifyAudioBlob(t *testing.T) {
	store := &memStore{}
	h := http.Header{}
	h.Set(TextHeader, "caption")
	env := &Envelope{StatusCode: 200, ContentType: "audio/mpeg", Header: h, Body: []byte("ID3audio")}

	m, err := Classify(env, store)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	blob, ok := m.Audio.(BlobAudio)
	if !ok {
		t.Fatalf("Audio = %#v, want BlobAudio", m.Audio)
	}
	if blob.MIMEType != "audio/mpeg" || blob.URL == "" {
		t.Errorf("blob = %+v", blob)
	}
	if !m.HasText || m.Text != "caption" {
		t.Errorf("Text = %q, want caption from header", m.Text)
	}
	if len(store.puts) != 1 || !bytes.Equal(store.puts[0], env.Body) {
		t.Errorf("store puts = %q", store.puts)
	}
}

func TestClassifyAudioWithoutStoreOrOnStoreFailure(t *testing.T) {
	env := &Envelope{StatusCode: 200, ContentType: "application/octet-stream", Body: []byte{1, 2, 3}}
	for _, store := range []BlobStore{nil, &memStore{err: errors.New("disk full")}} {
		m, err := Classify(env, store)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		a := mustInline(t, m)
		if !bytes.Equal(a.Data, env.Body) || m.HasText {
			t.Errorf("message = %+v", m)
		}
	}
}

func TestClassifyAudioEmpty(t *testing.T) {
	env := &Envelope{StatusCode: 200, ContentType: "audio/mpeg"}
	_, err := Classify(env, &memStore{})
	if err == nil || err.Kind != EmptyResponse {
		t.Fatalf("err = %v, want EmptyResponse", err)
	}
}

func TestClassifyUnsupported(t *testing.T) {
	for _, ct := range []string{"text/html", "text/plain; charset=utf-8", "", "application/jsonx", "application/xml"} {
		t.Run(ct, func(t *testing.T) {
			env := &Envelope{StatusCode: 200, ContentType: ct, Body: []byte(`{"text":"hi"}`)}
			_, err := Classify(env, nil)
			if err == nil || err.Kind != UnsupportedContentType {
				t.Fatalf("err = %v, want UnsupportedContentType", err)
			}
			if err.DeclaredType != ct {
				t.Errorf("DeclaredType = %q, want %q", err.DeclaredType, ct)
			}
		})
	}
}

func TestSelectPath(t *testing.T) {
	for _, tt := range []struct {
		mt   string
		want path
	}{
		{"application/json", pathJSON},
		{"audio/wav", pathAudio},
		{"audio/x-custom", pathAudio},
		{"application/octet-stream", pathAudio},
		{"text/html", pathUnsupported},
		{"", pathUnsupported},
	} {
		if got := selectPath(tt.mt); got != tt.want {
			t.Errorf("selectPath(%q) = %v, want %v", tt.mt, got, tt.want)
		}
	}
}
