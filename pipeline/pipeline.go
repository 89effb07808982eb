package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"talkback/log"
)

// Notifier is implemented by the rendering layer. Calls happen on the
// goroutine running Submit.
type Notifier interface {
	OnStatusChange(s Status)
	OnTyping(on bool)
	OnMessage(m *Message)
	OnError(e *Error)
}

type nopNotifier struct{}

func (nopNotifier) OnStatusChange(Status) {}
func (nopNotifier) OnTyping(bool)         {}
func (nopNotifier) OnMessage(*Message)    {}
func (nopNotifier) OnError(*Error)        {}

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Notifier Notifier  // optional
	Store    BlobStore // optional; raw audio replies stay inline without one
}

// Pipeline sends captures to the webhook and normalizes the replies. Only one
// request may be in flight at a time.
type Pipeline struct {
	endpoint string
	client   *TracedClient
	notify   Notifier
	store    BlobStore

	inflight  *semaphore.Weighted
	state     atomic.Int32
	submitted atomic.Int64
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("pipeline: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	return &Pipeline{
		endpoint: cfg.Endpoint,
		client:   NewTracedClient(cfg.Timeout),
		notify:   cfg.Notifier,
		store:    cfg.Store,
		inflight: semaphore.NewWeighted(1),
	}, nil
}

func (p *Pipeline) Endpoint() string { return p.endpoint }

func (p *Pipeline) Client() *TracedClient { return p.client }

func (p *Pipeline) State() State { return State(p.state.Load()) }

// Submitted counts the requests that got past the single-flight guard.
func (p *Pipeline) Submitted() int { return int(p.submitted.Load()) }

// Submit posts one capture and resolves its reply. The returned error is
// ErrBusy when another request is in flight, otherwise always a *Error.
func (p *Pipeline) Submit(ctx context.Context, capture *AudioCapture) (*Message, error) {
	if !p.inflight.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer p.inflight.Release(1)
	p.submitted.Add(1)

	p.state.Store(int32(StateSending))
	defer p.state.Store(int32(StateIdle))

	reqID := uuid.NewString()
	p.notify.OnStatusChange(StatusSending)
	p.notify.OnTyping(true)

	msg, perr := p.exchange(ctx, reqID, capture)
	// The typing indicator always goes away before the outcome is shown.
	p.notify.OnTyping(false)

	if perr != nil {
		p.state.Store(int32(StateFailed))
		log.PipelineError(reqID, perr.Kind.String(), perr.Error())
		p.notify.OnStatusChange(StatusError)
		p.notify.OnError(perr)
		return nil, perr
	}

	p.state.Store(int32(StateResolved))
	audioMIME := ""
	if msg.Audio != nil {
		audioMIME = msg.Audio.MIME()
	}
	log.Reply(reqID, msg.HasText, audioMIME)
	p.notify.OnStatusChange(StatusReceived)
	p.notify.OnMessage(msg)
	return msg, nil
}

func (p *Pipeline) exchange(ctx context.Context, reqID string, capture *AudioCapture) (*Message, *Error) {
	if capture == nil || len(capture.Data) == 0 {
		return nil, NewDeviceError("no audio captured", nil)
	}

	body, contentType, err := encodeMultipart(capture)
	if err != nil {
		return nil, newTransportError(fmt.Errorf("encoding upload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newTransportError(err)
	}
	req.Header.Set("Content-Type", contentType)

	env, err := p.client.Do(req)
	if err != nil {
		return nil, newTransportError(err)
	}

	m := env.Metrics
	log.Exchange(log.ExchangeData{
		RequestID:   reqID,
		Status:      env.StatusCode,
		ContentType: env.ContentType,
		UploadKB:    float64(len(body)) / 1024,
		ReplyKB:     float64(len(env.Body)) / 1024,
		DNSMs:       float64(m.DNS.Milliseconds()),
		TCPMs:       float64(m.TCP.Milliseconds()),
		TLSMs:       float64(m.TLS.Milliseconds()),
		TTFBMs:      float64(m.TTFB.Milliseconds()),
		DownloadMs:  float64(m.Download.Milliseconds()),
		TotalMs:     float64(m.Total.Milliseconds()),
		PhasesMs:    float64(m.Sum().Milliseconds()),
		ConnReused:  m.ConnReused,
		TLSProtocol: m.TLSProtocol,
	})

	if env.StatusCode < 200 || env.StatusCode > 299 {
		return nil, newHttpError(env.StatusCode)
	}
	return Classify(env, p.store)
}

// encodeMultipart builds the single-part form the webhook expects.
func encodeMultipart(capture *AudioCapture) ([]byte, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	mimeType := capture.MIMEType
	if mimeType == "" {
		mimeType = MIMEWav
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, FileName))
	h.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(capture.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}
