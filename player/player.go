package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"talkback/pipeline"
)

// Output plays PCM on a sound device, blocking until playback finishes or
// ctx is cancelled.
type Output interface {
	Play(ctx context.Context, pcm *PCM) error
}

// Opener resolves a BlobAudio URL.
type Opener interface {
	Open(url string) (io.ReadSeekCloser, error)
}

// Player plays reply audio. Starting a new playback stops the previous one.
type Player struct {
	out   Output
	store Opener

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// New returns a Player on out; NewOutput when out is nil. store may be nil
// when no blob store is in use.
func New(out Output, store Opener) *Player {
	if out == nil {
		out = NewOutput()
	}
	return &Player{out: out, store: store}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func (p *Player) open(src pipeline.AudioSource) (io.ReadSeekCloser, error) {
	switch a := src.(type) {
	case pipeline.InlineAudio:
		return nopCloser{bytes.NewReader(a.Data)}, nil
	case pipeline.BlobAudio:
		if p.store == nil {
			return nil, errors.New("no blob store for " + a.URL)
		}
		return p.store.Open(a.URL)
	}
	return nil, errors.New("no audio")
}

// Play decodes src and plays it to completion. It takes over as the current
// playback before decoding, so Stop also cancels a reply still being decoded.
func (p *Player) Play(ctx context.Context, src pipeline.AudioSource) error {
	if src == nil {
		return errors.New("no audio")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	r, err := p.open(src)
	if err != nil {
		return err
	}
	pcm, err := Decode(r, src.MIME())
	r.Close()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.out.Play(ctx, pcm)
}

// Stop interrupts the current playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
