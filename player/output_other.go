//go:build !linux

package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type malgoOutput struct{}

func NewOutput() Output { return malgoOutput{} }

func (malgoOutput) Play(ctx context.Context, pcm *PCM) error {
	if len(pcm.Samples) == 0 {
		return nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(pcm.Channels)
	config.SampleRate = uint32(pcm.SampleRate)

	data := pcm.bytes()
	pos := 0
	done := make(chan struct{})
	var doneOnce sync.Once

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}
	device, err := malgo.InitDevice(mctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	_ = device.Stop()
	return ctx.Err()
}
