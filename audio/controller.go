package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"talkback/encoder"
	"talkback/log"
	"talkback/pipeline"
)

const (
	tickInterval = time.Second
	defaultGain  = 8
)

type ControllerConfig struct {
	Format     string // encoder format, wav or flac
	SampleRate int
	// Gain is a software amplification factor applied to every sample;
	// 0 means defaultGain and 1 disables it.
	Gain int
	// Device picks a capture device by name; empty means the system default.
	Device string
	// Open creates the platform context; NewContext when nil.
	Open func() (Context, error)
}

// Controller owns the microphone stream and turns one start/stop cycle into
// a single encoded AudioCapture. Access is requested once and reused across
// recordings until Close.
type Controller struct {
	cfg ControllerConfig

	mu      sync.Mutex
	ctx     Context
	capture CaptureDevice
	closed  bool
	rec     *recording

	ticks     chan time.Duration
	level     atomic.Uint64
	silence   atomic.Int32
	closeOnce sync.Once
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.Gain <= 0 {
		cfg.Gain = defaultGain
	}
	if cfg.Open == nil {
		cfg.Open = NewContext
	}
	return &Controller{cfg: cfg, ticks: make(chan time.Duration, 1)}
}

// RequestAccess opens the audio context and capture device. It is a no-op
// once access has been granted. Any failure is a PermissionDenied error.
func (c *Controller) RequestAccess() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pipeline.NewDeviceError("capture stream closed", nil)
	}
	if c.capture != nil {
		return nil
	}

	ctx, err := c.cfg.Open()
	if err != nil {
		return pipeline.NewPermissionDenied(err)
	}
	device := c.findDevice(ctx)
	capture, err := ctx.NewCapture(device, CaptureConfig{
		SampleRate: uint32(c.cfg.SampleRate),
		Channels:   encoder.Channels,
	})
	if err != nil {
		ctx.Close()
		return pipeline.NewPermissionDenied(err)
	}
	c.ctx, c.capture = ctx, capture
	log.Info("mic_access: " + capture.DeviceName())
	return nil
}

func (c *Controller) findDevice(ctx Context) *DeviceInfo {
	if c.cfg.Device == "" {
		return nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		log.Warnf("device enumeration failed: %v", err)
		return nil
	}
	for i := range devices {
		if devices[i].Name == c.cfg.Device {
			return &devices[i]
		}
	}
	log.Warnf("device not found: %s, using system default", c.cfg.Device)
	return nil
}

// Context returns the open audio context, or nil before RequestAccess.
func (c *Controller) Context() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// DeviceName reports the capture device in use, or "" before RequestAccess.
func (c *Controller) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return ""
	}
	return c.capture.DeviceName()
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// StartCapture begins buffering microphone PCM. It fails with DeviceError
// when access was never granted, the stream is closed, or a recording is
// already running.
func (c *Controller) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return pipeline.NewDeviceError("capture stream closed", nil)
	case c.capture == nil:
		return pipeline.NewDeviceError("microphone access not granted", nil)
	case c.rec != nil:
		return pipeline.NewDeviceError("already recording", nil)
	}

	enc, err := encoder.New(c.cfg.Format, c.cfg.SampleRate)
	if err != nil {
		return pipeline.NewDeviceError("encoder init failed", err)
	}
	rec := newRecording(enc, c.cfg.Gain)

	c.level.Store(0)
	c.silence.Store(int32(SilenceNone))
	c.capture.SetCallback(func(data []byte, _ uint32) {
		if lvl, ok := rec.feed(data); ok {
			c.level.Store(math.Float64bits(lvl))
		}
	})
	if err := c.capture.Start(); err != nil {
		c.capture.ClearCallback()
		rec.finish()
		return pipeline.NewDeviceError("could not start recording", err)
	}
	c.rec = rec
	go c.tick(rec)
	log.Info("recording_start")
	return nil
}

func (c *Controller) tick(rec *recording) {
	defer close(rec.tickDone)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	var monitor silenceMonitor
	for {
		select {
		case <-rec.stop:
			return
		case <-ticker.C:
			switch ev := monitor.Tick(rec.speechTick()); ev {
			case SilenceWarn, SilenceAutoStop:
				c.silence.Store(int32(ev))
			case SilenceWarnClear:
				c.silence.Store(int32(SilenceNone))
			}
			select {
			case c.ticks <- time.Since(rec.started).Truncate(time.Second):
			default:
			}
		}
	}
}

// Ticks delivers the elapsed recording time once per second while capturing.
// It is closed by Close.
func (c *Controller) Ticks() <-chan time.Duration { return c.ticks }

// Silence is SilenceWarn while the current recording has gone quiet and
// SilenceAutoStop once it has been silent long enough to be abandoned.
func (c *Controller) Silence() SilenceEvent { return SilenceEvent(c.silence.Load()) }

// Level is the RMS of the most recent buffer, in [0, 1].
func (c *Controller) Level() float64 { return math.Float64frombits(c.level.Load()) }

// StopCapture ends the recording and returns the encoded capture. ok is false
// when nothing was recording, or when encoding failed (the failure is logged
// and the audio dropped).
func (c *Controller) StopCapture() (*pipeline.AudioCapture, bool) {
	c.mu.Lock()
	rec, capture := c.rec, c.capture
	c.rec = nil
	c.mu.Unlock()
	if rec == nil {
		return nil, false
	}

	capture.Stop()
	capture.ClearCallback()
	close(rec.stop)
	<-rec.tickDone

	data, frames, err := rec.finish()
	if err != nil {
		log.Errorf("capture encode failed: %v", err)
		return nil, false
	}
	dur := time.Duration(float64(frames) / float64(c.cfg.SampleRate) * float64(time.Second))
	mimeType := rec.enc.MIMEType()
	log.Capture(dur, len(data), mimeType)
	if frames == 0 {
		data = nil
	}
	return &pipeline.AudioCapture{Data: data, MIMEType: mimeType, Duration: dur}, true
}

// Close releases the capture device and context. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.StopCapture()

		c.mu.Lock()
		c.closed = true
		capture, ctx := c.capture, c.ctx
		c.capture, c.ctx = nil, nil
		c.mu.Unlock()

		if capture != nil {
			capture.Close()
		}
		if ctx != nil {
			ctx.Close()
		}
		close(c.ticks)
	})
}

// recording buffers samples into encoder-sized blocks and encodes them off
// the audio callback.
type recording struct {
	enc     encoder.Encoder
	gain    int32
	started time.Time

	mu        sync.Mutex
	sampleBuf []int16
	stopped   bool
	// buffers fed and buffers above speechLevel since the last speechTick
	fed, voiced int

	blocks     chan []int16
	encodeErr  error
	encodeDone chan struct{}

	stop     chan struct{}
	tickDone chan struct{}
}

func newRecording(enc encoder.Encoder, gain int) *recording {
	r := &recording{
		enc:        enc,
		gain:       int32(gain),
		started:    time.Now(),
		blocks:     make(chan []int16, 64),
		encodeDone: make(chan struct{}),
		stop:       make(chan struct{}),
		tickDone:   make(chan struct{}),
	}
	go func() {
		defer close(r.encodeDone)
		for block := range r.blocks {
			if err := r.enc.EncodeBlock(block); err != nil && r.encodeErr == nil {
				r.encodeErr = err
			}
		}
	}()
	return r
}

// feed appends S16LE PCM and returns its RMS level.
func (r *recording) feed(pcm []byte) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || len(pcm) < 2 {
		return 0, false
	}

	var sumSquares float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := applyGain(int16(binary.LittleEndian.Uint16(pcm[i*2:])), r.gain)
		r.sampleBuf = append(r.sampleBuf, s)
		norm := float64(s) / 32768.0
		sumSquares += norm * norm
	}
	rms := math.Sqrt(sumSquares / float64(n))
	r.fed++
	if rms >= speechLevel {
		r.voiced++
	}
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blocks <- block
	}
	return rms, true
}

// speechTick reports whether enough buffers since the previous call held
// voice, and resets the counters.
func (r *recording) speechTick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fed, voiced := r.fed, r.voiced
	r.fed, r.voiced = 0, 0
	if fed == 0 {
		return false
	}
	return float64(voiced)/float64(fed) >= speechMinRatio
}

// finish flushes the partial block and closes the encoder. Later feeds are
// dropped.
func (r *recording) finish() ([]byte, uint64, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.encodeDone
		return nil, 0, nil
	}
	r.stopped = true
	if len(r.sampleBuf) > 0 {
		r.blocks <- r.sampleBuf
		r.sampleBuf = nil
	}
	close(r.blocks)
	r.mu.Unlock()

	<-r.encodeDone
	if r.encodeErr != nil {
		return nil, 0, r.encodeErr
	}
	if err := r.enc.Close(); err != nil {
		return nil, 0, err
	}
	return r.enc.Bytes(), r.enc.TotalFrames(), nil
}

func applyGain(s int16, gain int32) int16 {
	v := int32(s) * gain
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
