package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"talkback/encoder"
	"talkback/pipeline"
)

func pcmOf(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func fakeController(t *testing.T, pcm []byte, format string) *Controller {
	t.Helper()
	c := NewController(ControllerConfig{
		Format: format,
		Gain:   1,
		Open:   func() (Context, error) { return NewFakeContextPCM(pcm, false), nil },
	})
	t.Cleanup(c.Close)
	return c
}

func TestControllerRecordsWAV(t *testing.T) {
	samples := make([]int16, encoder.SampleRate/2)
	for i := range samples {
		samples[i] = int16(i % 2000)
	}
	c := fakeController(t, pcmOf(samples), encoder.FormatWAV)

	if err := c.RequestAccess(); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if !c.Recording() {
		t.Error("Recording = false after StartCapture")
	}
	capture, ok := c.StopCapture()
	if !ok {
		t.Fatal("StopCapture returned ok=false")
	}
	if capture.MIMEType != pipeline.MIMEWav {
		t.Errorf("MIMEType = %q", capture.MIMEType)
	}
	if capture.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", capture.Duration)
	}

	buf, err := wav.NewDecoder(bytes.NewReader(capture.Data)).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	if buf.Data[1234] != int(samples[1234]) {
		t.Errorf("sample mismatch: %d vs %d", buf.Data[1234], samples[1234])
	}
}

func TestControllerFLAC(t *testing.T) {
	c := fakeController(t, pcmOf(make([]int16, 5000)), encoder.FormatFLAC)
	if err := c.RequestAccess(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatal(err)
	}
	capture, ok := c.StopCapture()
	if !ok {
		t.Fatal("StopCapture returned ok=false")
	}
	if capture.MIMEType != pipeline.MIMEFlac || string(capture.Data[:4]) != "fLaC" {
		t.Errorf("capture = %s %q", capture.MIMEType, capture.Data[:4])
	}
}

func TestControllerRequestAccessIdempotent(t *testing.T) {
	opens := 0
	c := NewController(ControllerConfig{Open: func() (Context, error) {
		opens++
		return NewFakeContextPCM(nil, false), nil
	}})
	defer c.Close()

	for range 3 {
		if err := c.RequestAccess(); err != nil {
			t.Fatalf("RequestAccess: %v", err)
		}
	}
	if opens != 1 {
		t.Errorf("context opened %d times, want 1", opens)
	}
}

func TestControllerPermissionDenied(t *testing.T) {
	c := NewController(ControllerConfig{Open: func() (Context, error) {
		return nil, errors.New("connection refused")
	}})
	defer c.Close()

	err := c.RequestAccess()
	if pipeline.KindOf(err) != pipeline.PermissionDenied {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}
	if err := c.StartCapture(); pipeline.KindOf(err) != pipeline.DeviceError {
		t.Errorf("StartCapture without access err = %v, want DeviceError", err)
	}
}

func TestControllerStartErrors(t *testing.T) {
	c := fakeController(t, nil, "")
	if err := c.RequestAccess(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); pipeline.KindOf(err) != pipeline.DeviceError {
		t.Errorf("second StartCapture err = %v, want DeviceError", err)
	}
	c.StopCapture()

	c.Close()
	if err := c.StartCapture(); pipeline.KindOf(err) != pipeline.DeviceError {
		t.Errorf("StartCapture after Close err = %v, want DeviceError", err)
	}
	if err := c.RequestAccess(); pipeline.KindOf(err) != pipeline.DeviceError {
		t.Errorf("RequestAccess after Close err = %v, want DeviceError", err)
	}
}

func TestControllerStopWhenIdle(t *testing.T) {
	c := fakeController(t, nil, "")
	if _, ok := c.StopCapture(); ok {
		t.Error("StopCapture before start should be a no-op")
	}
	if err := c.RequestAccess(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatal(err)
	}
	capture, ok := c.StopCapture()
	if !ok {
		t.Fatal("StopCapture returned ok=false")
	}
	if len(capture.Data) != 0 {
		t.Errorf("silent capture carried %d bytes, want none", len(capture.Data))
	}
	if _, ok := c.StopCapture(); ok {
		t.Error("second StopCapture should be a no-op")
	}
}

func TestControllerCloseClosesTicks(t *testing.T) {
	c := fakeController(t, nil, "")
	c.Close()
	c.Close()
	select {
	case _, ok := <-c.Ticks():
		if ok {
			t.Error("Ticks delivered a value after Close")
		}
	case <-time.After(time.Second):
		t.Error("Ticks not closed")
	}
}

func TestControllerLevelAndGain(t *testing.T) {
	samples := make([]int16, 2048)
	for i := range samples {
		samples[i] = 1000
	}
	c := NewController(ControllerConfig{
		Gain: 4,
		Open: func() (Context, error) { return NewFakeContextPCM(pcmOf(samples), false), nil },
	})
	defer c.Close()
	if err := c.RequestAccess(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatal(err)
	}
	want := 4000.0 / 32768.0
	if got := c.Level(); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("Level = %v, want %v", got, want)
	}
	c.StopCapture()
}

func TestApplyGainClips(t *testing.T) {
	if got := applyGain(20000, 8); got != 32767 {
		t.Errorf("applyGain(20000, 8) = %d", got)
	}
	if got := applyGain(-20000, 8); got != -32768 {
		t.Errorf("applyGain(-20000, 8) = %d", got)
	}
	if got := applyGain(100, 1); got != 100 {
		t.Errorf("applyGain(100, 1) = %d", got)
	}
}

func TestRecordingSpeechTick(t *testing.T) {
	rec := newRecording(encoder.NewWAV(encoder.SampleRate), 1)
	defer rec.finish()

	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 8000
	}
	quiet := make([]int16, 320)

	rec.feed(pcmOf(loud))
	rec.feed(pcmOf(quiet))
	if !rec.speechTick() {
		t.Error("half voiced buffers should count as speech")
	}
	if rec.speechTick() {
		t.Error("no buffers since the last tick should not count as speech")
	}
	for i := 0; i < 20; i++ {
		rec.feed(pcmOf(quiet))
	}
	if rec.speechTick() {
		t.Error("silence counted as speech")
	}
}

func TestSilenceResetOnStart(t *testing.T) {
	c := fakeController(t, nil, encoder.FormatWAV)
	c.silence.Store(int32(SilenceAutoStop))
	if err := c.RequestAccess(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatal(err)
	}
	defer c.StopCapture()
	if c.Silence() != SilenceNone {
		t.Errorf("Silence = %d after start, want SilenceNone", c.Silence())
	}
}
