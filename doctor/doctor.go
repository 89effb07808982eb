package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"talkback/audio"
	"talkback/clipboard"
	"talkback/encoder"
	"talkback/pipeline"
	"talkback/shutdown"
)

type Options struct {
	Controller *audio.Controller
	Pipeline   *pipeline.Pipeline
	// RecordFor is the length of the microphone check; 2s when zero.
	RecordFor time.Duration
	Out       io.Writer // os.Stdout when nil
	// SkipClipboard leaves out the clipboard check (headless runs).
	SkipClipboard bool
}

type checker struct {
	Options
	step, total int
}

func (c *checker) header(title string) {
	c.step++
	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "[%d/%d] %s\n", c.step, c.total, title)
}

func (c *checker) pass(format string, args ...any) {
	fmt.Fprintf(c.Out, "  PASS: "+format+"\n", args...)
}

func (c *checker) fail(format string, args ...any) bool {
	fmt.Fprintf(c.Out, "  FAIL: "+format+"\n", args...)
	return false
}

// Run executes the diagnostic checks in order, stopping at the first failure.
// It returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.RecordFor <= 0 {
		opts.RecordFor = 2 * time.Second
	}
	resetTerminal()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	c := &checker{Options: opts, total: 3}
	if !opts.SkipClipboard {
		c.total = 4
	}

	fmt.Fprintln(c.Out, "talkback doctor - interactive system diagnostics")
	fmt.Fprintln(c.Out, "================================================")

	allPass := c.checkMicrophone(ctx) &&
		c.checkEndpoint() &&
		c.checkRoundTrip(ctx)
	if allPass && !opts.SkipClipboard {
		c.checkClipboard()
	}

	fmt.Fprintln(c.Out)
	if !allPass {
		fmt.Fprintln(c.Out, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(c.Out, "All checks passed!")
	return 0
}

func (c *checker) checkMicrophone(ctx context.Context) bool {
	c.header("Microphone access and capture")

	if err := c.Controller.RequestAccess(); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.Out, "  device: %s\n", c.Controller.DeviceName())

	if err := c.Controller.StartCapture(); err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.Out, "  Recording for %s, say something...\n", c.RecordFor)

	var peak float64
	deadline := time.After(c.RecordFor)
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			c.Controller.StopCapture()
			return c.fail("interrupted")
		case <-deadline:
			break wait
		case <-poll.C:
			peak = max(peak, c.Controller.Level())
		}
	}
	peak = max(peak, c.Controller.Level())

	capture, ok := c.Controller.StopCapture()
	if !ok {
		return c.fail("capture could not be encoded (see diagnostics log)")
	}
	if len(capture.Data) == 0 {
		return c.fail("no audio captured")
	}
	c.pass("%.1f KB %s, %.1fs, peak level %.3f",
		float64(len(capture.Data))/1024, capture.MIMEType, capture.Duration.Seconds(), peak)
	if peak < 0.02 {
		fmt.Fprintln(c.Out, "  warning: no voice detected, check the input device and its volume")
	}
	return true
}

func (c *checker) checkEndpoint() bool {
	c.header("Webhook reachability")
	fmt.Fprintf(c.Out, "  endpoint: %s\n", c.Pipeline.Endpoint())

	start := time.Now()
	tlsTime, err := c.Pipeline.Client().WarmConnection(c.Pipeline.Endpoint())
	if err != nil {
		return c.fail("%v", err)
	}
	c.pass("reachable in %dms (tls %dms)", time.Since(start).Milliseconds(), tlsTime.Milliseconds())
	return true
}

// checkRoundTrip sends one second of silence and reports how the reply was
// classified. Any well-formed reply passes, including a remote error.
func (c *checker) checkRoundTrip(ctx context.Context) bool {
	c.header("Round trip")

	enc := encoder.NewWAV(encoder.SampleRate)
	if err := enc.EncodeBlock(make([]int16, encoder.SampleRate)); err != nil {
		return c.fail("%v", err)
	}
	if err := enc.Close(); err != nil {
		return c.fail("%v", err)
	}
	capture := &pipeline.AudioCapture{Data: enc.Bytes(), MIMEType: enc.MIMEType(), Duration: time.Second}

	start := time.Now()
	msg, err := c.Pipeline.Submit(ctx, capture)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if pipeline.KindOf(err) == pipeline.RemoteError {
			c.pass("webhook answered with an error in %dms: %v", elapsed, err)
			return true
		}
		return c.fail("%s: %v", pipeline.KindOf(err), err)
	}

	reply := "text"
	switch {
	case msg.HasText && msg.HasAudio():
		reply = "text + " + msg.Audio.MIME()
	case msg.HasAudio():
		reply = msg.Audio.MIME()
	}
	c.pass("%s reply in %dms", reply, elapsed)
	if msg.HasText {
		fmt.Fprintf(c.Out, "  text: %s\n", msg.Text)
	}
	return true
}

// checkClipboard is advisory; a missing clipboard only disables copying.
func (c *checker) checkClipboard() {
	c.header("Clipboard")
	if !clipboard.Available() {
		fmt.Fprintf(c.Out, "  WARN: %v\n", clipboard.ErrUnavailable)
		return
	}
	const probe = "talkback-doctor"
	if err := clipboard.Copy(probe); err != nil {
		fmt.Fprintf(c.Out, "  WARN: copy failed: %v\n", err)
		return
	}
	got, err := clipboard.Read()
	if err != nil || got != probe {
		fmt.Fprintf(c.Out, "  WARN: clipboard read back %q (%v)\n", got, err)
		return
	}
	c.pass("copy verified")
}
