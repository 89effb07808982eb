package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"talkback/audio"
	"talkback/log"
	"talkback/pipeline"
)

// runTestMode drives one session headlessly from stdin-style commands:
// START, STOP, WAIT, WAIT_AUDIO_DONE, SLEEP <ms> and QUIT. Audio comes from
// wavPath, fed in real time. Events are printed one per line to out.
func runTestMode(ctx context.Context, cfg pipeline.Config, wavPath string, in io.Reader, out io.Writer) error {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		return fmt.Errorf("loading wav: %w", err)
	}
	ctrl := audio.NewController(audio.ControllerConfig{
		Gain: 1,
		Open: func() (audio.Context, error) { return fake, nil },
	})
	defer ctrl.Close()

	lines := &lineNotifier{w: out}
	cfg.Notifier = lines
	pipe, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	var pending chan struct{}
	wait := func() {
		if pending != nil {
			<-pending
			pending = nil
		}
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
		case "START":
			if err := ctrl.RequestAccess(); err != nil {
				lines.printf("ERROR %v", err)
				continue
			}
			if err := ctrl.StartCapture(); err != nil {
				lines.printf("ERROR %v", err)
			}
		case "STOP":
			capture, ok := ctrl.StopCapture()
			if !ok {
				lines.printf("ERROR not recording")
				continue
			}
			lines.printf("CAPTURE %s %.1fs", capture.MIMEType, capture.Duration.Seconds())
			wait()
			done := make(chan struct{})
			pending = done
			go func() {
				defer close(done)
				if _, err := pipe.Submit(ctx, capture); errors.Is(err, pipeline.ErrBusy) {
					lines.printf("BUSY")
				}
			}()
		case "WAIT":
			wait()
		case "WAIT_AUDIO_DONE":
			if c := fake.Capture(); c != nil {
				<-c.AudioDone()
			}
		case "QUIT":
			wait()
			log.SessionEnd(pipe.Submitted())
			return nil
		default:
			if ms, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
				if n, err := strconv.Atoi(ms); err == nil {
					time.Sleep(time.Duration(n) * time.Millisecond)
				}
				continue
			}
			lines.printf("ERROR unknown command %q", cmd)
		}
	}
	wait()
	log.SessionEnd(pipe.Submitted())
	return scanner.Err()
}
