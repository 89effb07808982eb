package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/joho/godotenv"

	"talkback/audio"
	"talkback/blob"
	"talkback/config"
	"talkback/doctor"
	"talkback/log"
	"talkback/pipeline"
	"talkback/player"
	"talkback/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	endpointFlag := flag.String("endpoint", "", "Webhook URL (overrides config and "+config.EnvWebhookURL+")")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven): talkback -test <wav-file>")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("talkback %s\n", version)
		return 0
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config: %v\n", err)
		return 1
	}
	if *endpointFlag != "" {
		cfg.Webhook.URL = *endpointFlag
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *deviceFlag != "" {
		cfg.Capture.Device = *deviceFlag
	}

	logFlag := *logPathFlag
	if logFlag == "" {
		logFlag = cfg.Log.Dir
	}
	logPath, err := log.ResolveDir(logFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SetLevel(cfg.Log.Level)

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	pipeCfg := pipeline.Config{
		Endpoint: cfg.Webhook.URL,
		Timeout:  cfg.Webhook.Timeout.ToDuration(),
	}
	log.SessionStart(cfg.Webhook.URL, cfg.Capture.Format)

	if *testFlag {
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: talkback -test <wav-file>")
			return 1
		}
		if err := runTestMode(ctx, pipeCfg, flag.Arg(0), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if *setupFlag {
		name, err := pickDevice(cfg.Capture.Device)
		switch {
		case errors.Is(err, audio.ErrSelectionCancelled):
			return 0
		case err != nil:
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		default:
			cfg.Capture.Device = name
		}
	}

	ctrl := audio.NewController(audio.ControllerConfig{
		Format:     cfg.Capture.Format,
		SampleRate: cfg.Capture.SampleRate,
		Device:     cfg.Capture.Device,
	})
	defer ctrl.Close()

	if *doctorFlag {
		pipe, err := pipeline.New(pipeCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return doctor.Run(doctor.Options{Controller: ctrl, Pipeline: pipe})
	}

	store, err := blob.New(cfg.Playback.BlobDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	pipeCfg.Notifier = tuiNotifier{}
	pipeCfg.Store = store
	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out := player.NewOutput()
	s := &session{
		ctx:      ctx,
		ctrl:     ctrl,
		pipe:     pipe,
		player:   player.New(out, store),
		store:    store,
		autoplay: cfg.Playback.Autoplay,
		device:   cfg.Capture.Device,
	}
	if cfg.Playback.Cues {
		s.cues = player.NewCues(out)
	}

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(s)
	tuiMu.Unlock()

	go func() {
		<-ctx.Done()
		tuiSend(shutdownMsg{})
	}()

	_, err = tuiProgram.Run()
	tuiMu.Lock()
	tuiProgram = nil
	tuiMu.Unlock()

	s.player.Stop()
	log.SessionEnd(pipe.Submitted())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// pickDevice runs the interactive picker on its own audio context and
// returns the chosen device name.
func pickDevice(current string) (string, error) {
	actx, err := audio.NewContext()
	if err != nil {
		return "", err
	}
	defer actx.Close()
	dev, err := audio.SelectDevice(actx, current)
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}
