package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	level    = zerolog.InfoLevel
	pid      int
	dir      string
)

// EnvLogPath overrides the default log directory when no -logpath flag is given.
const EnvLogPath = "TALKBACK_LOG_PATH"

const diagFileName = "diagnostics_log.txt"

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: environment variable
	if envPath := os.Getenv(EnvLogPath); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel takes a zerolog level name ("debug", "info", ...). Unknown names
// keep the current level.
func SetLevel(name string) {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return
	}
	logMu.Lock()
	level = lvl
	if logReady {
		diagLog = diagLog.Level(lvl)
	}
	logMu.Unlock()
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagPath := filepath.Join(dir, diagFileName)
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// ExchangeData is the per-request network timing of one webhook exchange.
type ExchangeData struct {
	RequestID   string
	Status      int
	ContentType string
	UploadKB    float64
	ReplyKB     float64
	DNSMs       float64
	TCPMs       float64
	TLSMs       float64
	TTFBMs      float64
	DownloadMs  float64
	TotalMs     float64
	PhasesMs    float64
	ConnReused  bool
	TLSProtocol string
}

func Exchange(d ExchangeData) {
	if !logReady {
		return
	}

	connStatus := "new"
	if d.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("request_id", d.RequestID).
		Int("status", d.Status).
		Str("content_type", d.ContentType).
		Str("conn", connStatus)
	if d.TLSProtocol != "" {
		ev = ev.Str("tls_proto", d.TLSProtocol)
	}
	ev.Float64("upload_kb", d.UploadKB).
		Float64("reply_kb", d.ReplyKB).
		Float64("dns_ms", d.DNSMs).
		Float64("tcp_ms", d.TCPMs).
		Float64("tls_ms", d.TLSMs).
		Float64("ttfb_ms", d.TTFBMs).
		Float64("download_ms", d.DownloadMs).
		Float64("total_ms", d.TotalMs).
		Float64("phases_ms", d.PhasesMs).
		Msg("exchange")
}

func Reply(requestID string, hasText bool, audioMIME string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("request_id", requestID).
		Bool("has_text", hasText).
		Str("audio_mime", audioMIME).
		Msg("reply")
}

func PipelineError(requestID, kind, msg string) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("request_id", requestID).
		Str("kind", kind).
		Msg(msg)
}

func Capture(duration time.Duration, bytes int, mimeType string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("audio_s", duration.Seconds()).
		Float64("size_kb", float64(bytes)/1024).
		Str("mime", mimeType).
		Msg("capture")
}

func SessionStart(endpoint, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("endpoint", endpoint).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
