package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvWebhookURL = "TALKBACK_WEBHOOK_URL"

	DefaultWebhookURL = "https://n8n.etugrand.com/webhook/voice_message"
	DefaultTimeout    = 60 * time.Second
	DefaultSampleRate = 16000
	DefaultLogLevel   = "info"

	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

type Duration time.Duration

func (d Duration) ToDuration() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts "30s", "2m", or integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*d = 0
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}

	switch value.Tag {
	case "!!int":
		i, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	case "!!str":
		if value.Value == "" {
			*d = 0
			return nil
		}
		if dur, err := time.ParseDuration(value.Value); err == nil {
			*d = Duration(dur)
			return nil
		}
		if i, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
			*d = Duration(time.Duration(i) * time.Second)
			return nil
		}
		return fmt.Errorf("invalid duration: %q", value.Value)
	default:
		if dur, err := time.ParseDuration(value.Value); err == nil {
			*d = Duration(dur)
			return nil
		}
		return fmt.Errorf("invalid duration: %q", value.Value)
	}
}

type Config struct {
	Webhook  WebhookConfig  `yaml:"webhook"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Log      LogConfig      `yaml:"log"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type CaptureConfig struct {
	Format     string `yaml:"format"` // wav, flac
	SampleRate int    `yaml:"sample_rate"`
	Device     string `yaml:"device"`
}

type PlaybackConfig struct {
	Autoplay bool `yaml:"autoplay"`
	Cues     bool `yaml:"cues"`
	// BlobDir holds raw audio replies for one run; empty uses the OS temp dir.
	BlobDir string `yaml:"blob_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

func Default() Config {
	return Config{
		Webhook: WebhookConfig{
			URL:     DefaultWebhookURL,
			Timeout: Duration(DefaultTimeout),
		},
		Capture: CaptureConfig{
			Format:     FormatWAV,
			SampleRate: DefaultSampleRate,
		},
		Playback: PlaybackConfig{
			Autoplay: true,
			Cues:     true,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file is not
// an error. The webhook env var is applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvWebhookURL)); v != "" {
		cfg.Webhook.URL = v
	}

	cfg.sanitize()
	return cfg, cfg.Validate()
}

func (c *Config) sanitize() {
	c.Webhook.URL = strings.TrimSpace(c.Webhook.URL)
	if c.Webhook.URL == "" {
		c.Webhook.URL = DefaultWebhookURL
	}
	if c.Webhook.Timeout.ToDuration() <= 0 {
		c.Webhook.Timeout = Duration(DefaultTimeout)
	}
	c.Capture.Format = strings.ToLower(strings.TrimSpace(c.Capture.Format))
	if c.Capture.Format == "" {
		c.Capture.Format = FormatWAV
	}
	if c.Capture.SampleRate <= 0 {
		c.Capture.SampleRate = DefaultSampleRate
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func (c Config) Validate() error {
	switch c.Capture.Format {
	case FormatWAV, FormatFLAC:
	default:
		return fmt.Errorf("capture.format: unsupported %q (want wav or flac)", c.Capture.Format)
	}
	if !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return fmt.Errorf("webhook.url: %q is not an http(s) URL", c.Webhook.URL)
	}
	return nil
}
