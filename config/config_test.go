package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvWebhookURL, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
	if cfg.Webhook.Timeout.ToDuration() != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.Webhook.Timeout.ToDuration())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(EnvWebhookURL, "")
	p := writeConfig(t, `
webhook:
  url: http://localhost:5678/webhook/voice
  timeout: 15
capture:
  format: FLAC
  device: USB Mic
playback:
  autoplay: false
log:
  level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Webhook.URL != "http://localhost:5678/webhook/voice" {
		t.Errorf("url = %q", cfg.Webhook.URL)
	}
	if cfg.Webhook.Timeout.ToDuration() != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", cfg.Webhook.Timeout.ToDuration())
	}
	if cfg.Capture.Format != FormatFLAC {
		t.Errorf("format = %q, want flac", cfg.Capture.Format)
	}
	if cfg.Capture.SampleRate != DefaultSampleRate {
		t.Errorf("sample rate = %d, want default", cfg.Capture.SampleRate)
	}
	if cfg.Playback.Autoplay {
		t.Error("autoplay should be off")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvWebhookURL, "https://example.test/hook")
	p := writeConfig(t, "webhook:\n  url: http://localhost/other\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Webhook.URL != "https://example.test/hook" {
		t.Errorf("url = %q, want env value", cfg.Webhook.URL)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Setenv(EnvWebhookURL, "")
	for _, tt := range []struct{ name, body string }{
		{"bad format", "capture:\n  format: ogg\n"},
		{"bad url", "webhook:\n  url: ftp://host/x\n"},
		{"bad duration", "webhook:\n  timeout: soon\n"},
		{"not yaml", "webhook: [\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDurationForms(t *testing.T) {
	t.Setenv(EnvWebhookURL, "")
	for _, tt := range []struct {
		raw  string
		want time.Duration
	}{
		{`30`, 30 * time.Second},
		{`"45"`, 45 * time.Second},
		{`1m30s`, 90 * time.Second},
		{`"0"`, DefaultTimeout},
	} {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "webhook:\n  timeout: "+tt.raw+"\n"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.Webhook.Timeout.ToDuration(); got != tt.want {
				t.Errorf("timeout = %v, want %v", got, tt.want)
			}
		})
	}
}
