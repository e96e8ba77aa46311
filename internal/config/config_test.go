package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/s.db
http_addr: ":9000"
workers: 3
page_timeout: 90s
default_dpi: 200
log_level: debug
detection:
  profile: narrow
  match_thresh: 0.8
  feature:
    transform: affine
    ransac_iterations: 500
  symbols:
    weld: {match_thresh: 0.9, rotations: [0, 45]}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/tmp/s.db" || cfg.HTTPAddr != ":9000" || cfg.Workers != 3 {
		t.Errorf("server fields: %+v", cfg)
	}
	if cfg.PageTimeout != 90*time.Second {
		t.Errorf("page_timeout = %v, want 90s", cfg.PageTimeout)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.Level())
	}

	d := cfg.Detection
	if d.Profile != "narrow" || d.MatchThresh != 0.8 {
		t.Errorf("detection overrides lost: %+v", d)
	}
	if d.IoUThresh != 0.3 || d.Feature.MaxKeypoints != 1500 {
		t.Errorf("unset detection fields lost their defaults: iou %v keypoints %d", d.IoUThresh, d.Feature.MaxKeypoints)
	}
	if d.Feature.Transform != detection.TransformAffine || d.Feature.RansacIterations != 500 {
		t.Errorf("feature block: %+v", d.Feature)
	}
	weld, ok := d.Symbols["weld"]
	if !ok || weld.MatchThresh == nil || *weld.MatchThresh != 0.9 || len(weld.Rotations) != 2 {
		t.Errorf("symbol override: %+v", weld)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "workers: [",
		"negative work": "workers: -1",
		"log level":     "log_level: loud",
		"empty db":      `db_path: ""`,
		"detection":     "detection: {iou_thresh: 1.5}",
		"profile":       "detection: {profile: wide}",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_DetectionErrorWrapped(t *testing.T) {
	_, err := Load(writeConfig(t, "detection: {match_thresh: 2}"))
	if !errors.Is(err, detection.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDB:       "/data/x.db",
		EnvHTTPAddr: "127.0.0.1:7000",
		EnvLogLevel: "error",
	}
	cfg := DefaultConfig()
	cfg.applyEnv(func(k string) string { return env[k] })
	if cfg.DBPath != "/data/x.db" || cfg.HTTPAddr != "127.0.0.1:7000" || cfg.Level() != slog.LevelError {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	path := writeConfig(t, "workers: 2\ndb_path: file.db\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvDB, "env.db")
	t.Setenv(EnvHTTPAddr, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Workers != 2 || cfg.DBPath != "env.db" {
		t.Errorf("got workers %d db %s", cfg.Workers, cfg.DBPath)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelWarn, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
