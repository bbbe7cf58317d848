package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/convo/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
convo:
  log:
    level: "DEBUG"
    outputs:
      file:
        enabled: true
        path: "/tmp/convo-test.log"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  capture:
    interface: "eth1"
    bpf_filter: "tcp port 8080"
    server_ports: [8080, 9000]
    flush_interval: "30s"
  view:
    printable: false
  app:
    uid: 1000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if !cfg.Log.Outputs.File.Enabled || cfg.Log.Outputs.File.Path != "/tmp/convo-test.log" {
		t.Errorf("Unexpected file output: %+v", cfg.Log.Outputs.File)
	}
	if cfg.Log.Outputs.File.Rotation.MaxSizeMB != 100 {
		t.Errorf("Expected default max_size_mb 100, got %d", cfg.Log.Outputs.File.Rotation.MaxSizeMB)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
	if cfg.Capture.Interface != "eth1" || cfg.Capture.BPFFilter != "tcp port 8080" {
		t.Errorf("Unexpected capture config: %+v", cfg.Capture)
	}
	if ports := cfg.Capture.Ports(); len(ports) != 2 || ports[0] != 8080 || ports[1] != 9000 {
		t.Errorf("Expected ports [8080 9000], got %v", ports)
	}
	if cfg.Capture.FlushDuration() != 30*time.Second {
		t.Errorf("Expected flush interval 30s, got %v", cfg.Capture.FlushDuration())
	}
	if cfg.Capture.SnapLen != 65535 {
		t.Errorf("Expected default snap_len 65535, got %d", cfg.Capture.SnapLen)
	}
	if cfg.View.Printable {
		t.Error("Expected hex view")
	}
	if cfg.App.UID != 1000 || cfg.App.TTL() != 5*time.Minute {
		t.Errorf("Unexpected app config: %+v", cfg.App)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Log.Level)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if !cfg.View.Printable || cfg.View.Width != 60 {
		t.Errorf("Unexpected view config: %+v", cfg.View)
	}
	if cfg.App.UID != -1 {
		t.Errorf("Expected app uid -1, got %d", cfg.App.UID)
	}
	if cfg.Export.Directory != "." {
		t.Errorf("Expected export directory '.', got %s", cfg.Export.Directory)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONVO_LOG_LEVEL", "warn")
	t.Setenv("CONVO_CAPTURE_SNAP_LEN", "1514")

	path := writeConfig(t, "convo:\n  log:\n    level: debug\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env override warn, got %s", cfg.Log.Level)
	}
	if cfg.Capture.SnapLen != 1514 {
		t.Errorf("Expected env override 1514, got %d", cfg.Capture.SnapLen)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "convo:\n  log:\n    level: loud\n", "log level"},
		{"metrics path", "convo:\n  metrics:\n    enabled: true\n    path: metrics\n", "metrics.path"},
		{"snap len", "convo:\n  capture:\n    snap_len: 10\n", "snap_len"},
		{"port", "convo:\n  capture:\n    server_ports: [0]\n", "server_ports"},
		{"flush interval", "convo:\n  capture:\n    flush_interval: soon\n", "flush_interval"},
		{"cache ttl", "convo:\n  app:\n    cache_ttl: -1s\n", "cache_ttl"},
		{"file path", "convo:\n  log:\n    outputs:\n      file:\n        enabled: true\n        path: \"\"\n", "file.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	cfg.Capture.Interface = "lo"

	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "convo:\n") {
		t.Errorf("Expected convo root key, got:\n%s", out)
	}

	reloaded, err := Load(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("Failed to reload dumped config: %v", err)
	}
	if reloaded.Capture.Interface != "lo" {
		t.Errorf("Expected interface lo, got %s", reloaded.Capture.Interface)
	}
}

func TestLoggerConfig(t *testing.T) {
	lc := LogConfig{
		Level:   "warn",
		Pattern: "%msg%n",
		Outputs: LogOutputsConfig{File: FileOutputConfig{
			Enabled:  true,
			Path:     "/tmp/x.log",
			Rotation: RotationConfig{MaxSizeMB: 7, MaxBackups: 2, MaxAgeDays: 3, Compress: true},
		}},
	}.LoggerConfig()

	if lc.Level != "warn" || lc.Pattern != "%msg%n" {
		t.Errorf("Unexpected logger config: %+v", lc)
	}
	if lc.File.Filename != "/tmp/x.log" || lc.File.MaxSize != 7 || lc.File.MaxBackups != 2 || lc.File.MaxAge != 3 || !lc.File.Compress {
		t.Errorf("Unexpected file appender: %+v", lc.File)
	}
}
