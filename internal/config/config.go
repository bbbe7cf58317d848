// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/log"
)

// GlobalConfig is the whole configuration, found under the `convo:` root
// key in YAML.
type GlobalConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	View    ViewConfig    `mapstructure:"view" yaml:"view"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	App     AppConfig     `mapstructure:"app" yaml:"app"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"` // trace / debug / info / warn / error
	Pattern string           `mapstructure:"pattern" yaml:"pattern"`
	Time    string           `mapstructure:"time" yaml:"time"` // Go time layout
	Caller  bool             `mapstructure:"caller" yaml:"caller"`
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LoggerConfig converts to the logger's own configuration.
func (c LogConfig) LoggerConfig() *log.LoggerConfig {
	return &log.LoggerConfig{
		Pattern: c.Pattern,
		Time:    c.Time,
		Level:   c.Level,
		Caller:  c.Caller,
		File: log.FileAppenderOpt{
			Enabled:    c.Outputs.File.Enabled,
			Filename:   c.Outputs.File.Path,
			MaxSize:    c.Outputs.File.Rotation.MaxSizeMB,
			MaxBackups: c.Outputs.File.Rotation.MaxBackups,
			MaxAge:     c.Outputs.File.Rotation.MaxAgeDays,
			Compress:   c.Outputs.File.Rotation.Compress,
		},
	}
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Capture ───

// CaptureConfig configures packet sources and the reassembly engine.
type CaptureConfig struct {
	Interface      string `mapstructure:"interface" yaml:"interface"`
	BPFFilter      string `mapstructure:"bpf_filter" yaml:"bpf_filter"` // "tcp port 80"
	SnapLen        int    `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB   int    `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	TimeoutMs      int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	ServerPorts    []int  `mapstructure:"server_ports" yaml:"server_ports"` // consulted when no SYN or payload decides roles
	MaxMessageSize int    `mapstructure:"max_message_size" yaml:"max_message_size"`
	FlushInterval  string `mapstructure:"flush_interval" yaml:"flush_interval"` // e.g. "2m"
}

// Ports returns ServerPorts as port numbers. Call after validation.
func (c CaptureConfig) Ports() []uint16 {
	out := make([]uint16, 0, len(c.ServerPorts))
	for _, p := range c.ServerPorts {
		out = append(out, uint16(p))
	}
	return out
}

// FlushDuration returns FlushInterval parsed. Call after validation.
func (c CaptureConfig) FlushDuration() time.Duration {
	d, _ := time.ParseDuration(c.FlushInterval)
	return d
}

// ─── View ───

// ViewConfig controls how conversations are printed.
type ViewConfig struct {
	Printable bool `mapstructure:"printable" yaml:"printable"` // false = hex dump
	Width     int  `mapstructure:"width" yaml:"width"`         // summary column width in listings
}

// ─── Export ───

// ExportConfig configures where exported payloads are written.
type ExportConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// ─── App metadata ───

// AppConfig configures app labels on conversation headers.
type AppConfig struct {
	UID      int    `mapstructure:"uid" yaml:"uid"` // -1 = no label
	CacheTTL string `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// TTL returns CacheTTL parsed. Call after validation.
func (c AppConfig) TTL() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `convo: ...`.
type configRoot struct {
	Convo GlobalConfig `mapstructure:"convo" yaml:"convo"`
}

// Load loads configuration from file.
// The YAML file uses `convo:` as root key; env vars use the CONVO_ prefix
// (e.g., CONVO_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*GlobalConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*GlobalConfig, error) {
	// The `convo.` key prefix maps to `CONVO_` through the key replacer
	// (e.g., key "convo.log.level" → env "CONVO_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Convo

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "convo." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("convo.log.level", "info")
	v.SetDefault("convo.log.pattern", log.DefaultPattern)
	v.SetDefault("convo.log.time", log.DefaultTime)
	v.SetDefault("convo.log.caller", false)
	v.SetDefault("convo.log.outputs.file.enabled", false)
	v.SetDefault("convo.log.outputs.file.path", "convo.log")
	v.SetDefault("convo.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("convo.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("convo.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("convo.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("convo.metrics.enabled", false)
	v.SetDefault("convo.metrics.listen", ":9091")
	v.SetDefault("convo.metrics.path", "/metrics")

	// Capture defaults
	v.SetDefault("convo.capture.interface", "")
	v.SetDefault("convo.capture.bpf_filter", "tcp")
	v.SetDefault("convo.capture.snap_len", 65535)
	v.SetDefault("convo.capture.buffer_size_mb", 32)
	v.SetDefault("convo.capture.timeout_ms", 200)
	v.SetDefault("convo.capture.server_ports", []int{80, 443, 8080, 8443})
	v.SetDefault("convo.capture.max_message_size", 16<<20)
	v.SetDefault("convo.capture.flush_interval", "2m")

	// View defaults
	v.SetDefault("convo.view.printable", true)
	v.SetDefault("convo.view.width", 60)

	// Export defaults
	v.SetDefault("convo.export.directory", ".")

	// App defaults
	v.SetDefault("convo.app.uid", -1)
	v.SetDefault("convo.app.cache_ttl", "5m")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. Every validation failure wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return invalid("log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Pattern == "" {
		cfg.Log.Pattern = log.DefaultPattern
	}
	if cfg.Log.Time == "" {
		cfg.Log.Time = log.DefaultTime
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return invalid("metrics.listen is required when metrics.enabled=true")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return invalid("metrics.path must start with '/': %s", cfg.Metrics.Path)
		}
	}

	// ── Capture validation ──
	if cfg.Capture.SnapLen < 64 || cfg.Capture.SnapLen > 262144 {
		return invalid("capture.snap_len out of range: %d (must be 64..262144)", cfg.Capture.SnapLen)
	}
	if cfg.Capture.BufferSizeMB <= 0 {
		return invalid("capture.buffer_size_mb must be positive: %d", cfg.Capture.BufferSizeMB)
	}
	if cfg.Capture.TimeoutMs <= 0 {
		return invalid("capture.timeout_ms must be positive: %d", cfg.Capture.TimeoutMs)
	}
	for _, p := range cfg.Capture.ServerPorts {
		if p < 1 || p > 65535 {
			return invalid("capture.server_ports: invalid port %d", p)
		}
	}
	if cfg.Capture.MaxMessageSize <= 0 {
		return invalid("capture.max_message_size must be positive: %d", cfg.Capture.MaxMessageSize)
	}
	if d, err := time.ParseDuration(cfg.Capture.FlushInterval); err != nil || d <= 0 {
		return invalid("capture.flush_interval: %q is not a positive duration", cfg.Capture.FlushInterval)
	}

	// ── View validation ──
	if cfg.View.Width < 20 {
		cfg.View.Width = 20
	}

	// ── Export defaults ──
	if cfg.Export.Directory == "" {
		cfg.Export.Directory = "."
	}

	// ── App validation ──
	if cfg.App.UID < -1 {
		return invalid("app.uid must be -1 or a uid: %d", cfg.App.UID)
	}
	if d, err := time.ParseDuration(cfg.App.CacheTTL); err != nil || d <= 0 {
		return invalid("app.cache_ttl: %q is not a positive duration", cfg.App.CacheTTL)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("invalid %s: %w", fmt.Sprintf(format, args...), core.ErrConfigInvalid)
}

// Dump renders cfg as YAML under the `convo:` root key, in the same shape
// Load reads.
func Dump(cfg *GlobalConfig) ([]byte, error) {
	out, err := yaml.Marshal(configRoot{Convo: *cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
