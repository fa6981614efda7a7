package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Stream        StreamConfig        `yaml:"stream"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	Enabled        bool   `yaml:"enabled"`
	WriteTimeout   int    `yaml:"write_timeout"`    // seconds, 0 disables
	MaxUploadBytes int64  `yaml:"max_upload_bytes"` // 0 means unlimited
}

// AudioConfig contains segmentation parameters
type AudioConfig struct {
	MinSilenceLenMs  int     `yaml:"min_silence_len_ms"`
	SilenceThreshDB  float64 `yaml:"silence_thresh_db"`
	MinChunkLengthMs int     `yaml:"min_chunk_length_ms"`
	MaxChunkLengthMs int     `yaml:"max_chunk_length_ms"`
}

// SchedulerConfig contains worker pool configuration
type SchedulerConfig struct {
	Workers     int `yaml:"workers"`
	QueueSize   int `yaml:"queue_size"`
	TaskTimeout int `yaml:"task_timeout"` // seconds, 0 disables
}

// StreamConfig contains session configuration
type StreamConfig struct {
	SessionTimeout  int `yaml:"session_timeout"` // seconds
	ContextMaxChars int `yaml:"context_max_chars"`
}

// TranscriptionConfig contains transcription engine configuration
type TranscriptionConfig struct {
	Engine       string `yaml:"engine"` // "http" or "stub"
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	Timeout      int    `yaml:"timeout"` // seconds
	MaxRetries   int    `yaml:"max_retries"`
	Language     string `yaml:"language"`
	Model        string `yaml:"model"`
	OutputFormat string `yaml:"output_format"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for every key the file leaves out
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "0.0.0.0",
			Enabled:        true,
			WriteTimeout:   0,
			MaxUploadBytes: 256 << 20,
		},
		Audio: AudioConfig{
			MinSilenceLenMs:  500,
			SilenceThreshDB:  -32,
			MinChunkLengthMs: 2000,
			MaxChunkLengthMs: 5000,
		},
		Scheduler: SchedulerConfig{
			Workers:   2,
			QueueSize: 100,
		},
		Stream: StreamConfig{
			SessionTimeout:  300,
			ContextMaxChars: 1000,
		},
		Transcription: TranscriptionConfig{
			Engine:       "http",
			Endpoint:     "http://localhost:9000/v1/audio/transcriptions",
			Timeout:      60,
			MaxRetries:   0,
			Language:     "de",
			OutputFormat: "json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applying environment
// overrides from the process environment
func Load(path string) (*Config, error) {
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup is Load with an injectable environment lookup
func LoadWithLookup(path string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv(lookup)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides selected values from VTD_* environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrideString(lookup, "VTD_TRANSCRIPTION_ENGINE", &c.Transcription.Engine)
	overrideString(lookup, "VTD_TRANSCRIPTION_ENDPOINT", &c.Transcription.Endpoint)
	overrideString(lookup, "VTD_TRANSCRIPTION_API_KEY", &c.Transcription.APIKey)
	overrideString(lookup, "VTD_TRANSCRIPTION_LANGUAGE", &c.Transcription.Language)
	overrideString(lookup, "VTD_TRANSCRIPTION_MODEL", &c.Transcription.Model)
	overrideString(lookup, "VTD_LOG_LEVEL", &c.Logging.Level)
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Sanitized returns a copy that is safe to expose over the API
func (c *Config) Sanitized() Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "***"
	}
	return out
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout cannot be negative, got %d", h.WriteTimeout)
	}

	if h.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative, got %d", h.MaxUploadBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.MinSilenceLenMs < 1 {
		return fmt.Errorf("min_silence_len_ms must be at least 1, got %d", a.MinSilenceLenMs)
	}

	if a.SilenceThreshDB > 0 || math.IsNaN(a.SilenceThreshDB) {
		return fmt.Errorf("silence_thresh_db must be <= 0, got %f", a.SilenceThreshDB)
	}

	if a.MinChunkLengthMs < 0 {
		return fmt.Errorf("min_chunk_length_ms cannot be negative, got %d", a.MinChunkLengthMs)
	}

	if a.MaxChunkLengthMs < a.MinChunkLengthMs || a.MaxChunkLengthMs < 1 {
		return fmt.Errorf("max_chunk_length_ms (%d) must be positive and not below min_chunk_length_ms (%d)",
			a.MaxChunkLengthMs, a.MinChunkLengthMs)
	}

	return nil
}

// Validate validates scheduler configuration
func (s *SchedulerConfig) Validate() error {
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout cannot be negative, got %d", s.TaskTimeout)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	if s.ContextMaxChars < 0 {
		return fmt.Errorf("context_max_chars cannot be negative, got %d", s.ContextMaxChars)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Engine {
	case "stub":
		return nil
	case "http":
	default:
		return fmt.Errorf("engine must be 'http' or 'stub', got '%s'", t.Engine)
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetMinSilenceLen returns the silence window as a time.Duration
func (a *AudioConfig) GetMinSilenceLen() time.Duration {
	return time.Duration(a.MinSilenceLenMs) * time.Millisecond
}

// GetMinChunkLength returns the minimum chunk length as a time.Duration
func (a *AudioConfig) GetMinChunkLength() time.Duration {
	return time.Duration(a.MinChunkLengthMs) * time.Millisecond
}

// GetMaxChunkLength returns the maximum chunk length as a time.Duration
func (a *AudioConfig) GetMaxChunkLength() time.Duration {
	return time.Duration(a.MaxChunkLengthMs) * time.Millisecond
}

// GetTaskTimeoutDuration returns the engine call timeout as a time.Duration
func (s *SchedulerConfig) GetTaskTimeoutDuration() time.Duration {
	return time.Duration(s.TaskTimeout) * time.Second
}

// GetSessionTimeoutDuration returns the session timeout as a time.Duration
func (s *StreamConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}
