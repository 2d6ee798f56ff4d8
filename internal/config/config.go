package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/session"
)

// EnvPrefix prefixes environment overrides, e.g. EZCAPTURE_SAMPLE_RATE
const EnvPrefix = "EZCAPTURE"

// Config holds application configuration
type Config struct {
	RecordingsRoot   string       `json:"recordings_root" mapstructure:"recordings_root"`
	SampleRate       int          `json:"sample_rate" mapstructure:"sample_rate"`
	ChunkSeconds     float64      `json:"chunk_seconds" mapstructure:"chunk_seconds"`
	PollIntervalMS   int          `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	BufferSeconds    int          `json:"buffer_seconds" mapstructure:"buffer_seconds"`
	QueueFrames      int          `json:"queue_frames" mapstructure:"queue_frames"`
	SeparateSources  bool         `json:"separate_sources" mapstructure:"separate_sources"`
	Backends         []string     `json:"backends" mapstructure:"backends"` // empty = OS default
	DefaultMode      string       `json:"default_mode" mapstructure:"default_mode"` // "mic", "system" or "mix"
	Hotkey           HotkeyConfig `json:"hotkey" mapstructure:"hotkey"`
	ServerPort       int          `json:"server_port" mapstructure:"server_port"`
	LogLevel         string       `json:"log_level" mapstructure:"log_level"`
	LogRetentionDays int          `json:"log_retention_days" mapstructure:"log_retention_days"`
	mu               sync.RWMutex
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `json:"ctrl" mapstructure:"ctrl"`
	Shift bool   `json:"shift" mapstructure:"shift"`
	Alt   bool   `json:"alt" mapstructure:"alt"`
	Cmd   bool   `json:"cmd" mapstructure:"cmd"`
	Key   string `json:"key" mapstructure:"key"` // e.g., "R"
}

var (
	validModes    = []string{"mic", "system", "mix"}
	validBackends = []string{"portaudio", "pulse", "malgo"}
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		RecordingsRoot: "~/EzCapture",
		SampleRate:     16000,
		ChunkSeconds:   10,
		PollIntervalMS: 200,
		BufferSeconds:  30,
		QueueFrames:    64,
		DefaultMode:    "mix",
		Hotkey: HotkeyConfig{
			Ctrl: true,
			Alt:  true,
			Key:  "R",
		},
		ServerPort:       18765,
		LogLevel:         "info",
		LogRetentionDays: 7,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("recordings_root", d.RecordingsRoot)
	v.SetDefault("sample_rate", d.SampleRate)
	v.SetDefault("chunk_seconds", d.ChunkSeconds)
	v.SetDefault("poll_interval_ms", d.PollIntervalMS)
	v.SetDefault("buffer_seconds", d.BufferSeconds)
	v.SetDefault("queue_frames", d.QueueFrames)
	v.SetDefault("separate_sources", d.SeparateSources)
	v.SetDefault("backends", []string{})
	v.SetDefault("default_mode", d.DefaultMode)
	v.SetDefault("hotkey.ctrl", d.Hotkey.Ctrl)
	v.SetDefault("hotkey.shift", d.Hotkey.Shift)
	v.SetDefault("hotkey.alt", d.Hotkey.Alt)
	v.SetDefault("hotkey.cmd", d.Hotkey.Cmd)
	v.SetDefault("hotkey.key", d.Hotkey.Key)
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_retention_days", d.LogRetentionDays)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads configuration from the specified path.
// A missing file yields the defaults; environment variables override both.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = DefaultConfig().Hotkey.Key
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, _ = os.UserHomeDir()
	}
	return filepath.Join(dir, "EzCapture", "config.json")
}

func number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Update applies fields from a decoded JSON object. Nothing changes if
// the result would not validate.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.copyLocked()
	for key, value := range updates {
		switch key {
		case "recordings_root":
			if v, ok := value.(string); ok {
				next.RecordingsRoot = v
			}
		case "sample_rate":
			if v, ok := number(value); ok {
				next.SampleRate = int(v)
			}
		case "chunk_seconds":
			if v, ok := number(value); ok {
				next.ChunkSeconds = v
			}
		case "poll_interval_ms":
			if v, ok := number(value); ok {
				next.PollIntervalMS = int(v)
			}
		case "buffer_seconds":
			if v, ok := number(value); ok {
				next.BufferSeconds = int(v)
			}
		case "queue_frames":
			if v, ok := number(value); ok {
				next.QueueFrames = int(v)
			}
		case "separate_sources":
			if v, ok := value.(bool); ok {
				next.SeparateSources = v
			}
		case "backends":
			if v, ok := value.([]interface{}); ok {
				next.Backends = next.Backends[:0:0]
				for _, b := range v {
					s, ok := b.(string)
					if !ok {
						return fmt.Errorf("invalid backends entry: %v", b)
					}
					next.Backends = append(next.Backends, s)
				}
			}
		case "default_mode":
			if v, ok := value.(string); ok {
				next.DefaultMode = v
			}
		case "server_port":
			if v, ok := number(value); ok {
				next.ServerPort = int(v)
			}
		case "log_level":
			if v, ok := value.(string); ok {
				next.LogLevel = v
			}
		case "log_retention_days":
			if v, ok := number(value); ok {
				next.LogRetentionDays = int(v)
			}
		case "hotkey":
			if v, ok := value.(map[string]interface{}); ok {
				if ctrl, ok := v["ctrl"].(bool); ok {
					next.Hotkey.Ctrl = ctrl
				}
				if shift, ok := v["shift"].(bool); ok {
					next.Hotkey.Shift = shift
				}
				if alt, ok := v["alt"].(bool); ok {
					next.Hotkey.Alt = alt
				}
				if cmd, ok := v["cmd"].(bool); ok {
					next.Hotkey.Cmd = cmd
				}
				if key, ok := v["key"].(string); ok {
					next.Hotkey.Key = key
				}
			}
		default:
			return fmt.Errorf("unknown setting: %s", key)
		}
	}

	if err := next.validate(); err != nil {
		return err
	}
	c.assignLocked(next)
	return nil
}

func (c *Config) copyLocked() *Config {
	return &Config{
		RecordingsRoot:   c.RecordingsRoot,
		SampleRate:       c.SampleRate,
		ChunkSeconds:     c.ChunkSeconds,
		PollIntervalMS:   c.PollIntervalMS,
		BufferSeconds:    c.BufferSeconds,
		QueueFrames:      c.QueueFrames,
		SeparateSources:  c.SeparateSources,
		Backends:         slices.Clone(c.Backends),
		DefaultMode:      c.DefaultMode,
		Hotkey:           c.Hotkey,
		ServerPort:       c.ServerPort,
		LogLevel:         c.LogLevel,
		LogRetentionDays: c.LogRetentionDays,
	}
}

func (c *Config) assignLocked(o *Config) {
	c.RecordingsRoot = o.RecordingsRoot
	c.SampleRate = o.SampleRate
	c.ChunkSeconds = o.ChunkSeconds
	c.PollIntervalMS = o.PollIntervalMS
	c.BufferSeconds = o.BufferSeconds
	c.QueueFrames = o.QueueFrames
	c.SeparateSources = o.SeparateSources
	c.Backends = o.Backends
	c.DefaultMode = o.DefaultMode
	c.Hotkey = o.Hotkey
	c.ServerPort = o.ServerPort
	c.LogLevel = o.LogLevel
	c.LogRetentionDays = o.LogRetentionDays
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Expand ~ to home directory
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/")), nil
	}

	// Return absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetRecordingsRoot returns the expanded recordings root
func (c *Config) GetRecordingsRoot() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ExpandPath(c.RecordingsRoot)
}

// ChunkDuration returns chunk_seconds as a duration
func (c *Config) ChunkDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.ChunkSeconds * float64(time.Second))
}

// PollInterval returns poll_interval_ms as a duration
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// SessionConfig converts the settings used by new sessions
func (c *Config) SessionConfig() (session.Config, error) {
	root, err := c.GetRecordingsRoot()
	if err != nil {
		return session.Config{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return session.Config{
		RootDir:         root,
		SampleRate:      c.SampleRate,
		ChunkDuration:   time.Duration(c.ChunkSeconds * float64(time.Second)),
		PollInterval:    time.Duration(c.PollIntervalMS) * time.Millisecond,
		BufferSeconds:   c.BufferSeconds,
		QueueFrames:     c.QueueFrames,
		SeparateSources: c.SeparateSources,
	}, nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.RecordingsRoot == "" {
		return fmt.Errorf("recordings_root cannot be empty")
	}

	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate: %d (must be between 8000 and 192000)", c.SampleRate)
	}

	if c.ChunkSeconds <= 0 || c.ChunkSeconds > 3600 {
		return fmt.Errorf("invalid chunk_seconds: %v (must be between 0 and 3600)", c.ChunkSeconds)
	}

	if c.PollIntervalMS < 10 || c.PollIntervalMS > 5000 {
		return fmt.Errorf("invalid poll_interval_ms: %d (must be between 10 and 5000)", c.PollIntervalMS)
	}

	// The buffer must outlast a poll and hold at least one chunk
	if c.BufferSeconds <= 0 || c.BufferSeconds > 600 {
		return fmt.Errorf("invalid buffer_seconds: %d (must be between 1 and 600)", c.BufferSeconds)
	}
	if float64(c.BufferSeconds) < c.ChunkSeconds/5 {
		return fmt.Errorf("buffer_seconds %d is shorter than one poll pull (%v s)", c.BufferSeconds, c.ChunkSeconds/5)
	}

	if c.QueueFrames <= 0 || c.QueueFrames > 4096 {
		return fmt.Errorf("invalid queue_frames: %d (must be between 1 and 4096)", c.QueueFrames)
	}

	for _, b := range c.Backends {
		if !slices.Contains(validBackends, b) {
			return fmt.Errorf("invalid backend: %s (must be one of %s)", b, strings.Join(validBackends, ", "))
		}
	}

	if !slices.Contains(validModes, c.DefaultMode) {
		return fmt.Errorf("invalid default_mode: %s (must be 'mic', 'system' or 'mix')", c.DefaultMode)
	}

	if c.Hotkey.Key == "" {
		return fmt.Errorf("hotkey key cannot be empty")
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if c.LogRetentionDays < 0 {
		return fmt.Errorf("invalid log_retention_days: %d", c.LogRetentionDays)
	}

	return nil
}
