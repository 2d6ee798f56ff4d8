package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("Expected default config to be created")
	}

	if !config.Hotkey.Ctrl || !config.Hotkey.Alt || config.Hotkey.Key != "R" {
		t.Errorf("Expected Ctrl+Alt+R, got %+v", config.Hotkey)
	}

	if config.SampleRate != 16000 {
		t.Errorf("Expected SampleRate 16000, got %d", config.SampleRate)
	}

	if config.ChunkSeconds != 10 {
		t.Errorf("Expected ChunkSeconds 10, got %v", config.ChunkSeconds)
	}

	if config.PollIntervalMS != 200 {
		t.Errorf("Expected PollIntervalMS 200, got %d", config.PollIntervalMS)
	}

	if config.DefaultMode != "mix" {
		t.Errorf("Expected DefaultMode 'mix', got '%s'", config.DefaultMode)
	}

	if config.ServerPort != 18765 {
		t.Errorf("Expected ServerPort 18765, got %d", config.ServerPort)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.json")

	config := DefaultConfig()
	config.DefaultMode = "system"
	config.ChunkSeconds = 2.5
	config.Backends = []string{"pulse", "portaudio"}
	config.Hotkey.Shift = true

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.DefaultMode != "system" {
		t.Errorf("Expected DefaultMode 'system', got '%s'", loaded.DefaultMode)
	}

	if loaded.ChunkSeconds != 2.5 {
		t.Errorf("Expected ChunkSeconds 2.5, got %v", loaded.ChunkSeconds)
	}

	if strings.Join(loaded.Backends, ",") != "pulse,portaudio" {
		t.Errorf("Expected backends pulse,portaudio, got %v", loaded.Backends)
	}

	if !loaded.Hotkey.Shift || loaded.Hotkey.Key != "R" {
		t.Errorf("Expected hotkey to round trip, got %+v", loaded.Hotkey)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.json")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error for missing file, got: %v", err)
	}

	if config.SampleRate != 16000 || config.DefaultMode != "mix" {
		t.Errorf("Expected defaults, got %+v", config)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"sample_rate": 48000, "hotkey": {"shift": true}}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.SampleRate != 48000 {
		t.Errorf("Expected SampleRate 48000, got %d", config.SampleRate)
	}
	if config.ChunkSeconds != 10 {
		t.Errorf("Expected default ChunkSeconds 10, got %v", config.ChunkSeconds)
	}
	if !config.Hotkey.Shift || !config.Hotkey.Ctrl || config.Hotkey.Key != "R" {
		t.Errorf("Expected merged hotkey, got %+v", config.Hotkey)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for malformed config")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("EZCAPTURE_SAMPLE_RATE", "22050")
	t.Setenv("EZCAPTURE_HOTKEY_KEY", "F9")

	config, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.SampleRate != 22050 {
		t.Errorf("Expected SampleRate 22050 from env, got %d", config.SampleRate)
	}
	if config.Hotkey.Key != "F9" {
		t.Errorf("Expected hotkey key F9 from env, got %s", config.Hotkey.Key)
	}
}

func TestUpdate(t *testing.T) {
	config := DefaultConfig()

	updates := map[string]interface{}{
		"default_mode":     "mic",
		"chunk_seconds":    float64(5),
		"separate_sources": true,
		"backends":         []interface{}{"malgo"},
		"hotkey": map[string]interface{}{
			"shift": true,
			"key":   "M",
		},
	}

	if err := config.Update(updates); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	if config.DefaultMode != "mic" {
		t.Errorf("Expected DefaultMode 'mic', got '%s'", config.DefaultMode)
	}
	if config.ChunkSeconds != 5 {
		t.Errorf("Expected ChunkSeconds 5, got %v", config.ChunkSeconds)
	}
	if !config.SeparateSources {
		t.Error("Expected SeparateSources to be true")
	}
	if len(config.Backends) != 1 || config.Backends[0] != "malgo" {
		t.Errorf("Expected backends [malgo], got %v", config.Backends)
	}
	if !config.Hotkey.Shift || config.Hotkey.Key != "M" || !config.Hotkey.Ctrl {
		t.Errorf("Unexpected hotkey %+v", config.Hotkey)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		updates map[string]interface{}
	}{
		{"unknown key", map[string]interface{}{"language": "ja"}},
		{"bad mode", map[string]interface{}{"default_mode": "stereo"}},
		{"bad rate", map[string]interface{}{"sample_rate": float64(100)}},
		{"bad backend", map[string]interface{}{"backends": []interface{}{"alsa"}}},
		{"non-string backend", map[string]interface{}{"backends": []interface{}{1.0}}},
		{"bad level", map[string]interface{}{"log_level": "loud"}},
		{"empty key", map[string]interface{}{"hotkey": map[string]interface{}{"key": ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			if err := config.Update(tt.updates); err == nil {
				t.Error("Expected error")
			}
			// Rejected updates leave the config untouched
			if config.DefaultMode != "mix" || config.SampleRate != 16000 || config.Hotkey.Key != "R" {
				t.Errorf("Config changed after rejected update: %+v", config)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero chunk", func(c *Config) { c.ChunkSeconds = 0 }, true},
		{"fast poll", func(c *Config) { c.PollIntervalMS = 1 }, true},
		{"no buffer", func(c *Config) { c.BufferSeconds = 0 }, true},
		{"buffer shorter than pull", func(c *Config) { c.ChunkSeconds = 60; c.BufferSeconds = 5 }, true},
		{"no queue", func(c *Config) { c.QueueFrames = 0 }, true},
		{"bad port", func(c *Config) { c.ServerPort = 70000 }, true},
		{"negative retention", func(c *Config) { c.LogRetentionDays = -1 }, true},
		{"empty root", func(c *Config) { c.RecordingsRoot = "" }, true},
		{"valid backends", func(c *Config) { c.Backends = []string{"pulse", "malgo"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClone(t *testing.T) {
	config := DefaultConfig()
	config.Backends = []string{"pulse"}

	clone := config.Clone()
	clone.Backends[0] = "malgo"
	clone.Hotkey.Key = "X"

	if config.Backends[0] != "pulse" {
		t.Error("Clone shares the backends slice")
	}
	if config.Hotkey.Key != "R" {
		t.Error("Clone modified the original hotkey")
	}
}

func TestSessionConfig(t *testing.T) {
	config := DefaultConfig()
	config.RecordingsRoot = t.TempDir()
	config.ChunkSeconds = 1.5
	config.SeparateSources = true

	sc, err := config.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig failed: %v", err)
	}

	if sc.RootDir != config.RecordingsRoot {
		t.Errorf("Expected root %s, got %s", config.RecordingsRoot, sc.RootDir)
	}
	if sc.ChunkDuration != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s chunks, got %v", sc.ChunkDuration)
	}
	if sc.PollInterval != 200*time.Millisecond {
		t.Errorf("Expected 200ms poll, got %v", sc.PollInterval)
	}
	if sc.SampleRate != 16000 || sc.BufferSeconds != 30 || sc.QueueFrames != 64 || !sc.SeparateSources {
		t.Errorf("Unexpected session config %+v", sc)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("No home directory: %v", err)
	}

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"~", homeDir},
		{"~/EzCapture", filepath.Join(homeDir, "EzCapture")},
	}

	for _, tt := range tests {
		got, err := ExpandPath(tt.input)
		if err != nil {
			t.Errorf("ExpandPath(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	abs, err := ExpandPath("relative/dir")
	if err != nil || !filepath.IsAbs(abs) {
		t.Errorf("Expected absolute path, got %q (%v)", abs, err)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if filepath.Base(path) != "config.json" || filepath.Base(filepath.Dir(path)) != "EzCapture" {
		t.Errorf("Unexpected config path %s", path)
	}
}
