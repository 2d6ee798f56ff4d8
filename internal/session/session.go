// Package session owns the lifecycle of a capture session: its streams,
// buffers, chunk scheduler and on-disk directory.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind is the capture mode of a session
type Kind string

const (
	KindMic    Kind = "mic"
	KindSystem Kind = "system"
	KindMix    Kind = "mix"
)

// ParseKind accepts "mic", "system" or "mix"
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMic, KindSystem, KindMix:
		return k, nil
	}
	return "", fmt.Errorf("unknown session mode %q (want mic, system or mix)", s)
}

// MetaName is the session metadata file
const MetaName = "session.yaml"

// Session describes one capture session. ChunkIndex is the number of the
// last committed main chunk, which is also the count of main chunks.
type Session struct {
	ID            string    `json:"id" yaml:"id"`
	SourceIDs     []string  `json:"source_ids" yaml:"source_ids"`
	Kind          Kind      `json:"kind" yaml:"kind"`
	Directory     string    `json:"directory" yaml:"directory"`
	ChunkIndex    uint64    `json:"chunk_index" yaml:"chunk_index"`
	SampleRate    int       `json:"sample_rate" yaml:"sample_rate"`
	ChunkSeconds  float64   `json:"chunk_seconds" yaml:"chunk_seconds"`
	Separate      bool      `json:"separate_sources" yaml:"separate_sources"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	StoppedAt     time.Time `json:"stopped_at,omitzero" yaml:"stopped_at,omitempty"`
	FailedSources []string  `json:"failed_sources,omitempty" yaml:"failed_sources,omitempty"`
}

// Duration returns the audio committed so far
func (s Session) Duration() time.Duration {
	return time.Duration(float64(s.ChunkIndex) * s.ChunkSeconds * float64(time.Second))
}

// Save writes dir/session.yaml atomically
func Save(s Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	path := filepath.Join(s.Directory, MetaName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session metadata: %w", err)
	}
	return nil
}

// Load reads dir/session.yaml. Directory is set to dir even if the
// session was moved.
func Load(dir string) (Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaName))
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode %s: %w", MetaName, err)
	}
	s.Directory = dir
	return s, nil
}
