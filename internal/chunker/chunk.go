// Package chunker cuts the mixed capture stream into fixed-length WAV
// chunks and records them in a per-session manifest.
package chunker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the per-session list of committed chunks
const ManifestName = "chunks.jsonl"

// Chunk kinds for per-source emission; the main stream uses the session kind
const (
	KindMic    = "mic"
	KindSystem = "system"
)

// Side stream names, used as the file name suffix (chunk_0001_sys.wav)
const (
	StreamMic    = "mic"
	StreamSystem = "sys"
)

// sideStreams maps a kind group to its side stream name
var sideStreams = map[string]string{KindMic: StreamMic, KindSystem: StreamSystem}

// Chunk describes one committed WAV file
type Chunk struct {
	SessionID  string `json:"session_id"`
	Index      uint64 `json:"index"`
	Path       string `json:"path"`
	StartMS    int64  `json:"start_ms"`
	EndMS      int64  `json:"end_ms"`
	DurationMS int64  `json:"duration_ms"`
	Bytes      int64  `json:"bytes"`
	Kind       string `json:"kind"`
	// Stream is empty for the main stream and names the side stream
	// otherwise. Kind alone cannot tell them apart: a mic-only session
	// has main chunks of kind mic.
	Stream     string `json:"stream,omitempty"`
}

// Main reports whether c belongs to the main (mixed or single-source)
// stream rather than a per-source side stream.
func (c Chunk) Main() bool {
	return c.Stream == ""
}

// FileName returns chunk_0001.wav for the main stream or
// chunk_0001_<stream>.wav for a side stream.
func FileName(index uint64, stream string) string {
	if stream == "" {
		return fmt.Sprintf("chunk_%04d.wav", index)
	}
	return fmt.Sprintf("chunk_%04d_%s.wav", index, stream)
}

// Timing returns start, end and duration in milliseconds for the 1-based
// index with the given chunk duration.
func Timing(index uint64, d time.Duration) (start, end, duration int64) {
	duration = d.Milliseconds()
	end = int64(index) * duration
	start = end - duration
	return start, end, duration
}

// AppendManifest appends c as one JSON line to dir/chunks.jsonl
func AppendManifest(dir string, c Chunk) error {
	line, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", c.Index, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(filepath.Join(dir, ManifestName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest returns every chunk recorded in dir/chunks.jsonl in file
// order. A missing manifest returns os.ErrNotExist. A truncated last line
// (crash mid-write) is ignored.
func ReadManifest(dir string) ([]Chunk, error) {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []Chunk
	scanner := bufio.NewScanner(f)
	line := 0
	var pending error
	for scanner.Scan() {
		line++
		if pending != nil {
			// A bad line followed by good ones is corruption, not truncation
			return nil, pending
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			pending = fmt.Errorf("manifest line %d: %w", line, err)
			continue
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return chunks, nil
}

// IsNotExist reports whether err means there is no manifest
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
