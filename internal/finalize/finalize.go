// Package finalize concatenates a session's chunks into final.wav.
package finalize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/yok-tottii/EzCapture/internal/chunker"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/wav"
)

// FinalName is the output file in the session directory
const FinalName = "final.wav"

var (
	// ErrFormatMismatch means the chunks do not share one format
	ErrFormatMismatch = errors.New("chunk format mismatch")
	// ErrEmptySession means the session has no committed chunks
	ErrEmptySession = errors.New("session has no chunks")
)

// mainChunk matches committed main-stream chunk names only
var mainChunk = regexp.MustCompile(`^chunk_(\d{4,})\.wav$`)

type part struct {
	index uint64
	path  string
}

// Finalizer joins chunks. The zero value works without logging or metrics.
type Finalizer struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Finalize writes dir/final.wav with a zero-value Finalizer
func Finalize(dir string) (string, error) {
	return (&Finalizer{}).Finalize(dir)
}

// Finalize concatenates the main chunks of the session in dir in index
// order and returns the path of final.wav. With no chunks it returns
// ErrEmptySession and writes nothing.
func (f *Finalizer) Finalize(dir string) (string, error) {
	started := time.Now()
	path, err := f.finalize(dir)
	f.Metrics.Finalized(time.Since(started), err)
	if err != nil {
		f.Logger.Error("Finalize %s failed: %v", dir, err)
		return "", err
	}
	f.Logger.Info("Finalized %s in %v", path, time.Since(started).Round(time.Millisecond))
	return path, nil
}

func (f *Finalizer) finalize(dir string) (string, error) {
	parts, err := Chunks(dir)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%s: %w", dir, ErrEmptySession)
	}

	first, err := wav.ReadInfo(parts[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(parts[0]), err)
	}
	for _, p := range parts[1:] {
		info, err := wav.ReadInfo(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		if info.Format != first.Format {
			return "", fmt.Errorf("%w: %s is %s, expected %s",
				ErrFormatMismatch, filepath.Base(p), info.Format, first.Format)
		}
	}
	if first.Channels != wav.Channels || first.BitDepth != wav.BitDepth {
		return "", fmt.Errorf("%w: chunks are %s", ErrFormatMismatch, first.Format)
	}

	out := filepath.Join(dir, FinalName)
	enc, err := wav.Create(out, first.SampleRate)
	if err != nil {
		return "", err
	}

	for _, p := range parts {
		samples, _, err := wav.ReadFile(p)
		if err != nil {
			enc.Abort()
			return "", fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		if err := enc.WritePCM(samples); err != nil {
			enc.Abort()
			return "", err
		}
	}

	if _, err := enc.Commit(); err != nil {
		return "", err
	}
	return out, nil
}

// Chunks returns the paths of the committed main chunks in dir, sorted by
// index. The manifest is authoritative when present; otherwise the
// directory is listed. Files that no longer exist are skipped.
func Chunks(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("session directory: %w", err)
	}

	manifest, err := chunker.ReadManifest(dir)
	var parts []part
	switch {
	case err == nil:
		parts = fromManifest(dir, manifest)
	case chunker.IsNotExist(err):
		parts, err = fromListing(dir)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })

	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		paths = append(paths, p.path)
	}
	return paths, nil
}

func fromManifest(dir string, chunks []chunker.Chunk) []part {
	seen := make(map[uint64]bool)
	var parts []part
	for _, c := range chunks {
		if !c.Main() || seen[c.Index] {
			continue
		}
		// Sessions may be moved; resolve by name inside dir
		path := filepath.Join(dir, filepath.Base(c.Path))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		seen[c.Index] = true
		parts = append(parts, part{index: c.Index, path: path})
	}
	return parts
}

func fromListing(dir string) ([]part, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list session directory: %w", err)
	}

	var parts []part
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := mainChunk.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		index, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		parts = append(parts, part{index: index, path: filepath.Join(dir, e.Name())})
	}
	return parts, nil
}
