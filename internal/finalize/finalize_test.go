package finalize

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yok-tottii/EzCapture/internal/buffer"
	"github.com/yok-tottii/EzCapture/internal/chunker"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/mixer"
	"github.com/yok-tottii/EzCapture/internal/wav"
)

// oneSource is a fixed single-source set
type oneSource struct {
	id    string
	group string
}

func (o oneSource) ActiveIDs() []string      { return []string{o.id} }
func (o oneSource) GroupOf(id string) string { return o.group }

func writeChunk(t *testing.T, dir string, index uint64, rate int, v float32, n int) string {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	path := filepath.Join(dir, chunker.FileName(index, ""))
	if _, err := wav.WriteFile(path, rate, samples); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestFinalizeConcatenatesInIndexOrder(t *testing.T) {
	dir := t.TempDir()
	writeChunk(t, dir, 2, 16000, 0.5, 100)
	writeChunk(t, dir, 1, 16000, 0.25, 100)
	writeChunk(t, dir, 10, 16000, -0.5, 50)

	out, err := Finalize(dir)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if out != filepath.Join(dir, FinalName) {
		t.Errorf("Expected %s, got %s", filepath.Join(dir, FinalName), out)
	}

	samples, format, err := wav.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 || format.BitDepth != 16 {
		t.Errorf("Unexpected format %s", format)
	}
	if len(samples) != 250 {
		t.Fatalf("Expected 250 samples, got %d", len(samples))
	}

	// Sum of chunk sample counts and index order
	if samples[0] != wav.ToPCM16(0.25) || samples[100] != wav.ToPCM16(0.5) || samples[200] != wav.ToPCM16(-0.5) {
		t.Errorf("Unexpected order: %d %d %d", samples[0], samples[100], samples[200])
	}
}

func TestFinalizeIgnoresPartAndSideChunks(t *testing.T) {
	dir := t.TempDir()
	writeChunk(t, dir, 1, 16000, 0.1, 100)
	os.WriteFile(filepath.Join(dir, "chunk_0002.wav.part"), []byte("junk"), 0644)
	os.WriteFile(filepath.Join(dir, "chunk_0001_mic.wav"), []byte("junk"), 0644)

	parts, err := Chunks(dir)
	if err != nil {
		t.Fatalf("Chunks failed: %v", err)
	}
	if len(parts) != 1 || filepath.Base(parts[0]) != "chunk_0001.wav" {
		t.Errorf("Expected only chunk_0001.wav, got %v", parts)
	}
}

func TestFinalizeUsesManifest(t *testing.T) {
	dir := t.TempDir()
	p1 := writeChunk(t, dir, 1, 16000, 0.1, 100)
	writeChunk(t, dir, 2, 16000, 0.1, 100)
	// Stray file not in the manifest
	writeChunk(t, dir, 3, 16000, 0.1, 100)

	chunker.AppendManifest(dir, chunker.Chunk{Index: 1, Path: p1, Kind: "mix"})
	chunker.AppendManifest(dir, chunker.Chunk{Index: 2, Path: "/elsewhere/chunk_0002.wav", Kind: "mix"})
	chunker.AppendManifest(dir, chunker.Chunk{Index: 1, Path: filepath.Join(dir, "chunk_0001_mic.wav"), Kind: chunker.KindMic, Stream: chunker.StreamMic})
	// Listed but deleted
	chunker.AppendManifest(dir, chunker.Chunk{Index: 4, Path: filepath.Join(dir, "chunk_0004.wav"), Kind: "mix"})

	parts, err := Chunks(dir)
	if err != nil {
		t.Fatalf("Chunks failed: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("Expected 2 chunks from manifest, got %v", parts)
	}
	if filepath.Base(parts[1]) != "chunk_0002.wav" {
		t.Errorf("Expected moved chunk resolved inside dir, got %s", parts[1])
	}
}

func TestFinalizeEmptySession(t *testing.T) {
	dir := t.TempDir()

	if _, err := Finalize(dir); !errors.Is(err, ErrEmptySession) {
		t.Errorf("Expected ErrEmptySession, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FinalName)); !os.IsNotExist(err) {
		t.Error("final.wav must not be created for an empty session")
	}
}

func TestFinalizeFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	writeChunk(t, dir, 1, 16000, 0.1, 100)
	writeChunk(t, dir, 2, 48000, 0.1, 100)

	m := metrics.New()
	f := &Finalizer{Metrics: m}
	if _, err := f.Finalize(dir); !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("Expected ErrFormatMismatch, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FinalName)); !os.IsNotExist(err) {
		t.Error("final.wav must not be created on mismatch")
	}
	if got := testutil.ToFloat64(m.FinalizeFailures); got != 1 {
		t.Errorf("Expected 1 finalize failure, got %v", got)
	}
}

func TestFinalizeMissingDirectory(t *testing.T) {
	if _, err := Finalize(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestFinalizeOverwritesPrevious(t *testing.T) {
	dir := t.TempDir()
	writeChunk(t, dir, 1, 16000, 0.1, 100)

	if _, err := Finalize(dir); err != nil {
		t.Fatalf("First Finalize failed: %v", err)
	}
	writeChunk(t, dir, 2, 16000, 0.1, 100)
	if _, err := Finalize(dir); err != nil {
		t.Fatalf("Second Finalize failed: %v", err)
	}

	info, err := wav.ReadInfo(filepath.Join(dir, FinalName))
	if err != nil {
		t.Fatalf("ReadInfo failed: %v", err)
	}
	if info.Samples != 200 {
		t.Errorf("Expected 200 samples, got %d", info.Samples)
	}
}

func TestFinalizeSingleSourceSessions(t *testing.T) {
	tests := []struct {
		kind  string
		id    string
		group string
	}{
		{"mic", "mic_0", chunker.KindMic},
		{"system", "system_audio_pulse", chunker.KindSystem},
		{"mix", "mic_0", chunker.KindMic},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			dir := t.TempDir()
			store := buffer.NewStore(10000)
			store.Register(tt.id)
			samples := make([]float32, 200)
			for i := range samples {
				samples[i] = 0.25
			}
			store.Append(tt.id, samples)

			// 100 Hz with 1 s chunks: two complete windows
			sched := chunker.New(chunker.Config{
				SessionID:     "s1",
				Dir:           dir,
				Kind:          tt.kind,
				SampleRate:    100,
				ChunkDuration: time.Second,
				PollInterval:  time.Millisecond,
			}, mixer.New(store), oneSource{id: tt.id, group: tt.group}, nil, nil, nil)
			for i := 0; i < 10; i++ {
				sched.Tick()
			}
			if sched.Index() != 2 {
				t.Fatalf("Expected 2 chunks, got %d", sched.Index())
			}

			parts, err := Chunks(dir)
			if err != nil {
				t.Fatalf("Chunks failed: %v", err)
			}
			if len(parts) != 2 {
				t.Fatalf("Expected 2 main chunks for a %s session, got %v", tt.kind, parts)
			}

			out, err := Finalize(dir)
			if err != nil {
				t.Fatalf("Finalize failed: %v", err)
			}
			got, _, err := wav.ReadFloats(out)
			if err != nil {
				t.Fatalf("ReadFloats failed: %v", err)
			}
			if len(got) != 200 {
				t.Errorf("Expected 200 samples, got %d", len(got))
			}
		})
	}
}
