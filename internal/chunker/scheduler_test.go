package chunker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/EzCapture/internal/buffer"
	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/mixer"
	"github.com/yok-tottii/EzCapture/internal/wav"
)

type staticSources struct {
	mu     sync.Mutex
	ids    []string
	groups map[string]string
}

func (s *staticSources) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func (s *staticSources) GroupOf(id string) string {
	return s.groups[id]
}

func (s *staticSources) set(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = ids
}

type fixture struct {
	dir     string
	store   *buffer.Store
	sources *staticSources
	bus     *events.Bus
	metrics *metrics.Metrics
	sched   *Scheduler
}

// newFixture builds a 100 Hz scheduler with 1 s chunks (target 100)
func newFixture(t *testing.T, separate bool, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		dir:   t.TempDir(),
		store: buffer.NewStore(10000),
		sources: &staticSources{
			ids:    ids,
			groups: map[string]string{"mic_0": KindMic, "system_audio_pulse": KindSystem},
		},
		bus:     events.New(16),
		metrics: metrics.New(),
	}
	f.sched = New(Config{
		SessionID:     "s1",
		Dir:           f.dir,
		Kind:          "mix",
		SampleRate:    100,
		ChunkDuration: time.Second,
		PollInterval:  time.Millisecond,
		Separate:      separate,
	}, mixer.New(f.store), f.sources, f.bus, logger.Nop(), f.metrics)
	return f
}

func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func approx(a, b float32) bool {
	d := a - b
	return d < 1e-3 && d > -1e-3
}

func TestTickPullsFifthOfTarget(t *testing.T) {
	f := newFixture(t, false, "mic_0")
	f.store.Append("mic_0", constant(0.5, 100))

	if f.sched.Target() != 100 {
		t.Fatalf("Expected target 100, got %d", f.sched.Target())
	}

	for i := 0; i < 4; i++ {
		f.sched.Tick()
	}
	if f.sched.Index() != 0 {
		t.Fatalf("Expected no chunk after 4 ticks, got index %d", f.sched.Index())
	}
	if got := f.store.Len("mic_0"); got != 20 {
		t.Errorf("Expected 20 samples left, got %d", got)
	}

	f.sched.Tick()
	if f.sched.Index() != 1 {
		t.Fatalf("Expected chunk 1 after 5 ticks, got index %d", f.sched.Index())
	}

	path := filepath.Join(f.dir, "chunk_0001.wav")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected chunk file: %v", err)
	}
	if info.Size() != 44+2*100 {
		t.Errorf("Expected %d bytes, got %d", 44+2*100, info.Size())
	}
}

func TestChunkMetadataAndManifest(t *testing.T) {
	f := newFixture(t, false, "mic_0")
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	f.store.Append("mic_0", constant(0.1, 300))
	for i := 0; i < 15; i++ {
		f.sched.Tick()
	}

	chunks, err := ReadManifest(f.dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		want := uint64(i + 1)
		if c.Index != want {
			t.Errorf("Expected index %d, got %d", want, c.Index)
		}
		if c.EndMS-c.StartMS != c.DurationMS {
			t.Errorf("Chunk %d: end-start %d != duration %d", c.Index, c.EndMS-c.StartMS, c.DurationMS)
		}
		if int64(c.Index)*c.DurationMS != c.EndMS {
			t.Errorf("Chunk %d: index*duration != end_ms %d", c.Index, c.EndMS)
		}
		if c.DurationMS != 1000 || c.Kind != "mix" || c.SessionID != "s1" {
			t.Errorf("Unexpected chunk %+v", c)
		}
		if c.Bytes != 244 {
			t.Errorf("Expected 244 bytes, got %d", c.Bytes)
		}
	}

	for i := 1; i <= 3; i++ {
		select {
		case e := <-ch:
			c, ok := e.Data.(Chunk)
			if e.Type != events.ChunkCompleted || !ok || c.Index != uint64(i) {
				t.Errorf("Unexpected event %+v", e)
			}
		default:
			t.Fatalf("Expected event for chunk %d", i)
		}
	}
}

func TestMixedChunkAveragesSources(t *testing.T) {
	f := newFixture(t, false, "mic_0", "system_audio_pulse")
	f.store.Append("mic_0", constant(0.2, 100))
	f.store.Append("system_audio_pulse", constant(0.6, 100))

	for i := 0; i < 5; i++ {
		f.sched.Tick()
	}

	samples, format, err := wav.ReadFloats(filepath.Join(f.dir, "chunk_0001.wav"))
	if err != nil {
		t.Fatalf("ReadFloats failed: %v", err)
	}
	if format.SampleRate != 100 || format.Channels != 1 || format.BitDepth != 16 {
		t.Errorf("Unexpected format %s", format)
	}
	if len(samples) != 100 {
		t.Fatalf("Expected 100 samples, got %d", len(samples))
	}
	if !approx(samples[0], 0.4) || !approx(samples[99], 0.4) {
		t.Errorf("Expected 0.4, got %v..%v", samples[0], samples[99])
	}
}

func TestRunCommitsCompleteWindowsAndDiscardsPartial(t *testing.T) {
	f := newFixture(t, false, "mic_0")
	f.store.Append("mic_0", constant(0.3, 250))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.sched.Run(ctx)

	if f.sched.Index() != 2 {
		t.Errorf("Expected 2 chunks, got %d", f.sched.Index())
	}
	if got := f.sched.Discarded(); got != 50 {
		t.Errorf("Expected 50 discarded samples, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "chunk_0003.wav")); !os.IsNotExist(err) {
		t.Error("Partial window must not be written")
	}
}

func TestEncoderFailureKeepsIndicesGapFree(t *testing.T) {
	f := newFixture(t, false, "mic_0")
	f.sched.config.Dir = filepath.Join(f.dir, "missing")

	f.store.Append("mic_0", constant(0.3, 100))
	for i := 0; i < 5; i++ {
		f.sched.Tick()
	}
	if f.sched.Index() != 0 {
		t.Fatalf("Expected no committed chunk, got %d", f.sched.Index())
	}
	if got := f.sched.Discarded(); got != 100 {
		t.Errorf("Expected 100 discarded samples, got %d", got)
	}

	// Recovers once the directory is writable again
	f.sched.config.Dir = f.dir
	f.store.Append("mic_0", constant(0.3, 100))
	for i := 0; i < 5; i++ {
		f.sched.Tick()
	}
	if f.sched.Index() != 1 {
		t.Fatalf("Expected chunk 1 after recovery, got %d", f.sched.Index())
	}
	if _, err := os.Stat(filepath.Join(f.dir, "chunk_0001.wav")); err != nil {
		t.Errorf("Expected chunk_0001.wav: %v", err)
	}
}

func TestSeparateSourcesWritesSideChunks(t *testing.T) {
	f := newFixture(t, true, "mic_0", "system_audio_pulse")
	f.store.Append("mic_0", constant(0.2, 100))
	f.store.Append("system_audio_pulse", constant(0.6, 100))

	for i := 0; i < 5; i++ {
		f.sched.Tick()
	}

	chunks, err := ReadManifest(f.dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	kinds := map[string]bool{}
	mains := 0
	for _, c := range chunks {
		kinds[c.Kind] = true
		if c.Index != 1 {
			t.Errorf("Expected side chunks to share index 1, got %d", c.Index)
		}
		if c.Main() {
			mains++
			if c.Kind != "mix" {
				t.Errorf("Expected only the mix chunk to be main, got %s", c.Kind)
			}
		}
	}
	if mains != 1 {
		t.Errorf("Expected 1 main chunk, got %d", mains)
	}
	for _, k := range []string{"mix", KindMic, KindSystem} {
		if !kinds[k] {
			t.Errorf("Expected a %s chunk in %v", k, kinds)
		}
	}

	mic, _, err := wav.ReadFloats(filepath.Join(f.dir, "chunk_0001_mic.wav"))
	if err != nil {
		t.Fatalf("Read mic chunk failed: %v", err)
	}
	if !approx(mic[0], 0.2) {
		t.Errorf("Expected mic chunk at 0.2, got %v", mic[0])
	}
}

func TestSeparateGroupPadsWithSilenceAfterFailure(t *testing.T) {
	f := newFixture(t, true, "mic_0", "system_audio_pulse")
	f.store.Append("mic_0", constant(0.2, 200))
	f.store.Append("system_audio_pulse", constant(0.6, 40))

	// Two ticks with both sources, then the system source drops out
	f.sched.Tick()
	f.sched.Tick()
	f.sources.set("mic_0")
	for i := 0; i < 3; i++ {
		f.sched.Tick()
	}

	sys, _, err := wav.ReadFloats(filepath.Join(f.dir, "chunk_0001_sys.wav"))
	if err != nil {
		t.Fatalf("Read system chunk failed: %v", err)
	}
	if len(sys) != 100 {
		t.Fatalf("Expected 100 samples, got %d", len(sys))
	}
	if !approx(sys[0], 0.6) || sys[99] != 0 {
		t.Errorf("Expected 0.6 then silence, got %v..%v", sys[0], sys[99])
	}
}

func TestNoActiveSourcesIsIdle(t *testing.T) {
	f := newFixture(t, false)
	f.sched.Tick()
	if f.sched.Index() != 0 {
		t.Errorf("Expected no chunks, got %d", f.sched.Index())
	}
}
