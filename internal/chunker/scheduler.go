package chunker

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/mixer"
	"github.com/yok-tottii/EzCapture/internal/wav"
)

const (
	// DefaultChunkDuration is the length of one chunk
	DefaultChunkDuration = 10 * time.Second
	// DefaultPollInterval is how often buffers are pulled
	DefaultPollInterval = 200 * time.Millisecond
	// pullDivisor sets the per-tick pull size to target/pullDivisor
	pullDivisor = 5
)

// Config describes one session's chunk stream
type Config struct {
	SessionID     string
	Dir           string
	Kind          string // session kind, recorded on main chunks
	SampleRate    int
	ChunkDuration time.Duration
	PollInterval  time.Duration
	// Separate also writes per-kind side chunks when more than one
	// source is active
	Separate bool
}

// Sources reports the ids currently participating and, for side chunks,
// which kind group (KindMic or KindSystem) each id belongs to.
type Sources interface {
	ActiveIDs() []string
	GroupOf(id string) string
}

// Scheduler pulls mixed audio on a ticker and commits fixed-length chunks
type Scheduler struct {
	config  Config
	mixer   *mixer.Mixer
	sources Sources
	bus     *events.Bus
	logger  *logger.Logger
	metrics *metrics.Metrics

	target int
	pull   int

	acc   []float32
	sides map[string][]float32

	index     atomic.Uint64
	discarded atomic.Int64
}

// New creates a scheduler. The mixer reads from the same store the
// capture streams append to.
func New(config Config, m *mixer.Mixer, sources Sources, bus *events.Bus, log *logger.Logger, met *metrics.Metrics) *Scheduler {
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = DefaultChunkDuration
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	target := int(float64(config.SampleRate) * config.ChunkDuration.Seconds())
	target = max(target, 1)

	return &Scheduler{
		config:  config,
		mixer:   m,
		sources: sources,
		bus:     bus,
		logger:  log.With("chunker"),
		metrics: met,
		target:  target,
		pull:    max(target/pullDivisor, 1),
		sides:   make(map[string][]float32),
	}
}

// Target returns the number of samples per chunk
func (s *Scheduler) Target() int {
	return s.target
}

// Index returns the index of the last committed main chunk (0 if none)
func (s *Scheduler) Index() uint64 {
	return s.index.Load()
}

// Discarded returns samples dropped because their window failed to
// encode or was still partial at stop
func (s *Scheduler) Discarded() int64 {
	return s.discarded.Load()
}

// Run polls until ctx is cancelled. On cancellation every complete window
// still in the buffers is committed and the partial remainder discarded.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info("Chunking session %s: %d samples per chunk, polling every %v",
		s.config.SessionID, s.target, s.config.PollInterval)

	for {
		select {
		case <-ctx.Done():
			s.drain()
			if n := len(s.acc); n > 0 {
				s.discarded.Add(int64(n))
				s.logger.Info("Discarding %d trailing samples (partial chunk)", n)
			}
			s.acc = nil
			s.sides = make(map[string][]float32)
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// drain pulls until the buffers are empty
func (s *Scheduler) drain() {
	for s.pullOnce(s.target) > 0 {
		s.cut()
	}
	s.cut()
}

// Tick runs one poll: pull up to target/5 samples and commit any complete
// windows.
func (s *Scheduler) Tick() {
	s.pullOnce(s.pull)
	s.cut()
}

func (s *Scheduler) pullOnce(max int) int {
	ids := s.sources.ActiveIDs()
	if len(ids) == 0 {
		return 0
	}

	mixed, parts := s.mixer.Take(ids, max)
	if len(mixed) == 0 {
		return 0
	}
	s.acc = append(s.acc, mixed...)

	// Side streams start with the first multi-source tick and continue
	// after sources drop out
	if s.config.Separate && (len(ids) > 1 || len(s.sides) > 0) {
		s.accumulateSides(ids, parts, len(mixed))
	}
	return len(mixed)
}

// accumulateSides averages the parts of each kind group and keeps every
// group the same length as the main accumulator. A group with no active
// source contributes silence.
func (s *Scheduler) accumulateSides(ids []string, parts map[string][]float32, n int) {
	groups := map[string][][]float32{KindMic: nil, KindSystem: nil}
	for _, id := range ids {
		g := s.sources.GroupOf(id)
		if _, ok := groups[g]; !ok {
			continue
		}
		groups[g] = append(groups[g], parts[id])
	}

	for g, windows := range groups {
		if _, started := s.sides[g]; !started {
			if len(windows) == 0 {
				continue
			}
			// A group joining late is aligned with the main stream
			s.sides[g] = make([]float32, len(s.acc)-n)
		}
		if len(windows) == 0 {
			s.sides[g] = append(s.sides[g], make([]float32, n)...)
			continue
		}
		s.sides[g] = append(s.sides[g], mixer.Average(windows)...)
	}
}

// cut commits every complete window in the accumulator
func (s *Scheduler) cut() {
	for len(s.acc) >= s.target {
		window := s.acc[:s.target]
		sides := make(map[string][]float32, len(s.sides))
		for g, acc := range s.sides {
			if len(acc) >= s.target {
				sides[g] = acc[:s.target]
			}
		}

		s.commit(window, sides)

		s.acc = append(s.acc[:0], s.acc[s.target:]...)
		for g, acc := range s.sides {
			if len(acc) >= s.target {
				s.sides[g] = append(acc[:0], acc[s.target:]...)
			} else {
				s.sides[g] = acc[:0]
			}
		}
	}
}

// commit writes one window. The index advances only when the main chunk
// is on disk, so committed indices have no gaps.
func (s *Scheduler) commit(window []float32, sides map[string][]float32) {
	index := s.index.Load() + 1

	chunk, err := s.write(index, "", s.config.Kind, window)
	if err != nil {
		s.discarded.Add(int64(len(window)))
		s.metrics.ChunkFailed()
		s.logger.Error("Failed to write chunk %d, window discarded: %v", index, err)
		return
	}
	s.index.Store(index)
	s.publish(chunk)

	for _, g := range []string{KindMic, KindSystem} {
		w, ok := sides[g]
		if !ok {
			continue
		}
		side, err := s.write(index, sideStreams[g], g, w)
		if err != nil {
			s.metrics.ChunkFailed()
			s.logger.Error("Failed to write %s chunk %d: %v", g, index, err)
			continue
		}
		s.publish(side)
	}
}

func (s *Scheduler) write(index uint64, stream, kind string, samples []float32) (Chunk, error) {
	started := time.Now()
	path := filepath.Join(s.config.Dir, FileName(index, stream))

	n, err := wav.WriteFile(path, s.config.SampleRate, samples)
	if err != nil {
		return Chunk{}, err
	}

	start, end, duration := Timing(index, s.chunkDuration())
	chunk := Chunk{
		SessionID:  s.config.SessionID,
		Index:      index,
		Path:       path,
		StartMS:    start,
		EndMS:      end,
		DurationMS: duration,
		Bytes:      n,
		Kind:       kind,
		Stream:     stream,
	}

	// A chunk missing from the manifest is not committed
	if err := AppendManifest(s.config.Dir, chunk); err != nil {
		os.Remove(path)
		return Chunk{}, err
	}

	s.metrics.ChunkWritten(kind, n, time.Since(started))
	s.logger.Debug("Wrote %s (%d bytes)", filepath.Base(path), n)
	return chunk, nil
}

// chunkDuration is the exact duration of target samples
func (s *Scheduler) chunkDuration() time.Duration {
	return time.Duration(s.target) * time.Second / time.Duration(s.config.SampleRate)
}

func (s *Scheduler) publish(c Chunk) {
	s.bus.Publish(events.Event{
		Type:      events.ChunkCompleted,
		SessionID: c.SessionID,
		Data:      c,
	})
}
