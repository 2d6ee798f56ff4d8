package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/EzCapture/internal/audio"
	"github.com/yok-tottii/EzCapture/internal/buffer"
	"github.com/yok-tottii/EzCapture/internal/chunker"
	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/finalize"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/mixer"
)

var (
	// ErrNoSourceStarted means none of the requested sources could be opened
	ErrNoSourceStarted = errors.New("no source started")
	// ErrNoActiveSession means there is no session to stop
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive means the operation needs the session to be stopped
	ErrSessionActive = errors.New("session is still recording")
	// ErrInvalidSessionID means the id is not a session uuid
	ErrInvalidSessionID = errors.New("invalid session id")
)

// RecordingsDir is the directory under the root that holds sessions
const RecordingsDir = "recordings"

// Registry is the part of audio.Registry the manager uses
type Registry interface {
	Discover() []audio.AudioSource
	Lookup(id string) (audio.AudioSource, bool)
	FirstOfKind(kind audio.SourceKind) (audio.AudioSource, error)
	SetActive(id string, active bool)
	Open(id string, sink audio.Sink, cfg audio.StreamConfig, onError func(id string, err error)) (*audio.CaptureStream, error)
}

// Config holds settings applied to the next session
type Config struct {
	RootDir         string
	SampleRate      int
	ChunkDuration   time.Duration
	PollInterval    time.Duration
	BufferSeconds   int
	QueueFrames     int
	SeparateSources bool
}

// DefaultConfig returns 16kHz, 10 second chunks polled every 200ms
func DefaultConfig() Config {
	return Config{
		RootDir:       ".",
		SampleRate:    16000,
		ChunkDuration: chunker.DefaultChunkDuration,
		PollInterval:  chunker.DefaultPollInterval,
		BufferSeconds: buffer.DefaultCapacitySeconds,
		QueueFrames:   audio.DefaultStreamConfig().QueueFrames,
	}
}

// Deps are the collaborators of a Manager. Only Registry is required.
type Deps struct {
	Registry Registry
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Events   *events.Bus
}

// Manager runs at most one session at a time
type Manager struct {
	deps      Deps
	logger    *logger.Logger
	finalizer *finalize.Finalizer

	mu     sync.Mutex
	config Config
	active *run
}

// NewManager creates a session manager
func NewManager(config Config, deps Deps) *Manager {
	log := deps.Logger.With("session")
	return &Manager{
		deps:      deps,
		logger:    log,
		finalizer: &finalize.Finalizer{Logger: deps.Logger.With("finalize"), Metrics: deps.Metrics},
		config:    config,
	}
}

// run is the live state of the active session
type run struct {
	session Session
	store   *buffer.Store
	streams []*audio.CaptureStream
	sched   *chunker.Scheduler
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	ids    []string // sources still participating
	failed []string
	groups map[string]string
}

func (r *run) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ids)
}

func (r *run) GroupOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[id]
}

// join adds id to the participating set before its stream opens, so a
// failure reported while opening finds it
func (r *run) join(id, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.groups[id] = group
}

// forget undoes join for a source whose stream did not open
func (r *run) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = slices.DeleteFunc(r.ids, func(s string) bool { return s == id })
	r.failed = slices.DeleteFunc(r.failed, func(s string) bool { return s == id })
	delete(r.groups, id)
}

func (r *run) hasFailed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.failed, id)
}

// drop removes id from the participating set and reports whether it was there
func (r *run) drop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.ids, id)
	if i < 0 {
		return false
	}
	r.ids = slices.Delete(r.ids, i, i+1)
	r.failed = append(r.failed, id)
	return true
}

func (r *run) snapshot() Session {
	s := r.session
	s.SourceIDs = slices.Clone(s.SourceIDs)
	s.ChunkIndex = r.sched.Index()
	r.mu.Lock()
	s.FailedSources = slices.Clone(r.failed)
	r.mu.Unlock()
	return s
}

// Config returns the settings for the next session
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// SetConfig replaces the settings for the next session
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// SetSeparateSources toggles per-source chunk files for the next session
func (m *Manager) SetSeparateSources(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.SeparateSources = on
}

// Discover enumerates sources
func (m *Manager) Discover() []audio.AudioSource {
	return m.deps.Registry.Discover()
}

func groupOf(kind audio.SourceKind) string {
	if kind == audio.SystemAudio {
		return chunker.KindSystem
	}
	return chunker.KindMic
}

// Start begins a session over ids. An active session is stopped first.
// Sources that fail to open are skipped; if none opens the directory is
// removed and the error wraps ErrNoSourceStarted.
func (m *Manager) Start(ctx context.Context, ids []string, kind Kind) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.logger.Info("Stopping session %s before starting a new one", m.active.session.ID)
		m.stopLocked()
	}

	// Ordered set
	var unique []string
	for _, id := range ids {
		if !slices.Contains(unique, id) {
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return Session{}, fmt.Errorf("%w: no sources requested", ErrNoSourceStarted)
	}

	cfg := m.config
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultConfig().ChunkDuration
	}

	id := uuid.NewString()
	dir := filepath.Join(cfg.RootDir, RecordingsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Session{}, fmt.Errorf("create session directory: %w", err)
	}

	r := &run{
		store:  buffer.NewStoreForRate(cfg.SampleRate, cfg.BufferSeconds),
		groups: make(map[string]string),
		done:   make(chan struct{}),
	}

	reg := m.deps.Registry
	streamCfg := audio.StreamConfig{SampleRate: cfg.SampleRate, QueueFrames: cfg.QueueFrames}

	var errs []error
	var opened []string
	rediscovered := false
	for _, sid := range unique {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		src, ok := reg.Lookup(sid)
		if !ok && !rediscovered {
			reg.Discover()
			rediscovered = true
			src, ok = reg.Lookup(sid)
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", sid, audio.ErrDeviceUnavailable))
			m.logger.Warn("Skipping unknown source %s", sid)
			continue
		}

		r.store.Register(sid)
		r.join(sid, groupOf(src.Kind))
		stream, err := reg.Open(sid, r.store, streamCfg, func(failedID string, err error) {
			m.sourceFailed(r, id, failedID, err)
		})
		if err != nil {
			r.forget(sid)
			r.store.Remove(sid)
			errs = append(errs, err)
			m.logger.Warn("Skipping source %s: %v", sid, err)
			continue
		}

		r.streams = append(r.streams, stream)
		opened = append(opened, sid)
		if r.hasFailed(sid) {
			// Failed before Open returned and marked it active
			reg.SetActive(sid, false)
		}
	}

	if err := ctx.Err(); err != nil {
		for _, stream := range r.streams {
			stream.Stop()
			reg.SetActive(stream.Source().ID, false)
		}
		os.RemoveAll(dir)
		return Session{}, fmt.Errorf("start cancelled: %w", err)
	}

	if len(r.streams) == 0 {
		os.RemoveAll(dir)
		return Session{}, fmt.Errorf("%w: %w", ErrNoSourceStarted, errors.Join(errs...))
	}

	r.session = Session{
		ID:           id,
		SourceIDs:    opened,
		Kind:         kind,
		Directory:    dir,
		SampleRate:   cfg.SampleRate,
		ChunkSeconds: cfg.ChunkDuration.Seconds(),
		Separate:     cfg.SeparateSources,
		StartedAt:    time.Now(),
	}
	if err := Save(r.session); err != nil {
		m.logger.Warn("Session %s: %v", id, err)
	}

	r.sched = chunker.New(chunker.Config{
		SessionID:     id,
		Dir:           dir,
		Kind:          string(kind),
		SampleRate:    cfg.SampleRate,
		ChunkDuration: cfg.ChunkDuration,
		PollInterval:  cfg.PollInterval,
		Separate:      cfg.SeparateSources,
	}, mixer.New(r.store), r, m.deps.Events, m.deps.Logger, m.deps.Metrics)

	schedCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		r.sched.Run(schedCtx)
	}()

	m.active = r
	m.deps.Metrics.SessionStarted(string(kind))
	m.deps.Metrics.SetActiveSources(len(r.ActiveIDs()))
	m.deps.Events.Publish(events.Event{Type: events.SessionStarted, SessionID: id, Data: r.session})

	m.logger.Info("Session %s started (%s): %v -> %s", id, kind, opened, dir)
	return r.snapshot(), nil
}

// sourceFailed takes a source out of the running session after a
// runtime error. The session continues with the remaining sources. The
// buffer stays registered until the session stops: the scheduler may be
// mid-drain on it.
func (m *Manager) sourceFailed(r *run, sessionID, id string, err error) {
	if !r.drop(id) {
		return
	}
	m.deps.Registry.SetActive(id, false)
	m.deps.Metrics.ForgetSource(id)

	remaining := len(r.ActiveIDs())
	m.deps.Metrics.SetActiveSources(remaining)
	m.deps.Events.Publish(events.Event{
		Type:      events.SourceFailed,
		SessionID: sessionID,
		Data:      map[string]string{"source_id": id, "error": err.Error()},
	})

	if remaining == 0 {
		m.logger.Error("Session %s: last source %s failed (%v), no audio is being captured", sessionID, id, err)
		return
	}
	m.logger.Warn("Session %s: source %s failed (%v), continuing with %d source(s)", sessionID, id, err, remaining)
}

// StartMic starts a session on the first microphone
func (m *Manager) StartMic(ctx context.Context) (Session, error) {
	src, err := m.deps.Registry.FirstOfKind(audio.Microphone)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrNoSourceStarted, err)
	}
	return m.Start(ctx, []string{src.ID}, KindMic)
}

// StartSystem starts a session on the first system-audio source
func (m *Manager) StartSystem(ctx context.Context) (Session, error) {
	src, err := m.deps.Registry.FirstOfKind(audio.SystemAudio)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrNoSourceStarted, err)
	}
	return m.Start(ctx, []string{src.ID}, KindSystem)
}

// StartMix starts a session on the first microphone and the first
// system-audio source. With only one of them available the session runs
// on that source and takes its kind.
func (m *Manager) StartMix(ctx context.Context) (Session, error) {
	mic, micErr := m.deps.Registry.FirstOfKind(audio.Microphone)
	sys, sysErr := m.deps.Registry.FirstOfKind(audio.SystemAudio)

	switch {
	case micErr == nil && sysErr == nil:
		return m.Start(ctx, []string{mic.ID, sys.ID}, KindMix)
	case micErr == nil:
		m.logger.Warn("No system audio source, mix degrades to microphone only")
		return m.Start(ctx, []string{mic.ID}, KindMic)
	case sysErr == nil:
		m.logger.Warn("No microphone, mix degrades to system audio only")
		return m.Start(ctx, []string{sys.ID}, KindSystem)
	default:
		return Session{}, fmt.Errorf("%w: %w", ErrNoSourceStarted, errors.Join(micErr, sysErr))
	}
}

// StartMode dispatches to StartMic, StartSystem or StartMix
func (m *Manager) StartMode(ctx context.Context, kind Kind) (Session, error) {
	switch kind {
	case KindMic:
		return m.StartMic(ctx)
	case KindSystem:
		return m.StartSystem(ctx)
	case KindMix:
		return m.StartMix(ctx)
	default:
		return Session{}, fmt.Errorf("unknown session mode %q", kind)
	}
}

// Stop ends the active session: streams are stopped, the remaining
// complete windows are committed and session.yaml is rewritten.
func (m *Manager) Stop() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return Session{}, ErrNoActiveSession
	}
	return m.stopLocked(), nil
}

func (m *Manager) stopLocked() Session {
	r := m.active
	m.active = nil

	// Streams first so their queued audio reaches the store
	for _, s := range r.streams {
		if err := s.Stop(); err != nil {
			m.logger.Warn("Session %s: %v", r.session.ID, err)
		}
		id := s.Source().ID
		m.deps.Registry.SetActive(id, false)
		m.deps.Metrics.ForgetSource(id)
	}

	r.cancel()
	<-r.done

	s := r.snapshot()
	s.StoppedAt = time.Now()
	r.session = s
	if err := Save(s); err != nil {
		m.logger.Warn("Session %s: %v", s.ID, err)
	}

	m.deps.Metrics.SetActiveSources(0)
	m.deps.Events.Publish(events.Event{Type: events.SessionStopped, SessionID: s.ID, Data: s})
	m.logger.Info("Session %s stopped: %d chunk(s), %d sample(s) discarded",
		s.ID, s.ChunkIndex, r.sched.Discarded())
	return s
}

// Active returns a snapshot of the running session
func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return Session{}, false
	}
	return m.active.snapshot(), true
}

// StopAndFinalize stops the active session and joins its chunks
func (m *Manager) StopAndFinalize() (Session, string, error) {
	s, err := m.Stop()
	if err != nil {
		return Session{}, "", err
	}

	path, err := m.finalizer.Finalize(s.Directory)
	if err != nil {
		return s, "", err
	}
	m.deps.Events.Publish(events.Event{Type: events.Finalized, SessionID: s.ID, Data: map[string]string{"path": path}})
	return s, path, nil
}

// SessionDir returns the directory of session id under the root
func (m *Manager) SessionDir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w %q", ErrInvalidSessionID, id)
	}
	return filepath.Join(m.Config().RootDir, RecordingsDir, id), nil
}

// FinalizeSession joins the chunks of a stopped session
func (m *Manager) FinalizeSession(id string) (string, error) {
	if s, ok := m.Active(); ok && s.ID == id {
		return "", fmt.Errorf("finalize %s: %w", id, ErrSessionActive)
	}

	dir, err := m.SessionDir(id)
	if err != nil {
		return "", err
	}
	path, err := m.finalizer.Finalize(dir)
	if err != nil {
		return "", err
	}
	m.deps.Events.Publish(events.Event{Type: events.Finalized, SessionID: id, Data: map[string]string{"path": path}})
	return path, nil
}

// SourceStatus is the live state of one source in the active session
type SourceStatus struct {
	buffer.SourceStats
	FramesDropped int64 `json:"frames_dropped"`
	Failed        bool  `json:"failed"`
}

// Status is a point-in-time view of the manager
type Status struct {
	Recording     bool           `json:"recording"`
	Session       *Session       `json:"session,omitempty"`
	Sources       []SourceStatus `json:"sources"`
	TotalBuffered int            `json:"total_buffered_samples"`
	TotalDropped  uint64         `json:"total_dropped_samples"`
}

// Status reports buffer levels and drop counters of the active session
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Sources: []SourceStatus{}}
	if m.active == nil {
		return st
	}
	r := m.active

	s := r.snapshot()
	st.Recording = true
	st.Session = &s

	streams := make(map[string]*audio.CaptureStream, len(r.streams))
	for _, cs := range r.streams {
		streams[cs.Source().ID] = cs
	}
	for _, stats := range r.store.Stats() {
		ss := SourceStatus{SourceStats: stats}
		if cs, ok := streams[stats.SourceID]; ok {
			ss.FramesDropped = cs.FramesDropped()
			ss.Failed = cs.Failed()
		}
		m.deps.Metrics.SetBuffered(stats.SourceID, stats.Buffered)
		st.TotalBuffered += stats.Buffered
		st.TotalDropped += stats.Dropped
		st.Sources = append(st.Sources, ss)
	}
	return st
}

// Recording summarizes one session directory on disk
type Recording struct {
	ID        string    `json:"id"`
	Directory string    `json:"directory"`
	Kind      Kind      `json:"kind,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Chunks    int       `json:"chunks"`
	Final     string    `json:"final,omitempty"`
	Active    bool      `json:"active"`
}

// Recordings lists the session directories under the root, newest first
func (m *Manager) Recordings() ([]Recording, error) {
	root := filepath.Join(m.Config().RootDir, RecordingsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Recording{}, nil
		}
		return nil, fmt.Errorf("list recordings: %w", err)
	}

	activeID := ""
	if s, ok := m.Active(); ok {
		activeID = s.ID
	}

	recs := make([]Recording, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		rec := Recording{ID: e.Name(), Directory: dir, Active: e.Name() == activeID}

		if s, err := Load(dir); err == nil {
			rec.Kind = s.Kind
			rec.StartedAt = s.StartedAt
			rec.StoppedAt = s.StoppedAt
		} else if info, err := e.Info(); err == nil {
			rec.StartedAt = info.ModTime()
		}

		if chunks, err := finalize.Chunks(dir); err == nil {
			rec.Chunks = len(chunks)
		}
		final := filepath.Join(dir, finalize.FinalName)
		if _, err := os.Stat(final); err == nil {
			rec.Final = final
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.After(recs[j].StartedAt) })
	return recs, nil
}
