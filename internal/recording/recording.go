package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/EzCapture/internal/hotkey"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/session"
)

// State represents the current recording state
type State int

const (
	// Idle means no session is running
	Idle State = iota
	// Recording means a session is capturing audio
	Recording
	// Finalizing means the session stopped and its chunks are being joined
	Finalizing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Finalizing:
		return "Finalizing"
	default:
		return "Unknown"
	}
}

// Sessions is the part of the session manager the controller drives
type Sessions interface {
	StartMode(ctx context.Context, kind session.Kind) (session.Session, error)
	StopAndFinalize() (session.Session, string, error)
	Active() (session.Session, bool)
}

// Result reports a finished session
type Result struct {
	Session   session.Session
	FinalPath string
	Err       error
}

// Config holds configuration for the recording controller
type Config struct {
	Mode        session.Kind  // mode started by Toggle
	MaxDuration time.Duration // 0 = no limit
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Mode: session.KindMix,
	}
}

// Manager turns hotkey presses and menu clicks into session start and
// stop-and-finalize calls
type Manager struct {
	state     State
	sessions  Sessions
	config    Config
	logger    *logger.Logger
	results   chan Result
	onState   func(State)
	stopTimer *time.Timer
	mu        sync.Mutex
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new recording controller
func New(sessions Sessions, config Config, log *logger.Logger) *Manager {
	if config.Mode == "" {
		config.Mode = session.KindMix
	}
	return &Manager{
		state:    Idle,
		sessions: sessions,
		config:   config,
		logger:   log.With("recording"),
		results:  make(chan Result, 4),
		stopChan: make(chan struct{}),
	}
}

// OnStateChange registers a callback invoked after every state change.
// It must not call back into the Manager.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// SetMode sets the mode started by Toggle
func (m *Manager) SetMode(kind session.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Mode = kind
}

// Watch toggles recording on every hotkey press until Stop is called or
// the channel closes
func (m *Manager) Watch(events <-chan hotkey.Event) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Type != hotkey.Pressed {
					continue
				}
				if err := m.Toggle(); err != nil {
					m.logger.Warn("Hotkey toggle failed: %v", err)
				}
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Toggle starts a session in the configured mode, or stops and finalizes
// the running one. A session started elsewhere (e.g. over HTTP) is
// stopped too.
func (m *Manager) Toggle() error {
	if _, ok := m.sessions.Active(); ok {
		return m.StopRecording()
	}
	m.mu.Lock()
	mode := m.config.Mode
	m.mu.Unlock()
	return m.StartRecording(mode)
}

// StartRecording starts a session of the given kind
func (m *Manager) StartRecording(kind session.Kind) error {
	m.mu.Lock()
	if m.state == Finalizing {
		m.mu.Unlock()
		return fmt.Errorf("cannot start while finalizing")
	}
	m.mu.Unlock()

	// The session manager replaces any running session itself
	s, err := m.sessions.StartMode(context.Background(), kind)
	if err != nil {
		return fmt.Errorf("failed to start %s session: %w", kind, err)
	}

	m.mu.Lock()
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	if m.config.MaxDuration > 0 {
		m.stopTimer = time.AfterFunc(m.config.MaxDuration, func() {
			m.logger.Info("Session %s reached %v, stopping", s.ID, m.config.MaxDuration)
			if err := m.StopRecording(); err != nil {
				m.logger.Warn("Auto-stop failed: %v", err)
			}
		})
	}
	m.setStateLocked(Recording)
	m.mu.Unlock()

	m.logger.Info("Recording %s session %s", s.Kind, s.ID)
	return nil
}

// StopRecording stops the running session and joins its chunks. The
// outcome is delivered on Results.
func (m *Manager) StopRecording() error {
	m.mu.Lock()
	if m.state == Finalizing {
		m.mu.Unlock()
		return fmt.Errorf("already finalizing")
	}
	if m.stopTimer != nil {
		m.stopTimer.Stop()
		m.stopTimer = nil
	}
	m.setStateLocked(Finalizing)
	m.mu.Unlock()

	s, path, err := m.sessions.StopAndFinalize()

	m.mu.Lock()
	m.setStateLocked(Idle)
	m.mu.Unlock()

	if err != nil && s.ID == "" {
		// Nothing was running
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	if err != nil {
		m.logger.Error("Session %s stopped but finalize failed: %v", s.ID, err)
	} else {
		m.logger.Info("Session %s finalized: %s", s.ID, path)
	}

	// Send result to channel (non-blocking)
	select {
	case m.results <- Result{Session: s, FinalPath: path, Err: err}:
	default:
		m.logger.Warn("Result channel full, dropping result for %s", s.ID)
	}
	return err
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// Results returns the channel of finished sessions
func (m *Manager) Results() <-chan Result {
	return m.results
}

// GetState returns the current recording state
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop stops watching for hotkey events. A running session is stopped
// and finalized first.
func (m *Manager) Stop() error {
	var err error
	if _, ok := m.sessions.Active(); ok {
		err = m.StopRecording()
	}

	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
	return err
}
