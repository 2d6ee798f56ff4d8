package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzCapture/internal/config"
)

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event
type Event struct {
	Type EventType
}

// Config is a binding ready for registration. Use Build to derive one
// from the configured binding.
type Config struct {
	Modifiers []hotkey.Modifier
	Key       hotkey.Key
}

// Manager manages global hotkey registration and events
type Manager struct {
	hk        *hotkey.Hotkey
	config    Config
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with the default binding (Ctrl+Alt+R)
func New() *Manager {
	defaults, _ := Build(config.DefaultConfig().Hotkey)
	return &Manager{
		config:    defaults,
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
	}
}

// Register registers the hotkey with the system
func (m *Manager) Register(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	m.config = cfg

	// Recreate channels (they may have been closed by a previous Close())
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	// Create hotkey instance
	hk := hotkey.New(m.config.Modifiers, m.config.Key)

	// Register the hotkey
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}

	m.hk = hk
	m.running = true

	// Start listening in a goroutine
	m.wg.Add(1)
	go m.listen(hk, m.eventChan, m.stopChan)

	return nil
}

// Rebind swaps the registered binding while keeping the event channel
// open. On failure the previous binding is restored.
func (m *Manager) Rebind(b config.HotkeyConfig) error {
	cfg, err := Build(b)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		m.config = cfg
		return nil
	}

	close(m.stopChan)
	m.wg.Wait()
	if err := m.hk.Unregister(); err != nil {
		return fmt.Errorf("failed to unregister hotkey: %w", err)
	}

	previous := m.config
	hk := hotkey.New(cfg.Modifiers, cfg.Key)
	if regErr := hk.Register(); regErr != nil {
		err = fmt.Errorf("failed to register hotkey: %w", regErr)
		cfg = previous
		hk = hotkey.New(cfg.Modifiers, cfg.Key)
		if restoreErr := hk.Register(); restoreErr != nil {
			close(m.eventChan)
			m.eventChan = nil
			m.running = false
			return fmt.Errorf("%w; restoring previous binding: %w", err, restoreErr)
		}
	}

	m.hk = hk
	m.config = cfg
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go m.listen(hk, m.eventChan, m.stopChan)
	return err
}

// RegisterDefault registers the default hotkey
func (m *Manager) RegisterDefault() error {
	return m.Register(m.config)
}

// listen forwards key presses and releases to the event channel. Events
// are dropped while the consumer is behind.
func (m *Manager) listen(hk *hotkey.Hotkey, events chan<- Event, stop <-chan struct{}) {
	defer m.wg.Done()

	send := func(e Event) {
		select {
		case events <- e:
		default:
		}
	}

	for {
		select {
		case <-hk.Keydown():
			send(Event{Type: Pressed})
		case <-hk.Keyup():
			send(Event{Type: Released})
		case <-stop:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events. The
// channel is closed by Close and replaced by the next Register.
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters the hotkey and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var unregisterErr error

	// Signal the listener to stop
	close(m.stopChan)

	// Wait for the listener goroutine to finish
	m.wg.Wait()

	// Cleanup continues even if unregistering fails
	if m.hk != nil {
		if err := m.hk.Unregister(); err != nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}

	// Close event channel to notify consumers of shutdown
	if m.eventChan != nil {
		close(m.eventChan)
		m.eventChan = nil
	}

	// A failed Unregister must not block the next Register
	m.running = false

	return unregisterErr
}

// IsRunning returns whether the hotkey is currently registered and running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetConfig returns a deep copy of the current hotkey configuration
// to prevent callers from modifying the Manager's internal state
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create a shallow copy of the config struct
	configCopy := m.config

	// Deep copy the Modifiers slice to prevent caller from mutating it
	if m.config.Modifiers != nil {
		configCopy.Modifiers = make([]hotkey.Modifier, len(m.config.Modifiers))
		copy(configCopy.Modifiers, m.config.Modifiers)
	}

	return configCopy
}
