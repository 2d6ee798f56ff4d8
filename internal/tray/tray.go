package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/recording"
	"github.com/yok-tottii/EzCapture/internal/session"
)

const appName = "EzCapture"

// Manager manages the system tray icon and menu
type Manager struct {
	stateMutex sync.RWMutex
	state      recording.State
	detail     string // last result shown in the tooltip
	ready      bool

	logger          *logger.Logger
	onReadyCallback func()
	onStart         func(kind session.Kind)
	onStop          func()
	onSeparate      func(on bool)
	onQuit          func()
	separate        bool

	menuStartMic    *systray.MenuItem
	menuStartSystem *systray.MenuItem
	menuStartMix    *systray.MenuItem
	menuStop        *systray.MenuItem
	menuSeparate    *systray.MenuItem
	menuQuit        *systray.MenuItem

	// Icon cache
	iconIdle       []byte
	iconRecording  []byte
	iconFinalizing []byte
}

// Config holds tray manager configuration
type Config struct {
	OnReady    func() // Called when systray is ready for initialization
	OnStart    func(kind session.Kind)
	OnStop     func() // Stop & Finalize
	OnSeparate func(on bool)
	OnQuit     func()
	Separate   bool // initial state of the separate-sources checkbox
	Logger     *logger.Logger
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	m := &Manager{
		state:           recording.Idle,
		logger:          config.Logger.With("tray"),
		onReadyCallback: config.OnReady,
		onStart:         config.OnStart,
		onStop:          config.OnStop,
		onSeparate:      config.OnSeparate,
		onQuit:          config.OnQuit,
		separate:        config.Separate,
	}

	// Load icons once at initialization
	m.iconIdle = m.loadIconData("idle.png", circleIcon(color.RGBA{0xe3, 0xe3, 0xe3, 0xff}))
	m.iconRecording = m.loadIconData("recording.png", circleIcon(color.RGBA{0xe5, 0x39, 0x35, 0xff}))
	m.iconFinalizing = m.loadIconData("finalizing.png", circleIcon(color.RGBA{0xf1, 0x9e, 0x39, 0xff}))

	return m
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// onReady is called when systray is ready
func (m *Manager) onReady() {
	systray.SetTitle("")

	m.menuStartMic = systray.AddMenuItem("Start Mic", "Record the default microphone")
	m.menuStartSystem = systray.AddMenuItem("Start System", "Record system audio")
	m.menuStartMix = systray.AddMenuItem("Start Mix", "Record microphone and system audio mixed")
	m.menuStop = systray.AddMenuItem("Stop & Finalize", "Stop recording and write final.wav")

	systray.AddSeparator()

	m.menuSeparate = systray.AddMenuItemCheckbox("Separate source files", "Also write per-source chunks in mix sessions", m.separate)

	systray.AddSeparator()

	m.menuQuit = systray.AddMenuItem("Quit", "Quit the application")

	m.stateMutex.Lock()
	m.ready = true
	m.updateIcon()
	m.stateMutex.Unlock()

	// Start event loop
	go m.handleMenuEvents()

	// Call the OnReady callback if provided
	if m.onReadyCallback != nil {
		m.onReadyCallback()
	}
}

// onExit is called when systray is exiting
func (m *Manager) onExit() {
	m.stateMutex.Lock()
	m.ready = false
	m.stateMutex.Unlock()
}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuStartMic.ClickedCh:
			m.start(session.KindMic)
		case <-m.menuStartSystem.ClickedCh:
			m.start(session.KindSystem)
		case <-m.menuStartMix.ClickedCh:
			m.start(session.KindMix)
		case <-m.menuStop.ClickedCh:
			if m.onStop != nil {
				m.onStop()
			}
		case <-m.menuSeparate.ClickedCh:
			on := !m.menuSeparate.Checked()
			if on {
				m.menuSeparate.Check()
			} else {
				m.menuSeparate.Uncheck()
			}
			if m.onSeparate != nil {
				m.onSeparate(on)
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (m *Manager) start(kind session.Kind) {
	if m.onStart != nil {
		m.onStart(kind)
	}
}

// SetState updates the tray icon and menu for the recording state
func (m *Manager) SetState(state recording.State) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.state = state
	m.updateIcon()
}

// SetDetail sets the text shown after the state in the tooltip, e.g. the
// path of the last final.wav
func (m *Manager) SetDetail(detail string) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.detail = detail
	m.updateIcon()
}

// menuEnabled returns which menu actions are available in a state
func menuEnabled(state recording.State) (start, stop bool) {
	switch state {
	case recording.Idle:
		return true, false
	case recording.Recording:
		return false, true
	default:
		return false, false
	}
}

// tooltip returns the tooltip for a state
func tooltip(state recording.State, detail string) string {
	text := appName + " - " + state.String()
	if detail != "" {
		text += " (" + detail + ")"
	}
	return text
}

// updateIcon applies the current state. Must hold stateMutex.
func (m *Manager) updateIcon() {
	if !m.ready {
		return
	}

	switch m.state {
	case recording.Recording:
		systray.SetIcon(m.iconRecording)
	case recording.Finalizing:
		systray.SetIcon(m.iconFinalizing)
	default:
		systray.SetIcon(m.iconIdle)
	}
	systray.SetTooltip(tooltip(m.state, m.detail))

	start, stop := menuEnabled(m.state)
	for _, item := range []*systray.MenuItem{m.menuStartMic, m.menuStartSystem, m.menuStartMix} {
		if start {
			item.Enable()
		} else {
			item.Disable()
		}
	}
	if stop {
		m.menuStop.Enable()
	} else {
		m.menuStop.Disable()
	}
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}

// loadIconData loads an icon from the assets directory next to the
// executable, falling back to a generated icon
func (m *Manager) loadIconData(filename string, fallback []byte) []byte {
	exe, err := os.Executable()
	if err != nil {
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		m.logger.Debug("Using built-in icon, %s not loaded: %v", iconPath, err)
		return fallback
	}

	return data
}

// circleIcon renders a 32x32 PNG with a filled circle of color c
func circleIcon(c color.RGBA) []byte {
	const size = 32
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	center := float64(size-1) / 2
	radius := float64(size) / 2.5

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
