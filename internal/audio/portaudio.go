package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// A PortAudio stream whose device goes away stops calling back without
// reporting anything. portAudioStallTimeout without a callback counts as
// a runtime failure.
const (
	portAudioStallTimeout = 2 * time.Second
	portAudioWatchEvery   = 250 * time.Millisecond
)

// ErrStreamStalled is reported when a running stream stops delivering
// buffers
var ErrStreamStalled = errors.New("stream stopped delivering audio")

// PortAudioBackend captures from PortAudio input devices
type PortAudioBackend struct {
	config BackendConfig
	mu     sync.Mutex
	closed bool
}

// NewPortAudioBackend initializes PortAudio
func NewPortAudioBackend(config BackendConfig) (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioBackend{config: config}, nil
}

// Name returns "portaudio"
func (b *PortAudioBackend) Name() string {
	return BackendPortAudio
}

func portAudioKey(dev *portaudio.DeviceInfo) string {
	if dev.HostApi != nil {
		return dev.HostApi.Name + "/" + dev.Name
	}
	return dev.Name
}

// Endpoints returns every device with input channels
func (b *PortAudioBackend) Endpoints() ([]Endpoint, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	var result []Endpoint
	for _, dev := range devices {
		// Only include devices with input channels
		if dev.MaxInputChannels <= 0 {
			continue
		}

		result = append(result, Endpoint{
			Backend:    BackendPortAudio,
			Key:        portAudioKey(dev),
			Name:       dev.Name,
			Kind:       Microphone,
			Channels:   min(dev.MaxInputChannels, 2),
			SampleRate: int(dev.DefaultSampleRate),
			IsDefault:  defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}

	return result, nil
}

func (b *PortAudioBackend) find(key string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, dev := range devices {
		if portAudioKey(dev) == key {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, key)
}

// Open opens a callback stream at the device's native rate
func (b *PortAudioBackend) Open(ep Endpoint, cb Callbacks) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: portaudio backend closed", ErrDeviceOpenFailed)
	}

	device, err := b.find(ep.Key)
	if err != nil {
		return nil, err
	}

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("%w: '%s' has no input channels (output-only device)",
			ErrUnsupportedFormat, device.Name)
	}

	// Set latency
	var latency time.Duration
	switch b.config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	framesPerBuffer := b.config.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultBackendConfig().FramesPerBuffer
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: max(ep.Channels, 1),
			Latency:  latency,
		},
		SampleRate:      float64(ep.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	watch := newStallWatch(portAudioStallTimeout, cb.Error)
	stream, err := portaudio.OpenStream(streamParams, func(in []float32) {
		watch.touch()
		cb.Data(in)
	})
	if err != nil {
		return nil, portAudioError("failed to open stream", err)
	}

	return &portAudioHandle{stream: stream, watch: watch}, nil
}

// portAudioError maps PortAudio format rejections to ErrUnsupportedFormat
func portAudioError(msg string, err error) error {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.InvalidSampleRate, portaudio.InvalidChannelCount, portaudio.SampleFormatNotSupported:
			return fmt.Errorf("%s: %w: %v", msg, ErrUnsupportedFormat, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrDeviceOpenFailed, err)
}

// Close terminates PortAudio
func (b *PortAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// stallWatch reports ErrStreamStalled once when touch has not been called
// for timeout while running
type stallWatch struct {
	timeout time.Duration
	onError func(error)
	last    atomic.Int64 // unix nanos
	quit    chan struct{}
}

func newStallWatch(timeout time.Duration, onError func(error)) *stallWatch {
	return &stallWatch{timeout: timeout, onError: onError}
}

func (w *stallWatch) touch() {
	w.last.Store(time.Now().UnixNano())
}

func (w *stallWatch) start(every time.Duration) {
	w.touch()
	w.quit = make(chan struct{})
	go w.run(w.quit, every)
}

func (w *stallWatch) stop() {
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
}

func (w *stallWatch) run(quit chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, w.last.Load())) < w.timeout {
				continue
			}
			if w.onError != nil {
				w.onError(fmt.Errorf("%w for %v", ErrStreamStalled, w.timeout))
			}
			return
		}
	}
}

type portAudioHandle struct {
	stream  *portaudio.Stream
	watch   *stallWatch
	mu      sync.Mutex
	running bool
	closed  bool
}

func (h *portAudioHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.stream.Start(); err != nil {
		return portAudioError("failed to start stream", err)
	}
	h.running = true
	h.watch.start(portAudioWatchEvery)
	return nil
}

func (h *portAudioHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	h.watch.stop()
	if err := h.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

func (h *portAudioHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.watch.stop()
	if err := h.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
