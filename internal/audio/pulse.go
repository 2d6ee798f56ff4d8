package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

// pulseWatchInterval is how often a running record stream is checked for
// a server-side failure
const pulseWatchInterval = 250 * time.Millisecond

const (
	// pulseSourcePrefix marks endpoint keys that name an input source
	// rather than a sink whose monitor is recorded
	pulseSourcePrefix  = "source:"
	pulseMonitorSuffix = ".monitor"
)

// pulseDevice is the part of a sink or source the endpoint list needs
type pulseDevice struct {
	id   string
	name string
}

// PulseBackend records the monitor of PulseAudio (or PipeWire-pulse) sinks
// and input sources
type PulseBackend struct {
	config BackendConfig
	client *pulse.Client
	mu     sync.Mutex
}

// NewPulseBackend connects to the sound server
func NewPulseBackend(config BackendConfig) (*PulseBackend, error) {
	name := config.AppName
	if name == "" {
		name = DefaultBackendConfig().AppName
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName(name))
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}
	return &PulseBackend{config: config, client: client}, nil
}

// Name returns "pulse"
func (b *PulseBackend) Name() string {
	return BackendPulse
}

// Endpoints lists one monitor endpoint per sink and one microphone per
// input source. Monitor sources are skipped since the sink already covers
// them.
func (b *PulseBackend) Endpoints() ([]Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, fmt.Errorf("pulse client closed")
	}

	sinks, err := b.client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	sinkDevs := make([]pulseDevice, len(sinks))
	for i, sink := range sinks {
		sinkDevs[i] = pulseDevice{id: sink.ID(), name: sink.Name()}
	}

	var sourceDevs []pulseDevice
	if sources, err := b.client.ListSources(); err == nil {
		for _, src := range sources {
			sourceDevs = append(sourceDevs, pulseDevice{id: src.ID(), name: src.Name()})
		}
	}

	defaultSink, defaultSource := "", ""
	if def, err := b.client.DefaultSink(); err == nil {
		defaultSink = def.ID()
	}
	if def, err := b.client.DefaultSource(); err == nil {
		defaultSource = def.ID()
	}

	return pulseEndpoints(sinkDevs, sourceDevs, defaultSink, defaultSource, b.config.SampleRate), nil
}

func pulseEndpoints(sinks, sources []pulseDevice, defaultSink, defaultSource string, rate int) []Endpoint {
	result := make([]Endpoint, 0, len(sinks)+len(sources))
	for _, sink := range sinks {
		result = append(result, Endpoint{
			Backend:    BackendPulse,
			Key:        sink.id,
			Name:       "Monitor of " + sink.name,
			Kind:       SystemAudio,
			Channels:   1,
			SampleRate: rate,
			IsDefault:  sink.id == defaultSink,
		})
	}
	for _, src := range sources {
		if strings.HasSuffix(src.id, pulseMonitorSuffix) {
			continue
		}
		result = append(result, Endpoint{
			Backend:    BackendPulse,
			Key:        pulseSourcePrefix + src.id,
			Name:       src.name,
			Kind:       Microphone,
			Channels:   1,
			SampleRate: rate,
			IsDefault:  src.id == defaultSource,
		})
	}
	return result
}

// Open creates a mono float32 record stream on the sink monitor or the
// input source. The server converts to the requested rate.
func (b *PulseBackend) Open(ep Endpoint, cb Callbacks) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, fmt.Errorf("%w: pulse client closed", ErrDeviceOpenFailed)
	}

	var target pulse.RecordOption
	if name, ok := strings.CutPrefix(ep.Key, pulseSourcePrefix); ok {
		src, err := b.client.SourceByID(name)
		if err != nil {
			return nil, fmt.Errorf("%w: source %q: %v", ErrDeviceUnavailable, name, err)
		}
		target = pulse.RecordSource(src)
	} else {
		sink, err := b.client.SinkByID(ep.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: sink %q: %v", ErrDeviceUnavailable, ep.Key, err)
		}
		target = pulse.RecordMonitor(sink)
	}

	writer := pulse.Float32Writer(func(p []float32) (int, error) {
		cb.Data(p)
		return len(p), nil
	})

	opts := []pulse.RecordOption{
		target,
		pulse.RecordMono,
		pulse.RecordSampleRate(ep.SampleRate),
	}
	if b.config.FramesPerBuffer > 0 {
		opts = append(opts, pulse.RecordBufferFragmentSize(uint32(b.config.FramesPerBuffer*4)))
	}

	stream, err := b.client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: record %q: %v", ErrDeviceOpenFailed, ep.Name, err)
	}

	return &pulseHandle{stream: stream, onError: cb.Error}, nil
}

// Close disconnects from the server
func (b *PulseBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
	return nil
}

type pulseHandle struct {
	stream  *pulse.RecordStream
	onError func(error)

	mu     sync.Mutex
	quit   chan struct{}
	closed bool
}

func (h *pulseHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stream.Start()
	if err := h.stream.Error(); err != nil {
		return fmt.Errorf("start record stream: %w", err)
	}

	h.quit = make(chan struct{})
	go h.watch(h.quit)
	return nil
}

// watch reports the first error the stream records while running
func (h *pulseHandle) watch(quit chan struct{}) {
	ticker := time.NewTicker(pulseWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := h.stream.Error(); err != nil {
				if h.onError != nil {
					h.onError(err)
				}
				return
			}
		}
	}
}

func (h *pulseHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.quit != nil {
		close(h.quit)
		h.quit = nil
	}
	h.stream.Stop()
	return nil
}

func (h *pulseHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.quit != nil {
		close(h.quit)
		h.quit = nil
	}
	h.stream.Close()
	return nil
}
