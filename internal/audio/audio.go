package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable means no source matches the request
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDeviceOpenFailed means the backend could not open or start the stream
	ErrDeviceOpenFailed = errors.New("audio device open failed")
	// ErrUnsupportedFormat means the device rejected the negotiated format
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// SourceKind classifies an audio endpoint
type SourceKind int

const (
	// Microphone is a physical or default input device
	Microphone SourceKind = iota
	// SystemAudio is a loopback or output-monitor endpoint
	SystemAudio
	// LineIn is a line-level hardware input
	LineIn
	// Virtual is a software-defined input
	Virtual
)

// String returns the wire name of the kind
func (k SourceKind) String() string {
	switch k {
	case Microphone:
		return "microphone"
	case SystemAudio:
		return "system_audio"
	case LineIn:
		return "line_in"
	case Virtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// ParseSourceKind is the inverse of SourceKind.String
func ParseSourceKind(s string) (SourceKind, error) {
	for _, k := range []SourceKind{Microphone, SystemAudio, LineIn, Virtual} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown source kind: %q", s)
}

// MarshalText encodes the kind as its wire name
func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a wire name
func (k *SourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// AudioSource is one discoverable capture endpoint
type AudioSource struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Kind        SourceKind `json:"kind"`
	Channels    uint16     `json:"channels"`
	SampleRate  uint32     `json:"sample_rate"`
	IsActive    bool       `json:"is_active"`
}

// Endpoint is a backend-native description of a capture endpoint
type Endpoint struct {
	Backend    string
	Key        string // backend-native identifier, stable across enumerations
	Name       string
	Kind       SourceKind
	Channels   int
	SampleRate int
	IsDefault  bool // default input, or monitor of the default output
}

// Callbacks receive audio from an open handle.
// Data is called on the backend's audio thread with interleaved samples
// at the endpoint's channel count and rate; the slice is only valid for
// the duration of the call. Error reports a failure after Start.
type Callbacks struct {
	Data  func(samples []float32)
	Error func(err error)
}

// Handle is an opened backend stream
type Handle interface {
	Start() error
	Stop() error
	Close() error
}

// Backend is one platform audio API.
// This abstraction lets PortAudio, miniaudio and PulseAudio sit side by side.
type Backend interface {
	// Name identifies the backend in source ids, e.g. "pulse"
	Name() string

	// Endpoints lists capture-capable endpoints
	Endpoints() ([]Endpoint, error)

	// Open prepares a stream for ep. It fails with ErrDeviceOpenFailed or
	// ErrUnsupportedFormat.
	Open(ep Endpoint, cb Callbacks) (Handle, error)

	// Close releases the backend
	Close() error
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// BackendConfig holds settings shared by all backends
type BackendConfig struct {
	// SampleRate is requested from backends that resample internally
	SampleRate      int
	FramesPerBuffer int
	Latency         LatencyMode
	// AppName is shown by sound servers that list clients
	AppName string
}

// DefaultBackendConfig returns the default backend configuration
// Sample rate: 16kHz
// Latency: HighStability
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		SampleRate:      16000,
		FramesPerBuffer: 1024,
		Latency:         HighStability,
		AppName:         "EzCapture",
	}
}
