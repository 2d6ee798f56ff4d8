// Package audiotest provides an in-memory audio backend for tests.
package audiotest

import (
	"fmt"
	"sync"

	"github.com/yok-tottii/EzCapture/internal/audio"
)

// Backend is a scripted audio.Backend
type Backend struct {
	BackendName  string
	Eps          []audio.Endpoint
	EndpointsErr error
	OpenErr      map[string]error // by endpoint key
	StartErr     map[string]error
	FailOnStart  map[string]error // runtime error raised inside Start

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// New returns a backend named name serving eps
func New(name string, eps ...audio.Endpoint) *Backend {
	return &Backend{
		BackendName: name,
		Eps:         eps,
		OpenErr:     make(map[string]error),
		StartErr:    make(map[string]error),
		FailOnStart: make(map[string]error),
		handles:     make(map[string]*Handle),
	}
}

// Mic builds a microphone endpoint
func Mic(key, name string, isDefault bool) audio.Endpoint {
	return audio.Endpoint{Key: key, Name: name, Kind: audio.Microphone, Channels: 1, SampleRate: 16000, IsDefault: isDefault}
}

// Monitor builds a system-audio endpoint
func Monitor(key, name string, isDefault bool) audio.Endpoint {
	return audio.Endpoint{Key: key, Name: name, Kind: audio.SystemAudio, Channels: 1, SampleRate: 16000, IsDefault: isDefault}
}

func (b *Backend) Name() string { return b.BackendName }

func (b *Backend) Endpoints() ([]audio.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EndpointsErr != nil {
		return nil, b.EndpointsErr
	}
	return append([]audio.Endpoint(nil), b.Eps...), nil
}

func (b *Backend) Open(ep audio.Endpoint, cb audio.Callbacks) (audio.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.OpenErr[ep.Key]; err != nil {
		return nil, err
	}
	h := &Handle{Endpoint: ep, cb: cb, startErr: b.StartErr[ep.Key], failOnStart: b.FailOnStart[ep.Key]}
	b.handles[ep.Key] = h
	return h, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Handle returns the last handle opened for key
func (b *Backend) Handle(key string) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[key]
}

// Handle is an opened fake stream
type Handle struct {
	Endpoint audio.Endpoint

	cb          audio.Callbacks
	startErr    error
	failOnStart error

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (h *Handle) Start() error {
	h.mu.Lock()
	if h.startErr != nil {
		h.mu.Unlock()
		return h.startErr
	}
	h.started = true
	h.mu.Unlock()

	if h.failOnStart != nil {
		h.Fail(h.failOnStart)
	}
	return nil
}

func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Emit delivers samples as if from the audio thread
func (h *Handle) Emit(samples []float32) error {
	h.mu.Lock()
	running := h.started && !h.stopped
	h.mu.Unlock()
	if !running {
		return fmt.Errorf("handle %s not running", h.Endpoint.Key)
	}
	h.cb.Data(samples)
	return nil
}

// Fail reports a runtime error
func (h *Handle) Fail(err error) {
	if h.cb.Error != nil {
		h.cb.Error(err)
	}
}

// Closed reports whether the handle was closed
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
