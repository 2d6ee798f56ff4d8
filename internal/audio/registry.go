package audio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
)

type entry struct {
	source   AudioSource
	endpoint Endpoint
	backend  Backend
}

// Registry enumerates sources across backends and opens streams by id.
// Ids are assigned the first time an endpoint is seen and stay stable for
// the life of the registry.
type Registry struct {
	backends []Backend
	probes   []LoopbackProbe
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	ids     map[string]string // backend/key -> source id
	nextMic int
	nextSys map[string]int
	cache   map[string]entry // source id -> last discovered entry
	order   []string
	active  map[string]bool
}

// NewRegistry creates a registry over the given backends.
func NewRegistry(log *logger.Logger, m *metrics.Metrics, backends ...Backend) *Registry {
	return &Registry{
		backends: backends,
		probes:   DefaultProbes(),
		logger:   log.With("audio"),
		metrics:  m,
		ids:      make(map[string]string),
		nextSys:  make(map[string]int),
		cache:    make(map[string]entry),
		active:   make(map[string]bool),
	}
}

// SetProbes replaces the loopback probe order.
func (r *Registry) SetProbes(probes []LoopbackProbe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = probes
}

func endpointKey(ep Endpoint) string {
	return ep.Backend + "/" + ep.Key
}

// idFor returns the stable id for ep, assigning one on first sight.
// Caller holds r.mu.
func (r *Registry) idFor(ep Endpoint) string {
	key := endpointKey(ep)
	if id, ok := r.ids[key]; ok {
		return id
	}

	var id string
	if ep.Kind == SystemAudio {
		n := r.nextSys[ep.Backend]
		r.nextSys[ep.Backend] = n + 1
		if n == 0 {
			id = "system_audio_" + ep.Backend
		} else {
			id = fmt.Sprintf("system_audio_%s_%d", ep.Backend, n)
		}
	} else {
		id = fmt.Sprintf("mic_%d", r.nextMic)
		r.nextMic++
	}
	r.ids[key] = id
	return id
}

// Discover lists every source the backends can see.
// System-audio sources come first with the probe winner at the front,
// then inputs with the default device first. A backend that cannot be
// queried contributes nothing.
func (r *Registry) Discover() []AudioSource {
	type found struct {
		ep      Endpoint
		backend Backend
	}

	var all []found
	for _, b := range r.backends {
		eps, err := b.Endpoints()
		if err != nil {
			r.logger.Warn("Failed to enumerate %s endpoints: %v", b.Name(), err)
			continue
		}
		for _, ep := range eps {
			ep.Backend = b.Name()
			if ep.Kind == Microphone && LooksLikeLoopback(ep.Name) {
				ep.Kind = SystemAudio
			}
			all = append(all, found{ep: ep, backend: b})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	endpoints := make([]Endpoint, len(all))
	for i, f := range all {
		endpoints[i] = f.ep
	}

	primary := ""
	for _, p := range r.probes {
		if ep, ok := p.Find(endpoints); ok {
			primary = endpointKey(ep)
			r.logger.Debug("Loopback probe %s selected %q", p.Name, ep.Name)
			break
		}
	}

	// Stable order: probe winner, other system audio, default input, other inputs
	rank := func(f found) int {
		switch {
		case endpointKey(f.ep) == primary:
			return 0
		case f.ep.Kind == SystemAudio:
			return 1
		case f.ep.IsDefault:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return rank(all[i]) < rank(all[j]) })

	cache := make(map[string]entry, len(all))
	order := make([]string, 0, len(all))
	sources := make([]AudioSource, 0, len(all))
	for _, f := range all {
		id := r.idFor(f.ep)
		src := AudioSource{
			ID:          id,
			DisplayName: f.ep.Name,
			Kind:        f.ep.Kind,
			Channels:    uint16(f.ep.Channels),
			SampleRate:  uint32(f.ep.SampleRate),
			IsActive:    r.active[id],
		}
		cache[id] = entry{source: src, endpoint: f.ep, backend: f.backend}
		order = append(order, id)
		sources = append(sources, src)
	}
	r.cache = cache
	r.order = order

	return sources
}

// Lookup returns the source last discovered under id.
func (r *Registry) Lookup(id string) (AudioSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cache[id]
	if !ok {
		return AudioSource{}, false
	}
	e.source.IsActive = r.active[id]
	return e.source, true
}

// FirstOfKind returns the first discovered source of kind, discovering
// first if nothing has been enumerated yet.
func (r *Registry) FirstOfKind(kind SourceKind) (AudioSource, error) {
	r.mu.Lock()
	empty := len(r.cache) == 0
	r.mu.Unlock()

	sources := r.Sources()
	if empty {
		sources = r.Discover()
	}
	for _, s := range sources {
		if s.Kind == kind {
			return s, nil
		}
	}
	return AudioSource{}, fmt.Errorf("%w: no %s source", ErrDeviceUnavailable, kind)
}

// Sources returns the cached result of the last Discover in discovery order.
func (r *Registry) Sources() []AudioSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]AudioSource, 0, len(r.order))
	for _, id := range r.order {
		src := r.cache[id].source
		src.IsActive = r.active[id]
		sources = append(sources, src)
	}
	return sources
}

// SetActive records whether a source is currently capturing.
func (r *Registry) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active {
		r.active[id] = true
	} else {
		delete(r.active, id)
	}
}

// Open starts a capture stream for the source id. Samples are delivered
// to sink at cfg.SampleRate; runtime failures are passed to onError on
// their own goroutine.
func (r *Registry) Open(id string, sink Sink, cfg StreamConfig, onError func(id string, err error)) (*CaptureStream, error) {
	r.mu.Lock()
	e, ok := r.cache[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", ErrDeviceUnavailable, id)
	}

	s, err := openStream(e.source, e.endpoint, e.backend, sink, cfg, onError, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	r.SetActive(id, true)
	return s, nil
}

// Close releases every backend.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
