package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the capture engine.
// All methods are safe on a nil receiver so components can run without
// instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted *prometheus.CounterVec
	ActiveSources   prometheus.Gauge

	// Capture metrics
	FramesDropped  *prometheus.CounterVec
	SamplesDropped *prometheus.CounterVec
	BufferedSample *prometheus.GaugeVec
	StreamErrors   *prometheus.CounterVec

	// Chunk metrics
	ChunksWritten      *prometheus.CounterVec
	ChunkWriteFailures prometheus.Counter
	ChunkBytes         prometheus.Histogram
	ChunkWriteSeconds  prometheus.Histogram

	// Finalize metrics
	FinalizeSeconds  prometheus.Histogram
	FinalizeFailures prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ezcapture_sessions_started_total",
			Help: "Total number of recording sessions started",
		}, []string{"kind"}),
		ActiveSources: f.NewGauge(prometheus.GaugeOpts{
			Name: "ezcapture_active_sources",
			Help: "Number of sources currently capturing",
		}),

		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ezcapture_callback_frames_dropped_total",
			Help: "Callback blocks dropped because the hand-off queue was full",
		}, []string{"source"}),
		SamplesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ezcapture_buffer_samples_dropped_total",
			Help: "Oldest samples dropped to keep a source buffer under its cap",
		}, []string{"source"}),
		BufferedSample: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ezcapture_buffered_samples",
			Help: "Samples waiting in each source buffer",
		}, []string{"source"}),
		StreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ezcapture_stream_errors_total",
			Help: "Runtime errors reported by capture streams",
		}, []string{"source"}),

		ChunksWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ezcapture_chunks_written_total",
			Help: "Chunk files committed to disk",
		}, []string{"kind"}),
		ChunkWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ezcapture_chunk_write_failures_total",
			Help: "Chunk windows discarded because the encoder failed",
		}),
		ChunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezcapture_chunk_bytes",
			Help:    "Size of committed chunk files",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 8),
		}),
		ChunkWriteSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezcapture_chunk_write_seconds",
			Help:    "Time spent encoding and committing one chunk",
			Buckets: prometheus.DefBuckets,
		}),

		FinalizeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezcapture_finalize_seconds",
			Help:    "Time spent concatenating a session into final.wav",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		FinalizeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ezcapture_finalize_failures_total",
			Help: "Finalize calls that produced no file",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionStarted(kind string) {
	if m != nil {
		m.SessionsStarted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetActiveSources(n int) {
	if m != nil {
		m.ActiveSources.Set(float64(n))
	}
}

func (m *Metrics) FrameDropped(source string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) BufferOverflow(source string, samples int) {
	if m != nil && samples > 0 {
		m.SamplesDropped.WithLabelValues(source).Add(float64(samples))
	}
}

func (m *Metrics) SetBuffered(source string, samples int) {
	if m != nil {
		m.BufferedSample.WithLabelValues(source).Set(float64(samples))
	}
}

// ForgetSource drops per-source series once a source stops.
func (m *Metrics) ForgetSource(source string) {
	if m != nil {
		m.BufferedSample.DeleteLabelValues(source)
	}
}

func (m *Metrics) StreamError(source string) {
	if m != nil {
		m.StreamErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ChunkWritten(kind string, bytes int64, took time.Duration) {
	if m != nil {
		m.ChunksWritten.WithLabelValues(kind).Inc()
		m.ChunkBytes.Observe(float64(bytes))
		m.ChunkWriteSeconds.Observe(took.Seconds())
	}
}

func (m *Metrics) ChunkFailed() {
	if m != nil {
		m.ChunkWriteFailures.Inc()
	}
}

func (m *Metrics) Finalized(took time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.FinalizeFailures.Inc()
		return
	}
	m.FinalizeSeconds.Observe(took.Seconds())
}
