package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/mixer"
)

// Sink receives mono samples at the session rate and reports how many
// older samples it had to drop to make room.
type Sink interface {
	Append(id string, samples []float32) int
}

// StreamConfig controls an open capture stream
type StreamConfig struct {
	// SampleRate is the rate samples are delivered to the sink at
	SampleRate int
	// QueueFrames bounds the callback hand-off queue
	QueueFrames int
}

// DefaultStreamConfig returns 16kHz with a 64-callback queue
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:  16000,
		QueueFrames: 64,
	}
}

// StreamState is the lifecycle state of a capture stream
type StreamState int32

const (
	// StreamStopped is the initial and final state
	StreamStopped StreamState = iota
	// StreamOpening means the backend is starting the device
	StreamOpening
	// StreamRunning means callbacks are being delivered
	StreamRunning
)

func (s StreamState) String() string {
	switch s {
	case StreamStopped:
		return "stopped"
	case StreamOpening:
		return "opening"
	case StreamRunning:
		return "running"
	default:
		return "unknown"
	}
}

// dropLogInterval throttles queue-overflow warnings
const dropLogInterval = 5 * time.Second

// CaptureStream moves audio from a backend callback into a Sink.
// The callback never blocks: it copies the block into a bounded queue and
// drops the block if the queue is full. A pump goroutine downmixes,
// resamples and appends to the sink.
type CaptureStream struct {
	source  AudioSource
	handle  Handle
	sink    Sink
	logger  *logger.Logger
	metrics *metrics.Metrics

	channels  int
	resampler *mixer.Resampler

	queue chan []float32
	quit  chan struct{}
	done  chan struct{}

	state         atomic.Int32
	framesDropped atomic.Int64
	samplesLost   atomic.Int64
	failed        atomic.Bool
	onError       func(id string, err error)

	stopOnce sync.Once
	stopErr  error
}

func openStream(src AudioSource, ep Endpoint, b Backend, sink Sink, cfg StreamConfig, onError func(string, error), log *logger.Logger, m *metrics.Metrics) (*CaptureStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultStreamConfig().SampleRate
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = DefaultStreamConfig().QueueFrames
	}

	channels := max(ep.Channels, 1)
	inRate := ep.SampleRate
	if inRate <= 0 {
		inRate = cfg.SampleRate
	}

	s := &CaptureStream{
		source:    src,
		sink:      sink,
		logger:    log,
		metrics:   m,
		channels:  channels,
		resampler: mixer.NewResampler(inRate, cfg.SampleRate),
		queue:     make(chan []float32, cfg.QueueFrames),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		onError:   onError,
	}
	s.state.Store(int32(StreamOpening))

	handle, err := b.Open(ep, Callbacks{Data: s.push, Error: s.fail})
	if err != nil {
		s.state.Store(int32(StreamStopped))
		return nil, wrapOpenError(src.ID, err)
	}
	s.handle = handle

	go s.pump()

	if err := handle.Start(); err != nil {
		close(s.quit)
		<-s.done
		_ = handle.Close()
		s.state.Store(int32(StreamStopped))
		return nil, wrapOpenError(src.ID, err)
	}
	s.state.Store(int32(StreamRunning))

	s.logger.Info("Capture started: %s (%s, %d ch @ %d Hz -> %d Hz)",
		src.ID, src.DisplayName, channels, inRate, cfg.SampleRate)
	return s, nil
}

// wrapOpenError tags err with ErrDeviceOpenFailed unless it already
// carries one of the audio sentinels.
func wrapOpenError(id string, err error) error {
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrDeviceOpenFailed) || errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("open %s: %w", id, err)
	}
	return fmt.Errorf("open %s: %w: %v", id, ErrDeviceOpenFailed, err)
}

// push runs on the audio thread
func (s *CaptureStream) push(in []float32) {
	if len(in) == 0 {
		return
	}
	block := make([]float32, len(in))
	copy(block, in)

	select {
	case s.queue <- block:
	default:
		s.framesDropped.Add(1)
		s.metrics.FrameDropped(s.source.ID)
	}
}

// fail is called by the backend when the stream dies after Start.
// Only the first failure is reported.
func (s *CaptureStream) fail(err error) {
	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Error("Capture error on %s: %v", s.source.ID, err)
	s.metrics.StreamError(s.source.ID)
	if s.onError != nil {
		go s.onError(s.source.ID, err)
	}
}

func (s *CaptureStream) pump() {
	defer close(s.done)

	var lastLog time.Time
	var reportedFrames int64

	deliver := func(block []float32) {
		mono := mixer.Downmix(block, s.channels)
		out := s.resampler.Process(mono)
		if len(out) == 0 {
			return
		}
		if lost := s.sink.Append(s.source.ID, out); lost > 0 {
			s.samplesLost.Add(int64(lost))
			s.metrics.BufferOverflow(s.source.ID, lost)
		}

		if frames := s.framesDropped.Load(); frames > reportedFrames && time.Since(lastLog) >= dropLogInterval {
			s.logger.Warn("%s: %d callback blocks dropped (queue full)", s.source.ID, frames-reportedFrames)
			reportedFrames = frames
			lastLog = time.Now()
		}
	}

	for {
		select {
		case block := <-s.queue:
			deliver(block)
		case <-s.quit:
			// Deliver whatever the callback managed to queue before stop
			for {
				select {
				case block := <-s.queue:
					deliver(block)
				default:
					return
				}
			}
		}
	}
}

// Stop halts the device and waits for queued audio to reach the sink.
// It is safe to call more than once.
func (s *CaptureStream) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		if err := s.handle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.source.ID, err))
		}
		if err := s.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.source.ID, err))
		}
		close(s.quit)
		<-s.done
		s.state.Store(int32(StreamStopped))
		s.stopErr = errors.Join(errs...)

		s.logger.Info("Capture stopped: %s (blocks dropped: %d, samples overwritten: %d)",
			s.source.ID, s.framesDropped.Load(), s.samplesLost.Load())
	})
	return s.stopErr
}

// Source returns the source this stream captures
func (s *CaptureStream) Source() AudioSource {
	return s.source
}

// State returns the current lifecycle state
func (s *CaptureStream) State() StreamState {
	return StreamState(s.state.Load())
}

// Failed reports whether the backend signalled a runtime error
func (s *CaptureStream) Failed() bool {
	return s.failed.Load()
}

// FramesDropped returns callback blocks dropped because the queue was full
func (s *CaptureStream) FramesDropped() int64 {
	return s.framesDropped.Load()
}

// SamplesOverwritten returns samples the sink discarded on overflow
func (s *CaptureStream) SamplesOverwritten() int64 {
	return s.samplesLost.Load()
}
