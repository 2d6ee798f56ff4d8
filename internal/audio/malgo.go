package audio

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/yok-tottii/EzCapture/internal/logger"
)

// MalgoBackend captures system audio through miniaudio loopback devices.
// Loopback capture is only implemented by the WASAPI backend; elsewhere
// opening a stream fails with ErrDeviceOpenFailed.
type MalgoBackend struct {
	config BackendConfig
	ctx    *malgo.AllocatedContext
	mu     sync.Mutex
}

// NewMalgoBackend initializes a miniaudio context
func NewMalgoBackend(config BackendConfig, log *logger.Logger) (*MalgoBackend, error) {
	log = log.With("malgo")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("%s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}

	return &MalgoBackend{config: config, ctx: ctx}, nil
}

// Name returns "malgo"
func (b *MalgoBackend) Name() string {
	return BackendMalgo
}

// Endpoints lists playback devices as loopback sources
func (b *MalgoBackend) Endpoints() ([]Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil, errors.New("malgo context closed")
	}

	infos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("list playback devices: %w", err)
	}

	result := make([]Endpoint, 0, len(infos))
	for _, info := range infos {
		result = append(result, Endpoint{
			Backend:    BackendMalgo,
			Key:        hex.EncodeToString(info.ID[:]),
			Name:       info.Name(),
			Kind:       SystemAudio,
			Channels:   1,
			SampleRate: b.config.SampleRate,
			IsDefault:  info.IsDefault != 0,
		})
	}
	return result, nil
}

// Open prepares a mono float32 loopback device at the configured rate.
// miniaudio converts from the device mix format.
func (b *MalgoBackend) Open(ep Endpoint, cb Callbacks) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil, fmt.Errorf("%w: malgo context closed", ErrDeviceOpenFailed)
	}

	raw, err := hex.DecodeString(ep.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad device key %q", ErrDeviceUnavailable, ep.Key)
	}

	h := &malgoHandle{}
	copy(h.id[:], raw)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.Capture.DeviceID = h.id.Pointer()
	deviceConfig.SampleRate = uint32(ep.SampleRate)
	if b.config.FramesPerBuffer > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(b.config.FramesPerBuffer)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			n := min(int(frames), len(in)/4)
			if n == 0 {
				return
			}
			if cap(h.scratch) < n {
				h.scratch = make([]float32, n)
			}
			samples := h.scratch[:n]
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
			}
			cb.Data(samples)
		},
		Stop: func() {
			// Fired on explicit stop too; only an unrequested stop is an error
			if !h.stopping.Load() && cb.Error != nil {
				cb.Error(errors.New("loopback device stopped unexpectedly"))
			}
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: init loopback device %q: %v", ErrDeviceOpenFailed, ep.Name, err)
	}
	h.device = dev
	return h, nil
}

// Close releases the miniaudio context
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	if err != nil {
		return fmt.Errorf("uninit malgo context: %w", err)
	}
	return nil
}

type malgoHandle struct {
	id       malgo.DeviceID
	device   *malgo.Device
	scratch  []float32
	stopping atomic.Bool
	once     sync.Once
}

func (h *malgoHandle) Start() error {
	if err := h.device.Start(); err != nil {
		return fmt.Errorf("start loopback device: %w", err)
	}
	return nil
}

func (h *malgoHandle) Stop() error {
	h.stopping.Store(true)
	if !h.device.IsStarted() {
		return nil
	}
	if err := h.device.Stop(); err != nil {
		return fmt.Errorf("stop loopback device: %w", err)
	}
	return nil
}

func (h *malgoHandle) Close() error {
	h.once.Do(func() {
		h.stopping.Store(true)
		h.device.Uninit()
	})
	return nil
}
