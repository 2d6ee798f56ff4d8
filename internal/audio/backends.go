package audio

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/yok-tottii/EzCapture/internal/logger"
)

// OpenBackends initializes the named backends in order, skipping those
// that fail. An empty list means DefaultBackends(runtime.GOOS). It only
// fails when no backend could be initialized.
func OpenBackends(names []string, config BackendConfig, log *logger.Logger) ([]Backend, error) {
	if len(names) == 0 {
		names = DefaultBackends(runtime.GOOS)
	}

	var backends []Backend
	var errs []error
	for _, name := range names {
		b, err := openBackend(name, config, log)
		if err != nil {
			log.Warn("Audio backend %s unavailable: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		log.Info("Audio backend %s initialized", name)
		backends = append(backends, b)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no audio backend available: %w", errors.Join(errs...))
	}
	return backends, nil
}

func openBackend(name string, config BackendConfig, log *logger.Logger) (Backend, error) {
	switch name {
	case BackendPortAudio:
		return NewPortAudioBackend(config)
	case BackendPulse:
		return NewPulseBackend(config)
	case BackendMalgo:
		return NewMalgoBackend(config, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
