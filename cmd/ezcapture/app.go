package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/yok-tottii/EzCapture/internal/audio"
	"github.com/yok-tottii/EzCapture/internal/config"
	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/session"
)

// App holds the services shared by the commands
type App struct {
	logger     *logger.Logger
	config     *config.Config
	configPath string
	metrics    *metrics.Metrics
	bus        *events.Bus
	registry   *audio.Registry
	sessions   *session.Manager
}

// newApp loads the configuration and creates the logger. Audio backends
// are only opened by openAudio.
func newApp(opts *options, console io.Writer) (*App, error) {
	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}

	levelName := cfg.LogLevel
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	logConfig := logger.DefaultConfig()
	logConfig.Level = level
	logConfig.RetentionDays = cfg.LogRetentionDays
	logConfig.Console = console
	log, err := logger.New(logConfig)
	if err != nil {
		return nil, err
	}

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Close()
		return nil, err
	}

	a := &App{
		logger:     log,
		config:     cfg,
		configPath: configPath,
		metrics:    metrics.New(),
		bus:        events.New(events.DefaultBuffer),
	}
	// Without audio the manager can still list and finalize recordings
	a.sessions = session.NewManager(sessCfg, session.Deps{
		Logger:  log,
		Metrics: a.metrics,
		Events:  a.bus,
	})

	log.Debug("EzCapture v%s, config %s", version, configPath)
	return a, nil
}

// openAudio initializes the configured backends and a session manager
// that can capture
func (a *App) openAudio() error {
	backendConfig := audio.DefaultBackendConfig()
	backendConfig.SampleRate = a.config.SampleRate
	backendConfig.AppName = "EzCapture"

	backends, err := audio.OpenBackends(a.config.Backends, backendConfig, a.logger.With("audio"))
	if err != nil {
		return err
	}

	a.registry = audio.NewRegistry(a.logger.With("registry"), a.metrics, backends...)

	sessCfg, err := a.config.SessionConfig()
	if err != nil {
		return err
	}
	a.sessions = session.NewManager(sessCfg, session.Deps{
		Registry: a.registry,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Events:   a.bus,
	})
	return nil
}

// applySettings pushes a changed configuration to the running services
func (a *App) applySettings(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger.SetLevel(level)
	return nil
}

// Close stops the active session and releases every service
func (a *App) Close() error {
	var errs []error
	if a.sessions != nil {
		if s, ok := a.sessions.Active(); ok {
			a.logger.Info("Stopping session %s on exit", s.ID)
			if _, path, err := a.sessions.StopAndFinalize(); err != nil {
				errs = append(errs, err)
			} else {
				a.logger.Info("Session %s finalized: %s", s.ID, path)
			}
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.bus.Close()
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
