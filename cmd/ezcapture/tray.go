package main

import (
	"github.com/spf13/cobra"

	"github.com/yok-tottii/EzCapture/internal/config"
	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/hotkey"
	"github.com/yok-tottii/EzCapture/internal/notification"
	"github.com/yok-tottii/EzCapture/internal/recording"
	"github.com/yok-tottii/EzCapture/internal/server"
	"github.com/yok-tottii/EzCapture/internal/session"
	"github.com/yok-tottii/EzCapture/internal/tray"
)

// trayApp is the menu bar application
type trayApp struct {
	*App
	trayMgr    *tray.Manager
	hotkeyMgr  *hotkey.Manager
	recorder   *recording.Manager
	httpServer *server.Server
	notifier   *notification.NotificationManager
}

func newTrayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Run the menu bar app with the global hotkey",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.openAudio(); err != nil {
				return err
			}

			t := &trayApp{App: app, notifier: notification.NewNotificationManager("EzCapture")}
			t.recorder = recording.New(app.sessions, recording.Config{Mode: session.Kind(app.config.DefaultMode)}, app.logger)
			t.trayMgr = tray.NewManager(tray.Config{
				OnReady:    t.onReady,
				OnStart:    t.handleStart,
				OnStop:     t.handleStop,
				OnSeparate: t.handleSeparate,
				OnQuit:     t.handleQuit,
				Separate:   app.config.SeparateSources,
				Logger:     app.logger,
			})

			// systray.Run blocks until Quit
			t.trayMgr.Run()
			return nil
		},
	}
}

// onReady is called once the tray icon exists
func (t *trayApp) onReady() {
	t.logger.Info("EzCapture v%s started", version)

	t.recorder.OnStateChange(t.trayMgr.SetState)
	go t.watchResults()
	go t.watchEvents()

	t.hotkeyMgr = hotkey.New()
	if err := t.registerHotkey(t.config.Clone().Hotkey); err != nil {
		t.logger.Error("Hotkey registration failed: %v", err)
	}
	t.recorder.Watch(t.hotkeyMgr.Events())

	srv, handler, err := t.startServer()
	if err != nil {
		t.logger.Error("Control API unavailable: %v", err)
		return
	}
	t.httpServer = srv
	handler.OnSettingsChanged(t.applySettings)
}

func (t *trayApp) registerHotkey(binding config.HotkeyConfig) error {
	for _, c := range hotkey.CheckConflicts(binding) {
		t.logger.Warn("Hotkey %s conflicts with %s (%s)", hotkey.FormatHotkey(binding), c.Name, c.Description)
	}
	if t.hotkeyMgr.IsRunning() {
		return t.hotkeyMgr.Rebind(binding)
	}
	cfg, err := hotkey.Build(binding)
	if err != nil {
		return err
	}
	if err := t.hotkeyMgr.Register(cfg); err != nil {
		return err
	}
	t.logger.Info("Hotkey registered: %s", hotkey.FormatHotkey(binding))
	return nil
}

// applySettings follows settings saved through the control API
func (t *trayApp) applySettings(cfg *config.Config) error {
	if err := t.App.applySettings(cfg); err != nil {
		return err
	}
	snapshot := cfg.Clone()
	t.recorder.SetMode(session.Kind(snapshot.DefaultMode))
	return t.registerHotkey(snapshot.Hotkey)
}

func (t *trayApp) watchResults() {
	for r := range t.recorder.Results() {
		if r.Err != nil {
			t.trayMgr.SetDetail("failed: " + r.Err.Error())
			t.notify(t.notifier.RecordingFailed(r.Err.Error()))
			continue
		}
		t.trayMgr.SetDetail(r.FinalPath)
		t.notify(t.notifier.SessionFinalized(r.FinalPath))
	}
}

// watchEvents reports sources lost mid-session until the bus closes
func (t *trayApp) watchEvents() {
	evs, unsubscribe := t.bus.Subscribe()
	defer unsubscribe()

	for e := range evs {
		switch e.Type {
		case events.SessionStarted:
			if s, ok := e.Data.(session.Session); ok {
				t.notify(t.notifier.RecordingStarted(string(s.Kind)))
			}
		case events.SourceFailed:
			if data, ok := e.Data.(map[string]string); ok {
				t.notify(t.notifier.SourceLost(data["source_id"]))
			}
		}
	}
}

func (t *trayApp) notify(err error) {
	if err != nil {
		t.logger.Debug("Notification not shown: %v", err)
	}
}

func (t *trayApp) handleStart(kind session.Kind) {
	go func() {
		if err := t.recorder.StartRecording(kind); err != nil {
			t.logger.Error("Start %s failed: %v", kind, err)
			t.trayMgr.SetDetail("start failed")
			t.notify(t.notifier.RecordingFailed(err.Error()))
		}
	}()
}

func (t *trayApp) handleStop() {
	go func() {
		if err := t.recorder.StopRecording(); err != nil {
			t.logger.Error("Stop failed: %v", err)
		}
	}()
}

func (t *trayApp) handleSeparate(on bool) {
	t.sessions.SetSeparateSources(on)
	if err := t.config.Update(map[string]interface{}{"separate_sources": on}); err != nil {
		t.logger.Error("Failed to update settings: %v", err)
		return
	}
	if err := t.config.Save(t.configPath); err != nil {
		t.logger.Error("Failed to save settings: %v", err)
	}
}

func (t *trayApp) handleQuit() {
	t.logger.Info("Quitting")
	if err := t.recorder.Stop(); err != nil {
		t.logger.Error("Final session did not finalize: %v", err)
	}
	if t.hotkeyMgr != nil {
		t.hotkeyMgr.Close()
	}
	if t.httpServer != nil {
		t.httpServer.Stop()
	}
}
