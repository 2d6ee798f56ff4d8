package notification

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeWarning is a warning notification
	TypeWarning NotificationType = "warning"
	// TypeError is an error notification
	TypeError NotificationType = "error"
	// TypeSuccess is a success notification
	TypeSuccess NotificationType = "success"
)

// ErrUnsupported is returned on platforms without a notification command
var ErrUnsupported = errors.New("desktop notifications not supported on this platform")

// Notification is one desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// NotificationManager sends desktop notifications through the platform's
// notification command
type NotificationManager struct {
	appName string
	goos    string
	run     func(name string, args ...string) error
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager(appName string) *NotificationManager {
	return &NotificationManager{
		appName: appName,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// command returns the program and arguments that show n on goos
func command(goos string, n *Notification) (string, []string, error) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(n.Message), appleScriptString(n.Title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd":
		urgency := "normal"
		switch n.Type {
		case TypeError:
			urgency = "critical"
		case TypeInfo:
			urgency = "low"
		}
		return "notify-send", []string{"--urgency=" + urgency, n.Title, n.Message}, nil
	default:
		return "", nil, ErrUnsupported
	}
}

// Send shows a notification
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if notification.Title == "" {
		notification.Title = nm.appName
	}

	name, args, err := command(nm.goos, notification)
	if err != nil {
		return err
	}
	if err := nm.run(name, args...); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// SendInfo sends an informational notification
func (nm *NotificationManager) SendInfo(title, message string) error {
	return nm.Send(&Notification{Title: title, Message: message, Type: TypeInfo})
}

// SendWarning sends a warning notification
func (nm *NotificationManager) SendWarning(title, message string) error {
	return nm.Send(&Notification{Title: title, Message: message, Type: TypeWarning})
}

// SendError sends an error notification
func (nm *NotificationManager) SendError(title, message string) error {
	return nm.Send(&Notification{Title: title, Message: message, Type: TypeError})
}

// SendSuccess sends a success notification
func (nm *NotificationManager) SendSuccess(title, message string) error {
	return nm.Send(&Notification{Title: title, Message: message, Type: TypeSuccess})
}

// RecordingStarted reports a new session
func (nm *NotificationManager) RecordingStarted(kind string) error {
	return nm.SendInfo(nm.appName, fmt.Sprintf("Recording %s audio", kind))
}

// SessionFinalized reports the joined recording
func (nm *NotificationManager) SessionFinalized(path string) error {
	return nm.SendSuccess(nm.appName, "Saved "+filepath.Base(filepath.Dir(path))+"/"+filepath.Base(path))
}

// RecordingFailed reports a session that could not start or finalize
func (nm *NotificationManager) RecordingFailed(reason string) error {
	message := "Recording failed"
	if reason != "" {
		message += ": " + reason
	}
	return nm.SendError(nm.appName, message)
}

// SourceLost reports a source that stopped delivering audio mid-session
func (nm *NotificationManager) SourceLost(source string) error {
	return nm.SendWarning(nm.appName, fmt.Sprintf("Lost audio source %s, recording continues without it", source))
}

// DeviceNotFound reports that no capture device is available
func (nm *NotificationManager) DeviceNotFound() error {
	return nm.SendError(nm.appName, "No audio device found. Reconnect the device and try again.")
}
