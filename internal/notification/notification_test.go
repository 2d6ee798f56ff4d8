package notification

import (
	"errors"
	"strings"
	"testing"
)

// recorder captures commands instead of running them
type recorder struct {
	name string
	args []string
	err  error
}

func newTestManager(goos string) (*NotificationManager, *recorder) {
	rec := &recorder{}
	nm := NewNotificationManager("TestApp")
	nm.goos = goos
	nm.run = func(name string, args ...string) error {
		rec.name = name
		rec.args = args
		return rec.err
	}
	return nm, rec
}

func TestNewNotificationManager(t *testing.T) {
	nm := NewNotificationManager("TestApp")

	if nm == nil {
		t.Fatal("Expected notification manager to be created")
	}

	if nm.appName != "TestApp" {
		t.Errorf("Expected appName to be TestApp, got %s", nm.appName)
	}
}

func TestSendDarwin(t *testing.T) {
	nm, rec := newTestManager("darwin")

	if err := nm.SendInfo("Title", `say "hi" \ bye`); err != nil {
		t.Fatalf("SendInfo failed: %v", err)
	}
	if rec.name != "osascript" {
		t.Errorf("Expected osascript, got %s", rec.name)
	}
	script := rec.args[1]
	if !strings.Contains(script, `"say \"hi\" \\ bye"`) {
		t.Errorf("Expected quotes and backslashes to be escaped, got %s", script)
	}
	if !strings.HasSuffix(script, `with title "Title"`) {
		t.Errorf("Expected title in script, got %s", script)
	}
}

func TestSendLinuxUrgency(t *testing.T) {
	tests := []struct {
		send    func(nm *NotificationManager) error
		urgency string
	}{
		{func(nm *NotificationManager) error { return nm.SendInfo("T", "M") }, "--urgency=low"},
		{func(nm *NotificationManager) error { return nm.SendSuccess("T", "M") }, "--urgency=normal"},
		{func(nm *NotificationManager) error { return nm.SendWarning("T", "M") }, "--urgency=normal"},
		{func(nm *NotificationManager) error { return nm.SendError("T", "M") }, "--urgency=critical"},
	}

	for _, tt := range tests {
		nm, rec := newTestManager("linux")
		if err := tt.send(nm); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if rec.name != "notify-send" {
			t.Errorf("Expected notify-send, got %s", rec.name)
		}
		if len(rec.args) != 3 || rec.args[0] != tt.urgency || rec.args[1] != "T" || rec.args[2] != "M" {
			t.Errorf("Unexpected args %v", rec.args)
		}
	}
}

func TestSendUnsupported(t *testing.T) {
	nm, rec := newTestManager("plan9")

	if err := nm.SendInfo("T", "M"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if rec.name != "" {
		t.Error("Expected no command to run")
	}
}

func TestSendCommandFailure(t *testing.T) {
	nm, rec := newTestManager("linux")
	rec.err = errors.New("exit status 1")

	if err := nm.SendInfo("T", "M"); err == nil {
		t.Error("Expected command failure to be returned")
	}
}

func TestSendNil(t *testing.T) {
	nm, _ := newTestManager("linux")

	if err := nm.Send(nil); err == nil {
		t.Error("Expected error for nil notification")
	}
}

func TestDefaultTitle(t *testing.T) {
	nm, rec := newTestManager("linux")

	if err := nm.Send(&Notification{Message: "M"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if rec.args[1] != "TestApp" {
		t.Errorf("Expected app name as title, got %s", rec.args[1])
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name     string
		send     func(nm *NotificationManager) error
		contains string
	}{
		{"started", func(nm *NotificationManager) error { return nm.RecordingStarted("mix") }, "Recording mix audio"},
		{"finalized", func(nm *NotificationManager) error {
			return nm.SessionFinalized("/rec/recordings/abc/final.wav")
		}, "abc/final.wav"},
		{"failed", func(nm *NotificationManager) error { return nm.RecordingFailed("no source") }, "Recording failed: no source"},
		{"failed without reason", func(nm *NotificationManager) error { return nm.RecordingFailed("") }, "Recording failed"},
		{"source lost", func(nm *NotificationManager) error { return nm.SourceLost("mic_0") }, "mic_0"},
		{"device", func(nm *NotificationManager) error { return nm.DeviceNotFound() }, "No audio device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nm, rec := newTestManager("linux")
			if err := tt.send(nm); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if !strings.Contains(rec.args[2], tt.contains) {
				t.Errorf("Expected message to contain %q, got %q", tt.contains, rec.args[2])
			}
		})
	}
}
