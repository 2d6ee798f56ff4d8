//go:build linux

package hotkey

import (
	"strings"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzCapture/internal/config"
)

// Mod1 is Alt and Mod4 is Super on the usual X11 keymaps
func modifiers(b config.HotkeyConfig) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if b.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if b.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if b.Alt {
		mods = append(mods, hotkey.Mod1)
	}
	if b.Cmd {
		mods = append(mods, hotkey.Mod4)
	}
	return mods
}

func formatModifiers(b config.HotkeyConfig) string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Alt {
		parts = append(parts, "Alt")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	if b.Cmd {
		parts = append(parts, "Super")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "+") + "+"
}

// knownConflicts lists common desktop shortcuts a binding might collide with
var knownConflicts = []ConflictInfo{
	{
		Name:        "Terminal",
		Description: "Open a terminal (GNOME, KDE)",
		Binding:     config.HotkeyConfig{Ctrl: true, Alt: true, Key: "T"},
	},
	{
		Name:        "Lock Screen",
		Description: "Lock the session",
		Binding:     config.HotkeyConfig{Cmd: true, Key: "L"},
	},
	{
		Name:        "Log Out",
		Description: "Log out dialog",
		Binding:     config.HotkeyConfig{Ctrl: true, Alt: true, Key: "Delete"},
	},
	{
		Name:        "Input Source",
		Description: "Switch input source (GNOME)",
		Binding:     config.HotkeyConfig{Cmd: true, Key: "Space"},
	},
}
