//go:build windows

package hotkey

import (
	"strings"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzCapture/internal/config"
)

func modifiers(b config.HotkeyConfig) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if b.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if b.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if b.Alt {
		mods = append(mods, hotkey.ModAlt)
	}
	if b.Cmd {
		mods = append(mods, hotkey.ModWin)
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
		parts = append(parts, "Win")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "+") + "+"
}

// knownConflicts lists Windows shortcuts a binding might collide with
var knownConflicts = []ConflictInfo{
	{
		Name:        "Security Screen",
		Description: "Ctrl+Alt+Delete",
		Binding:     config.HotkeyConfig{Ctrl: true, Alt: true, Key: "Delete"},
	},
	{
		Name:        "Lock Screen",
		Description: "Lock the workstation",
		Binding:     config.HotkeyConfig{Cmd: true, Key: "L"},
	},
	{
		Name:        "Game Bar Record",
		Description: "Xbox Game Bar start/stop recording",
		Binding:     config.HotkeyConfig{Cmd: true, Alt: true, Key: "R"},
	},
	{
		Name:        "Input Language",
		Description: "Switch keyboard layout",
		Binding:     config.HotkeyConfig{Cmd: true, Key: "Space"},
	},
}
