//go:build darwin

package hotkey

import (
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
		mods = append(mods, hotkey.ModOption)
	}
	if b.Cmd {
		mods = append(mods, hotkey.ModCmd)
	}
	return mods
}

func formatModifiers(b config.HotkeyConfig) string {
	result := ""
	if b.Ctrl {
		result += "⌃"
	}
	if b.Alt {
		result += "⌥"
	}
	if b.Shift {
		result += "⇧"
	}
	if b.Cmd {
		result += "⌘"
	}
	return result
}

// knownConflicts lists macOS shortcuts a binding might collide with
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Binding:     config.HotkeyConfig{Cmd: true, Key: "Space"},
	},
	{
		Name:        "Input Source",
		Description: "Switch to the previous input source",
		Binding:     config.HotkeyConfig{Ctrl: true, Key: "Space"},
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Binding:     config.HotkeyConfig{Cmd: true, Alt: true, Key: "Escape"},
	},
	{
		Name:        "Screenshot",
		Description: "Screenshot and recording options",
		Binding:     config.HotkeyConfig{Cmd: true, Shift: true, Key: "5"},
	},
}
