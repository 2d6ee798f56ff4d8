package hotkey

import (
	"github.com/yok-tottii/EzCapture/internal/config"
)

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Binding     config.HotkeyConfig
}

// CheckConflicts checks if the given binding conflicts with known system
// shortcuts of the current platform
func CheckConflicts(b config.HotkeyConfig) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if hotkeyMatches(b, known.Binding) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// hotkeyMatches checks if two bindings are the same key combination
func hotkeyMatches(a, b config.HotkeyConfig) bool {
	if a.Ctrl != b.Ctrl || a.Shift != b.Shift || a.Alt != b.Alt || a.Cmd != b.Cmd {
		return false
	}

	keyA, errA := NormalizeKey(a.Key)
	keyB, errB := NormalizeKey(b.Key)
	if errA != nil || errB != nil {
		return false
	}
	return keyA == keyB
}
