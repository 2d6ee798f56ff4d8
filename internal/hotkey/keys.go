package hotkey

import (
	"fmt"
	"strings"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzCapture/internal/config"
)

// keyNames maps configuration key names to key codes. Key codes are not
// contiguous on every platform, so letters and digits are listed too.
var keyNames = map[string]hotkey.Key{
	"Space":  hotkey.KeySpace,
	"Return": hotkey.KeyReturn,
	"Escape": hotkey.KeyEscape,
	"Tab":    hotkey.KeyTab,
	"Delete": hotkey.KeyDelete,
	"A":      hotkey.KeyA,
	"B":      hotkey.KeyB,
	"C":      hotkey.KeyC,
	"D":      hotkey.KeyD,
	"E":      hotkey.KeyE,
	"F":      hotkey.KeyF,
	"G":      hotkey.KeyG,
	"H":      hotkey.KeyH,
	"I":      hotkey.KeyI,
	"J":      hotkey.KeyJ,
	"K":      hotkey.KeyK,
	"L":      hotkey.KeyL,
	"M":      hotkey.KeyM,
	"N":      hotkey.KeyN,
	"O":      hotkey.KeyO,
	"P":      hotkey.KeyP,
	"Q":      hotkey.KeyQ,
	"R":      hotkey.KeyR,
	"S":      hotkey.KeyS,
	"T":      hotkey.KeyT,
	"U":      hotkey.KeyU,
	"V":      hotkey.KeyV,
	"W":      hotkey.KeyW,
	"X":      hotkey.KeyX,
	"Y":      hotkey.KeyY,
	"Z":      hotkey.KeyZ,
	"0":      hotkey.Key0,
	"1":      hotkey.Key1,
	"2":      hotkey.Key2,
	"3":      hotkey.Key3,
	"4":      hotkey.Key4,
	"5":      hotkey.Key5,
	"6":      hotkey.Key6,
	"7":      hotkey.Key7,
	"8":      hotkey.Key8,
	"9":      hotkey.Key9,
	"F1":     hotkey.KeyF1,
	"F2":     hotkey.KeyF2,
	"F3":     hotkey.KeyF3,
	"F4":     hotkey.KeyF4,
	"F5":     hotkey.KeyF5,
	"F6":     hotkey.KeyF6,
	"F7":     hotkey.KeyF7,
	"F8":     hotkey.KeyF8,
	"F9":     hotkey.KeyF9,
	"F10":    hotkey.KeyF10,
	"F11":    hotkey.KeyF11,
	"F12":    hotkey.KeyF12,
}

var keyAliases = map[string]string{
	"ESC":    "Escape",
	"ENTER":  "Return",
	"DEL":    "Delete",
	"\u00a0": "Space", // macOS IMEs can send NBSP for the space key
}

// NormalizeKey returns the canonical name of a key, e.g. "esc" -> "Escape"
func NormalizeKey(name string) (string, error) {
	if alias, ok := keyAliases[strings.ToUpper(name)]; ok {
		return alias, nil
	}
	trimmed := strings.TrimSpace(name)
	for canonical := range keyNames {
		if strings.EqualFold(canonical, trimmed) {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("unsupported hotkey key %q", name)
}

// ParseKey converts a key name to its key code
func ParseKey(name string) (hotkey.Key, error) {
	canonical, err := NormalizeKey(name)
	if err != nil {
		return 0, err
	}
	return keyNames[canonical], nil
}

// Build converts a configured binding into modifiers and a key for
// registration
func Build(b config.HotkeyConfig) (Config, error) {
	key, err := ParseKey(b.Key)
	if err != nil {
		return Config{}, err
	}
	mods := modifiers(b)
	if len(mods) == 0 {
		return Config{}, fmt.Errorf("hotkey %s needs at least one modifier", b.Key)
	}
	return Config{Modifiers: mods, Key: key}, nil
}

// FormatHotkey returns a human-readable representation of a binding
func FormatHotkey(b config.HotkeyConfig) string {
	key, err := NormalizeKey(b.Key)
	if err != nil {
		key = "Unknown"
	}
	return formatModifiers(b) + key
}
