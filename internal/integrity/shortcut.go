package integrity

import "strings"

// KeyCombo is a key press with its modifiers.
type KeyCombo struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
}

// ShortcutClass is the policy bucket of a key combo.
type ShortcutClass int

const (
	ShortcutAllowed ShortcutClass = iota
	// ShortcutClipboard covers copy, cut and paste. Allowed in editable regions.
	ShortcutClipboard
	// ShortcutSelectAll is allowed in editable regions.
	ShortcutSelectAll
	// ShortcutForbidden is blocked everywhere: devtools, view source, print,
	// save page and screen capture.
	ShortcutForbidden
)

// ClassifyShortcut buckets a key combo.
func ClassifyShortcut(k KeyCombo) ShortcutClass {
	key := strings.ToLower(k.Key)

	switch key {
	case "f12", "printscreen", "snapshot":
		return ShortcutForbidden
	}

	// Cmd on macOS, Ctrl elsewhere.
	mod := k.Ctrl || k.Meta
	if !mod {
		return ShortcutAllowed
	}

	switch {
	case k.Shift && (key == "i" || key == "j" || key == "c" || key == "k"):
		return ShortcutForbidden
	case k.Meta && k.Alt && (key == "i" || key == "j" || key == "c" || key == "u"):
		return ShortcutForbidden
	case k.Shift && (key == "3" || key == "4" || key == "5"):
		// macOS screenshots
		return ShortcutForbidden
	}

	switch key {
	case "u", "p", "s":
		return ShortcutForbidden
	case "c", "x", "v", "insert":
		return ShortcutClipboard
	case "a":
		return ShortcutSelectAll
	}
	return ShortcutAllowed
}
