package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Android key codes
const (
	KeyCodeHome      = 3
	KeyCodeBack      = 4
	KeyCodeEnter     = 66
	KeyCodeDelete    = 67
	KeyCodeMenu      = 82
	KeyCodeSearch    = 84
	KeyCodeAppSwitch = 187
)

// KeyCode maps a key name to its Android key code, or 0 if unknown.
func KeyCode(key string) int {
	switch strings.ToLower(key) {
	case "enter":
		return KeyCodeEnter
	case "back":
		return KeyCodeBack
	case "home":
		return KeyCodeHome
	case "delete", "backspace":
		return KeyCodeDelete
	case "menu":
		return KeyCodeMenu
	case "search":
		return KeyCodeSearch
	case "app_switch", "recents":
		return KeyCodeAppSwitch
	default:
		return 0
	}
}

// Tap sends a tap at absolute pixel coordinates.
func (d *AndroidDevice) Tap(ctx context.Context, x, y int) error {
	_, err := d.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

// Swipe sends a swipe between absolute pixel coordinates.
func (d *AndroidDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	cmd := fmt.Sprintf("input swipe %d %d %d %d", x1, y1, x2, y2)
	if durationMs > 0 {
		cmd += " " + strconv.Itoa(durationMs)
	}
	_, err := d.Shell(ctx, cmd)
	return err
}

// InputText types text into the focused field.
func (d *AndroidDevice) InputText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := d.Shell(ctx, "input text "+EscapeInputText(text))
	return err
}

// KeyEvent sends a key event.
func (d *AndroidDevice) KeyEvent(ctx context.Context, code int) error {
	_, err := d.Shell(ctx, fmt.Sprintf("input keyevent %d", code))
	return err
}

// EscapeInputText encodes text for `input text`, which treats %s as a
// space and runs through the device shell.
func EscapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '\'', '"', '(', ')', '&', '<', '>', '|', ';', '*', '~', '$', '`', '?', '#', '!':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
