package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devicelab-dev/agentenv/pkg/core"
)

const (
	intentPrefix    = "am "
	oraclePrefix    = "Oracle"
	forceStopPrefix = "am force-stop"
	typedTextKey    = "typed_text:"
)

// Decode parses an agent action string.
//
// Structured form:
//
//	action_type: dual_point, touch_point: [0.5, 0.3], lift_point: [0.5, 0.3], typed_text: ''
//
// Strings starting with "am " decode to RAW_INTENT and strings starting
// with "Oracle" to ORACLE; both carry the input verbatim in Text.
func Decode(raw string) (Action, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Action{}, parseError(raw, "empty action")
	}

	if !strings.HasPrefix(s, "action_type") {
		switch {
		case strings.HasPrefix(s, intentPrefix):
			return Action{Type: RawIntent, Text: s, Raw: raw}, nil
		case strings.HasPrefix(s, oraclePrefix):
			return Action{Type: Oracle, Text: s, Raw: raw}, nil
		}
	}

	fields, err := splitFields(s)
	if err != nil {
		return Action{}, parseError(raw, err.Error())
	}

	kind, ok := fields["action_type"]
	if !ok {
		return Action{}, parseError(raw, "missing action_type")
	}
	a := Action{Raw: raw}

	switch strings.ToLower(kind) {
	case "dual_point", "click", "swipe":
		touch, err := fieldPoint(fields, "touch_point")
		if err != nil {
			return Action{}, parseError(raw, err.Error())
		}
		lift, err := fieldPoint(fields, "lift_point")
		if err != nil {
			return Action{}, parseError(raw, err.Error())
		}
		if touch == lift {
			a.Type, a.Touch = Click, &touch
		} else {
			a.Type, a.Touch, a.Lift = Swipe, &touch, &lift
		}
	case "type":
		text := fields["typed_text"]
		if text == "" {
			return Action{}, parseError(raw, "type action without typed_text")
		}
		a.Type, a.Text = TypeText, text
	case "press_back":
		a.Type = PressBack
	case "press_home":
		a.Type = PressHome
	case "press_enter":
		a.Type = PressEnter
	case "status_task_complete":
		a.Type = StatusTaskComplete
	case "status_task_impossible":
		a.Type = StatusTaskImpossible
	default:
		return Action{}, parseError(raw, fmt.Sprintf("unknown action_type %q", kind))
	}

	return a, nil
}

// Format renders an action in the structured form Decode accepts.
// RAW_INTENT and ORACLE render as their text.
func Format(a Action) string {
	switch a.Type {
	case RawIntent, Oracle:
		return a.Text
	}

	kind := strings.ToLower(string(a.Type))
	touch, lift := Point{X: -1, Y: -1}, Point{X: -1, Y: -1}
	switch a.Type {
	case Click, Swipe:
		kind = "dual_point"
		if a.Touch != nil {
			touch = *a.Touch
			lift = touch
		}
		if a.Lift != nil {
			lift = *a.Lift
		}
	case TypeText:
		kind = "type"
	}
	return fmt.Sprintf("action_type: %s, touch_point: %s, lift_point: %s, typed_text: '%s'",
		kind, touch, lift, a.Text)
}

// splitFields splits "key: value" pairs on top-level commas. typed_text
// is always last and takes the rest of the string, so its value may
// contain commas and quotes.
func splitFields(s string) (map[string]string, error) {
	fields := map[string]string{}

	if idx := strings.Index(s, typedTextKey); idx != -1 {
		fields["typed_text"] = unquote(strings.TrimSpace(s[idx+len(typedTextKey):]))
		s = strings.TrimRight(strings.TrimSpace(s[:idx]), ",")
	}

	depth := 0
	start := 0
	var parts []string
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	parts = append(parts, s[start:])

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("field %q is not key: value", part)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields, nil
}

func fieldPoint(fields map[string]string, key string) (Point, error) {
	v, ok := fields[key]
	if !ok {
		return Point{}, fmt.Errorf("missing %s", key)
	}
	return parsePoint(v)
}

// parsePoint parses "[x, y]".
func parsePoint(s string) (Point, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Point{}, fmt.Errorf("point %q is not [x, y]", s)
	}
	xs, ys, ok := strings.Cut(s[1:len(s)-1], ",")
	if !ok {
		return Point{}, fmt.Errorf("point %q is not [x, y]", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return Point{X: x, Y: y}, nil
}

// unquote strips one pair of matching ASCII or typographic quotes.
func unquote(s string) string {
	pairs := [][2]string{{"'", "'"}, {`"`, `"`}, {"“", "”"}, {"”", "”"}, {"‘", "’"}}
	for _, p := range pairs {
		if len(s) >= len(p[0])+len(p[1]) && strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			return s[len(p[0]) : len(s)-len(p[1])]
		}
	}
	return s
}

func parseError(raw, reason string) error {
	return core.ErrParse.
		WithMessage(fmt.Sprintf("malformed action: %s", reason)).
		WithDetails(map[string]interface{}{"raw": raw})
}
