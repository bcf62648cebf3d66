package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Null marks an absent field in a canonical record.
const Null = "NULL"

// Encode renders the canonical record
// TYPE|primary|secondary|width|height for a screen of width x height.
func Encode(a Action, width, height int) (string, error) {
	primary, secondary := Null, Null

	switch a.Type {
	case Click:
		if a.Touch == nil {
			return "", parseError(a.Raw, "click without touch point")
		}
		primary = a.Touch.String()
	case Swipe:
		if a.Touch == nil || a.Lift == nil {
			return "", parseError(a.Raw, "swipe without touch and lift points")
		}
		primary, secondary = a.Touch.String(), a.Lift.String()
	case TypeText, RawIntent, Oracle:
		if a.Text == "" {
			return "", parseError(a.Raw, fmt.Sprintf("%s without text", a.Type))
		}
		primary = a.Text
	case PressEnter, PressBack, PressHome, StatusTaskComplete, StatusTaskImpossible:
	default:
		return "", parseError(a.Raw, fmt.Sprintf("unsupported action type %q", a.Type))
	}

	return strings.Join([]string{string(a.Type), primary, secondary, strconv.Itoa(width), strconv.Itoa(height)}, "|"), nil
}

// ParseRecord inverts Encode. Text fields may contain '|'; only the
// type and the trailing dimensions are split positionally.
func ParseRecord(s string) (Record, error) {
	s = strings.TrimRight(s, "\r\n")

	kind, rest, ok := strings.Cut(s, "|")
	if !ok {
		return Record{}, parseError(s, "record has no fields")
	}
	t := Type(kind)
	if !knownTypes[t] {
		return Record{}, parseError(s, fmt.Sprintf("unknown record type %q", kind))
	}

	idx := strings.LastIndex(rest, "|")
	if idx == -1 {
		return Record{}, parseError(s, "record missing height")
	}
	height, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		return Record{}, parseError(s, "bad height")
	}
	rest = rest[:idx]

	idx = strings.LastIndex(rest, "|")
	if idx == -1 {
		return Record{}, parseError(s, "record missing width")
	}
	width, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		return Record{}, parseError(s, "bad width")
	}
	rest = rest[:idx]

	idx = strings.LastIndex(rest, "|")
	if idx == -1 {
		return Record{}, parseError(s, "record missing secondary field")
	}
	primary, secondary := rest[:idx], rest[idx+1:]

	a := Action{Type: t, Raw: s}
	switch t {
	case Click:
		p, err := parsePoint(primary)
		if err != nil {
			return Record{}, parseError(s, err.Error())
		}
		a.Touch = &p
	case Swipe:
		p1, err := parsePoint(primary)
		if err != nil {
			return Record{}, parseError(s, err.Error())
		}
		p2, err := parsePoint(secondary)
		if err != nil {
			return Record{}, parseError(s, err.Error())
		}
		a.Touch, a.Lift = &p1, &p2
	case TypeText, RawIntent, Oracle:
		a.Text = primary
	}

	return Record{Action: a, Width: width, Height: height}, nil
}
