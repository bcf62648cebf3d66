// Package action decodes agent action strings into typed actions and
// renders the canonical pipe-delimited record persisted for each step.
package action

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the discriminator of a decoded action.
type Type string

// Action types
const (
	Click                Type = "CLICK"
	Swipe                Type = "SWIPE"
	TypeText             Type = "TYPE"
	PressEnter           Type = "PRESS_ENTER"
	PressBack            Type = "PRESS_BACK"
	PressHome            Type = "PRESS_HOME"
	StatusTaskComplete   Type = "STATUS_TASK_COMPLETE"
	StatusTaskImpossible Type = "STATUS_TASK_IMPOSSIBLE"
	RawIntent            Type = "RAW_INTENT"
	Oracle               Type = "ORACLE"
)

var knownTypes = map[Type]bool{
	Click: true, Swipe: true, TypeText: true,
	PressEnter: true, PressBack: true, PressHome: true,
	StatusTaskComplete: true, StatusTaskImpossible: true,
	RawIntent: true, Oracle: true,
}

// IsStatus reports whether the type ends an episode.
func (t Type) IsStatus() bool {
	return t == StatusTaskComplete || t == StatusTaskImpossible
}

// Dispatchable reports whether the action is sent to the device.
func (t Type) Dispatchable() bool {
	return t != Oracle && !t.IsStatus()
}

// Point is a normalized screen coordinate in [0,1].
type Point struct {
	X float64
	Y float64
}

// String renders the point as "[x, y]".
func (p Point) String() string {
	return fmt.Sprintf("[%s, %s]", formatFloat(p.X), formatFloat(p.Y))
}

// InRange reports whether both coordinates lie in [0,1].
func (p Point) InRange() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Action is a decoded agent action.
type Action struct {
	Type  Type
	Touch *Point // CLICK, SWIPE start
	Lift  *Point // SWIPE end
	Text  string // TYPE text, RAW_INTENT command, ORACLE payload
	Raw   string // Input the action was decoded from
}

// IsPriming reports whether the action is a stop-app directive.
func (a Action) IsPriming() bool {
	return a.Type == RawIntent && strings.HasPrefix(a.Text, forceStopPrefix)
}

// Record is a parsed canonical action record.
type Record struct {
	Action Action
	Width  int
	Height int
}

// formatFloat renders whole numbers with a trailing ".0" so coordinates
// always read as normalized values.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
