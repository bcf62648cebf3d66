// Package agent supplies raw actions to the episode loop.
package agent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
)

// Observation is what an agent sees before choosing its next action.
type Observation struct {
	Step        int              `json:"step"`
	Instruction string           `json:"instruction"`
	Activity    string           `json:"activity"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Nodes       []hierarchy.Node `json:"nodes"`
	Screenshot  string           `json:"screenshot,omitempty"` // Path of the persisted PNG
}

// Agent chooses the next raw action for an observation. Done reports
// that the agent has nothing more to say.
type Agent interface {
	NextAction(ctx context.Context, obs Observation) (raw string, done bool, err error)
	Close() error
}

// Chatter is an agent that keeps a conversation. Conversation returns
// the text gathered while choosing the latest action.
type Chatter interface {
	Conversation() string
}

// Direction is a swipe direction.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Distance scales a swipe. One unit is a tenth of the screen width.
type Distance string

const (
	Short  Distance = "short"
	Medium Distance = "medium"
	Long   Distance = "long"
)

func (d Distance) units() int {
	switch d {
	case Long:
		return 3
	case Medium:
		return 2
	default:
		return 1
	}
}

// TapAction taps the center of an element.
func TapAction(bounds [2][2]int, width, height int) string {
	x, y := center(bounds)
	p := pointStr(float64(x)/float64(width), float64(y)/float64(height))
	return fmt.Sprintf("action_type: dual_point, touch_point: %s, lift_point: %s, typed_text: ''", p, p)
}

// SwipeAction swipes from the center of an element. Vertical swipes
// travel twice as far as horizontal ones.
func SwipeAction(bounds [2][2]int, width, height int, dir Direction, dist Distance) (string, error) {
	unit := width / 10 * dist.units()
	var dx, dy int
	switch dir {
	case Up:
		dy = -2 * unit
	case Down:
		dy = 2 * unit
	case Left:
		dx = -unit
	case Right:
		dx = unit
	default:
		return "", fmt.Errorf("unknown swipe direction %q", dir)
	}

	x, y := center(bounds)
	from := pointStr(float64(x)/float64(width), float64(y)/float64(height))
	to := pointStr(clamp(float64(x+dx)/float64(width)), clamp(float64(y+dy)/float64(height)))
	return fmt.Sprintf("action_type: dual_point, touch_point: %s, lift_point: %s, typed_text: ''", from, to), nil
}

// TextAction types s into the focused field.
func TextAction(s string) string {
	return fmt.Sprintf("action_type: type, touch_point: [-1.0, -1.0], lift_point: [-1.0, -1.0], typed_text: '%s'", s)
}

func center(b [2][2]int) (int, int) {
	return (b[0][0] + b[1][0]) / 2, (b[0][1] + b[1][1]) / 2
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pointStr(x, y float64) string {
	return "[" + strconv.FormatFloat(x, 'f', -1, 64) + ", " + strconv.FormatFloat(y, 'f', -1, 64) + "]"
}
