// Package episode runs one instruction at a time against a prepared
// emulator: capture state, accept an action, record it, detect the end.
package episode

import (
	"context"
	"strings"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/action"
	"github.com/devicelab-dev/agentenv/pkg/emulator"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReady
	StateRunning
	StateTerminal
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Reason says why an episode became terminal.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMaxStepsReached    Reason = "maxStepsReached"
	ReasonExplicitComplete   Reason = "explicitComplete"
	ReasonExplicitImpossible Reason = "explicitImpossible"
)

// Instruction is the task given to the agent for one episode.
type Instruction struct {
	Description string
	Category    string
	Name        string // Output directory name; the episode ID when empty
	App         string
}

// Episode is one attempt at an instruction.
type Episode struct {
	ID          string
	Instruction Instruction
	Dir         string
	StepIndex   int
	MaxSteps    int
	Terminal    bool
	Reason      Reason
	Warnings    []string
	StartedAt   time.Time
	EndedAt     time.Time
}

// ActionRecord is the persisted form of one counted action.
type ActionRecord struct {
	StepIndex   int
	Type        action.Type
	Encoded     string
	Raw         string
	Path        string
	DispatchErr string // Set when sending the action to the device failed
}

// Emulator is the lifecycle surface the controller needs.
// *emulator.Controller implements it.
type Emulator interface {
	Start(ctx context.Context, snapshot string) (*emulator.ProcessHandle, error)
	Reset(ctx context.Context, snapshot string) (*emulator.ProcessHandle, error)
	Terminate(ctx context.Context)
}

// Session is the device surface the controller needs.
// *session.Session implements it.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	ScreenMetrics(ctx context.Context) (int, int, error)
	Tap(ctx context.Context, x, y float64) error
	Swipe(ctx context.Context, x1, y1, x2, y2 float64) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key session.Key) error
	Shell(ctx context.Context, cmd string) (string, error)
	CaptureState(ctx context.Context) (*session.StateSnapshot, error)
	InstalledPackages(ctx context.Context) ([]string, error)
}

var (
	_ Emulator = (*emulator.Controller)(nil)
	_ Session  = (*session.Session)(nil)
)

// NormalizeCategory maps instruction categories onto output directory
// names.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	switch c {
	case "":
		return "general"
	case "googleapps":
		return "google_apps"
	case "webshopping":
		return "web_shopping"
	default:
		return c
	}
}
