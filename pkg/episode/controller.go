package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/agentenv/pkg/action"
	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/emulator"
	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
	"github.com/devicelab-dev/agentenv/pkg/logger"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

// Config configures a Controller.
type Config struct {
	OutputDir   string
	Snapshot    string
	MaxSteps    int
	Dispatch    bool          // Send decodable actions to the device
	SettleDelay time.Duration // Wait after a dispatched action
}

// SessionFactory opens a session to the emulator behind serial.
type SessionFactory func(serial string) Session

// Controller drives episodes for one device identity. It is not safe for
// concurrent use; the episode loop is single-threaded.
type Controller struct {
	cfg        Config
	emu        Emulator
	newSession SessionFactory
	ses        Session
	serial     string

	state      State
	needsReset bool
	ep         *Episode
	history    []*session.StateSnapshot
	actions    []ActionRecord

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an idle controller.
func New(cfg Config, emu Emulator, newSession SessionFactory) *Controller {
	return &Controller{cfg: cfg, emu: emu, newSession: newSession, sleep: sleepContext}
}

// Serial returns the serial of the emulator the session is bound to.
func (c *Controller) Serial() string { return c.serial }

// State returns the lifecycle state.
func (c *Controller) State() State { return c.state }

// Episode returns a copy of the current episode, or nil.
func (c *Controller) Episode() *Episode {
	if c.ep == nil {
		return nil
	}
	ep := *c.ep
	ep.Warnings = append([]string(nil), c.ep.Warnings...)
	return &ep
}

// History returns the states captured in the current episode, in order.
func (c *Controller) History() []*session.StateSnapshot {
	return append([]*session.StateSnapshot(nil), c.history...)
}

// Actions returns the records persisted in the current episode.
func (c *Controller) Actions() []ActionRecord {
	return append([]ActionRecord(nil), c.actions...)
}

// Prepare boots the emulator, connects the session and goes home.
func (c *Controller) Prepare(ctx context.Context) error {
	if c.state != StateIdle {
		return c.invalidState("prepare")
	}

	logger.Info("Loading emulator (snapshot %s)", c.cfg.Snapshot)
	h, err := c.emu.Start(ctx, c.cfg.Snapshot)
	if err != nil {
		return err
	}
	if err := c.connect(ctx, h); err != nil {
		return err
	}

	c.state = StateReady
	logger.Info("Environment ready")
	return nil
}

// connect binds a session to the instance behind h. An adopted instance
// may sit on a different serial than the one last used.
func (c *Controller) connect(ctx context.Context, h *emulator.ProcessHandle) error {
	if c.ses == nil || h.Serial != c.serial {
		c.ses = c.newSession(h.Serial)
		c.serial = h.Serial
	}
	if err := c.ses.Connect(ctx); err != nil {
		return err
	}
	if err := c.ses.PressKey(ctx, session.KeyHome); err != nil {
		return err
	}
	return c.sleep(ctx, c.cfg.SettleDelay)
}

// BeginEpisode allocates the output directory and resets step state.
func (c *Controller) BeginEpisode(inst Instruction) (*Episode, error) {
	if c.state != StateReady || c.needsReset {
		return nil, c.invalidState("begin episode")
	}

	id := uuid.New().String()
	name := inst.Name
	if name == "" {
		name = id
	}
	dir := filepath.Join(c.cfg.OutputDir, NormalizeCategory(inst.Category), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create episode dir: %w", err)
	}

	c.ep = &Episode{
		ID:          id,
		Instruction: inst,
		Dir:         dir,
		MaxSteps:    c.cfg.MaxSteps,
		StartedAt:   time.Now(),
	}
	c.history = nil
	c.actions = nil
	c.state = StateRunning

	logger.Info("Episode %s started: %s (%s)", id, inst.Description, dir)
	return c.Episode(), nil
}

// CaptureState captures the device and persists the snapshot under the
// current step index.
func (c *Controller) CaptureState(ctx context.Context) (*session.StateSnapshot, []core.Attachment, error) {
	if c.state != StateRunning && c.state != StateTerminal {
		return nil, nil, c.invalidState("capture state")
	}

	snap, err := c.ses.CaptureState(ctx)
	if err != nil {
		return nil, nil, err
	}

	step := c.ep.StepIndex
	vh, err := hierarchy.Marshal(snap.Hierarchy)
	if err != nil {
		return nil, nil, fmt.Errorf("encode hierarchy: %w", err)
	}

	var attachments []core.Attachment
	for _, a := range []struct {
		kind core.ArtifactKind
		data []byte
	}{
		{core.ArtifactScreenshot, snap.Screenshot},
		{core.ArtifactHierarchyXML, []byte(snap.HierarchyXML)},
		{core.ArtifactHierarchyTree, vh},
		{core.ArtifactActivity, []byte(snap.Activity)},
	} {
		att, err := c.writeStepArtifact(a.kind, step, a.data)
		if err != nil {
			return nil, nil, err
		}
		attachments = append(attachments, att)
	}

	c.history = append(c.history, snap)
	logger.Debug("Captured state %d for episode %s", step, c.ep.ID)
	return snap, attachments, nil
}

// SubmitAction decodes, records and dispatches one agent action.
//
// A malformed action returns a parse error and changes nothing. A stop-app
// intent at step 0 primes the environment: it is dispatched but neither
// recorded nor counted. Every other action is persisted and advances the
// step index, after which termination is evaluated.
func (c *Controller) SubmitAction(ctx context.Context, raw string) (*ActionRecord, error) {
	if c.state != StateRunning {
		return nil, c.invalidState("submit action")
	}

	a, err := action.Decode(raw)
	if err != nil {
		logger.Warn("Ignoring malformed action at step %d: %v", c.ep.StepIndex, err)
		return nil, err
	}

	if a.IsPriming() && c.ep.StepIndex == 0 {
		logger.Info("Priming: %s", a.Text)
		c.dispatch(ctx, a)
		return nil, nil
	}

	w, h, err := c.ses.ScreenMetrics(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := action.Encode(a, w, h)
	if err != nil {
		logger.Warn("Ignoring unencodable action at step %d: %v", c.ep.StepIndex, err)
		return nil, err
	}

	rec := ActionRecord{
		StepIndex: c.ep.StepIndex,
		Type:      a.Type,
		Encoded:   encoded,
		Raw:       raw,
	}

	// The record is written before the device sees the action, so a
	// dispatched action always has one.
	att, err := c.writeStepArtifact(core.ArtifactAction, rec.StepIndex, []byte(encoded))
	if err != nil {
		return nil, err
	}
	rec.Path = att.Path

	if err := c.dispatch(ctx, a); err != nil {
		rec.DispatchErr = err.Error()
	}

	c.actions = append(c.actions, rec)
	c.ep.StepIndex++
	logger.Step(c.ep.ID, c.ep.StepIndex, string(a.Type), encoded)

	if reason := c.terminalReason(a.Type); reason != ReasonNone {
		c.enterTerminal(ctx, reason)
	}
	return &rec, nil
}

func (c *Controller) terminalReason(t action.Type) Reason {
	switch {
	case t == action.StatusTaskComplete:
		return ReasonExplicitComplete
	case t == action.StatusTaskImpossible:
		return ReasonExplicitImpossible
	case c.ep.StepIndex >= c.ep.MaxSteps:
		return ReasonMaxStepsReached
	default:
		return ReasonNone
	}
}

// enterTerminal records the installed packages. The file is written even
// when the list is empty or could not be read.
func (c *Controller) enterTerminal(ctx context.Context, reason Reason) {
	c.state = StateTerminal
	c.ep.Terminal = true
	c.ep.Reason = reason
	logger.Info("Episode %s ended at step %d: %s", c.ep.ID, c.ep.StepIndex, reason)

	pkgs, err := c.ses.InstalledPackages(ctx)
	if err != nil {
		logger.Warn("Installed packages unavailable: %v", err)
		c.ep.Warnings = append(c.ep.Warnings, fmt.Sprintf("installed packages: %v", err))
		pkgs = nil
	}

	var b strings.Builder
	for _, p := range pkgs {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	path := filepath.Join(core.ArtifactDir(c.ep.Dir, core.ArtifactInstalledApps), core.InstalledAppsFile)
	if err := writeFile(path, []byte(b.String())); err != nil {
		logger.Error("Failed to write %s: %v", path, err)
		c.ep.Warnings = append(c.ep.Warnings, err.Error())
	}
}

// dispatch sends a decoded action to the device. Failures are logged and
// returned for the record; they never stop the episode.
func (c *Controller) dispatch(ctx context.Context, a action.Action) error {
	if !c.cfg.Dispatch || !a.Type.Dispatchable() {
		return nil
	}
	if err := Dispatch(ctx, c.ses, a); err != nil {
		logger.Warn("Dispatch of %s failed: %v", a.Type, err)
		return err
	}
	return c.sleep(ctx, c.cfg.SettleDelay)
}

// Dispatch sends a decoded action to the device. Status and oracle
// actions are not sent.
func Dispatch(ctx context.Context, s Session, a action.Action) error {
	switch a.Type {
	case action.Click:
		return s.Tap(ctx, a.Touch.X, a.Touch.Y)
	case action.Swipe:
		return s.Swipe(ctx, a.Touch.X, a.Touch.Y, a.Lift.X, a.Lift.Y)
	case action.TypeText:
		return s.TypeText(ctx, a.Text)
	case action.PressEnter:
		return s.PressKey(ctx, session.KeyEnter)
	case action.PressBack:
		return s.PressKey(ctx, session.KeyBack)
	case action.PressHome:
		return s.PressKey(ctx, session.KeyHome)
	case action.RawIntent:
		_, err := s.Shell(ctx, a.Text)
		return err
	}
	return nil
}

// EndEpisode closes a terminal episode. Reset must run before the next
// BeginEpisode.
func (c *Controller) EndEpisode() (*Episode, error) {
	if c.state != StateTerminal {
		return nil, c.invalidState("end episode")
	}
	c.ep.EndedAt = time.Now()
	c.needsReset = true
	logger.Info("Episode %s closed after %v", c.ep.ID, c.ep.EndedAt.Sub(c.ep.StartedAt).Round(time.Millisecond))
	return c.Episode(), nil
}

// Reset reloads the emulator snapshot and reconnects. It may be called
// from any state after Prepare, including after a failed episode.
func (c *Controller) Reset(ctx context.Context) error {
	if c.state == StateIdle {
		return c.invalidState("reset")
	}

	c.disconnect()
	h, err := c.emu.Reset(ctx, c.cfg.Snapshot)
	if err != nil {
		c.state = StateIdle
		return err
	}
	if err := c.connect(ctx, h); err != nil {
		c.state = StateIdle
		return err
	}

	c.state = StateReady
	c.needsReset = false
	return nil
}

// Teardown disconnects and, when kill is set, stops the emulator.
func (c *Controller) Teardown(ctx context.Context, kill bool) {
	c.disconnect()
	if kill {
		c.emu.Terminate(ctx)
	}
	c.state = StateIdle
}

// SaveChat stores the agent conversation for the current step.
func (c *Controller) SaveChat(conversation string) (string, error) {
	if c.ep == nil {
		return "", c.invalidState("save chat")
	}
	att, err := c.writeStepArtifact(core.ArtifactChat, c.ep.StepIndex, []byte(conversation))
	return att.Path, err
}

// SaveInstructions stores similar instructions and the instruction set
// the agent worked from.
func (c *Controller) SaveInstructions(similar string, instructions map[string]interface{}) error {
	if c.ep == nil {
		return c.invalidState("save instructions")
	}
	if err := writeFile(filepath.Join(c.ep.Dir, "instructions_sim.txt"), []byte(similar)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(instructions, "", "    ")
	if err != nil {
		return fmt.Errorf("encode instructions: %w", err)
	}
	return writeFile(filepath.Join(c.ep.Dir, "instructions.json"), data)
}

func (c *Controller) disconnect() {
	if c.ses != nil {
		c.ses.Disconnect()
	}
}

func (c *Controller) writeStepArtifact(kind core.ArtifactKind, step int, data []byte) (core.Attachment, error) {
	path := core.StepArtifactPath(c.ep.Dir, kind, step)
	if err := writeFile(path, data); err != nil {
		return core.Attachment{}, err
	}
	return core.NewAttachment(kind, path), nil
}

func (c *Controller) invalidState(op string) error {
	return core.ErrInvalidState.
		WithMessage(fmt.Sprintf("cannot %s in state %s", op, c.state)).
		WithDetails(map[string]interface{}{"state": c.state.String(), "needsReset": c.needsReset})
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
