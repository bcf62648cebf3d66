package emulator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

const (
	defaultConsolePort = 5554
	// reapTimeout bounds how long a terminated child may linger before it
	// is killed outright.
	reapTimeout = 30 * time.Second
	// killTimeout bounds the wait for a killed child to be reaped.
	killTimeout = 5 * time.Second
	// detachPoll is how often a terminated attached instance is looked up
	// on the bridge while it shuts down.
	detachPoll = 500 * time.Millisecond
)

// Bridge is the subset of the device bridge the controller needs.
type Bridge interface {
	Devices(ctx context.Context) ([]device.Entry, error)
	AVDName(ctx context.Context, serial string) (string, error)
	EmuKill(ctx context.Context, serial string) error
}

// RetryPolicy bounds RetryStart when called through Reset.
type RetryPolicy struct {
	MaxAttempts  int
	AttemptDelay time.Duration
	GraceDelay   time.Duration // Between terminate and relaunch on Reset
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	AVD          string
	Serial       string // Optional; fixes the console port
	EmulatorPath string
	LogDir       string
	Options      Options
	Boot         BootPolicy
	Retry        RetryPolicy
	Bridge       Bridge
	Spawner      Spawner
}

// Controller supervises one emulator identity. Handles persist across
// episodes; only the controller changes their state.
type Controller struct {
	cfg ControllerConfig

	mu     sync.Mutex
	handle *ProcessHandle

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller. A nil Spawner uses ExecSpawner.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Spawner == nil {
		cfg.Spawner = ExecSpawner{}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	return &Controller{cfg: cfg, sleep: sleepContext}
}

// Handle returns the current process handle, or nil before the first start.
func (c *Controller) Handle() *ProcessHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Serial returns the serial of the supervised instance.
func (c *Controller) Serial() string {
	if h := c.Handle(); h != nil {
		return h.Serial
	}
	if c.cfg.Serial != "" {
		return c.cfg.Serial
	}
	return fmt.Sprintf("emulator-%d", c.consolePort())
}

// EnsureRunning returns a handle for a live instance of the AVD, spawning
// one only when none is running. An instance found on the bridge is
// adopted as Running without a spawn. The serial of an instance this
// controller terminated is never adopted again.
func (c *Controller) EnsureRunning(ctx context.Context, snapshot string) (*ProcessHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snapshot == "" {
		snapshot = c.cfg.Options.Snapshot
	}

	exclude := ""
	if h := c.handle; h != nil {
		switch h.State() {
		case StateStarting:
			if exited, _ := h.hasExited(); !exited {
				return h, nil
			}
		case StateRunning:
			if c.onBridge(ctx, h.Serial) {
				return h, nil
			}
			logger.Warn("Emulator %s no longer on bridge, restarting", h.Serial)
			h.setState(StateStopped)
		}
		exclude = h.Serial
		if err := c.awaitExit(ctx, h); err != nil {
			return nil, err
		}
	}

	if serial, ok := c.findRunning(ctx, exclude); ok {
		port, _ := PortFromSerial(serial)
		h := &ProcessHandle{
			AVDName:     c.cfg.AVD,
			Serial:      serial,
			ConsolePort: port,
			Snapshot:    snapshot,
			StartedAt:   time.Now(),
			Attached:    true,
			state:       StateRunning,
		}
		c.handle = h
		logger.Info("Adopted running emulator %s (%s)", serial, c.cfg.AVD)
		return h, nil
	}

	return c.spawn(snapshot)
}

// awaitExit waits up to GraceDelay for a replaced instance to go away. A
// spawned child still alive after that is killed.
func (c *Controller) awaitExit(ctx context.Context, h *ProcessHandle) error {
	if h.proc == nil {
		c.awaitDetach(ctx, h.Serial)
		return ctx.Err()
	}
	if exited, _ := h.hasExited(); exited {
		return nil
	}

	grace := time.NewTimer(c.cfg.Retry.GraceDelay)
	defer grace.Stop()
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
	}

	logger.Warn("Emulator %s (PID %d) still running after %v, killing", h.Serial, h.PID, c.cfg.Retry.GraceDelay)
	if err := h.proc.Kill(); err != nil {
		logger.Error("Failed to kill emulator PID %d: %v", h.PID, err)
	}
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(killTimeout):
		return core.ErrSpawnFailed.
			WithMessage(fmt.Sprintf("previous emulator %s (PID %d) did not exit", h.Serial, h.PID)).
			WithDetails(map[string]interface{}{"avd": c.cfg.AVD})
	}
}

// awaitDetach polls the bridge until serial is gone or GraceDelay passes.
func (c *Controller) awaitDetach(ctx context.Context, serial string) {
	deadline := time.Now().Add(c.cfg.Retry.GraceDelay)
	for c.onBridge(ctx, serial) {
		if time.Now().After(deadline) {
			logger.Warn("Emulator %s still on bridge after %v", serial, c.cfg.Retry.GraceDelay)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(detachPoll):
		}
	}
}

// findRunning looks for an attached emulator running the configured AVD,
// skipping the exclude serial.
func (c *Controller) findRunning(ctx context.Context, exclude string) (string, bool) {
	entries, err := c.cfg.Bridge.Devices(ctx)
	if err != nil {
		logger.Warn("adb devices failed: %v", err)
		return "", false
	}
	for _, e := range entries {
		if !e.IsEmulator() || e.State != "device" {
			continue
		}
		if (c.cfg.Serial != "" && e.Serial != c.cfg.Serial) || e.Serial == exclude {
			continue
		}
		name, err := c.cfg.Bridge.AVDName(ctx, e.Serial)
		if err != nil {
			logger.Debug("emu avd name failed for %s: %v", e.Serial, err)
			continue
		}
		if name == c.cfg.AVD {
			return e.Serial, true
		}
	}
	return "", false
}

func (c *Controller) onBridge(ctx context.Context, serial string) bool {
	entries, err := c.cfg.Bridge.Devices(ctx)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Serial == serial && e.State == "device" {
			return true
		}
	}
	return false
}

func (c *Controller) consolePort() int {
	if c.cfg.Options.Port != 0 {
		return c.cfg.Options.Port
	}
	if port, ok := PortFromSerial(c.cfg.Serial); ok {
		return port
	}
	return defaultConsolePort
}

// LogPath returns the log sink of the configured AVD.
func (c *Controller) LogPath() string {
	return filepath.Join(c.cfg.LogDir, c.cfg.AVD+".emulator.log")
}

// spawn starts a new child. Caller holds c.mu.
func (c *Controller) spawn(snapshot string) (*ProcessHandle, error) {
	port := c.consolePort()
	logPath := c.LogPath()

	if err := os.MkdirAll(c.cfg.LogDir, 0o755); err != nil {
		return nil, core.ErrSpawnFailed.WithMessage("create emulator log dir").WithCause(err)
	}
	sink, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //#nosec G304 -- path under configured log dir
	if err != nil {
		return nil, core.ErrSpawnFailed.WithMessage("open emulator log").WithCause(err)
	}
	defer sink.Close()

	info, err := sink.Stat()
	if err != nil {
		return nil, core.ErrSpawnFailed.WithMessage("stat emulator log").WithCause(err)
	}

	args := BuildArgs(c.cfg.AVD, snapshot, port, c.cfg.Options)
	logger.Info("Starting emulator: %s on port %d (snapshot %s)", c.cfg.AVD, port, snapshot)
	logger.Debug("Emulator command: %s %v", c.cfg.EmulatorPath, args)

	proc, err := c.cfg.Spawner.Spawn(c.cfg.EmulatorPath, args, sink)
	if err != nil {
		return nil, core.ErrSpawnFailed.WithCause(err).WithDetails(map[string]interface{}{"avd": c.cfg.AVD})
	}

	h := &ProcessHandle{
		AVDName:     c.cfg.AVD,
		Serial:      fmt.Sprintf("emulator-%d", port),
		ConsolePort: port,
		Snapshot:    snapshot,
		PID:         proc.Pid(),
		LogPath:     logPath,
		StartedAt:   time.Now(),
		state:       StateStarting,
		logOffset:   info.Size(),
		proc:        proc,
		exited:      make(chan struct{}),
	}
	go func() {
		h.exitErr = proc.Wait()
		close(h.exited)
	}()

	c.handle = h
	logger.Info("Emulator process started (PID: %d)", h.PID)
	return h, nil
}

// MonitorBoot follows the attempt's log until the boot resolves.
//
// The failure marker ends monitoring at once. Success needs IdleThreshold
// consecutive polls without output and at least Timeout elapsed, then a
// passing Ready probe when one is set. HardCeiling turns into
// ErrBootTimeout. File events trigger early reads but never count as polls.
func (c *Controller) MonitorBoot(ctx context.Context, h *ProcessHandle, policy BootPolicy) (BootResult, error) {
	start := time.Now()
	result := BootResult{}

	if h.State() == StateRunning {
		return result, nil
	}

	tail, err := openLogTail(h.LogPath, h.logOffset, policy.FailureMarker)
	if err != nil {
		h.setState(StateFailed)
		return result, core.ErrResourceNotFound.WithMessage("emulator log not readable").WithCause(err)
	}
	defer tail.close()

	fail := func(outcome BootOutcome, base *core.ExecutionError, msg string) (BootResult, error) {
		h.setState(StateFailed)
		result.Outcome = outcome
		result.Elapsed = time.Since(start)
		result.BytesRead = tail.read
		logger.Warn("Emulator %s boot %s after %v: %s", h.Serial, outcome, result.Elapsed, msg)
		return result, base.WithMessage(msg).WithDetails(map[string]interface{}{
			"serial":  h.Serial,
			"elapsed": result.Elapsed.String(),
		})
	}

	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	idle := 0
	activeSinceTick := false

	for {
		select {
		case <-ctx.Done():
			h.setState(StateFailed)
			return result, ctx.Err()

		case ev := <-tail.events():
			if !tail.isWrite(ev) {
				continue
			}
			n, seen, err := tail.next()
			if err != nil {
				logger.Debug("log read failed: %v", err)
				continue
			}
			if seen {
				return fail(BootFailed, core.ErrBootFailure, "failure marker in emulator log")
			}
			if n > 0 {
				activeSinceTick = true
			}
			continue

		case err := <-tail.errors():
			logger.Debug("log watch error for %s: %v", h.LogPath, err)
			continue

		case <-ticker.C:
		}

		result.Polls++
		n, seen, err := tail.next()
		if err != nil {
			return fail(BootFailed, core.ErrBootFailure, fmt.Sprintf("read emulator log: %v", err))
		}
		if seen {
			return fail(BootFailed, core.ErrBootFailure, "failure marker in emulator log")
		}
		if n > 0 || activeSinceTick {
			idle = 0
		} else {
			idle++
		}
		activeSinceTick = false

		if exited, exitErr := h.hasExited(); exited {
			return fail(BootExited, core.ErrBootFailure, fmt.Sprintf("emulator exited during boot: %v", exitErr))
		}

		elapsed := time.Since(start)
		if idle >= policy.IdleThreshold && elapsed >= policy.Timeout && c.ready(ctx, h, policy) {
			h.setState(StateRunning)
			result.Outcome = BootSucceeded
			result.Elapsed = elapsed
			result.BytesRead = tail.read
			logger.Info("Emulator %s booted in %v (%d polls)", h.Serial, elapsed, result.Polls)
			return result, nil
		}

		if policy.HardCeiling > 0 && elapsed >= policy.HardCeiling {
			return fail(BootTimedOut, core.ErrBootTimeout, fmt.Sprintf("no boot signal within %v", policy.HardCeiling))
		}
	}
}

func (c *Controller) ready(ctx context.Context, h *ProcessHandle, policy BootPolicy) bool {
	if policy.Ready == nil {
		return true
	}
	ok, err := policy.Ready(ctx, h.Serial)
	if err != nil || !ok {
		logger.Debug("Emulator %s idle but not ready yet", h.Serial)
		return false
	}
	return true
}

// RetryStart runs EnsureRunning and MonitorBoot until one attempt boots,
// terminating and waiting attemptDelay between attempts.
func (c *Controller) RetryStart(ctx context.Context, snapshot string, maxAttempts int, attemptDelay time.Duration) (*ProcessHandle, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logger.Info("Starting emulator attempt %d/%d: %s", attempt, maxAttempts, c.cfg.AVD)

		h, err := c.EnsureRunning(ctx, snapshot)
		if err == nil {
			if _, err = c.MonitorBoot(ctx, h, c.cfg.Boot); err == nil {
				return h, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		logger.Warn("Emulator start attempt %d/%d failed: %v", attempt, maxAttempts, err)
		c.Terminate(ctx)

		if attempt < maxAttempts {
			if err := c.sleep(ctx, attemptDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, core.ErrRetryExhausted.
		WithMessage(fmt.Sprintf("failed to start emulator after %d attempts", maxAttempts)).
		WithCause(lastErr).
		WithDetails(map[string]interface{}{"avd": c.cfg.AVD, "attempts": maxAttempts})
}

// Start is RetryStart with the configured retry policy.
func (c *Controller) Start(ctx context.Context, snapshot string) (*ProcessHandle, error) {
	return c.RetryStart(ctx, snapshot, c.cfg.Retry.MaxAttempts, c.cfg.Retry.AttemptDelay)
}

// Reset reloads the snapshot. A running instance is terminated first and
// given GraceDelay to exit.
func (c *Controller) Reset(ctx context.Context, snapshot string) (*ProcessHandle, error) {
	if h := c.Handle(); h != nil && h.State() == StateRunning {
		logger.Info("Resetting emulator %s to snapshot %s", h.Serial, snapshot)
		c.Terminate(ctx)
		if err := c.sleep(ctx, c.cfg.Retry.GraceDelay); err != nil {
			return nil, err
		}
	}
	return c.Start(ctx, snapshot)
}

// Terminate asks the emulator to exit and marks the handle Stopped. It
// does not wait; a spawned child is reaped in the background.
func (c *Controller) Terminate(ctx context.Context) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h == nil || h.State() == StateStopped {
		return
	}

	if err := c.cfg.Bridge.EmuKill(ctx, h.Serial); err != nil {
		logger.Warn("adb emu kill failed for %s: %v", h.Serial, err)
	}
	h.setState(StateStopped)

	if h.proc != nil {
		go reap(h)
	}
}

func reap(h *ProcessHandle) {
	select {
	case <-h.exited:
	case <-time.After(reapTimeout):
		logger.Warn("Emulator %s did not exit, killing PID %d", h.Serial, h.PID)
		if err := h.proc.Kill(); err != nil {
			logger.Error("Kill failed for PID %d: %v", h.PID, err)
		}
	}
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
