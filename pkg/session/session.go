// Package session binds to one running emulator and exposes normalized
// interaction and telemetry primitives.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

// Device is the bridge surface a Session drives. *device.AndroidDevice
// implements it.
type Device interface {
	Serial() string
	WaitForDevice(ctx context.Context, timeout, interval time.Duration) error
	ScreenSize(ctx context.Context) (int, int, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	InputText(ctx context.Context, text string) error
	KeyEvent(ctx context.Context, code int) error
	Shell(ctx context.Context, cmd string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	DumpHierarchy(ctx context.Context) (string, error)
	TopActivity(ctx context.Context) (string, error)
	InstalledPackages(ctx context.Context) ([]string, error)
}

var _ Device = (*device.AndroidDevice)(nil)

// Key is a hardware key the agent may press.
type Key string

// Supported keys
const (
	KeyEnter Key = "ENTER"
	KeyBack  Key = "BACK"
	KeyHome  Key = "HOME"
)

// Config tunes the handshake and gestures.
type Config struct {
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	SwipeDuration  time.Duration
}

// DefaultConfig returns the handshake and swipe defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
		SwipeDuration:  300 * time.Millisecond,
	}
}

// StateSnapshot is one capture of the device.
type StateSnapshot struct {
	Screenshot   []byte
	HierarchyXML string
	Hierarchy    []hierarchy.Node
	Activity     string
	Width        int
	Height       int
	CapturedAt   time.Time
}

// Session is the single bridge connection to one device identity.
type Session struct {
	dev Device
	cfg Config

	mu        sync.Mutex
	connected bool
}

// New creates a disconnected session.
func New(dev Device, cfg Config) *Session {
	return &Session{dev: dev, cfg: cfg}
}

// Serial returns the bound device identity.
func (s *Session) Serial() string {
	return s.dev.Serial()
}

// Connect completes the bridge handshake.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dev.WaitForDevice(ctx, s.cfg.ConnectTimeout, s.cfg.PollInterval); err != nil {
		return core.ErrConnection.WithCause(err).WithDetails(map[string]interface{}{"serial": s.dev.Serial()})
	}
	s.connected = true
	logger.Info("Connected to %s", s.dev.Serial())
	return nil
}

// Connected reports whether Connect succeeded and Disconnect has not run.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect releases the session. The device is left running.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		logger.Info("Disconnected from %s", s.dev.Serial())
	}
	s.connected = false
}

func (s *Session) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return core.ErrDeviceDisconnected.WithMessage(fmt.Sprintf("session for %s is not connected", s.dev.Serial()))
	}
	return nil
}

// ScreenMetrics returns the current screen size in pixels. It is queried
// every call since rotation changes it.
func (s *Session) ScreenMetrics(ctx context.Context) (int, int, error) {
	if err := s.requireConnected(); err != nil {
		return 0, 0, err
	}
	w, h, err := s.dev.ScreenSize(ctx)
	if err != nil {
		return 0, 0, core.ErrDeviceDisconnected.WithMessage("screen size query failed").WithCause(err)
	}
	return w, h, nil
}

// Tap taps at normalized coordinates.
func (s *Session) Tap(ctx context.Context, x, y float64) error {
	if err := validate(x, y); err != nil {
		return err
	}
	w, h, err := s.ScreenMetrics(ctx)
	if err != nil {
		return err
	}
	px, py := toPixels(x, w), toPixels(y, h)
	logger.Debug("tap %.3f,%.3f -> %d,%d", x, y, px, py)
	return s.dev.Tap(ctx, px, py)
}

// Swipe swipes between normalized coordinates.
func (s *Session) Swipe(ctx context.Context, x1, y1, x2, y2 float64) error {
	if err := validate(x1, y1, x2, y2); err != nil {
		return err
	}
	w, h, err := s.ScreenMetrics(ctx)
	if err != nil {
		return err
	}
	return s.dev.Swipe(ctx,
		toPixels(x1, w), toPixels(y1, h),
		toPixels(x2, w), toPixels(y2, h),
		int(s.cfg.SwipeDuration/time.Millisecond))
}

// TypeText types into the focused field.
func (s *Session) TypeText(ctx context.Context, text string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.dev.InputText(ctx, text)
}

// PressKey presses ENTER, BACK or HOME.
func (s *Session) PressKey(ctx context.Context, key Key) error {
	code := device.KeyCode(string(key))
	if code == 0 || (key != KeyEnter && key != KeyBack && key != KeyHome) {
		return core.ErrUnsupportedKey.WithMessage(fmt.Sprintf("unsupported key %q", key))
	}
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.dev.KeyEvent(ctx, code)
}

// Shell runs a device shell command, used for intent actions.
func (s *Session) Shell(ctx context.Context, cmd string) (string, error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	return s.dev.Shell(ctx, cmd)
}

// CaptureState collects screenshot, hierarchy and foreground activity.
// A missing activity is logged and left empty; other failures abort.
func (s *Session) CaptureState(ctx context.Context) (*StateSnapshot, error) {
	w, h, err := s.ScreenMetrics(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	shot, err := s.dev.Screenshot(ctx)
	if err != nil {
		return nil, core.ErrDeviceDisconnected.WithMessage("screenshot failed").WithCause(err)
	}
	xml, err := s.dev.DumpHierarchy(ctx)
	if err != nil {
		return nil, core.ErrDeviceDisconnected.WithMessage("hierarchy dump failed").WithCause(err)
	}
	nodes, err := hierarchy.Parse(xml, w, h)
	if err != nil {
		logger.Warn("hierarchy parse failed: %v", err)
	}
	activity, err := s.dev.TopActivity(ctx)
	if err != nil {
		logger.Warn("foreground activity unavailable: %v", err)
	}
	logger.Since("capture state", start)

	return &StateSnapshot{
		Screenshot:   shot,
		HierarchyXML: xml,
		Hierarchy:    nodes,
		Activity:     activity,
		Width:        w,
		Height:       h,
		CapturedAt:   time.Now(),
	}, nil
}

// InstalledPackages returns the third-party package set.
func (s *Session) InstalledPackages(ctx context.Context) ([]string, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	return s.dev.InstalledPackages(ctx)
}

// validate rejects coordinates outside [0,1]. Values are never clamped.
func validate(coords ...float64) error {
	for _, v := range coords {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return core.ErrOutOfRange.
				WithMessage(fmt.Sprintf("normalized coordinate %v outside [0,1]", v)).
				WithDetails(map[string]interface{}{"coords": coords})
		}
	}
	return nil
}

func toPixels(v float64, extent int) int {
	px := int(math.Round(v * float64(extent)))
	if px >= extent && extent > 0 {
		px = extent - 1
	}
	return px
}
