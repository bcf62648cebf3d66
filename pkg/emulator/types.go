package emulator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/core"
)

// AVDInfo represents an Android Virtual Device
type AVDInfo struct {
	Name string // AVD name (e.g., "Pixel_7_API_33")
	Path string // AVD directory path, when known
}

// ProcessState is the lifecycle state of a supervised emulator.
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateStarting
	StateRunning
	StateFailed
)

// String returns the string representation of ProcessState
func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessHandle is the controller's view of one emulator instance. Only
// the owning Controller mutates it.
type ProcessHandle struct {
	AVDName     string
	Serial      string // e.g. emulator-5554
	ConsolePort int    // Even port; adb uses ConsolePort+1
	Snapshot    string
	PID         int
	LogPath     string
	StartedAt   time.Time
	Attached    bool // Adopted an instance this process did not spawn

	mu        sync.Mutex
	state     ProcessState
	logOffset int64 // Size of the log sink when this attempt opened it
	proc      Process
	exited    chan struct{}
	exitErr   error
}

// State returns the current lifecycle state.
func (h *ProcessHandle) State() ProcessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ProcessHandle) setState(s ProcessState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// LogOffset returns the byte offset boot monitoring starts reading from.
func (h *ProcessHandle) LogOffset() int64 {
	return h.logOffset
}

// hasExited reports whether a spawned child has exited, and its error.
func (h *ProcessHandle) hasExited() (bool, error) {
	if h.exited == nil {
		return false, nil
	}
	select {
	case <-h.exited:
		return true, h.exitErr
	default:
		return false, nil
	}
}

// Options is the enumerated emulator start configuration.
type Options struct {
	Snapshot          string            // snapshot-name
	Headless          bool              // headless or no-window: adds -no-window
	DisableGPUFeature bool              // disable-gpu-feature: adds -feature -Vulkan
	Port              int               // port: console port, derived from the serial when zero
	Extra             map[string]string // Passed through as -key value; "" and "true" become bare switches, "false" is dropped
}

// Option keys
const (
	OptSnapshotName      = "snapshot-name"
	OptHeadless          = "headless"
	OptNoWindow          = "no-window"
	OptDisableGPUFeature = "disable-gpu-feature"
	OptPort              = "port"
)

// ParseOptions converts a string map into Options. Unknown keys become
// pass-through flags.
func ParseOptions(m map[string]string) (Options, error) {
	opts := Options{DisableGPUFeature: true, Extra: map[string]string{}}

	for key, value := range m {
		switch key {
		case OptSnapshotName:
			opts.Snapshot = value
		case OptHeadless, OptNoWindow, "-" + OptNoWindow:
			if value == "" {
				opts.Headless = true
				continue
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Options{}, invalidOption(key, value)
			}
			opts.Headless = b
		case OptDisableGPUFeature:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Options{}, invalidOption(key, value)
			}
			opts.DisableGPUFeature = b
		case OptPort:
			port, err := strconv.Atoi(value)
			if err != nil || !validConsolePort(port) {
				return Options{}, invalidOption(key, value)
			}
			opts.Port = port
		default:
			opts.Extra[strings.TrimPrefix(key, "-")] = value
		}
	}
	return opts, nil
}

func invalidOption(key, value string) error {
	return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid emulator option %s=%q", key, value))
}

// validConsolePort reports whether port is an even port in the range the
// emulator accepts.
func validConsolePort(port int) bool {
	return port >= 5554 && port <= 5682 && port%2 == 0
}

// PortFromSerial extracts the console port from "emulator-<port>".
func PortFromSerial(serial string) (int, bool) {
	var port int
	if _, err := fmt.Sscanf(serial, "emulator-%d", &port); err != nil {
		return 0, false
	}
	return port, true
}

// BuildArgs returns the emulator command line for one start attempt. An
// empty snapshot falls back to the snapshot-name option.
func BuildArgs(avd, snapshot string, port int, opts Options) []string {
	if snapshot == "" {
		snapshot = opts.Snapshot
	}
	args := []string{
		"-avd", avd,
		"-port", strconv.Itoa(port),
		"-snapshot", snapshot,
		"-no-snapshot-save",
	}
	if opts.DisableGPUFeature {
		args = append(args, "-feature", "-Vulkan")
	}
	if opts.Headless {
		args = append(args, "-no-window")
	}

	keys := make([]string, 0, len(opts.Extra))
	for k := range opts.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := opts.Extra[k]; strings.ToLower(v) {
		case "false":
		case "", "true":
			args = append(args, "-"+k)
		default:
			args = append(args, "-"+k, v)
		}
	}
	return args
}

// ReadyProbe reports whether a booted device is actually usable.
type ReadyProbe func(ctx context.Context, serial string) (bool, error)

// BootPolicy controls MonitorBoot.
type BootPolicy struct {
	FailureMarker string        // Log substring that means the snapshot failed to load
	Timeout       time.Duration // Minimum time before success can be declared
	IdleThreshold int           // Consecutive polls with no new log output
	PollInterval  time.Duration
	HardCeiling   time.Duration // Give up entirely; zero disables
	Ready         ReadyProbe    // Optional authoritative check after the idle condition holds
}

// DefaultBootPolicy returns the policy the runner was tuned with.
func DefaultBootPolicy() BootPolicy {
	return BootPolicy{
		FailureMarker: "Failed to load snapshot",
		Timeout:       60 * time.Second,
		IdleThreshold: 5,
		PollInterval:  2 * time.Second,
		HardCeiling:   5 * time.Minute,
	}
}

// BootOutcome classifies how MonitorBoot finished.
type BootOutcome int

const (
	BootSucceeded BootOutcome = iota
	BootFailed
	BootTimedOut
	BootExited
)

// String returns the string representation of BootOutcome
func (o BootOutcome) String() string {
	switch o {
	case BootSucceeded:
		return "succeeded"
	case BootFailed:
		return "failed"
	case BootTimedOut:
		return "timed_out"
	case BootExited:
		return "exited"
	default:
		return "unknown"
	}
}

// BootResult summarizes one MonitorBoot call.
type BootResult struct {
	Outcome   BootOutcome
	Elapsed   time.Duration
	Polls     int // Ticker polls; early reads from file events are not counted
	BytesRead int64
}

// BootStatus represents device readiness as reported over the bridge.
type BootStatus struct {
	StateReady     bool // adb get-state == "device"
	BootCompleted  bool // sys.boot_completed == "1"
	PackageManager bool // pm get-max-users succeeds
}

// IsFullyReady returns true if all boot checks passed
func (bs *BootStatus) IsFullyReady() bool {
	return bs.StateReady && bs.BootCompleted && bs.PackageManager
}
