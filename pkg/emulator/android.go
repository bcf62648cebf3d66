package emulator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

// FindEmulatorBinary locates the Android emulator binary
func FindEmulatorBinary() (string, error) {
	androidHome := getAndroidHome()
	if androidHome != "" {
		// ANDROID_HOME/emulator/emulator (new layout)
		emulatorPath := filepath.Join(androidHome, "emulator", "emulator")
		if _, err := os.Stat(emulatorPath); err == nil {
			return emulatorPath, nil
		}

		// ANDROID_HOME/tools/emulator (old layout)
		emulatorPath = filepath.Join(androidHome, "tools", "emulator")
		if _, err := os.Stat(emulatorPath); err == nil {
			return emulatorPath, nil
		}
	}

	if path, err := exec.LookPath("emulator"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("emulator binary not found. Set ANDROID_HOME or add emulator to PATH")
}

// getAndroidHome returns the SDK root from the environment
func getAndroidHome() string {
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		if home := os.Getenv(env); home != "" {
			return home
		}
	}
	return ""
}

// ListAVDs returns all available Android Virtual Devices
func ListAVDs(ctx context.Context, run device.Runner) ([]AVDInfo, error) {
	emulatorPath, err := FindEmulatorBinary()
	if err != nil {
		return nil, err
	}

	output, err := run(ctx, emulatorPath, "-list-avds")
	if err != nil {
		return nil, fmt.Errorf("failed to list AVDs: %w", err)
	}

	avds := parseAVDList(string(output))
	logger.Debug("Found %d AVDs: %v", len(avds), avds)
	return avds, nil
}

// parseAVDList parses `emulator -list-avds` output, one name per line.
// The emulator may print INFO lines before the names.
func parseAVDList(output string) []AVDInfo {
	var avds []AVDInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "INFO") || strings.Contains(line, " ") {
			continue
		}
		avds = append(avds, AVDInfo{Name: line})
	}
	return avds
}

// IsEmulator checks if a device serial is an emulator
func IsEmulator(serial string) bool {
	return strings.HasPrefix(serial, "emulator-")
}

// CheckBootStatus checks the bridge-visible boot conditions of a device.
func CheckBootStatus(ctx context.Context, adb *device.ADB, serial string) *BootStatus {
	status := &BootStatus{}
	d := adb.Device(serial)

	state, err := d.GetState(ctx)
	status.StateReady = err == nil && state == "device"
	if !status.StateReady {
		return status
	}

	boot, err := d.Shell(ctx, "getprop sys.boot_completed")
	status.BootCompleted = err == nil && strings.TrimSpace(boot) == "1"

	_, err = d.Shell(ctx, "pm get-max-users")
	status.PackageManager = err == nil

	return status
}

// BootCompletedProbe is a ReadyProbe backed by CheckBootStatus.
func BootCompletedProbe(adb *device.ADB) ReadyProbe {
	return func(ctx context.Context, serial string) (bool, error) {
		status := CheckBootStatus(ctx, adb, serial)
		logger.Debug("Boot status for %s: state=%v, boot=%v, pm=%v",
			serial, status.StateReady, status.BootCompleted, status.PackageManager)
		return status.IsFullyReady(), nil
	}
}

// Process is a spawned emulator child.
type Process interface {
	Pid() int
	Wait() error
	Kill() error
}

// Spawner starts emulator processes. out receives stdout and stderr and is
// only valid until Spawn returns.
type Spawner interface {
	Spawn(name string, args []string, out io.Writer) (Process, error)
}

// ExecSpawner starts real processes. The child is not tied to any
// context so it outlives the call that spawned it.
type ExecSpawner struct{}

// Spawn starts the process.
func (ExecSpawner) Spawn(name string, args []string, out io.Writer) (Process, error) {
	cmd := exec.Command(name, args...) //#nosec G204 -- emulator binary and flags built by BuildArgs
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
