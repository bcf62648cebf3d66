// Package device provides Android device access via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes a host command and returns its stdout.
// Tests replace it to fake adb.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, folding stderr into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //#nosec G204 -- adb/emulator invocations
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %w: %s", filepath.Base(name), strings.Join(args, " "), err, errMsg)
	}
	return stdout.Bytes(), nil
}

// ADB is the host-side debug bridge. It is not bound to a device.
type ADB struct {
	Path string
	Run  Runner
}

// NewADB locates the adb binary and uses ExecRunner.
func NewADB() (*ADB, error) {
	path, err := findADB()
	if err != nil {
		return nil, err
	}
	return &ADB{Path: path, Run: ExecRunner}, nil
}

// Command runs adb, targeting serial when it is non-empty.
func (a *ADB) Command(ctx context.Context, serial string, args ...string) ([]byte, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if serial != "" {
		cmdArgs = append(cmdArgs, "-s", serial)
	}
	cmdArgs = append(cmdArgs, args...)
	return a.Run(ctx, a.Path, cmdArgs...)
}

// Device returns a handle bound to serial. No handshake is performed.
func (a *ADB) Device(serial string) *AndroidDevice {
	return &AndroidDevice{serial: serial, adb: a}
}

// AndroidDevice manages one Android device connection via ADB.
type AndroidDevice struct {
	serial string
	adb    *ADB
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string) (*AndroidDevice, error) {
	adb, err := NewADB()
	if err != nil {
		return nil, err
	}

	if serial == "" {
		serial, err = adb.FirstOnline(ctx)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
	}

	return adb.Device(serial), nil
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	out, err := d.run(ctx, "shell", cmd)
	return string(out), err
}

// GetState returns the bridge state of the device ("device" when usable).
func (d *AndroidDevice) GetState(ctx context.Context) (string, error) {
	out, err := d.run(ctx, "get-state")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// WaitForDevice polls get-state until the device reports "device".
func (d *AndroidDevice) WaitForDevice(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if state, err := d.GetState(ctx); err == nil && state == "device" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for device %s", d.serial)
		case <-ticker.C:
		}
	}
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := d.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if brand, err := d.Shell(ctx, "getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}

	qemu, _ := d.Shell(ctx, "getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(qemu) == "1"

	return info, nil
}

func (d *AndroidDevice) run(ctx context.Context, args ...string) ([]byte, error) {
	return d.adb.Command(ctx, d.serial, args...)
}

// findADB locates the ADB binary on PATH or under the SDK.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}

	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if sdk := os.Getenv(env); sdk != "" {
			path := filepath.Join(sdk, "platform-tools", "adb")
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
