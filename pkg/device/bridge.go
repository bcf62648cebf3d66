package device

import (
	"context"
	"fmt"
	"strings"
)

// Entry is one line of `adb devices`.
type Entry struct {
	Serial string
	State  string
}

// IsEmulator reports whether the serial names a local emulator.
func (e Entry) IsEmulator() bool {
	return strings.HasPrefix(e.Serial, "emulator-")
}

// Devices lists attached devices.
func (a *ADB) Devices(ctx context.Context) ([]Entry, error) {
	out, err := a.Command(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

func parseDevices(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			entries = append(entries, Entry{Serial: parts[0], State: parts[1]})
		}
	}
	return entries
}

// FirstOnline returns the first attached device in the "device" state.
func (a *ADB) FirstOnline(ctx context.Context) (string, error) {
	entries, err := a.Devices(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.State == "device" {
			return e.Serial, nil
		}
	}
	return "", fmt.Errorf("no connected devices found")
}

// AVDName asks an emulator console which AVD it is running.
// The console answers with the name followed by an OK line.
func (a *ADB) AVDName(ctx context.Context, serial string) (string, error) {
	out, err := a.Command(ctx, serial, "emu", "avd", "name")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "OK" {
			continue
		}
		return line, nil
	}
	return "", fmt.Errorf("empty avd name from %s", serial)
}

// EmuKill asks the emulator console to shut the instance down.
func (a *ADB) EmuKill(ctx context.Context, serial string) error {
	_, err := a.Command(ctx, serial, "emu", "kill")
	return err
}
