package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const hierarchyDumpPath = "/sdcard/window_dump.xml"

// Screenshot returns the current screen as PNG bytes.
func (d *AndroidDevice) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap: %w", err)
	}
	return out, nil
}

// DumpHierarchy returns the uiautomator window dump XML.
func (d *AndroidDevice) DumpHierarchy(ctx context.Context) (string, error) {
	if _, err := d.Shell(ctx, "uiautomator dump "+hierarchyDumpPath); err != nil {
		return "", fmt.Errorf("uiautomator dump: %w", err)
	}
	out, err := d.run(ctx, "exec-out", "cat", hierarchyDumpPath)
	if err != nil {
		return "", fmt.Errorf("read hierarchy dump: %w", err)
	}
	return string(out), nil
}

// TopActivity returns the resumed activity as package/.Activity.
func (d *AndroidDevice) TopActivity(ctx context.Context) (string, error) {
	out, err := d.Shell(ctx, "dumpsys activity activities")
	if err != nil {
		return "", err
	}
	return parseTopActivity(out)
}

func parseTopActivity(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "mResumedActivity") &&
			!strings.HasPrefix(line, "topResumedActivity") &&
			!strings.HasPrefix(line, "ResumedActivity") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.Contains(field, "/") {
				return strings.TrimSuffix(field, "}"), nil
			}
		}
	}
	return "", fmt.Errorf("no resumed activity in dumpsys output")
}

// ScreenSize returns the display size in pixels, preferring an override
// size over the physical one.
func (d *AndroidDevice) ScreenSize(ctx context.Context) (int, int, error) {
	out, err := d.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get screen size: %w", err)
	}
	return parseScreenSize(out)
}

// parseScreenSize parses "Physical size: 1080x2400" with an optional
// "Override size: ..." line.
func parseScreenSize(out string) (int, int, error) {
	var size string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.LastIndex(line, ":")
		if idx == -1 {
			continue
		}
		value := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(line, "Override size") {
			size = value
			break
		}
		if size == "" {
			size = value
		}
	}

	parts := strings.Split(size, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected wm size output: %s", strings.TrimSpace(out))
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("failed to parse screen size: %s", size)
	}
	return width, height, nil
}

// InstalledPackages lists third-party packages.
func (d *AndroidDevice) InstalledPackages(ctx context.Context) ([]string, error) {
	out, err := d.Shell(ctx, "pm list packages -3")
	if err != nil {
		return nil, err
	}
	return parsePackages(out), nil
}

func parsePackages(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if pkg, ok := strings.CutPrefix(line, "package:"); ok && pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	for _, p := range parsePackages(out) {
		if p == pkg {
			return true
		}
	}
	return false
}
