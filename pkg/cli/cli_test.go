package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/config"
	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
	"github.com/devicelab-dev/agentenv/pkg/report"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

func writeWorkspace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentenv.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// loadWith runs a throwaway command carrying the run flags and returns
// the config it resolved.
func loadWith(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var cfg *config.Config
	resolve := &cli.Command{
		Name:  "resolve",
		Flags: runCommand.Flags,
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c)
			return err
		},
	}
	app := &cli.App{Name: "test-app", Flags: GlobalFlags, Commands: []*cli.Command{resolve}}
	err := app.Run(append([]string{"test-app"}, args...))
	return cfg, err
}

func TestResolveOutputDir_Default(t *testing.T) {
	dir := resolveOutputDir("", false)
	if !strings.HasPrefix(dir, config.DefaultOutputDir+string(filepath.Separator)) {
		t.Errorf("expected dir under %s, got %s", config.DefaultOutputDir, dir)
	}
	if len(strings.Split(filepath.ToSlash(dir), "/")) != 2 {
		t.Errorf("expected output/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	if dir := resolveOutputDir("./my-runs", true); dir != "my-runs" {
		t.Errorf("expected my-runs, got %s", dir)
	}
	if dir := resolveOutputDir("", true); dir != config.DefaultOutputDir {
		t.Errorf("expected %s, got %s", config.DefaultOutputDir, dir)
	}
}

func TestGlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}
	for _, name := range []string{"config", "avd", "serial", "s", "snapshot", "output", "o", "verbose", "no-ansi"} {
		if !flagNames[name] {
			t.Errorf("expected flag %q to be defined", name)
		}
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeWorkspace(t, `
avd: Pixel_7
snapshot: clean
episode:
  maxSteps: 12
boot:
  timeout: 30s
  hardCeiling: 2m
`)
	cfg, err := loadWith(t, "--config", path, "--snapshot", "fresh", "-o", "runs",
		"resolve", "--max-steps", "4", "--no-dispatch", "--boot-timeout", "5m", "--attempts", "2", "--headless")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.AVD != "Pixel_7" {
		t.Errorf("AVD = %q, want file value", cfg.AVD)
	}
	if cfg.Snapshot != "fresh" {
		t.Errorf("Snapshot = %q, want fresh", cfg.Snapshot)
	}
	if cfg.Episode.OutputDir != "runs" {
		t.Errorf("OutputDir = %q, want runs", cfg.Episode.OutputDir)
	}
	if cfg.Episode.MaxSteps != 4 {
		t.Errorf("MaxSteps = %d, want 4", cfg.Episode.MaxSteps)
	}
	if cfg.DispatchEnabled() {
		t.Error("expected dispatch disabled")
	}
	if cfg.Boot.Timeout != 5*time.Minute {
		t.Errorf("Boot.Timeout = %v, want 5m", cfg.Boot.Timeout)
	}
	if cfg.Boot.HardCeiling < cfg.Boot.Timeout {
		t.Errorf("HardCeiling %v should have been raised above %v", cfg.Boot.HardCeiling, cfg.Boot.Timeout)
	}
	if cfg.Boot.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Boot.MaxAttempts)
	}
	if cfg.EmulatorOptions["headless"] != "true" {
		t.Errorf("headless option = %q, want true", cfg.EmulatorOptions["headless"])
	}
}

func TestLoadConfig_AVDFlag(t *testing.T) {
	path := writeWorkspace(t, "avd: Pixel_7\n")
	cfg, err := loadWith(t, "--config", path, "--avd", "Pixel_8", "--avd", "Pixel_8_B", "resolve")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.AVD != "Pixel_8" {
		t.Errorf("AVD = %q, want first --avd", cfg.AVD)
	}
}

func TestLoadConfig_SnapshotNameOption(t *testing.T) {
	path := writeWorkspace(t, `
avd: Pixel_7
emulatorOptions:
  snapshot-name: clean
`)
	cfg, err := loadWith(t, "--config", path, "resolve")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Snapshot != "clean" {
		t.Errorf("Snapshot = %q, want snapshot-name option", cfg.Snapshot)
	}

	cfg, err = loadWith(t, "--config", path, "--snapshot", "fresh", "resolve")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Snapshot != "fresh" {
		t.Errorf("Snapshot = %q, --snapshot should win", cfg.Snapshot)
	}
}

func TestLoadConfig_InvalidAfterFlags(t *testing.T) {
	path := writeWorkspace(t, "avd: Pixel_7\n")
	_, err := loadWith(t, "--config", path, "resolve", "--max-steps", "0")
	if err == nil {
		t.Fatal("expected validation error for max-steps 0")
	}
}

func TestBuildInstructions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Instructions = []config.Instruction{
		{Description: "Archive the newest email", Category: "googleapps", Episode: "gmail_1", Script: "gmail.js"},
		{Description: "Add milk to the list", App: "com.example.notes"},
	}

	insts, err := buildInstructions(cfg, "", "", "", "default.txt", "")
	if err != nil {
		t.Fatalf("buildInstructions failed: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(insts))
	}
	if insts[0].Script != "gmail.js" || insts[0].Actions != "" {
		t.Errorf("own agent should be kept, got %+v", insts[0])
	}
	if insts[0].Name != "gmail_1" || insts[0].Category != "googleapps" {
		t.Errorf("unexpected instruction fields: %+v", insts[0].Instruction)
	}
	if insts[1].Actions != "default.txt" {
		t.Errorf("expected fallback actions file, got %+v", insts[1])
	}
	if insts[1].App != "com.example.notes" {
		t.Errorf("App = %q", insts[1].App)
	}
}

func TestBuildInstructions_Adhoc(t *testing.T) {
	cfg := config.Defaults()
	cfg.Instructions = []config.Instruction{{Description: "ignored"}}

	insts, err := buildInstructions(cfg, "Open settings", "system", "com.android.settings", "", "agent.js")
	if err != nil {
		t.Fatalf("buildInstructions failed: %v", err)
	}
	if len(insts) != 1 || insts[0].Description != "Open settings" {
		t.Fatalf("expected only the ad-hoc instruction, got %+v", insts)
	}
	if insts[0].Script != "agent.js" || insts[0].App != "com.android.settings" {
		t.Errorf("unexpected instruction: %+v", insts[0])
	}
}

func TestBuildInstructions_Empty(t *testing.T) {
	if _, err := buildInstructions(config.Defaults(), "", "", "", "", ""); err == nil {
		t.Error("expected error when no instructions are configured")
	}
}

func TestRunCommand_NoInstructions(t *testing.T) {
	path := writeWorkspace(t, "avd: Pixel_7\n")
	app := &cli.App{Name: "test-app", Flags: GlobalFlags, Commands: []*cli.Command{runCommand}}

	err := app.Run([]string{"test-app", "--config", path, "run"})
	if err == nil || !strings.Contains(err.Error(), "no instructions") {
		t.Errorf("expected no instructions error, got %v", err)
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"action_type: dual_point, touch_point: [0.5, 0.5], lift_point: [0.5, 0.5]", "CLICK|[0.5, 0.5]|NULL|1080|2400"},
		{"action_type: dual_point, touch_point: [0.5, 0.8], lift_point: [0.5, 0.2]", "SWIPE|[0.5, 0.8]|[0.5, 0.2]|1080|2400"},
		{"action_type: press_back", "PRESS_BACK|NULL|NULL|1080|2400"},
		{"am force-stop com.example.notes", "RAW_INTENT|am force-stop com.example.notes|NULL|1080|2400"},
	}
	for _, tt := range tests {
		_, got, err := translate(tt.raw, 1080, 2400)
		if err != nil {
			t.Errorf("translate(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("translate(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestTranslate_Malformed(t *testing.T) {
	_, _, err := translate("action_type: fly", 1080, 2400)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if core.CategoryOf(err) != core.ErrCategoryParse {
		t.Errorf("expected parse category, got %v", core.CategoryOf(err))
	}
}

func TestTranslateCommand_WithDimensions(t *testing.T) {
	app := &cli.App{Name: "test-app", Flags: GlobalFlags, Commands: []*cli.Command{translateCommand}}

	oldStdout := os.Stdout
	os.Stdout, _ = os.Open(os.DevNull)
	defer func() { os.Stdout = oldStdout }()

	err := app.Run([]string{"test-app", "translate", "--width", "1080", "--height", "2400", "action_type: press_home"})
	if err != nil {
		t.Errorf("translate command failed: %v", err)
	}
	if err := app.Run([]string{"test-app", "translate", "--width", "1080", "--height", "2400"}); err == nil {
		t.Error("expected error without an action")
	}
}

func TestWriteCapture(t *testing.T) {
	dir := t.TempDir()
	snap := &session.StateSnapshot{
		Screenshot:   []byte("png"),
		HierarchyXML: "<hierarchy/>",
		Hierarchy:    []hierarchy.Node{{TempID: 0, Parent: -1, Package: "com.example.notes"}},
		Activity:     "com.example.notes/.MainActivity",
	}

	paths, err := writeCapture(dir, 3, snap)
	if err != nil {
		t.Fatalf("writeCapture failed: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("expected 4 artifacts, got %d", len(paths))
	}

	data, err := os.ReadFile(core.StepArtifactPath(dir, core.ArtifactActivity, 3))
	if err != nil {
		t.Fatalf("read activity: %v", err)
	}
	if string(data) != snap.Activity {
		t.Errorf("activity = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "captured_data", "screenshot", "3.png")); err != nil {
		t.Errorf("screenshot missing: %v", err)
	}
}

func TestStatusSymbol(t *testing.T) {
	if s, _ := statusSymbol(report.StatusCompleted); s != "✓" {
		t.Errorf("completed symbol = %q", s)
	}
	if s, _ := statusSymbol(report.StatusFailed); s != "✗" {
		t.Errorf("failed symbol = %q", s)
	}
	if _, c := statusSymbol(report.StatusExhausted); c != colorYellow {
		t.Errorf("exhausted should be yellow")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a very long instruction", 10); got != "a very ..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{90000, "1m 30s"},
		{125000, "2m 5s"},
	}

	for _, tc := range tests {
		if result := formatDuration(tc.ms); result != tc.expected {
			t.Errorf("formatDuration(%d) = %q, expected %q", tc.ms, result, tc.expected)
		}
	}
}
