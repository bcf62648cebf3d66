package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/config"
	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/hierarchy"
	"github.com/devicelab-dev/agentenv/pkg/logger"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

var captureCommand = &cli.Command{
	Name:      "capture",
	Usage:     "Capture the current screen, hierarchy and activity",
	ArgsUsage: "[dir]",
	Description: `Write one observation of a running device using the episode layout:
  <dir>/captured_data/{screenshot,xml,vh,activity}/<step>.*

Examples:
  agentenv capture
  agentenv -s emulator-5556 capture --step 4 ./debug`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "step",
			Usage: "Step index used in artifact file names",
		},
		&cli.BoolFlag{
			Name:  "packages",
			Usage: "Also write installed_apps.txt",
		},
	},
	Action: runCapture,
}

// connectSession opens a bridge session to the configured serial, or to
// the first online device when none is set.
func connectSession(ctx context.Context, cfg *config.Config) (*session.Session, *device.AndroidDevice, error) {
	dev, err := device.New(ctx, cfg.Serial)
	if err != nil {
		return nil, nil, core.ErrDeviceDisconnected.WithCause(err)
	}

	ses := session.New(dev, session.DefaultConfig())
	if err := ses.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return ses, dev, nil
}

func runCapture(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dir := "."
	if c.Args().Present() {
		dir = c.Args().First()
	}

	ses, dev, err := connectSession(c.Context, cfg)
	if err != nil {
		return err
	}
	defer ses.Disconnect()

	snap, err := ses.CaptureState(c.Context)
	if err != nil {
		return err
	}
	paths, err := writeCapture(dir, c.Int("step"), snap)
	if err != nil {
		return err
	}

	if c.Bool("packages") {
		pkgs, err := ses.InstalledPackages(c.Context)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, core.InstalledAppsFile)
		if err := os.WriteFile(path, []byte(joinLines(pkgs)), 0o644); err != nil {
			return err
		}
		paths = append(paths, path)
	}

	info, _ := dev.Info(c.Context)
	fmt.Printf("  %s✓ Captured %s%s %s(%s, %s SDK %s, %dx%d)%s\n",
		color(colorGreen), snap.Activity, color(colorReset),
		color(colorGray), info.Serial, info.Model, info.SDK, snap.Width, snap.Height, color(colorReset))
	for _, p := range paths {
		fmt.Printf("    %s\n", p)
	}
	return nil
}

// writeCapture stores one snapshot under dir using the per-step artifact
// layout and returns the written paths.
func writeCapture(dir string, step int, snap *session.StateSnapshot) ([]string, error) {
	vh, err := hierarchy.Marshal(snap.Hierarchy)
	if err != nil {
		return nil, fmt.Errorf("encode hierarchy: %w", err)
	}

	var paths []string
	for _, a := range []struct {
		kind core.ArtifactKind
		data []byte
	}{
		{core.ArtifactScreenshot, snap.Screenshot},
		{core.ArtifactHierarchyXML, []byte(snap.HierarchyXML)},
		{core.ArtifactHierarchyTree, vh},
		{core.ArtifactActivity, []byte(snap.Activity)},
	} {
		path := core.StepArtifactPath(dir, a.kind, step)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, a.data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func joinLines(lines []string) string {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return string(out)
}
