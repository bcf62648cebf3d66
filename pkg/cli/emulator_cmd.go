package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/config"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/emulator"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

var emulatorCommand = &cli.Command{
	Name:  "emulator",
	Usage: "Start, reset, stop or list emulators",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "Boot the AVD from the snapshot and wait until it is ready",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "headless", Usage: "Start without a window"},
				&cli.DurationFlag{Name: "boot-timeout", Usage: "Minimum boot wait"},
				&cli.IntFlag{Name: "attempts", Usage: "Start attempts"},
			},
			Action: emulatorStart,
		},
		{
			Name:  "reset",
			Usage: "Restart the emulator from the snapshot",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "headless", Usage: "Start without a window"},
				&cli.DurationFlag{Name: "boot-timeout", Usage: "Minimum boot wait"},
				&cli.IntFlag{Name: "attempts", Usage: "Start attempts"},
			},
			Action: emulatorReset,
		},
		{
			Name:   "stop",
			Usage:  "Ask the emulator to exit",
			Action: emulatorStop,
		},
		{
			Name:   "list",
			Usage:  "List available AVDs and attached devices",
			Action: emulatorList,
		},
	},
}

// initStderrLogger routes the run log to stderr for commands that have no
// output directory.
func initStderrLogger(c *cli.Context) {
	level := zerolog.WarnLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	logger.InitWriter(os.Stderr, level)
}

// singleController builds the controller for the first configured AVD.
func singleController(c *cli.Context) (*config.Config, *emulator.Controller, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AVD == "" {
		return nil, nil, fmt.Errorf("no AVD given (use --avd or set avd in agentenv.yaml)")
	}
	adb, err := device.NewADB()
	if err != nil {
		return nil, nil, err
	}

	logDir := cfg.Episode.LogDir
	if logDir == "" {
		logDir = config.GetLogsDir()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	ctrlCfg, err := controllerConfig(cfg, adb, cfg.AVD, cfg.Serial, logDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, emulator.NewController(ctrlCfg), nil
}

func emulatorStart(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	cfg, ctrl, err := singleController(c)
	if err != nil {
		return err
	}

	fmt.Printf("  %s⏳ Starting emulator: %s (snapshot %s)%s\n", color(colorCyan), cfg.AVD, cfg.Snapshot, color(colorReset))
	h, err := ctrl.Start(c.Context, cfg.Snapshot)
	if err != nil {
		return err
	}
	if h.Attached {
		fmt.Printf("  %s✓ Already running: %s%s\n", color(colorGreen), h.Serial, color(colorReset))
		return nil
	}
	fmt.Printf("  %s✓ Emulator started: %s%s (log %s)\n", color(colorGreen), h.Serial, color(colorReset), h.LogPath)
	return nil
}

func emulatorReset(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	cfg, ctrl, err := singleController(c)
	if err != nil {
		return err
	}

	// Adopt the running instance so Reset terminates it first.
	if _, err := ctrl.EnsureRunning(c.Context, cfg.Snapshot); err != nil {
		return err
	}
	fmt.Printf("  %s⏳ Resetting %s to snapshot %s%s\n", color(colorCyan), ctrl.Serial(), cfg.Snapshot, color(colorReset))
	h, err := ctrl.Reset(c.Context, cfg.Snapshot)
	if err != nil {
		return err
	}
	fmt.Printf("  %s✓ Emulator ready: %s%s\n", color(colorGreen), h.Serial, color(colorReset))
	return nil
}

func emulatorStop(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	adb, err := device.NewADB()
	if err != nil {
		return err
	}
	serial := c.String("serial")
	if serial == "" && c.Args().Present() {
		serial = c.Args().First()
	}
	if serial == "" {
		return fmt.Errorf("no serial given (use --serial or pass it as an argument)")
	}
	if !emulator.IsEmulator(serial) {
		return fmt.Errorf("%s is not an emulator", serial)
	}

	if err := adb.EmuKill(c.Context, serial); err != nil {
		return fmt.Errorf("failed to stop %s: %w", serial, err)
	}
	fmt.Printf("  %s✓ Stopped %s%s\n", color(colorGreen), serial, color(colorReset))
	return nil
}

func emulatorList(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	avds, err := emulator.ListAVDs(ctx, device.ExecRunner)
	if err != nil {
		return err
	}
	fmt.Printf("\n%sAVDs%s\n", color(colorBold), color(colorReset))
	if len(avds) == 0 {
		fmt.Println("  (none)")
	}
	for _, avd := range avds {
		fmt.Printf("  %s\n", avd.Name)
	}

	adb, err := device.NewADB()
	if err != nil {
		return err
	}
	entries, err := adb.Devices(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%sRunning%s\n", color(colorBold), color(colorReset))
	running := 0
	for _, e := range entries {
		if !e.IsEmulator() {
			continue
		}
		running++
		name, err := adb.AVDName(ctx, e.Serial)
		if err != nil {
			name = "?"
		}
		fmt.Printf("  %-16s %-10s %s%s%s\n", e.Serial, e.State, color(colorGray), name, color(colorReset))
	}
	if running == 0 {
		fmt.Println("  (none)")
	}
	return nil
}
