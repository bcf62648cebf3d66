// Package cli provides the command-line interface for agentenv.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to agentenv.yaml (default: ./agentenv.yaml if present)",
		EnvVars: []string{"AGENTENV_CONFIG"},
	},
	&cli.StringSliceFlag{
		Name:    "avd",
		Usage:   "AVD to boot; repeat to run instructions on several emulators",
		EnvVars: []string{"AGENTENV_AVD"},
	},
	&cli.StringFlag{
		Name:    "serial",
		Aliases: []string{"s"},
		Usage:   "Device serial (e.g. emulator-5554)",
		EnvVars: []string{"AGENTENV_SERIAL", "ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:  "snapshot",
		Usage: "Snapshot loaded at boot and on every reset",
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output directory (default: ./output)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"AGENTENV_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "agentenv",
		Usage:   "Emulator-backed episode runner for Android agents",
		Version: Version,
		Description: `agentenv boots an Android emulator from a snapshot, runs agent
instructions as episodes, and records every observed state and action.

Examples:
  agentenv --avd Pixel_7 run --instruction "Open settings" --actions actions.txt
  agentenv --config agentenv.yaml run
  agentenv --avd Pixel_7 emulator start
  agentenv translate --width 1080 --height 2400 "action_type: press_back"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			emulatorCommand,
			captureCommand,
			translateCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
