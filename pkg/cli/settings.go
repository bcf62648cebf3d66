package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/config"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/emulator"
)

// loadConfig reads the workspace file and layers command-line flags over
// it. Flags always win.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if avds := c.StringSlice("avd"); len(avds) > 0 {
		cfg.AVD = avds[0]
	}
	if c.IsSet("serial") {
		cfg.Serial = c.String("serial")
	}
	if c.IsSet("snapshot") {
		cfg.Snapshot = c.String("snapshot")
	} else if name := cfg.EmulatorOptions[emulator.OptSnapshotName]; name != "" {
		cfg.Snapshot = name
	}
	if c.IsSet("output") {
		cfg.Episode.OutputDir = c.String("output")
	}
	if c.IsSet("max-steps") {
		cfg.Episode.MaxSteps = c.Int("max-steps")
	}
	if c.IsSet("no-dispatch") {
		dispatch := !c.Bool("no-dispatch")
		cfg.Episode.Dispatch = &dispatch
	}
	if c.IsSet("boot-timeout") {
		cfg.Boot.Timeout = c.Duration("boot-timeout")
		if cfg.Boot.HardCeiling < cfg.Boot.Timeout {
			cfg.Boot.HardCeiling = cfg.Boot.Timeout + time.Minute
		}
	}
	if c.IsSet("attempts") {
		cfg.Boot.MaxAttempts = c.Int("attempts")
	}
	if c.IsSet("headless") {
		if cfg.EmulatorOptions == nil {
			cfg.EmulatorOptions = map[string]string{}
		}
		cfg.EmulatorOptions[emulator.OptHeadless] = fmt.Sprint(c.Bool("headless"))
	}
}

// avdList returns every AVD the run should use, the configured one first.
func avdList(c *cli.Context, cfg *config.Config) []string {
	avds := c.StringSlice("avd")
	if len(avds) == 0 && cfg.AVD != "" {
		avds = []string{cfg.AVD}
	}
	return avds
}

// controllerConfig translates the workspace config into an emulator
// controller configuration for one AVD.
func controllerConfig(cfg *config.Config, adb *device.ADB, avd, serial, logDir string) (emulator.ControllerConfig, error) {
	opts, err := emulator.ParseOptions(cfg.EmulatorOptions)
	if err != nil {
		return emulator.ControllerConfig{}, err
	}
	emulatorPath, err := emulator.FindEmulatorBinary()
	if err != nil {
		return emulator.ControllerConfig{}, err
	}

	return emulator.ControllerConfig{
		AVD:          avd,
		Serial:       serial,
		EmulatorPath: emulatorPath,
		LogDir:       logDir,
		Options:      opts,
		Boot: emulator.BootPolicy{
			FailureMarker: cfg.Boot.FailureMarker,
			Timeout:       cfg.Boot.Timeout,
			IdleThreshold: cfg.Boot.IdleThreshold,
			PollInterval:  cfg.Boot.PollInterval,
			HardCeiling:   cfg.Boot.HardCeiling,
			Ready:         emulator.BootCompletedProbe(adb),
		},
		Retry: emulator.RetryPolicy{
			MaxAttempts:  cfg.Boot.MaxAttempts,
			AttemptDelay: cfg.Boot.AttemptDelay,
			GraceDelay:   cfg.Boot.GraceDelay,
		},
		Bridge: adb,
	}, nil
}

// resolveOutputDir determines the output directory based on flags.
// - No --flatten: <base>/<timestamp>/
// - --flatten: <base>/
func resolveOutputDir(base string, flatten bool) string {
	if base == "" {
		base = config.DefaultOutputDir
	}
	if flatten {
		return filepath.Clean(base)
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(base, timestamp)
}
