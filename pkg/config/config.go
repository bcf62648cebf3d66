// Package config handles configuration for agentenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/core"
	"gopkg.in/yaml.v3"
)

// Config represents the workspace configuration (agentenv.yaml).
type Config struct {
	// Emulator selection
	AVD      string `yaml:"avd"`      // AVD name to boot
	Serial   string `yaml:"serial"`   // Device identity, e.g. emulator-5554
	Snapshot string `yaml:"snapshot"` // Snapshot loaded at boot and reset

	// Passed to the emulator binary. Known keys: headless,
	// disable-gpu-feature, port. Anything else becomes -key value.
	EmulatorOptions map[string]string `yaml:"emulatorOptions"`

	Boot    BootConfig    `yaml:"boot"`
	Episode EpisodeConfig `yaml:"episode"`

	Instructions []Instruction `yaml:"instructions"`
}

// BootConfig controls boot detection and start retries.
type BootConfig struct {
	FailureMarker string        `yaml:"failureMarker"`
	Timeout       time.Duration `yaml:"timeout"`       // Minimum boot wait
	IdleThreshold int           `yaml:"idleThreshold"` // Consecutive empty log polls
	PollInterval  time.Duration `yaml:"pollInterval"`
	HardCeiling   time.Duration `yaml:"hardCeiling"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	AttemptDelay  time.Duration `yaml:"attemptDelay"`
	GraceDelay    time.Duration `yaml:"graceDelay"` // Wait between kill and relaunch on reset
}

// EpisodeConfig controls the episode loop.
type EpisodeConfig struct {
	MaxSteps    int           `yaml:"maxSteps"`
	OutputDir   string        `yaml:"outputDir"`
	Dispatch    *bool         `yaml:"dispatch"` // Send decoded actions to the device
	SettleDelay time.Duration `yaml:"settleDelay"`
	LogDir      string        `yaml:"logDir"` // Emulator log sinks; defaults to OutputDir
	Ledger      string        `yaml:"ledger"` // SQLite ledger path; empty disables it
}

// Instruction is one task the agent is asked to complete.
type Instruction struct {
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Episode     string `yaml:"episode"` // Directory name; generated when empty
	App         string `yaml:"app"`     // Package force-stopped before the first step
	Actions     string `yaml:"actions"` // Replay file of raw actions
	Script      string `yaml:"script"`  // JavaScript agent

	Similar string                 `yaml:"similar"` // Similar instructions, saved as instructions_sim.txt
	Params  map[string]interface{} `yaml:"params"`  // Saved with the instruction as instructions.json
}

// Default values mirror the constants the runner was tuned with.
const (
	DefaultSnapshot      = "default_boot"
	DefaultFailureMarker = "Failed to load snapshot"
	DefaultMaxSteps      = 30
	DefaultMaxAttempts   = 3
	DefaultOutputDir     = "output"
)

// Defaults returns a config with every tunable set.
func Defaults() *Config {
	dispatch := true
	return &Config{
		Snapshot:        DefaultSnapshot,
		EmulatorOptions: map[string]string{},
		Boot: BootConfig{
			FailureMarker: DefaultFailureMarker,
			Timeout:       60 * time.Second,
			IdleThreshold: 5,
			PollInterval:  2 * time.Second,
			HardCeiling:   5 * time.Minute,
			MaxAttempts:   DefaultMaxAttempts,
			AttemptDelay:  10 * time.Second,
			GraceDelay:    20 * time.Second,
		},
		Episode: EpisodeConfig{
			MaxSteps:    DefaultMaxSteps,
			OutputDir:   DefaultOutputDir,
			Dispatch:    &dispatch,
			SettleDelay: 2 * time.Second,
		},
	}
}

// Load loads configuration from a file on top of Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("parse %s", path)).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for agentenv.yaml or agentenv.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try agentenv.yaml first
	configPath := filepath.Join(dir, "agentenv.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try agentenv.yml
	configPath = filepath.Join(dir, "agentenv.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Defaults(), nil
}

// Validate rejects values the runner cannot work with.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return core.ErrInvalidConfig.WithMessage(msg)
	}
	switch {
	case c.Episode.MaxSteps <= 0:
		return invalid("episode.maxSteps must be positive")
	case c.Boot.MaxAttempts <= 0:
		return invalid("boot.maxAttempts must be positive")
	case c.Boot.IdleThreshold <= 0:
		return invalid("boot.idleThreshold must be positive")
	case c.Boot.PollInterval <= 0:
		return invalid("boot.pollInterval must be positive")
	case c.Boot.HardCeiling > 0 && c.Boot.HardCeiling < c.Boot.Timeout:
		return invalid("boot.hardCeiling must not be shorter than boot.timeout")
	}
	for i, inst := range c.Instructions {
		if inst.Description == "" {
			return invalid(fmt.Sprintf("instructions[%d]: description is required", i))
		}
		if inst.Actions != "" && inst.Script != "" {
			return invalid(fmt.Sprintf("instructions[%d]: actions and script are mutually exclusive", i))
		}
	}
	return nil
}

// DispatchEnabled reports whether decoded actions are sent to the device.
func (c *Config) DispatchEnabled() bool {
	return c.Episode.Dispatch == nil || *c.Episode.Dispatch
}

// EmulatorLogDir returns where emulator log sinks are written.
func (c *Config) EmulatorLogDir() string {
	if c.Episode.LogDir != "" {
		return c.Episode.LogDir
	}
	return c.Episode.OutputDir
}
