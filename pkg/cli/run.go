package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/config"
	"github.com/devicelab-dev/agentenv/pkg/device"
	"github.com/devicelab-dev/agentenv/pkg/emulator"
	"github.com/devicelab-dev/agentenv/pkg/episode"
	"github.com/devicelab-dev/agentenv/pkg/executor"
	"github.com/devicelab-dev/agentenv/pkg/ledger"
	"github.com/devicelab-dev/agentenv/pkg/logger"
	"github.com/devicelab-dev/agentenv/pkg/report"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run instructions as episodes on an emulator",
	Description: `Boot the emulator, then run every instruction from the workspace
config (or the one given with --instruction) as an episode. Each episode
resets the emulator to the snapshot when it ends.

Output is written to:
  - Default: <output>/<timestamp>/
  - With --flatten: <output>/

Examples:
  agentenv --avd Pixel_7 run --instruction "Archive the newest email" --category googleapps --actions gmail.txt
  agentenv --config agentenv.yaml run --ledger
  agentenv --avd Pixel_7 --avd Pixel_7_B run --script agent.js`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "instruction",
			Usage: "Run a single instruction instead of the configured list",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "Category of --instruction",
		},
		&cli.StringFlag{
			Name:  "app",
			Usage: "Package force-stopped before the first step of --instruction",
		},
		&cli.StringFlag{
			Name:  "actions",
			Usage: "Replay file of raw actions (default agent for instructions without one)",
		},
		&cli.StringFlag{
			Name:  "script",
			Usage: "JavaScript agent defining nextAction(observation)",
		},
		&cli.IntFlag{
			Name:  "max-steps",
			Usage: "Step budget per episode",
		},
		&cli.IntFlag{
			Name:  "max-parse-errors",
			Usage: "Malformed actions in a row before an instruction is abandoned",
			Value: executor.DefaultMaxParseErrors,
		},
		&cli.BoolFlag{
			Name:  "no-dispatch",
			Usage: "Record actions without sending them to the device",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder",
		},
		&cli.BoolFlag{
			Name:  "ledger",
			Usage: "Record outcomes in the run ledger (episode.ledger, or <home>/ledger.db)",
		},
		&cli.BoolFlag{
			Name:  "keep-emulator",
			Usage: "Leave emulators started by this run running",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Start emulators without a window",
		},
		&cli.DurationFlag{
			Name:  "boot-timeout",
			Usage: "Minimum boot wait before the emulator may be declared ready",
		},
		&cli.IntFlag{
			Name:  "attempts",
			Usage: "Emulator start attempts",
		},
	},
	Action: runRun,
}

// RunConfig holds everything a run needs after flag resolution.
type RunConfig struct {
	Config         *config.Config
	OutputDir      string
	AVDs           []string
	Instructions   []executor.Instruction
	MaxParseErrors int
	LedgerPath     string
	KeepEmulator   bool
	Verbose        bool
}

func runRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	insts, err := buildInstructions(cfg, c.String("instruction"), c.String("category"), c.String("app"), c.String("actions"), c.String("script"))
	if err != nil {
		return err
	}

	avds := avdList(c, cfg)
	if len(avds) == 0 {
		return fmt.Errorf("no AVD given (use --avd or set avd in agentenv.yaml)")
	}

	ledgerPath := cfg.Episode.Ledger
	if c.Bool("ledger") && ledgerPath == "" {
		ledgerPath = config.GetLedgerPath()
	}

	printBanner()

	return executeRun(&RunConfig{
		Config:         cfg,
		OutputDir:      resolveOutputDir(cfg.Episode.OutputDir, c.Bool("flatten")),
		AVDs:           avds,
		Instructions:   insts,
		MaxParseErrors: c.Int("max-parse-errors"),
		LedgerPath:     ledgerPath,
		KeepEmulator:   c.Bool("keep-emulator"),
		Verbose:        c.Bool("verbose"),
	})
}

// buildInstructions returns the ad-hoc instruction when one is given and
// the configured list otherwise. Instructions without their own agent
// fall back to the --actions or --script agent.
func buildInstructions(cfg *config.Config, adhoc, category, app, actions, script string) ([]executor.Instruction, error) {
	source := cfg.Instructions
	if adhoc != "" {
		source = []config.Instruction{{Description: adhoc, Category: category, App: app}}
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("no instructions (use --instruction or list them in agentenv.yaml)")
	}

	insts := make([]executor.Instruction, 0, len(source))
	for _, in := range source {
		inst := executor.Instruction{
			Instruction: episode.Instruction{
				Description: in.Description,
				Category:    in.Category,
				Name:        in.Episode,
				App:         in.App,
			},
			Actions: in.Actions,
			Script:  in.Script,
			Similar: in.Similar,
			Params:  in.Params,
		}
		if inst.Actions == "" && inst.Script == "" {
			inst.Actions, inst.Script = actions, script
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

func executeRun(rc *RunConfig) error {
	cfg := rc.Config

	// 1. Create output directory
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	level := zerolog.InfoLevel
	if rc.Verbose {
		level = zerolog.DebugLevel
	}
	if err := logger.InitWithLevel(filepath.Join(rc.OutputDir, "agentenv.log"), level); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	runID := uuid.New().String()
	logger.Info("=== Run %s started ===", runID)
	logger.Info("Output directory: %s", rc.OutputDir)
	logger.Info("AVDs: %v, snapshot: %s, instructions: %d", rc.AVDs, cfg.Snapshot, len(rc.Instructions))

	adb, err := device.NewADB()
	if err != nil {
		return err
	}

	// 3. Emulator lifecycle
	mgr := emulator.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		if rc.KeepEmulator {
			return
		}
		logger.Info("Shutting down emulators started by agentenv...")
		if err := mgr.ShutdownAll(context.Background()); err != nil {
			logger.Error("Failed to shutdown emulators: %v", err)
		}
	}()

	// Handle SIGINT/SIGTERM to clean up on Ctrl+C or kill
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Info("Received signal %v, cleaning up...", sig)
		fmt.Fprintf(os.Stderr, "\nReceived %v, shutting down emulators...\n", sig)
		cancel()
		if !rc.KeepEmulator {
			if err := mgr.ShutdownAll(context.Background()); err != nil {
				logger.Error("Failed to shutdown emulators on signal: %v", err)
			}
		}
		logger.Close()
		os.Exit(1)
	}()
	defer signal.Stop(sigCh)

	// 4. Ledger
	var rec executor.Recorder
	if rc.LedgerPath != "" {
		l, err := ledger.Open(ctx, rc.LedgerPath)
		if err != nil {
			return err
		}
		defer l.Close()
		rec = l
		logger.Info("Recording to ledger %s", rc.LedgerPath)
	}

	// 5. One environment per AVD
	var workers []executor.Worker
	var devices []report.Device
	for i, avd := range rc.AVDs {
		serial := ""
		if i == 0 {
			serial = cfg.Serial
		}
		ctrlCfg, err := controllerConfig(cfg, adb, avd, serial, cfg.EmulatorLogDir())
		if err != nil {
			return err
		}
		if i > 0 {
			// A configured port belongs to the first AVD only.
			ctrlCfg.Options.Port = 0
		}
		ctrl, err := mgr.Controller(ctrlCfg)
		if err != nil {
			return err
		}
		env := newEnvironment(cfg, rc.OutputDir, ctrl, adb)

		workers = append(workers, executor.Worker{
			ID:      i,
			Env:     env,
			Cleanup: func() { env.Teardown(context.Background(), false) },
		})
		devices = append(devices, report.Device{Serial: ctrl.Serial(), AVD: avd, Snapshot: cfg.Snapshot})
	}

	runnerCfg := executor.RunnerConfig{
		OutputDir:      rc.OutputDir,
		RunID:          runID,
		MaxParseErrors: rc.MaxParseErrors,
		Devices:        devices,
		Ledger:         rec,
		OnEpisodeStart: onEpisodeStart,
		OnStep:         onStep,
		OnEpisodeEnd:   onEpisodeEnd,
	}

	// 6. Execute
	var result *executor.RunResult
	if len(workers) == 1 {
		defer workers[0].Cleanup()
		result, err = executor.New(workers[0].Env, runnerCfg).Run(ctx, rc.Instructions)
	} else {
		result, err = executor.NewParallelRunner(workers, runnerCfg).Run(ctx, rc.Instructions)
	}
	if err != nil {
		return err
	}

	printSummary(result)
	fmt.Printf("\n  Report: %s\n", filepath.Join(rc.OutputDir, "report.json"))
	logger.Info("=== Run %s finished: %d/%d completed ===", runID, result.Completed, result.Total)

	if result.Status == report.StatusFailed {
		return fmt.Errorf("%d of %d instructions failed", result.Failed, result.Total)
	}
	return nil
}

// newEnvironment wires an episode controller to an emulator controller
// and bridge sessions.
func newEnvironment(cfg *config.Config, outputDir string, ctrl *emulator.Controller, adb *device.ADB) *episode.Controller {
	return episode.New(episode.Config{
		OutputDir:   outputDir,
		Snapshot:    cfg.Snapshot,
		MaxSteps:    cfg.Episode.MaxSteps,
		Dispatch:    cfg.DispatchEnabled(),
		SettleDelay: cfg.Episode.SettleDelay,
	}, ctrl, func(serial string) episode.Session {
		return session.New(adb.Device(serial), session.DefaultConfig())
	})
}
