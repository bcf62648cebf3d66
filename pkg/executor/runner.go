// Package executor runs batches of instructions as episodes, connecting
// agents to the episode controller and recording outcomes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/agent"
	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/episode"
	"github.com/devicelab-dev/agentenv/pkg/ledger"
	"github.com/devicelab-dev/agentenv/pkg/logger"
	"github.com/devicelab-dev/agentenv/pkg/report"
	"github.com/devicelab-dev/agentenv/pkg/session"
)

// DefaultMaxParseErrors is how many malformed actions in a row an agent
// may produce before the instruction is abandoned.
const DefaultMaxParseErrors = 5

// Environment is the episode surface the runner drives.
// *episode.Controller implements it.
type Environment interface {
	State() episode.State
	Serial() string
	Episode() *episode.Episode
	Prepare(ctx context.Context) error
	BeginEpisode(inst episode.Instruction) (*episode.Episode, error)
	CaptureState(ctx context.Context) (*session.StateSnapshot, []core.Attachment, error)
	SubmitAction(ctx context.Context, raw string) (*episode.ActionRecord, error)
	EndEpisode() (*episode.Episode, error)
	Reset(ctx context.Context) error
	SaveChat(conversation string) (string, error)
	SaveInstructions(similar string, instructions map[string]interface{}) error
}

// Recorder persists episode outcomes. *ledger.Ledger implements it.
type Recorder interface {
	BeginEpisode(ctx context.Context, ep ledger.Episode) error
	RecordStep(ctx context.Context, s ledger.Step) error
	FinishEpisode(ctx context.Context, id string, steps int, reason, errMsg string, finished time.Time) error
}

var (
	_ Environment = (*episode.Controller)(nil)
	_ Recorder    = (*ledger.Ledger)(nil)
)

// Instruction is one unit of a batch.
type Instruction struct {
	episode.Instruction
	Actions string                 // Replay file
	Script  string                 // JavaScript agent file
	Similar string                 // Similar instructions shown to the agent
	Params  map[string]interface{} // Extra instruction fields kept with the episode
}

// instructionSet is what instructions.json holds for inst.
func instructionSet(inst Instruction) map[string]interface{} {
	set := map[string]interface{}{
		"instruction": inst.Description,
		"category":    episode.NormalizeCategory(inst.Category),
	}
	if inst.App != "" {
		set["app"] = inst.App
	}
	if len(inst.Params) > 0 {
		set["params"] = inst.Params
	}
	return set
}

// AgentFactory creates the agent for an instruction.
type AgentFactory func(inst Instruction) (agent.Agent, error)

// RunnerConfig configures the batch runner.
type RunnerConfig struct {
	OutputDir      string // Where report.json is written
	RunID          string
	MaxParseErrors int // Consecutive malformed actions tolerated (0 = default)
	Devices        []report.Device
	Ledger         Recorder // Optional
	Agents         AgentFactory

	// Live progress callbacks
	OnEpisodeStart func(idx, total int, inst Instruction)
	OnStep         func(idx int, rec *episode.ActionRecord)
	OnEpisodeEnd   func(idx int, res EpisodeResult)
}

// RunResult contains the outcome of a batch.
type RunResult struct {
	Status     report.Status
	Total      int
	Completed  int
	Impossible int
	Exhausted  int
	Incomplete int
	Failed     int
	Skipped    int
	Duration   int64 // Milliseconds
	Episodes   []EpisodeResult
}

// EpisodeResult contains the outcome of a single instruction.
type EpisodeResult struct {
	Index       int
	ID          string
	Instruction string
	Category    string
	Dir         string
	Serial      string
	Status      report.Status
	Reason      episode.Reason
	Steps       int
	Duration    int64
	Err         error
	Warnings    []string
}

// Runner executes instructions one at a time on a single environment.
type Runner struct {
	config RunnerConfig
	env    Environment
}

// New creates a new Runner.
func New(env Environment, cfg RunnerConfig) *Runner {
	return &Runner{config: withDefaults(cfg), env: env}
}

func withDefaults(cfg RunnerConfig) RunnerConfig {
	if cfg.MaxParseErrors <= 0 {
		cfg.MaxParseErrors = DefaultMaxParseErrors
	}
	if cfg.Agents == nil {
		cfg.Agents = DefaultAgents
	}
	return cfg
}

// Run executes all instructions and writes report.json.
func (r *Runner) Run(ctx context.Context, insts []Instruction) (*RunResult, error) {
	indexWriter := newIndexWriter(r.config, insts)
	defer indexWriter.Close()

	indexWriter.Start()
	start := time.Now()

	results := make([]EpisodeResult, len(insts))
	for i := range insts {
		results[i] = r.executeEpisode(ctx, i, insts, indexWriter)
	}

	indexWriter.End()
	return buildRunResult(results, time.Since(start).Milliseconds()), nil
}

func newIndexWriter(cfg RunnerConfig, insts []Instruction) *report.IndexWriter {
	descs := make([]string, len(insts))
	cats := make([]string, len(insts))
	for i, inst := range insts {
		descs[i] = inst.Description
		cats[i] = episode.NormalizeCategory(inst.Category)
	}
	return report.NewIndexWriter(cfg.OutputDir, report.NewIndex(cfg.RunID, cfg.Devices, descs, cats))
}

// executeEpisode runs one instruction to completion. Any error aborts
// only this instruction; the environment is reset afterwards so the next
// one starts from the snapshot.
func (r *Runner) executeEpisode(ctx context.Context, idx int, insts []Instruction, indexWriter *report.IndexWriter) EpisodeResult {
	inst := insts[idx]
	res := EpisodeResult{
		Index:       idx,
		Instruction: inst.Description,
		Category:    episode.NormalizeCategory(inst.Category),
	}

	if ctx.Err() != nil {
		res.Status = report.StatusSkipped
		res.Err = ctx.Err()
		indexWriter.UpdateEpisode(idx, &report.EpisodeUpdate{Status: report.StatusSkipped, Error: reportError(res.Err)})
		return res
	}

	if r.config.OnEpisodeStart != nil {
		r.config.OnEpisodeStart(idx, len(insts), inst)
	}

	start := time.Now()
	r.runEpisode(ctx, inst, &res, indexWriter)
	res.Duration = time.Since(start).Milliseconds()

	if r.config.Ledger != nil && res.ID != "" {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if err := r.config.Ledger.FinishEpisode(ctx, res.ID, res.Steps, string(res.Reason), errMsg, time.Now()); err != nil {
			logger.Warn("Ledger: %v", err)
		}
	}

	if res.ID != "" && r.env.State() != episode.StateIdle && ctx.Err() == nil {
		if err := r.env.Reset(ctx); err != nil {
			logger.Error("Reset after episode %d failed: %v", idx, err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("reset: %v", err))
		}
	}

	end := time.Now()
	indexWriter.UpdateEpisode(idx, &report.EpisodeUpdate{
		ID:        res.ID,
		Dir:       res.Dir,
		Serial:    res.Serial,
		Status:    res.Status,
		Steps:     res.Steps,
		StartTime: &start,
		EndTime:   &end,
		Duration:  &res.Duration,
		Error:     reportError(res.Err),
		Warnings:  res.Warnings,
	})
	if r.config.OnEpisodeEnd != nil {
		r.config.OnEpisodeEnd(idx, res)
	}
	return res
}

func (r *Runner) runEpisode(ctx context.Context, inst Instruction, res *EpisodeResult, indexWriter *report.IndexWriter) {
	fail := func(err error) {
		res.Status = report.StatusFailed
		res.Err = err
		logger.Error("Instruction %d failed: %v", res.Index, err)
	}

	if r.env.State() == episode.StateIdle {
		if err := r.env.Prepare(ctx); err != nil {
			fail(err)
			return
		}
	}
	res.Serial = r.env.Serial()

	ag, err := r.config.Agents(inst)
	if err != nil {
		fail(err)
		return
	}
	defer ag.Close()
	if so, ok := ag.(interface{ Output() map[string]interface{} }); ok {
		defer func() {
			if out := so.Output(); len(out) > 0 {
				logger.Debug("Agent output for episode %s: %v", res.ID, out)
			}
		}()
	}

	ep, err := r.env.BeginEpisode(inst.Instruction)
	if err != nil {
		fail(err)
		return
	}
	res.ID, res.Dir = ep.ID, ep.Dir

	if r.config.Ledger != nil {
		err := r.config.Ledger.BeginEpisode(ctx, ledger.Episode{
			ID:          ep.ID,
			RunID:       r.config.RunID,
			Instruction: inst.Description,
			Category:    res.Category,
			OutputDir:   ep.Dir,
			StartedAt:   ep.StartedAt,
		})
		if err != nil {
			logger.Warn("Ledger: %v", err)
		}
	}
	indexWriter.UpdateEpisode(res.Index, &report.EpisodeUpdate{ID: ep.ID, Dir: ep.Dir, Serial: res.Serial, Status: report.StatusRunning})

	if inst.Similar != "" || len(inst.Params) > 0 {
		if err := r.env.SaveInstructions(inst.Similar, instructionSet(inst)); err != nil {
			logger.Warn("Save instructions: %v", err)
		}
	}

	if inst.App != "" {
		if _, err := r.env.SubmitAction(ctx, "am force-stop "+inst.App); err != nil {
			logger.Warn("Could not stop %s: %v", inst.App, err)
		}
	}

	if err := r.loop(ctx, ag, inst, res, indexWriter); err != nil {
		fail(err)
	}

	cur := r.env.Episode()
	res.Steps = cur.StepIndex
	res.Warnings = append(res.Warnings, cur.Warnings...)
	if !cur.Terminal {
		if res.Status == "" {
			res.Status = report.StatusIncomplete
		}
		return
	}

	if _, err := r.env.EndEpisode(); err != nil {
		logger.Warn("End episode: %v", err)
	}
	res.Reason = cur.Reason
	if res.Status == "" {
		res.Status = statusFor(cur.Reason)
	}
}

// loop alternates capture, agent and submit until the episode is
// terminal or the agent stops.
func (r *Runner) loop(ctx context.Context, ag agent.Agent, inst Instruction, res *EpisodeResult, indexWriter *report.IndexWriter) error {
	malformed := 0
	for r.env.State() == episode.StateRunning {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap, atts, err := r.env.CaptureState(ctx)
		if err != nil {
			return err
		}
		obs := agent.Observation{
			Step:        r.env.Episode().StepIndex,
			Instruction: inst.Description,
			Activity:    snap.Activity,
			Width:       snap.Width,
			Height:      snap.Height,
			Nodes:       snap.Hierarchy,
		}
		for _, a := range atts {
			if a.Kind == core.ArtifactScreenshot {
				obs.Screenshot = a.Path
			}
		}

		raw, done, err := ag.NextAction(ctx, obs)
		if err == nil && done {
			logger.Info("Agent finished without a status action at step %d", obs.Step)
			return nil
		}
		if err == nil {
			r.saveChat(ag)
			var rec *episode.ActionRecord
			rec, err = r.env.SubmitAction(ctx, raw)
			if err == nil {
				malformed = 0
				r.recordStep(ctx, res, rec, indexWriter)
				continue
			}
		}

		if core.IsFatal(err) {
			return err
		}
		malformed++
		if malformed > r.config.MaxParseErrors {
			return core.ErrAgentStalled.
				WithDetails(map[string]interface{}{"step": obs.Step, "attempts": malformed}).
				WithCause(err)
		}
	}
	return nil
}

// saveChat stores the agent's conversation for the step about to be
// submitted.
func (r *Runner) saveChat(ag agent.Agent) {
	ch, ok := ag.(agent.Chatter)
	if !ok {
		return
	}
	text := ch.Conversation()
	if text == "" {
		return
	}
	if _, err := r.env.SaveChat(text); err != nil {
		logger.Warn("Save chat: %v", err)
	}
}

func (r *Runner) recordStep(ctx context.Context, res *EpisodeResult, rec *episode.ActionRecord, indexWriter *report.IndexWriter) {
	if rec == nil {
		return
	}
	if r.config.Ledger != nil {
		err := r.config.Ledger.RecordStep(ctx, ledger.Step{
			EpisodeID:     res.ID,
			Step:          rec.StepIndex,
			Type:          string(rec.Type),
			Record:        rec.Encoded,
			DispatchError: rec.DispatchErr,
		})
		if err != nil {
			logger.Warn("Ledger: %v", err)
		}
	}
	indexWriter.UpdateEpisode(res.Index, &report.EpisodeUpdate{Status: report.StatusRunning, Steps: rec.StepIndex + 1})
	if r.config.OnStep != nil {
		r.config.OnStep(res.Index, rec)
	}
}

func statusFor(reason episode.Reason) report.Status {
	switch reason {
	case episode.ReasonExplicitComplete:
		return report.StatusCompleted
	case episode.ReasonExplicitImpossible:
		return report.StatusImpossible
	case episode.ReasonMaxStepsReached:
		return report.StatusExhausted
	default:
		return report.StatusIncomplete
	}
}

func reportError(err error) *report.Error {
	if err == nil {
		return nil
	}
	e := &report.Error{Category: core.CategoryOf(err).String(), Message: err.Error()}
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		e.Code = ee.Code
	}
	return e
}

// buildRunResult aggregates episode results into a run result.
func buildRunResult(results []EpisodeResult, duration int64) *RunResult {
	result := &RunResult{
		Total:    len(results),
		Episodes: results,
		Duration: duration,
	}

	for _, er := range results {
		switch er.Status {
		case report.StatusCompleted:
			result.Completed++
		case report.StatusImpossible:
			result.Impossible++
		case report.StatusExhausted:
			result.Exhausted++
		case report.StatusIncomplete:
			result.Incomplete++
		case report.StatusFailed:
			result.Failed++
		case report.StatusSkipped:
			result.Skipped++
		}
	}

	if result.Failed > 0 {
		result.Status = report.StatusFailed
	} else {
		result.Status = report.StatusCompleted
	}
	return result
}
