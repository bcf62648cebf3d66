package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Worker is one emulator identity that pulls instructions from the queue.
type Worker struct {
	ID      int
	Env     Environment
	Cleanup func()
}

// workItem is an instruction and its index in the batch.
type workItem struct {
	index int
}

// ParallelRunner spreads a batch across several emulators.
type ParallelRunner struct {
	workers []Worker
	config  RunnerConfig
}

// NewParallelRunner creates a parallel runner with one worker per emulator.
func NewParallelRunner(workers []Worker, cfg RunnerConfig) *ParallelRunner {
	return &ParallelRunner{
		workers: workers,
		config:  withDefaults(cfg),
	}
}

// Run executes instructions using a shared work queue. Results keep the
// batch order.
func (pr *ParallelRunner) Run(ctx context.Context, insts []Instruction) (*RunResult, error) {
	if len(pr.workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	indexWriter := newIndexWriter(pr.config, insts)
	defer indexWriter.Close()

	indexWriter.Start()
	startTime := time.Now()

	workQueue := make(chan workItem, len(insts))
	for i := range insts {
		workQueue <- workItem{index: i}
	}
	close(workQueue)

	results := make([]EpisodeResult, len(insts))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for i := range pr.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if w.Cleanup != nil {
				defer w.Cleanup()
			}

			// Each worker drives its own environment but shares the report
			runner := &Runner{config: pr.config, env: w.Env}
			for item := range workQueue {
				result := runner.executeEpisode(ctx, item.index, insts, indexWriter)

				resultsMu.Lock()
				results[item.index] = result
				resultsMu.Unlock()
			}
		}(pr.workers[i])
	}

	wg.Wait()

	indexWriter.End()
	return buildRunResult(results, time.Since(startTime).Milliseconds()), nil
}
