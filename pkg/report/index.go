package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/agentenv/pkg/logger"
)

// IndexWriter provides thread-safe updates to the report index.
// Parallel workers update their own entries concurrently.
type IndexWriter struct {
	mu    sync.Mutex
	path  string
	index *Index

	// Debouncing for progress updates
	pending map[int]*EpisodeUpdate
	timer   *time.Timer
}

// NewIndexWriter creates a writer for <outputDir>/report.json.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		path:    filepath.Join(outputDir, "report.json"),
		index:   index,
		pending: make(map[int]*EpisodeUpdate),
	}
}

// Path returns the report file path.
func (w *IndexWriter) Path() string { return w.path }

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now
	w.flushLocked()
}

// UpdateEpisode updates the entry at position i.
// Terminal states flush immediately; progress updates are debounced.
func (w *IndexWriter) UpdateEpisode(i int, update *EpisodeUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[i] = update

	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(100*time.Millisecond, w.flush)
	}
}

// End marks the run as complete.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.applyPendingLocked()
	now := time.Now()
	w.index.EndTime = &now
	w.index.Status = w.computeRunStatus()
	w.flushLocked()
}

// Close flushes any pending updates.
func (w *IndexWriter) Close() {
	w.flush()
}

// GetIndex returns the current index (for reading).
func (w *IndexWriter) GetIndex() *Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *IndexWriter) applyPendingLocked() {
	for i, update := range w.pending {
		w.applyUpdate(i, update)
	}
	w.pending = make(map[int]*EpisodeUpdate)
}

func (w *IndexWriter) flushLocked() {
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("Failed to write report: %v", err)
	}
}

func (w *IndexWriter) applyUpdate(i int, update *EpisodeUpdate) {
	if i < 0 || i >= len(w.index.Episodes) {
		return
	}
	e := &w.index.Episodes[i]
	e.Status = update.Status
	e.Steps = update.Steps
	if update.ID != "" {
		e.ID = update.ID
	}
	if update.Dir != "" {
		e.Dir = update.Dir
	}
	if update.Serial != "" {
		e.Serial = update.Serial
	}
	if update.StartTime != nil {
		e.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		e.EndTime = update.EndTime
	}
	if update.Duration != nil {
		e.Duration = *update.Duration
	}
	if update.Error != nil {
		e.Error = update.Error
	}
	if len(update.Warnings) > 0 {
		e.Warnings = update.Warnings
	}
}

func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, e := range w.index.Episodes {
		s.Total++
		switch e.Status {
		case StatusCompleted:
			s.Completed++
		case StatusImpossible:
			s.Impossible++
		case StatusExhausted:
			s.Exhausted++
		case StatusIncomplete:
			s.Incomplete++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus is failed when any episode failed, running while any is
// unfinished, and completed otherwise.
func (w *IndexWriter) computeRunStatus() Status {
	hasFailure := false
	allComplete := true

	for _, e := range w.index.Episodes {
		if e.Status == StatusFailed {
			hasFailure = true
		}
		if !e.Status.IsTerminal() {
			allComplete = false
		}
	}

	if !allComplete {
		return StatusRunning
	}
	if hasFailure {
		return StatusFailed
	}
	return StatusCompleted
}

// ReadIndex loads a report.json.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &idx, nil
}

// atomicWriteJSON writes v to a temp file and renames it over path.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
