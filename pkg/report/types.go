// Package report writes the run summary as report.json next to the
// episode output.
//
// The index is rewritten atomically after each episode so a consumer can
// poll it while a batch runs.
package report

import "time"

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"  // Agent declared success
	StatusImpossible Status = "impossible" // Agent declared the task impossible
	StatusExhausted  Status = "exhausted"  // Step budget ran out
	StatusIncomplete Status = "incomplete" // Agent stopped without a status action
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending, StatusRunning:
		return false
	default:
		return true
	}
}

// Index is the report.json document.
type Index struct {
	Version     string         `json:"version"`
	RunID       string         `json:"runId"`
	UpdateSeq   uint64         `json:"updateSeq"`
	Status      Status         `json:"status"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Devices     []Device       `json:"devices"`
	Summary     Summary        `json:"summary"`
	Episodes    []EpisodeEntry `json:"episodes"`
}

// Device describes one emulator used by the run.
type Device struct {
	Serial   string `json:"serial"`
	AVD      string `json:"avd"`
	Snapshot string `json:"snapshot"`
}

// Summary contains aggregated counts.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Impossible int `json:"impossible"`
	Exhausted  int `json:"exhausted"`
	Incomplete int `json:"incomplete"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Running    int `json:"running"`
	Pending    int `json:"pending"`
}

// EpisodeEntry is one instruction's row in the index.
type EpisodeEntry struct {
	Index       int        `json:"index"`
	ID          string     `json:"id,omitempty"`
	Instruction string     `json:"instruction"`
	Category    string     `json:"category"`
	Dir         string     `json:"dir,omitempty"`
	Serial      string     `json:"serial,omitempty"`
	Status      Status     `json:"status"`
	Steps       int        `json:"steps"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Duration    int64      `json:"duration,omitempty"` // Milliseconds
	Error       *Error     `json:"error,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// Error describes why an episode failed.
type Error struct {
	Category string `json:"category"` // boot, connection, parse, resource, ...
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

// EpisodeUpdate is applied to an entry by IndexWriter.UpdateEpisode.
type EpisodeUpdate struct {
	ID        string
	Dir       string
	Serial    string
	Status    Status
	Steps     int
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Error     *Error
	Warnings  []string
}

// NewIndex builds a pending index for the instructions of a run.
func NewIndex(runID string, devices []Device, instructions []string, categories []string) *Index {
	idx := &Index{
		Version: Version,
		RunID:   runID,
		Status:  StatusPending,
		Devices: devices,
	}
	for i, inst := range instructions {
		entry := EpisodeEntry{Index: i, Instruction: inst, Status: StatusPending}
		if i < len(categories) {
			entry.Category = categories[i]
		}
		idx.Episodes = append(idx.Episodes, entry)
	}
	idx.Summary.Total = len(idx.Episodes)
	idx.Summary.Pending = len(idx.Episodes)
	return idx
}
