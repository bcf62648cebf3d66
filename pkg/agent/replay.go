package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/devicelab-dev/agentenv/pkg/core"
)

// ReplayAgent returns pre-recorded raw actions in order, one per line.
// Blank lines and lines starting with '#' are skipped.
type ReplayAgent struct {
	actions []string
	next    int
}

// NewReplay creates a replay agent from inline actions.
func NewReplay(actions []string) *ReplayAgent {
	var kept []string
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" || strings.HasPrefix(a, "#") {
			continue
		}
		kept = append(kept, a)
	}
	return &ReplayAgent{actions: kept}
}

// LoadReplay reads a replay file.
func LoadReplay(path string) (*ReplayAgent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrResourceNotFound.
				WithMessage(fmt.Sprintf("replay file not found: %s", path)).
				WithCause(err)
		}
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return NewReplay(lines), nil
}

// NextAction returns the next recorded line.
func (r *ReplayAgent) NextAction(ctx context.Context, _ Observation) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if r.next >= len(r.actions) {
		return "", true, nil
	}
	a := r.actions[r.next]
	r.next++
	return a, false, nil
}

// Remaining returns how many actions are left.
func (r *ReplayAgent) Remaining() int { return len(r.actions) - r.next }

// Close is a no-op.
func (r *ReplayAgent) Close() error { return nil }
