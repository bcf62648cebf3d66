package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/devicelab-dev/agentenv/pkg/episode"
	"github.com/devicelab-dev/agentenv/pkg/executor"
	"github.com/devicelab-dev/agentenv/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%sagentenv %s%s %s- emulator episode runner%s\n",
		color(colorBold), Version, color(colorReset), color(colorDim), color(colorReset))
	fmt.Println()
}

func onEpisodeStart(idx, total int, inst executor.Instruction) {
	category := episode.NormalizeCategory(inst.Category)
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), idx+1, total, color(colorReset),
		color(colorBold), truncate(inst.Description, 60), color(colorReset), category)
	fmt.Println(strings.Repeat("─", 60))
}

func onStep(_ int, rec *episode.ActionRecord) {
	if rec.DispatchErr != "" {
		fmt.Printf("    %s%3d%s %s\n", color(colorYellow), rec.StepIndex, color(colorReset), rec.Encoded)
		fmt.Printf("        %s╰─%s %s\n", color(colorGray), color(colorReset), rec.DispatchErr)
		return
	}
	fmt.Printf("    %s%3d%s %s\n", color(colorGray), rec.StepIndex, color(colorReset), rec.Encoded)
}

func onEpisodeEnd(_ int, res executor.EpisodeResult) {
	symbol, c := statusSymbol(res.Status)
	fmt.Printf("  %s%s %s%s %s%s (%d steps)%s\n",
		color(c), symbol, res.Status, color(colorReset),
		color(colorGray), formatDuration(res.Duration), res.Steps, color(colorReset))
	if res.Err != nil {
		fmt.Printf("    %s╰─%s %v\n", color(colorGray), color(colorReset), res.Err)
	}
	for _, w := range res.Warnings {
		fmt.Printf("    %s⚠%s %s\n", color(colorYellow), color(colorReset), w)
	}
}

// statusSymbol returns the marker and color used for an episode status.
func statusSymbol(s report.Status) (string, string) {
	switch s {
	case report.StatusCompleted:
		return "✓", colorGreen
	case report.StatusImpossible, report.StatusExhausted, report.StatusIncomplete:
		return "○", colorYellow
	case report.StatusSkipped:
		return "-", colorCyan
	default:
		return "✗", colorRed
	}
}

func printSummary(result *executor.RunResult) {
	fmt.Println()
	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-48s %-12s %-12s %6s %10s\n", "Instruction", "Category", "Status", "Steps", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	totalSteps := 0
	for _, ep := range result.Episodes {
		totalSteps += ep.Steps
		_, c := statusSymbol(ep.Status)
		fmt.Printf("  %-48s %-12s %s%-12s%s %6d %10s\n",
			truncate(ep.Instruction, 48), truncate(ep.Category, 12),
			color(c), ep.Status, color(colorReset),
			ep.Steps, formatDuration(ep.Duration))
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.Completed, result.Total)
	statusColor := color(colorGreen)
	if result.Failed > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-48s%s %-12s %s%-12s%s %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset), "",
		statusColor, statusStr, color(colorReset),
		totalSteps, formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))

	var parts []string
	for _, p := range []struct {
		n     int
		label string
	}{
		{result.Impossible, "impossible"},
		{result.Exhausted, "exhausted"},
		{result.Incomplete, "incomplete"},
		{result.Failed, "failed"},
		{result.Skipped, "skipped"},
	} {
		if p.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", p.n, p.label))
		}
	}
	if len(parts) > 0 {
		fmt.Printf("  %s%s%s\n", color(colorGray), strings.Join(parts, ", "), color(colorReset))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
