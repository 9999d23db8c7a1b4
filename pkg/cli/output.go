package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/screen-runner/pkg/core"
	"github.com/devicelab-dev/screen-runner/pkg/suite"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// slowThreshold marks scenarios slower than this in yellow.
const slowThreshold = 30 * time.Second

var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
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

// progress prints live scenario progress. Callbacks may come from several
// goroutines.
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	started int
}

func newProgress(w io.Writer, total int) *progress {
	return &progress{w: w, total: total}
}

func (p *progress) start(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
	fmt.Fprintf(p.w, "  %s[%d/%d]%s %s%s%s\n",
		color(colorCyan), p.started, p.total, color(colorReset),
		color(colorBold), name, color(colorReset))
}

func (p *progress) end(r suite.ScenarioResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dur := formatDuration(r.Duration)
	switch r.Status {
	case core.StatusPassed:
		symbol, symbolColor, durColor := "✓", color(colorGreen), color(colorGray)
		if r.Duration >= slowThreshold {
			symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
		}
		fmt.Fprintf(p.w, "    %s%s%s %s %s(%s)%s\n", symbolColor, symbol, color(colorReset), r.Name, durColor, dur, color(colorReset))
	case core.StatusSkipped:
		fmt.Fprintf(p.w, "    %s-%s %s (skipped)\n", color(colorCyan), color(colorReset), r.Name)
	default:
		fmt.Fprintf(p.w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), r.Name, dur)
		if r.Err != nil {
			fmt.Fprintf(p.w, "      %s╰─%s %v\n", color(colorGray), color(colorReset), r.Err)
		}
	}
}

func statusLabel(s core.StepStatus) (string, string) {
	switch s {
	case core.StatusPassed:
		return "✓ PASS", color(colorGreen)
	case core.StatusFailed:
		return "✗ FAIL", color(colorRed)
	case core.StatusErrored:
		return "✗ ERROR", color(colorRed)
	case core.StatusSkipped:
		return "- SKIP", color(colorCyan)
	default:
		return s.String(), ""
	}
}

func printSummary(w io.Writer, results []*suite.RunResult) {
	tableWidth := 80
	for _, result := range results {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s%s%s run %s\n", color(colorBold), result.Platform, color(colorReset), result.RunID)
		fmt.Fprintln(w, strings.Repeat("═", tableWidth))
		fmt.Fprintf(w, "  %-50s %8s %10s\n", "Scenario", "Status", "Duration")
		fmt.Fprintln(w, strings.Repeat("─", tableWidth))

		for _, sr := range result.Scenarios {
			name := sr.Name
			if len(name) > 50 {
				name = name[:47] + "..."
			}
			label, labelColor := statusLabel(sr.Status)
			fmt.Fprintf(w, "  %-50s %s%8s%s %10s\n", name, labelColor, label, color(colorReset), formatDuration(sr.Duration))
		}

		fmt.Fprintln(w, strings.Repeat("─", tableWidth))
		totalColor := color(colorGreen)
		if !result.OK() {
			totalColor = color(colorRed)
		}
		fmt.Fprintf(w, "  %s%-50s%s %s%8s%s %10s\n",
			color(colorBold), "TOTAL", color(colorReset),
			totalColor, fmt.Sprintf("%d/%d", result.Passed, result.Total), color(colorReset),
			formatDuration(result.Duration))
		fmt.Fprintln(w, strings.Repeat("═", tableWidth))
		fmt.Fprintf(w, "  Report: %s\n", result.ReportPath)
	}
}

// formatDuration shows milliseconds below one second, seconds below one
// minute, minutes and seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
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
