// Package output renders a run to the terminal and to JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/authstress/internal/load/engine"
	"github.com/wesleyorama2/authstress/internal/load/executor"
	"github.com/wesleyorama2/authstress/internal/load/metrics"
)

// Cursor control for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleWidth     = 56
	progressWidth = 40

	progressFilled = "█"
	progressEmpty  = "░"
	ruleChar       = "━"
)

// LiveStats is what the live display shows.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	Iterations    int64
	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	CheckPassRate float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int
	TotalStages  int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	ForceTTY      bool

	// NoColors disables colors regardless of ForceColors and the environment.
	NoColors bool
}

// ConsoleOutput manages console output during and after a run.
type ConsoleOutput struct {
	testName      string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	quiet         bool
	palette       *Palette

	mu          sync.Mutex
	linesOutput int
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(cfg ConsoleOutputConfig) *ConsoleOutput {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColors && (cfg.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:      cfg.TestName,
		executorType:  cfg.ExecutorType,
		totalDuration: cfg.TotalDuration,
		writer:        cfg.Writer,
		isTTY:         isTTY,
		quiet:         cfg.Quiet,
		palette:       NewPalette(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(baseURL string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.palette.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.writeln(rule)
	c.writeln(c.palette.Title.Sprintf("%s - Running%s", c.testName, executorInfo))
	c.writeln(rule)
	if baseURL != "" {
		c.writeln("Target:   " + c.palette.Value.Sprint(baseURL))
	}
	c.writeln("")
}

// Update redraws the live display in place. It is a no-op off a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.palette
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.Success.Sprint(renderProgressBar(stats.Progress, progressWidth)),
		p.Title.Sprintf("%.0f%%", stats.Progress*100),
		p.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Stage:    "+p.Highlight.Sprint(phaseInfo))

	lines = append(lines, fmt.Sprintf("VUs:      %s / %d   Iterations: %s",
		p.Value.Sprint(stats.ActiveVUs), stats.TargetVUs, p.Value.Sprint(formatNumber(stats.Iterations))))

	lines = append(lines, fmt.Sprintf("Requests: %s   RPS: %s   Errors: %s",
		p.Value.Sprint(formatNumber(stats.TotalRequests)),
		p.Success.Sprintf("%.1f", stats.CurrentRPS),
		p.rate(1-stats.ErrorRate).Sprintf("%d (%.1f%%)", stats.Errors, stats.ErrorRate*100)))

	lines = append(lines, fmt.Sprintf("Latency:  p95 %s   avg %s   Checks: %s",
		p.Latency.Sprint(formatDurationShort(stats.LatencyP95)),
		p.Latency.Sprint(formatDurationShort(stats.LatencyAvg)),
		p.rate(stats.CheckPassRate).Sprintf("%.1f%%", stats.CheckPassRate*100)))

	return lines
}

// PrintNonInteractiveUpdate prints a one-line status update for piped
// output and CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Iters: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Checks: %.1f%% | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.Iterations,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.CheckPassRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the end-of-run report.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}

	p := c.palette
	if c.quiet {
		if result.Passed {
			c.writeln(p.Success.Sprint("PASSED"))
		} else {
			c.writeln(p.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	rule := p.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	status := p.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = p.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln("Run ID:        " + p.Dim.Sprint(result.RunID))
	c.writeln("Executor:      " + p.Value.Sprint(result.Executor))
	c.writeln("Duration:      " + p.Value.Sprint(formatDuration(result.Duration)))
	c.writeln(fmt.Sprintf("Iterations:    %s (%s failed)",
		p.Value.Sprint(formatNumber(result.Iterations)), formatNumber(result.FailedIterations)))
	if result.UnfinishedVUs > 0 {
		c.writeln("Unfinished:    " + p.Warn.Sprintf("%d VUs did not stop in time", result.UnfinishedVUs))
	}

	if m := result.Metrics; m != nil {
		successRate := 1.0 - m.ErrorRate
		c.writeln("Total Reqs:    " + p.Value.Sprint(formatNumber(m.TotalRequests)))
		c.writeln("Success Rate:  " + p.rate(successRate).Sprintf("%.1f%%", successRate*100))
		c.writeln(fmt.Sprintf("Throughput:    %s req/s", p.Value.Sprintf("%.1f", m.RPS)))
		c.writeln("Data Received: " + p.Value.Sprint(formatBytes(m.TotalBytes)))
		c.writeln("")

		c.printLatency(m)
	}

	c.printChecks(result.Checks)

	if len(result.Thresholds) > 0 {
		c.writeln(p.Title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", p.Icon(t.Passed), t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln("      " + p.Dim.Sprint(t.Message))
			}
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(p.Error.Sprint("Run aborted: ") + result.Error)
		c.writeln("")
	}
}

func (c *ConsoleOutput) printLatency(m *metrics.Snapshot) {
	p := c.palette
	c.writeln(p.Title.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
	c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(m.Latency.Mean)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
	c.writeln("")

	if len(m.Requests) == 0 {
		return
	}

	tags := make([]string, 0, len(m.Requests))
	for tag := range m.Requests {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	c.writeln(p.Title.Sprint("Requests:"))
	for _, tag := range tags {
		s := m.Requests[tag]
		c.writeln(fmt.Sprintf("  %-14s count=%s avg=%s p95=%s max=%s",
			tag, formatNumber(s.Count),
			p.Latency.Sprint(formatDurationShort(s.Mean)),
			p.Latency.Sprint(formatDurationShort(s.P95)),
			p.Latency.Sprint(formatDurationShort(s.Max))))
	}
	c.writeln("")
}

// printChecks prints every check grouped by the request tag it ran under.
func (c *ConsoleOutput) printChecks(summaries []metrics.CheckSummary) {
	if len(summaries) == 0 {
		return
	}

	p := c.palette
	groups := groupChecks(summaries)

	c.writeln(p.Title.Sprint("Checks:"))
	for _, g := range groups {
		c.writeln("  " + p.Highlight.Sprint(g.scenario))
		for _, s := range g.checks {
			c.writeln(fmt.Sprintf("    %s %s", p.Icon(s.Fails == 0), s.Name))
			if s.Fails > 0 {
				c.writeln("      " + p.Dim.Sprintf("↳ %.0f%% (%s %d / %s %d)",
					s.PassRate()*100, "✓", s.Passes, "✗", s.Fails))
			}
		}
	}
	c.writeln("")
}

type checkGroup struct {
	scenario string
	checks   []metrics.CheckSummary
}

// groupChecks keeps the first-seen order of scenarios and checks.
func groupChecks(summaries []metrics.CheckSummary) []checkGroup {
	var groups []checkGroup
	index := make(map[string]int)
	for _, s := range summaries {
		i, ok := index[s.Scenario]
		if !ok {
			i = len(groups)
			index[s.Scenario] = i
			groups = append(groups, checkGroup{scenario: s.Scenario})
		}
		groups[i].checks = append(groups[i].checks, s)
	}
	return groups
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes result as indented JSON to path.
func WriteJSONFile(path string, result *engine.TestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, result); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// StatsFromEngine builds LiveStats from a metrics snapshot and the executor
// statistics. Either may be nil.
func StatsFromEngine(snapshot *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	live := &LiveStats{
		Progress:     progress,
		CurrentPhase: "initializing",
	}

	if stats != nil {
		live.TargetVUs = stats.TargetVUs
		live.CurrentStage = stats.CurrentStage
		live.TotalStages = stats.TotalStages
		if stats.TotalDuration > 0 {
			live.Remaining = max(stats.TotalDuration-stats.Elapsed, 0)
		}
	}

	if snapshot == nil {
		return live
	}

	live.Elapsed = snapshot.Elapsed
	live.ActiveVUs = snapshot.ActiveVUs
	live.Iterations = snapshot.Iterations
	live.CurrentRPS = snapshot.RPS
	live.TotalRequests = snapshot.TotalRequests
	live.Errors = snapshot.FailedRequests
	live.ErrorRate = snapshot.ErrorRate
	live.CheckPassRate = snapshot.CheckPassRate
	live.LatencyP95 = snapshot.Latency.P95
	live.LatencyAvg = snapshot.Latency.Mean
	live.CurrentPhase = string(snapshot.CurrentPhase)
	return live
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func formatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
