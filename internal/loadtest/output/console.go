// Package output renders run progress and the final report.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// ANSI cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

const boxWidth = 55

// ColorScheme defines the colors used for different elements.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Value     *color.Color
	Dim       *color.Color
	Latency   *color.Color
	Phase     *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Latency:   color.New(color.FgBlue),
		Phase:     color.New(color.FgMagenta),
		Pass:      color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Fail:      color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Value, s.Dim, s.Latency, s.Phase, s.Pass, s.Warn, s.Fail, s.Highlight}
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	NoColor     bool
	ForceTTY    bool
}

// Console manages live console output during a run.
type Console struct {
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console renderer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		if useColors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return &Console{
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: scheme,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name, baseURL string, total time.Duration, maxVUs int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", name))
	c.writeln(c.colors.Dim.Sprintf("target %s | %s | up to %d VUs", baseURL, formatDuration(total), maxVUs))
	c.writeln(rule)
	c.writeln("")
}

// Update renders progress. On a terminal the live box is redrawn in place;
// otherwise a single status line is appended.
func (c *Console) Update(p engine.Progress) {
	if c.quiet || p.Metrics == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(p))
		return
	}

	c.clearLive()
	lines := c.renderLive(p)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) statusLine(p engine.Progress) string {
	m := p.Metrics
	return fmt.Sprintf("[%s] Progress: %.0f%% | Phase: %s | VUs: %d | Iters: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(m.Elapsed),
		p.Percent,
		m.Phase,
		m.ActiveVUs,
		m.Iterations,
		m.RPS,
		m.Failed,
		m.ErrorRate*100,
		formatDurationShort(m.Latency.P95))
}

func (c *Console) renderLive(p engine.Progress) []string {
	m := p.Metrics
	var lines []string

	timeInfo := formatDuration(m.Elapsed)
	target := 0
	stageInfo := string(m.Phase)
	if s := p.Executor; s != nil {
		timeInfo = fmt.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.TotalDuration))
		target = s.TargetVUs
		if s.TotalStages > 0 {
			stageInfo = fmt.Sprintf("%s (%d/%d)", m.Phase, s.CurrentStage+1, s.TotalStages)
		}
	}

	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Pass.Sprint(renderProgressBar(p.Percent/100, 40)),
		c.colors.Title.Sprintf("%.0f%%", p.Percent),
		c.colors.Dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Phase.Sprint(stageInfo)))
	lines = append(lines, "")

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(m.ActiveVUs), target),
		fmt.Sprintf("Iters:       %s", c.colors.Value.Sprint(formatNumber(m.Iterations))),
	))

	errColor := c.errorColor(m.ErrorRate)
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("RPS:     %s", c.colors.Pass.Sprintf("%.1f", m.RPS)),
		fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(m.Failed), errColor.Sprintf("%.1f%%", m.ErrorRate*100)),
	))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.P95))),
		fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.Mean))),
	))

	counts := m.ActionCounts()
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("Create:  %s", c.colors.Value.Sprint(formatNumber(counts["create"]))),
		fmt.Sprintf("Resolve:     %s", c.colors.Value.Sprint(formatNumber(counts["resolve"]))),
	))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) errorColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return c.colors.Fail
	case rate > 0.01:
		return c.colors.Warn
	default:
		return c.colors.Pass
	}
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

func (c *Console) clearLive() {
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

// PrintSummary prints the final report. The verdict line is always
// printed, even in quiet mode.
func (c *Console) PrintSummary(r *engine.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		c.writeln(c.verdictLine(r))
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, 56))
	c.writeln("")
	c.writeln(rule)
	status := "Completed"
	if r.Aborted {
		status = "Aborted"
	}
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(r.Name), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(r.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(r.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(r.Iterations))))
	c.writeln(fmt.Sprintf("Error Rate:    %s", c.errorColor(r.ErrorRate).Sprintf("%.2f%%", r.ErrorRate*100)))
	if r.Metrics != nil && r.Metrics.Dropped > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", c.colors.Warn.Sprint(r.Metrics.Dropped)))
	}
	c.writeln("")

	if len(r.ActionCounts) > 0 {
		c.writeln(c.colors.Title.Sprint("Actions:"))
		names := make([]string, 0, len(r.ActionCounts))
		for name := range r.ActionCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			line := fmt.Sprintf("  %-10s %s", name, formatNumber(r.ActionCounts[name]))
			if r.Metrics != nil {
				if a, ok := r.Metrics.Actions[name]; ok {
					line += fmt.Sprintf("  failed %s  p95 %s", formatNumber(a.Failed), formatDurationShort(a.Latency.P95))
				}
			}
			c.writeln(line)
		}
		c.writeln("")
	}

	if m := r.Metrics; m != nil && m.Iterations > 0 {
		c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	if len(r.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range r.Thresholds {
			mark := c.colors.Pass.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Fail.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s: %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}

	c.writeln(c.verdictLine(r))
}

func (c *Console) verdictLine(r *engine.Report) string {
	switch r.Verdict {
	case threshold.StatusPass:
		return c.colors.Pass.Sprint("PASS")
	case threshold.StatusFail:
		return c.colors.Fail.Sprint("FAIL") + ": breached " + strings.Join(r.Breached, ", ")
	case threshold.StatusInconclusive:
		return c.colors.Warn.Sprint("INCONCLUSIVE") + ": " + r.Reason
	default:
		return c.colors.Fail.Sprint("ERROR")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
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
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
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
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleLen counts runes outside ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
