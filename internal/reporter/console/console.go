// Package console prints run events as they happen and a latency summary at
// the end of the run.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"yqhp/conductor/pkg/metrics"
	"yqhp/conductor/pkg/types"
)

// Config holds configuration for the console reporter.
type Config struct {
	// ColorOutput enables colored output.
	ColorOutput bool `yaml:"color_output"`
	// Quiet suppresses per-result lines; the summary is still printed.
	Quiet bool `yaml:"quiet"`
	// SummaryPath also writes a plain text summary of every result to a file.
	SummaryPath string `yaml:"summary_path"`
	// Writer is the output writer (defaults to os.Stdout).
	Writer io.Writer `yaml:"-"`
}

// DefaultConfig returns the default console reporter configuration.
func DefaultConfig() *Config {
	return &Config{
		ColorOutput: true,
		Writer:      os.Stdout,
	}
}

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	workerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

// resultLine is one result kept for the text summary file.
type resultLine struct {
	trial  int
	phase  types.PhaseName
	worker string
	code   int
	text   string
}

// Reporter implements the console reporter.
type Reporter struct {
	config *Config
	writer io.Writer

	mu          sync.Mutex
	initialized bool
	plan        *types.RunPlan
	startTime   time.Time
	endTime     time.Time

	results      metrics.RateSink
	workerErrors int
	latency      *metrics.PhaseLatencies
	lines        []resultLine
}

// New creates a new console reporter.
func New(config *Config) *Reporter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &Reporter{
		config:  config,
		writer:  config.Writer,
		latency: metrics.NewPhaseLatencies(),
	}
}

// NewFactory returns a factory function for creating console reporters.
func NewFactory() func(config map[string]any) (interface{ Name() string }, error) {
	return func(config map[string]any) (interface{ Name() string }, error) {
		cfg := DefaultConfig()
		if config != nil {
			if v, ok := config["color_output"].(bool); ok {
				cfg.ColorOutput = v
			}
			if v, ok := config["quiet"].(bool); ok {
				cfg.Quiet = v
			}
			if v, ok := config["summary_path"].(string); ok {
				cfg.SummaryPath = v
			}
		}
		return New(cfg), nil
	}
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return "console"
}

// Init initializes the reporter.
func (r *Reporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("报告器已初始化")
	}
	r.startTime = time.Now()
	r.initialized = true
	return nil
}

// Report prints one event.
func (r *Reporter) Report(ctx context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("报告器未初始化")
	}

	switch event.Kind {
	case types.EventRunStart:
		r.plan = event.Plan
		r.startTime = event.Time
		if r.plan != nil {
			r.writeLine(r.style(headerStyle, fmt.Sprintf("=== Run %s: %d trial(s), %d worker(s), phases %v ===",
				r.plan.RunID, r.plan.Trials, len(r.plan.Workers), r.plan.Phases)))
		}
	case types.EventTrialStart:
		if !r.config.Quiet {
			r.writeLine(r.style(headerStyle, fmt.Sprintf("--- Trial %d ---", event.Trial)))
		}
	case types.EventPhaseStart:
		if !r.config.Quiet {
			r.writeLine(r.style(headerStyle, fmt.Sprintf("[%s]", event.Phase)))
		}
	case types.EventResult:
		r.results.Add(event.Code)
		r.lines = append(r.lines, resultLine{event.Trial, event.Phase, event.Worker, event.Code, event.Message})
		if !r.config.Quiet {
			r.printResult(event)
		}
	case types.EventWorkerDone:
		r.latency.Add(event.Worker, event.Phase, event.Duration)
		if !r.config.Quiet {
			r.writeLine(r.workerPrefix(event.Worker) + r.style(doneStyle, "done"))
		}
	case types.EventWorkerError:
		r.workerErrors++
		r.writeLine(r.workerPrefix(event.Worker) + r.style(warnStyle, event.Message))
	case types.EventRunEnd:
		r.endTime = event.Time
	}
	return nil
}

// printResult prints a result as "code message", the format the player side uses.
func (r *Reporter) printResult(event *types.Event) {
	text := strings.TrimRight(event.Message, "\n")
	line := fmt.Sprintf("%d %s", event.Code, text)
	if event.Code == types.ResultOK {
		line = r.style(okStyle, line)
	} else {
		line = r.style(failStyle, line)
	}
	r.writeLine(r.workerPrefix(event.Worker) + line)
}

// Flush flushes any buffered output.
func (r *Reporter) Flush(ctx context.Context) error {
	// Console output is unbuffered, nothing to flush
	return nil
}

// Close prints the summary and writes the summary file if configured.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	r.initialized = false

	r.writeLine(r.summary())
	if r.config.SummaryPath != "" {
		if err := os.WriteFile(r.config.SummaryPath, []byte(r.textReport()), 0o644); err != nil {
			return fmt.Errorf("写入结果摘要失败: %w", err)
		}
	}
	return nil
}

// summary renders totals and per worker phase latency percentiles.
func (r *Reporter) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results: %d  Failed: %d  Worker errors: %d", r.results.Total(), r.results.Fails(), r.workerErrors)
	if !r.endTime.IsZero() && !r.startTime.IsZero() {
		fmt.Fprintf(&b, "  Duration: %s", formatDuration(r.endTime.Sub(r.startTime)))
	}

	keys := r.latency.Keys()
	if len(keys) > 0 {
		fmt.Fprintf(&b, "\n\n%-16s %-8s %6s %10s %10s %10s %10s", "WORKER", "PHASE", "N", "P50", "P90", "P99", "MAX")
		for _, k := range keys {
			h := r.latency.Get(k.Worker, k.Phase)
			fmt.Fprintf(&b, "\n%-16s %-8s %6d %10s %10s %10s %10s",
				k.Worker, k.Phase, h.Count(),
				formatDuration(h.Percentile(50)),
				formatDuration(h.Percentile(90)),
				formatDuration(h.Percentile(99)),
				formatDuration(h.Max()),
			)
		}
	}

	if !r.config.ColorOutput {
		return "=== Summary ===\n" + b.String()
	}
	return summaryStyle.Render(headerStyle.Render("Summary") + "\n" + b.String())
}

// textReport is the plain text summary written to SummaryPath.
func (r *Reporter) textReport() string {
	var b strings.Builder
	b.WriteString("Conductor Test Results\n")
	b.WriteString("=====================\n\n")
	fmt.Fprintf(&b, "Start Time: %s\n", r.startTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "End Time: %s\n", r.endTime.Format(time.RFC3339))
	if r.plan != nil {
		fmt.Fprintf(&b, "Total Trials: %d\n", r.plan.Trials)
		fmt.Fprintf(&b, "Total Workers: %d\n", len(r.plan.Workers))
	}
	b.WriteString("\n")

	trial := 0
	var phase types.PhaseName
	for _, l := range r.lines {
		if l.trial != trial {
			trial, phase = l.trial, ""
			fmt.Fprintf(&b, "Trial %d:\n", trial)
		}
		if l.phase != phase {
			phase = l.phase
			fmt.Fprintf(&b, "  Phase: %s\n", phase)
		}
		fmt.Fprintf(&b, "    Worker: %s Code: %d, Message: %s\n", l.worker, l.code, strings.TrimRight(l.text, "\n"))
	}
	return b.String()
}

func (r *Reporter) workerPrefix(worker string) string {
	if worker == "" {
		return ""
	}
	return r.style(workerStyle, "["+worker+"]") + " "
}

func (r *Reporter) style(s lipgloss.Style, text string) string {
	if !r.config.ColorOutput {
		return text
	}
	return s.Render(text)
}

func (r *Reporter) writeLine(s string) {
	fmt.Fprintln(r.writer, s)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
