// Package file provides reporters that write a run's results as JSON or CSV.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yqhp/conductor/pkg/types"
)

// JSONConfig holds configuration for the JSON reporter.
type JSONConfig struct {
	// FilePath is the output file path. Empty writes to Writer.
	FilePath string `yaml:"file_path"`
	// Pretty enables indented JSON output.
	Pretty bool `yaml:"pretty"`
	// Writer receives the report when FilePath is empty (defaults to os.Stdout).
	Writer io.Writer `yaml:"-"`
}

// DefaultJSONConfig returns the default JSON reporter configuration.
func DefaultJSONConfig() *JSONConfig {
	return &JSONConfig{
		Pretty: true,
		Writer: os.Stdout,
	}
}

// JSONReport is the document written when the reporter closes.
type JSONReport struct {
	Metadata JSONMetadata `json:"metadata"`
	Trials   []*JSONTrial `json:"trials"`
}

// JSONMetadata describes the run.
type JSONMetadata struct {
	RunID        string            `json:"run_id,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time"`
	TotalTrials  int               `json:"total_trials"`
	TotalWorkers int               `json:"total_workers"`
	Phases       []types.PhaseName `json:"phases,omitempty"`
}

// JSONTrial holds the phases of one trial.
type JSONTrial struct {
	TrialNumber int                   `json:"trial_number"`
	StartTime   time.Time             `json:"start_time"`
	EndTime     *time.Time            `json:"end_time"`
	Phases      map[string]*JSONPhase `json:"phases"`
}

// JSONPhase holds the workers of one phase.
type JSONPhase struct {
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time"`
	Workers   map[string]*JSONWorker `json:"workers"`
}

// JSONWorker holds the results one worker reported for a phase.
type JSONWorker struct {
	StartTime  time.Time    `json:"start_time"`
	EndTime    *time.Time   `json:"end_time"`
	DurationMs float64      `json:"duration_ms,omitempty"`
	Results    []JSONResult `json:"results"`
	Error      string       `json:"error,omitempty"`
}

// JSONResult is one step result.
type JSONResult struct {
	Timestamp time.Time `json:"timestamp"`
	Code      int       `json:"code"`
	Message   string    `json:"message"`
}

// JSONReporter collects events into a JSONReport.
type JSONReporter struct {
	config *JSONConfig
	mu     sync.Mutex

	initialized bool
	report      *JSONReport
	trial       *JSONTrial
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(config *JSONConfig) *JSONReporter {
	if config == nil {
		config = DefaultJSONConfig()
	}
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &JSONReporter{config: config}
}

// NewJSONFactory returns a factory function for creating JSON reporters.
func NewJSONFactory() func(config map[string]any) (interface{ Name() string }, error) {
	return func(config map[string]any) (interface{ Name() string }, error) {
		cfg := DefaultJSONConfig()
		if config != nil {
			if v, ok := config["file_path"].(string); ok {
				cfg.FilePath = v
			}
			if v, ok := config["pretty"].(bool); ok {
				cfg.Pretty = v
			}
		}
		return NewJSONReporter(cfg), nil
	}
}

// Name returns the reporter name.
func (r *JSONReporter) Name() string {
	return "json"
}

// Init initializes the reporter.
func (r *JSONReporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("报告器已初始化")
	}
	if err := ensureDir(r.config.FilePath); err != nil {
		return err
	}

	r.report = &JSONReport{
		Metadata: JSONMetadata{StartTime: time.Now()},
		Trials:   []*JSONTrial{},
	}
	r.initialized = true
	return nil
}

// Report adds one event to the report.
func (r *JSONReporter) Report(ctx context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("报告器未初始化")
	}

	switch event.Kind {
	case types.EventRunStart:
		r.report.Metadata.RunID = event.RunID
		r.report.Metadata.StartTime = event.Time
		if p := event.Plan; p != nil {
			r.report.Metadata.TotalTrials = p.Trials
			r.report.Metadata.TotalWorkers = len(p.Workers)
			r.report.Metadata.Phases = p.Phases
		}
	case types.EventTrialStart:
		r.trial = &JSONTrial{
			TrialNumber: event.Trial,
			StartTime:   event.Time,
			Phases:      make(map[string]*JSONPhase),
		}
		r.report.Trials = append(r.report.Trials, r.trial)
	case types.EventTrialEnd:
		if r.trial != nil {
			r.trial.EndTime = timePtr(event.Time)
			r.trial = nil
		}
	case types.EventPhaseStart:
		r.phase(event)
	case types.EventPhaseEnd:
		if p := r.phase(event); p != nil {
			p.EndTime = timePtr(event.Time)
		}
	case types.EventResult:
		if w := r.worker(event); w != nil {
			w.Results = append(w.Results, JSONResult{Timestamp: event.Time, Code: event.Code, Message: event.Message})
		}
	case types.EventWorkerDone:
		if w := r.worker(event); w != nil {
			w.EndTime = timePtr(event.Time)
			w.DurationMs = float64(event.Duration.Microseconds()) / 1000
		}
	case types.EventWorkerError:
		if w := r.worker(event); w != nil {
			w.EndTime = timePtr(event.Time)
			w.Error = event.Message
		}
	case types.EventRunEnd:
		r.report.Metadata.EndTime = timePtr(event.Time)
	}
	return nil
}

// phase returns the phase entry of the current trial, creating it if needed.
func (r *JSONReporter) phase(event *types.Event) *JSONPhase {
	if r.trial == nil || event.Phase == "" {
		return nil
	}
	p, ok := r.trial.Phases[string(event.Phase)]
	if !ok {
		p = &JSONPhase{StartTime: event.Time, Workers: make(map[string]*JSONWorker)}
		r.trial.Phases[string(event.Phase)] = p
	}
	return p
}

// worker returns the worker entry of the event's phase, creating it if needed.
func (r *JSONReporter) worker(event *types.Event) *JSONWorker {
	p := r.phase(event)
	if p == nil || event.Worker == "" {
		return nil
	}
	w, ok := p.Workers[event.Worker]
	if !ok {
		w = &JSONWorker{StartTime: event.Time, Results: []JSONResult{}}
		p.Workers[event.Worker] = w
	}
	return w
}

// Flush flushes any buffered data.
func (r *JSONReporter) Flush(ctx context.Context) error {
	// The report is written once, on Close
	return nil
}

// Close writes the report.
func (r *JSONReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	r.initialized = false

	if r.report.Metadata.EndTime == nil {
		r.report.Metadata.EndTime = timePtr(time.Now())
	}

	var (
		data []byte
		err  error
	)
	if r.config.Pretty {
		data, err = json.MarshalIndent(r.report, "", "  ")
	} else {
		data, err = json.Marshal(r.report)
	}
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	data = append(data, '\n')

	if r.config.FilePath == "" {
		if _, err := r.config.Writer.Write(data); err != nil {
			return fmt.Errorf("写入报告失败: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(r.config.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return nil
}

// GetFilePath returns the output file path.
func (r *JSONReporter) GetFilePath() string {
	return r.config.FilePath
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
