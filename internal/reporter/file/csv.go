package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"yqhp/conductor/pkg/types"
)

// CSVConfig holds configuration for the CSV reporter.
type CSVConfig struct {
	// FilePath is the output file path. Empty writes to Writer.
	FilePath string `yaml:"file_path"`
	// Delimiter is the field delimiter (default: comma).
	Delimiter rune `yaml:"delimiter"`
	// IncludeHeader writes header row.
	IncludeHeader bool `yaml:"include_header"`
	// BufferSize is the number of records to buffer before writing.
	BufferSize int `yaml:"buffer_size"`
	// Writer receives rows when FilePath is empty (defaults to os.Stdout).
	Writer io.Writer `yaml:"-"`
}

// DefaultCSVConfig returns the default CSV reporter configuration.
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Delimiter:     ',',
		IncludeHeader: true,
		BufferSize:    100,
		Writer:        os.Stdout,
	}
}

// CSVReporter writes one row per step result.
type CSVReporter struct {
	config *CSVConfig
	file   *os.File
	writer *csv.Writer
	buffer [][]string
	mu     sync.Mutex

	initialized bool
}

// NewCSVReporter creates a new CSV reporter.
func NewCSVReporter(config *CSVConfig) *CSVReporter {
	if config == nil {
		config = DefaultCSVConfig()
	}
	// Ensure delimiter is set to a valid value
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	// Ensure buffer size is positive
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &CSVReporter{
		config: config,
		buffer: make([][]string, 0, config.BufferSize),
	}
}

// NewCSVFactory returns a factory function for creating CSV reporters.
func NewCSVFactory() func(config map[string]any) (interface{ Name() string }, error) {
	return func(config map[string]any) (interface{ Name() string }, error) {
		cfg := DefaultCSVConfig()
		if config != nil {
			if v, ok := config["file_path"].(string); ok {
				cfg.FilePath = v
			}
			if v, ok := config["delimiter"].(string); ok && len(v) > 0 {
				cfg.Delimiter = rune(v[0])
			}
			if v, ok := config["include_header"].(bool); ok {
				cfg.IncludeHeader = v
			}
			if v, ok := config["buffer_size"].(int); ok {
				cfg.BufferSize = v
			}
		}
		return NewCSVReporter(cfg), nil
	}
}

// Name returns the reporter name.
func (r *CSVReporter) Name() string {
	return "csv"
}

// Init opens the output and writes the header.
func (r *CSVReporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("报告器已初始化")
	}

	out := r.config.Writer
	if r.config.FilePath != "" {
		if err := ensureDir(r.config.FilePath); err != nil {
			return err
		}
		file, err := os.Create(r.config.FilePath)
		if err != nil {
			return fmt.Errorf("创建文件失败: %w", err)
		}
		r.file = file
		out = file
	}

	r.writer = csv.NewWriter(out)
	r.writer.Comma = r.config.Delimiter

	if r.config.IncludeHeader {
		if err := r.writer.Write(csvHeader); err != nil {
			r.closeFile()
			return fmt.Errorf("写入头部失败: %w", err)
		}
		r.writer.Flush()
	}

	r.initialized = true
	return nil
}

var csvHeader = []string{"timestamp", "run_id", "trial", "phase", "worker", "kind", "code", "duration_ms", "message"}

// csvRow renders one row per result, worker completion or worker failure.
// Columns that do not apply to the event kind are left empty.
func csvRow(event *types.Event) []string {
	var code, duration string
	switch event.Kind {
	case types.EventResult:
		code = strconv.Itoa(event.Code)
	case types.EventWorkerDone:
		duration = strconv.FormatFloat(float64(event.Duration.Microseconds())/1000, 'f', 3, 64)
	case types.EventWorkerError:
	default:
		return nil
	}
	return []string{
		event.Time.Format(time.RFC3339Nano),
		event.RunID,
		strconv.Itoa(event.Trial),
		string(event.Phase),
		event.Worker,
		string(event.Kind),
		code,
		duration,
		event.Message,
	}
}

// Report buffers a row for each per-worker event. Run, trial and phase
// boundaries are ignored.
func (r *CSVReporter) Report(ctx context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("报告器未初始化")
	}
	row := csvRow(event)
	if row == nil {
		return nil
	}
	r.buffer = append(r.buffer, row)

	if len(r.buffer) >= r.config.BufferSize {
		return r.flushBuffer()
	}
	return nil
}

// Flush flushes any buffered data.
func (r *CSVReporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	return r.flushBuffer()
}

// Close flushes the remaining rows and closes the file.
func (r *CSVReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	r.initialized = false

	if err := r.flushBuffer(); err != nil {
		r.closeFile()
		return err
	}
	return r.closeFile()
}

// flushBuffer writes buffered records to the output.
func (r *CSVReporter) flushBuffer() error {
	if len(r.buffer) == 0 {
		return nil
	}
	if err := r.writer.WriteAll(r.buffer); err != nil {
		return fmt.Errorf("写入记录失败: %w", err)
	}
	r.buffer = r.buffer[:0]
	return nil
}

func (r *CSVReporter) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("关闭文件失败: %w", err)
	}
	return nil
}

// GetFilePath returns the output file path.
func (r *CSVReporter) GetFilePath() string {
	return r.config.FilePath
}
