// Package webhook posts batches of run events to an HTTP endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/conductor/pkg/types"
)

// Config holds configuration for the Webhook reporter.
type Config struct {
	// URL is the webhook endpoint URL.
	URL string `yaml:"url"`
	// Method is the HTTP method (default: POST).
	Method string `yaml:"method"`
	// Headers are additional HTTP headers.
	Headers map[string]string `yaml:"headers,omitempty"`
	// BatchSize is the number of events to batch before sending.
	BatchSize int `yaml:"batch_size"`
	// RetryAttempts is the number of retry attempts on failure.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryDelay is the delay before the first retry; later retries wait longer.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `yaml:"timeout"`
	// Events limits delivery to these event kinds. Empty means all kinds.
	Events []types.EventKind `yaml:"events,omitempty"`
}

// DefaultConfig returns the default Webhook reporter configuration.
func DefaultConfig() *Config {
	return &Config{
		Method:        fasthttp.MethodPost,
		Headers:       make(map[string]string),
		BatchSize:     10,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Timeout:       10 * time.Second,
	}
}

// Reporter implements the Webhook reporter.
type Reporter struct {
	config *Config
	client *fasthttp.Client

	// Buffer for batch sends
	buffer []*types.Event
	mu     sync.Mutex

	initialized bool
}

// BatchPayload is the body of one webhook request.
type BatchPayload struct {
	RunID   string         `json:"run_id,omitempty"`
	Records []*types.Event `json:"records"`
	Count   int            `json:"count"`
}

// New creates a new Webhook reporter.
func New(config *Config) *Reporter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Method == "" {
		config.Method = fasthttp.MethodPost
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	return &Reporter{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		buffer: make([]*types.Event, 0, config.BatchSize),
	}
}

// NewFactory returns a factory function for creating Webhook reporters.
func NewFactory() func(config map[string]any) (interface{ Name() string }, error) {
	return func(config map[string]any) (interface{ Name() string }, error) {
		cfg := DefaultConfig()
		if config != nil {
			if v, ok := config["url"].(string); ok {
				cfg.URL = v
			}
			if v, ok := config["method"].(string); ok {
				cfg.Method = v
			}
			if v, ok := config["headers"].(map[string]any); ok {
				for k, val := range v {
					if s, ok := val.(string); ok {
						cfg.Headers[k] = s
					}
				}
			}
			if v, ok := config["batch_size"].(int); ok {
				cfg.BatchSize = v
			}
			if v, ok := config["retry_attempts"].(int); ok {
				cfg.RetryAttempts = v
			}
			if v, ok := config["retry_delay"].(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					cfg.RetryDelay = d
				}
			}
			if v, ok := config["timeout"].(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					cfg.Timeout = d
				}
			}
			if v, ok := config["events"].([]any); ok {
				for _, kind := range v {
					if s, ok := kind.(string); ok {
						cfg.Events = append(cfg.Events, types.EventKind(s))
					}
				}
			}
		}
		return New(cfg), nil
	}
}

// Name returns the reporter name.
func (r *Reporter) Name() string {
	return "webhook"
}

// Init initializes the reporter.
func (r *Reporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("reporter already initialized")
	}
	if r.config.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	r.initialized = true
	return nil
}

// Report buffers an event and sends the batch once it is full. The end of
// a trial or of the run also sends whatever is buffered, so a batch never
// spans two trials.
func (r *Reporter) Report(ctx context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("reporter not initialized")
	}

	if r.wants(event.Kind) {
		e := *event
		r.buffer = append(r.buffer, &e)
	}
	if len(r.buffer) >= r.config.BatchSize ||
		event.Kind == types.EventTrialEnd || event.Kind == types.EventRunEnd {
		return r.flushBuffer(ctx)
	}
	return nil
}

func (r *Reporter) wants(kind types.EventKind) bool {
	return len(r.config.Events) == 0 || slices.Contains(r.config.Events, kind)
}

// Flush sends any buffered events.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	return r.flushBuffer(ctx)
}

// Close sends the remaining events.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}
	r.initialized = false
	return r.flushBuffer(ctx)
}

// flushBuffer sends buffered events to the webhook. The buffer is kept on
// failure so a later flush can retry it.
func (r *Reporter) flushBuffer(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}

	batch := &BatchPayload{
		RunID:   r.buffer[0].RunID,
		Records: r.buffer,
		Count:   len(r.buffer),
	}
	if err := r.sendWithRetry(ctx, batch); err != nil {
		return err
	}

	r.buffer = make([]*types.Event, 0, r.config.BatchSize)
	return nil
}

// sendWithRetry sends the payload with linear backoff between attempts.
func (r *Reporter) sendWithRetry(ctx context.Context, payload *BatchPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if lastErr = r.send(data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", r.config.RetryAttempts+1, lastErr)
}

// send posts one body to the webhook.
func (r *Reporter) send(body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.URL)
	req.Header.SetMethod(r.config.Method)
	req.Header.SetContentType("application/json")
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := r.client.DoTimeout(req, resp, r.config.Timeout); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", code, string(resp.Body()))
	}
	return nil
}

// GetConfig returns the reporter configuration.
func (r *Reporter) GetConfig() *Config {
	return r.config
}

// GetBufferSize returns the number of events waiting to be sent.
func (r *Reporter) GetBufferSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
