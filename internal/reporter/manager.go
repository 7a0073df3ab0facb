package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"yqhp/conductor/pkg/types"
)

// Manager fans run events out to a set of reporters.
//
// Events may arrive from several goroutines at once. They are delivered to
// the reporters one at a time, so a reporter needs no locking of its own
// for Report.
type Manager struct {
	registry  *Registry
	reporters []Reporter
	mu        sync.RWMutex

	reportMu sync.Mutex
}

// NewManager creates a new reporter manager.
func NewManager(registry *Registry) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{registry: registry}
}

// AddReporter adds a reporter to the manager.
func (m *Manager) AddReporter(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// AddReporterFromConfig creates, initializes and adds a reporter. A disabled
// config is skipped.
func (m *Manager) AddReporterFromConfig(ctx context.Context, config *ReporterConfig) error {
	if !config.Enabled {
		return nil
	}

	r, err := m.registry.Create(config.Type, config.Config)
	if err != nil {
		return fmt.Errorf("create reporter %s: %w", config.Type, err)
	}
	if err := r.Init(ctx, config.Config); err != nil {
		return fmt.Errorf("init reporter %s: %w", config.Type, err)
	}

	m.AddReporter(r)
	return nil
}

// Report sends one event to every reporter. A failing reporter does not
// keep the event from the others.
func (m *Manager) Report(ctx context.Context, event *types.Event) error {
	reporters := m.Reporters()

	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	var errs []error
	for _, r := range reporters {
		if err := r.Report(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all reporters.
func (m *Manager) Flush(ctx context.Context) error {
	reporters := m.Reporters()

	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	var errs []error
	for _, r := range reporters {
		if err := r.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all reporters and forgets them.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	reporters := m.reporters
	m.reporters = nil
	m.mu.Unlock()

	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	var errs []error
	for _, r := range reporters {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reporters returns the reporters currently managed.
func (m *Manager) Reporters() []Reporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Reporter(nil), m.reporters...)
}
