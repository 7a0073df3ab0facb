package reporter

import (
	"fmt"

	"yqhp/conductor/internal/reporter/console"
	"yqhp/conductor/internal/reporter/file"
	"yqhp/conductor/internal/reporter/webhook"
)

// adapt 把子包返回的报告器转换为 Reporter
func adapt(factory func(config map[string]any) (interface{ Name() string }, error)) ReporterFactory {
	return func(config map[string]any) (Reporter, error) {
		v, err := factory(config)
		if err != nil {
			return nil, err
		}
		r, ok := v.(Reporter)
		if !ok {
			return nil, fmt.Errorf("reporter %s does not implement Reporter", v.Name())
		}
		return r, nil
	}
}

// RegisterBuiltinReporters registers all built-in reporters with the registry.
func RegisterBuiltinReporters(registry *Registry) error {
	builtins := []struct {
		t       ReporterType
		factory func(config map[string]any) (interface{ Name() string }, error)
	}{
		{ReporterTypeConsole, console.NewFactory()},
		{ReporterTypeJSON, file.NewJSONFactory()},
		{ReporterTypeCSV, file.NewCSVFactory()},
		{ReporterTypeWebhook, webhook.NewFactory()},
	}

	for _, b := range builtins {
		if err := registry.Register(b.t, adapt(b.factory)); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry creates a new registry with all built-in reporters registered.
func NewDefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	if err := RegisterBuiltinReporters(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
