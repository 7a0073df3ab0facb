package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"yqhp/conductor/pkg/types"
)

// Section names used by the INI test definitions.
const (
	SectionTest        = "Test"
	SectionWorkers     = "Workers"
	SectionClients     = "Clients"
	SectionCoordinator = "Coordinator"
	SectionMaster      = "Master"
)

// ErrConfigNotFound is returned when a definition file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrWorkerConfigNotFound is returned by LoadTest when a listed worker file does not exist.
var ErrWorkerConfigNotFound = errors.New("worker config not found")

// phaseSections maps each phase to its section in a worker file.
var phaseSections = map[types.PhaseName]string{
	types.PhaseStartup: "Startup",
	types.PhaseRun:     "Run",
	types.PhaseCollect: "Collect",
	types.PhaseReset:   "Reset",
}

// TestConfig is a parsed master file: the trial count and its workers.
type TestConfig struct {
	Path    string
	Trials  int
	Workers []*WorkerConfig
}

// WorkerNames returns the worker names in file order.
func (c *TestConfig) WorkerNames() []string {
	names := make([]string, 0, len(c.Workers))
	for _, w := range c.Workers {
		names = append(names, w.Name)
	}
	return names
}

// SelectWorkers returns the workers whose names are listed. An empty list selects all.
// Unknown names are an error.
func (c *TestConfig) SelectWorkers(names []string) ([]*WorkerConfig, error) {
	if len(names) == 0 {
		return c.Workers, nil
	}

	byName := make(map[string]*WorkerConfig, len(c.Workers))
	for _, w := range c.Workers {
		byName[w.Name] = w
	}

	selected := make([]*WorkerConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		w, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown worker %q (configured: %s)", name, strings.Join(c.WorkerNames(), ", "))
		}
		if !seen[name] {
			selected = append(selected, w)
			seen[name] = true
		}
	}
	return selected, nil
}

// StepEntry is one key = command line of a phase section, in file order.
type StepEntry struct {
	Key   string
	Value string
}

// WorkerConfig is a parsed worker file.
type WorkerConfig struct {
	Name string
	Path string
	// Player is the host the worker agent listens on.
	Player string
	// Conductor is the host the agent reports results to.
	Conductor   string
	CmdPort     int
	ResultsPort int
	Phases      map[types.PhaseName][]StepEntry
}

// CommandAddress returns the player's command address.
func (w *WorkerConfig) CommandAddress() string {
	return types.JoinHostPort(w.Player, w.CmdPort)
}

// ResultAddress returns the address results are reported to.
func (w *WorkerConfig) ResultAddress() string {
	return types.JoinHostPort(w.Conductor, w.ResultsPort)
}

// PlayerFile is a parsed player file.
type PlayerFile struct {
	Path string
	Host string
	Port int
}

func loadINI(path string) (*ini.File, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:         true,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	return f, nil
}

// section returns the first of names present in f.
func section(f *ini.File, names ...string) (*ini.Section, bool) {
	for _, name := range names {
		if s, err := f.GetSection(name); err == nil {
			return s, true
		}
	}
	return nil, false
}

func missingSection(path string, names ...string) error {
	return &ValidationError{
		Field:   path,
		Message: fmt.Sprintf("configuration missing [%s] section", strings.Join(names, "] or [")),
	}
}

// requiredString returns a non-empty key value.
func requiredString(sec *ini.Section, path, key string) (string, error) {
	value := strings.TrimSpace(sec.Key(key).String())
	if !sec.HasKey(key) || value == "" {
		return "", &ValidationError{
			Field:   fmt.Sprintf("%s [%s] %s", path, sec.Name(), key),
			Message: "value is required",
		}
	}
	return value, nil
}

// requiredPort returns a key value parsed as a port in [1,65535].
func requiredPort(sec *ini.Section, path, key string) (int, error) {
	raw, err := requiredString(sec, path, key)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(raw)
	if err != nil || !types.ValidPort(port) {
		return 0, &ValidationError{
			Field:   fmt.Sprintf("%s [%s] %s", path, sec.Name(), key),
			Message: fmt.Sprintf("invalid port %q, must be an integer in 1-65535", raw),
		}
	}
	return port, nil
}

// LoadTest reads a master file and every worker file it lists.
// Relative worker paths resolve against the master file's directory.
func LoadTest(path string) (*TestConfig, error) {
	f, err := loadINI(path)
	if err != nil {
		return nil, err
	}

	test, ok := section(f, SectionTest)
	if !ok {
		return nil, missingSection(path, SectionTest)
	}
	trialsRaw, err := requiredString(test, path, "trials")
	if err != nil {
		return nil, err
	}
	trials, err := strconv.Atoi(trialsRaw)
	if err != nil || trials < 1 {
		return nil, &ValidationError{
			Field:   fmt.Sprintf("%s [%s] trials", path, SectionTest),
			Message: fmt.Sprintf("invalid trial count %q, must be a positive integer", trialsRaw),
		}
	}

	workers, ok := section(f, SectionWorkers, SectionClients)
	if !ok {
		return nil, missingSection(path, SectionWorkers, SectionClients)
	}

	cfg := &TestConfig{Path: path, Trials: trials}
	baseDir := filepath.Dir(path)
	for _, key := range workers.Keys() {
		workerPath := strings.TrimSpace(key.String())
		if workerPath == "" {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("%s [%s] %s", path, workers.Name(), key.Name()),
				Message: "worker file path is required",
			}
		}
		if !filepath.IsAbs(workerPath) {
			workerPath = filepath.Join(baseDir, workerPath)
		}

		w, err := LoadWorker(key.Name(), workerPath)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrWorkerConfigNotFound, workerPath)
			}
			return nil, fmt.Errorf("worker %s: %w", key.Name(), err)
		}
		cfg.Workers = append(cfg.Workers, w)
	}

	if err := checkResultAddresses(path, cfg.Workers); err != nil {
		return nil, err
	}

	if len(cfg.Workers) == 0 {
		return nil, &ValidationError{
			Field:   fmt.Sprintf("%s [%s]", path, workers.Name()),
			Message: "at least one worker is required",
		}
	}
	return cfg, nil
}

// checkResultAddresses rejects workers that report to the same conductor
// host and results port. Their result listeners would share one socket.
func checkResultAddresses(path string, workers []*WorkerConfig) error {
	owner := make(map[string]string, len(workers))
	for _, w := range workers {
		addr := w.ResultAddress()
		if prev, ok := owner[addr]; ok {
			return &ValidationError{
				Field:   fmt.Sprintf("%s worker %s", path, w.Name),
				Message: fmt.Sprintf("result address %s is already used by worker %s", addr, prev),
			}
		}
		owner[addr] = w.Name
	}
	return nil
}

// LoadWorker reads a worker file: its coordinator addresses and the four phase sections.
func LoadWorker(name, path string) (*WorkerConfig, error) {
	f, err := loadINI(path)
	if err != nil {
		return nil, err
	}

	coord, ok := section(f, SectionCoordinator, SectionMaster)
	if !ok {
		return nil, missingSection(path, SectionCoordinator, SectionMaster)
	}

	w := &WorkerConfig{
		Name:   name,
		Path:   path,
		Phases: make(map[types.PhaseName][]StepEntry, len(phaseSections)),
	}
	if w.Player, err = requiredString(coord, path, "player"); err != nil {
		return nil, err
	}
	if w.Conductor, err = requiredString(coord, path, "conductor"); err != nil {
		return nil, err
	}
	if w.CmdPort, err = requiredPort(coord, path, "cmdport"); err != nil {
		return nil, err
	}
	if w.ResultsPort, err = requiredPort(coord, path, "resultsport"); err != nil {
		return nil, err
	}

	for _, phase := range types.AllPhases {
		sec, ok := section(f, phaseSections[phase])
		if !ok {
			return nil, missingSection(path, phaseSections[phase])
		}
		entries := make([]StepEntry, 0, len(sec.Keys()))
		for _, key := range sec.Keys() {
			entries = append(entries, StepEntry{Key: key.Name(), Value: key.Value()})
		}
		w.Phases[phase] = entries
	}
	return w, nil
}

// LoadPlayer reads a player file with a [Master] or [Coordinator] section.
func LoadPlayer(path string) (*PlayerFile, error) {
	f, err := loadINI(path)
	if err != nil {
		return nil, err
	}

	sec, ok := section(f, SectionMaster, SectionCoordinator)
	if !ok {
		return nil, missingSection(path, SectionMaster, SectionCoordinator)
	}

	p := &PlayerFile{Path: path}
	if p.Host, err = requiredString(sec, path, "player"); err != nil {
		return nil, err
	}
	if p.Port, err = requiredPort(sec, path, "cmdport"); err != nil {
		return nil, err
	}
	return p, nil
}
