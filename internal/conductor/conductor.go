package conductor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"yqhp/conductor/internal/client"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
)

var log = logger.Named("conductor")

// Worker is the conductor's view of one remote worker. *client.Client
// implements it.
type Worker interface {
	Name() string
	Download(ctx context.Context, phase types.PhaseName) error
	Trigger(ctx context.Context) error
	CollectResults(ctx context.Context, sink client.ResultSink) error
	Close() error
}

// Options holds the settings of one run.
type Options struct {
	// RunID identifies the run in events. Empty generates a UUID.
	RunID string

	// Trials is the number of trials to run.
	Trials int

	// Phases selects the phases to run. Empty selects all four. The
	// lifecycle order is kept whatever order the names are given in.
	Phases []types.PhaseName

	// Workers selects workers by name. Empty selects all of them.
	Workers []string

	// Parallelism bounds the number of workers served at once within a
	// sub-step. 1 serves them one after another.
	Parallelism int

	// DryRun returns the plan without any network I/O.
	DryRun bool
}

// DefaultOptions returns options for one trial of every phase on every worker.
func DefaultOptions() Options {
	return Options{Trials: 1, Parallelism: 1}
}

// Conductor runs trials across a fixed set of workers.
type Conductor struct {
	workers []Worker
	opts    Options
	phases  []types.PhaseName
	sink    EventSink
}

// New selects the workers and phases of a run. A nil sink discards events.
func New(workers []Worker, opts Options, sink EventSink) (*Conductor, error) {
	if opts.Trials < 1 {
		return nil, fmt.Errorf("trials must be at least 1, got %d", opts.Trials)
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if sink == nil {
		sink = nopSink{}
	}

	phases, err := selectPhases(opts.Phases)
	if err != nil {
		return nil, err
	}
	selected, err := selectWorkers(workers, opts.Workers)
	if err != nil {
		return nil, err
	}

	return &Conductor{
		workers: selected,
		opts:    opts,
		phases:  phases,
		sink:    sink,
	}, nil
}

func selectPhases(names []types.PhaseName) ([]types.PhaseName, error) {
	if len(names) == 0 {
		return slices.Clone(types.AllPhases), nil
	}
	for _, name := range names {
		if !slices.Contains(types.AllPhases, name) {
			return nil, fmt.Errorf("unknown phase %q", name)
		}
	}
	var phases []types.PhaseName
	for _, name := range types.AllPhases {
		if slices.Contains(names, name) {
			phases = append(phases, name)
		}
	}
	return phases, nil
}

func selectWorkers(workers []Worker, names []string) ([]Worker, error) {
	if len(names) == 0 {
		return workers, nil
	}
	byName := make(map[string]Worker, len(workers))
	for _, w := range workers {
		byName[w.Name()] = w
	}
	selected := make([]Worker, 0, len(names))
	for _, name := range names {
		w, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("worker %q is not configured", name)
		}
		if !slices.Contains(selected, w) {
			selected = append(selected, w)
		}
	}
	return selected, nil
}

// Plan describes what Run will do.
func (c *Conductor) Plan() *types.RunPlan {
	names := make([]string, len(c.workers))
	for i, w := range c.workers {
		names[i] = w.Name()
	}
	return &types.RunPlan{
		RunID:   c.opts.RunID,
		Trials:  c.opts.Trials,
		Workers: names,
		Phases:  slices.Clone(c.phases),
		DryRun:  c.opts.DryRun,
	}
}

// Run executes every trial. Worker failures are recorded in the summary and
// do not stop the run; only cancellation of ctx does.
func (c *Conductor) Run(ctx context.Context) (*Summary, error) {
	plan := c.Plan()
	summary := newSummary(plan)
	c.emit(ctx, &types.Event{Kind: types.EventRunStart, Plan: plan})

	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		c.emit(context.WithoutCancel(ctx), &types.Event{Kind: types.EventRunEnd, Duration: summary.Duration})
	}()

	if c.opts.DryRun {
		log.Info("Dry run: %d trial(s), %d worker(s), phases %v", plan.Trials, len(plan.Workers), plan.Phases)
		return summary, nil
	}
	defer c.closeWorkers()

	for trial := 1; trial <= c.opts.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := c.runTrial(ctx, summary, trial); err != nil {
			return summary, err
		}
		summary.TrialsCompleted++
	}

	if summary.Degraded() {
		log.Warn("All trials completed with %d worker error(s)", len(summary.WorkerErrors))
	} else {
		log.Info("All trials completed successfully")
	}
	return summary, nil
}

func (c *Conductor) runTrial(ctx context.Context, summary *Summary, trial int) error {
	log.Info("Starting trial %d of %d", trial, c.opts.Trials)
	c.emit(ctx, &types.Event{Kind: types.EventTrialStart, Trial: trial})
	started := time.Now()

	// Workers that failed in the previous trial rejoin here.
	failed := make([]bool, len(c.workers))

	for _, name := range c.phases {
		phaseStarted := time.Now()
		c.emit(ctx, &types.Event{Kind: types.EventPhaseStart, Trial: trial, Phase: name})

		c.stage(ctx, summary, trial, name, client.OpDownload, failed, func(ctx context.Context, _ int, w Worker) error {
			return w.Download(ctx, name)
		})

		sinks := make([]*workerSink, len(c.workers))
		c.stage(ctx, summary, trial, name, client.OpTrigger, failed, func(ctx context.Context, i int, w Worker) error {
			sinks[i] = c.newWorkerSink(ctx, summary, trial, name, w.Name())
			return w.Trigger(ctx)
		})

		c.stage(ctx, summary, trial, name, client.OpCollect, failed, func(ctx context.Context, i int, w Worker) error {
			return w.CollectResults(ctx, sinks[i])
		})

		c.emit(ctx, &types.Event{Kind: types.EventPhaseEnd, Trial: trial, Phase: name, Duration: time.Since(phaseStarted)})
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.emit(ctx, &types.Event{Kind: types.EventTrialEnd, Trial: trial, Duration: time.Since(started)})
	log.Info("Completed trial %d of %d", trial, c.opts.Trials)
	return nil
}

// stage runs fn for every worker that has not failed in this trial and
// returns once all of them have finished.
func (c *Conductor) stage(ctx context.Context, summary *Summary, trial int, phase types.PhaseName, op string,
	failed []bool, fn func(ctx context.Context, i int, w Worker) error) {
	var g errgroup.Group
	g.SetLimit(c.opts.Parallelism)

	for i, w := range c.workers {
		if failed[i] {
			continue
		}
		g.Go(func() error {
			if err := fn(ctx, i, w); err != nil {
				failed[i] = true
				c.workerFailed(ctx, summary, trial, phase, w, op, err)
			}
			return nil
		})
	}
	g.Wait()
}

func (c *Conductor) workerFailed(ctx context.Context, summary *Summary, trial int, phase types.PhaseName,
	w Worker, op string, err error) {
	var werr *client.WorkerError
	if !errors.As(err, &werr) {
		err = &client.WorkerError{Worker: w.Name(), Op: op, Err: err}
	}
	summary.addWorkerError(err)
	log.Error("%v; skipping %s for the rest of trial %d", err, w.Name(), trial)
	c.emit(ctx, &types.Event{
		Kind:    types.EventWorkerError,
		Trial:   trial,
		Phase:   phase,
		Worker:  w.Name(),
		Code:    types.ResultError,
		Message: err.Error(),
	})
}

func (c *Conductor) closeWorkers() {
	var wg sync.WaitGroup
	for _, w := range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Close(); err != nil {
				log.Debug("closing %s: %v", w.Name(), err)
			}
		}()
	}
	wg.Wait()
}

func (c *Conductor) emit(ctx context.Context, event *types.Event) {
	event.RunID = c.opts.RunID
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if err := c.sink.Report(ctx, event); err != nil {
		log.Warn("reporting %s event: %v", event.Kind, err)
	}
}
