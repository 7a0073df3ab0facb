package conductor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/internal/client"
	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/player"
	"yqhp/conductor/pkg/types"
)

// callLog records the order of worker calls across all fake workers.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeWorker struct {
	name    string
	log     *callLog
	jitter  time.Duration
	results []types.RetVal

	mu      sync.Mutex
	phase   types.PhaseName
	failOp  string
	failsN  int
	closes  int
	collect func(ctx context.Context) error
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) sleep() {
	if w.jitter > 0 {
		time.Sleep(time.Duration(rand.Int64N(int64(w.jitter))))
	}
}

func (w *fakeWorker) fail(op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOp == op && w.failsN > 0 {
		w.failsN--
		return errors.New("connection refused")
	}
	return nil
}

func (w *fakeWorker) Download(_ context.Context, phase types.PhaseName) error {
	w.sleep()
	w.mu.Lock()
	w.phase = phase
	w.mu.Unlock()
	w.log.add("%s download %s", w.name, phase)
	return w.fail(client.OpDownload)
}

func (w *fakeWorker) Trigger(context.Context) error {
	w.sleep()
	w.log.add("%s trigger", w.name)
	return w.fail(client.OpTrigger)
}

func (w *fakeWorker) CollectResults(ctx context.Context, sink client.ResultSink) error {
	w.sleep()
	w.log.add("%s collect", w.name)
	if err := w.fail(client.OpCollect); err != nil {
		return err
	}
	if w.collect != nil {
		return w.collect(ctx)
	}
	for _, rv := range w.results {
		sink.AddResult(rv.Code, rv.Message)
	}
	sink.AddResult(types.ResultDone, types.DoneMessage)
	return nil
}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

// eventRecorder is an EventSink that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) Report(_ context.Context, event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *eventRecorder) ofKind(kind types.EventKind) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) forWorker(worker string) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Worker == worker {
			out = append(out, e)
		}
	}
	return out
}

func fakeWorkers(log *callLog, names ...string) []*fakeWorker {
	out := make([]*fakeWorker, len(names))
	for i, name := range names {
		out[i] = &fakeWorker{name: name, log: log}
	}
	return out
}

func asWorkers(fakes []*fakeWorker) []Worker {
	out := make([]Worker, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	workers := asWorkers(fakeWorkers(&callLog{}, "a", "b"))

	_, err := New(workers, Options{Trials: 0}, nil)
	assert.Error(t, err)

	_, err = New(workers, Options{Trials: 1, Phases: []types.PhaseName{"teardown"}}, nil)
	assert.ErrorContains(t, err, "unknown phase")

	_, err = New(workers, Options{Trials: 1, Workers: []string{"c"}}, nil)
	assert.ErrorContains(t, err, `worker "c" is not configured`)
}

func TestPlanKeepsLifecycleOrder(t *testing.T) {
	workers := asWorkers(fakeWorkers(&callLog{}, "a", "b", "c"))

	c, err := New(workers, Options{
		RunID:   "run-1",
		Trials:  2,
		Phases:  []types.PhaseName{types.PhaseReset, types.PhaseStartup},
		Workers: []string{"c", "a", "c"},
	}, nil)
	require.NoError(t, err)

	plan := c.Plan()
	assert.Equal(t, "run-1", plan.RunID)
	assert.Equal(t, 2, plan.Trials)
	assert.Equal(t, []types.PhaseName{types.PhaseStartup, types.PhaseReset}, plan.Phases)
	assert.Equal(t, []string{"c", "a"}, plan.Workers)
}

func TestDefaultsSelectEverything(t *testing.T) {
	c, err := New(asWorkers(fakeWorkers(&callLog{}, "a")), DefaultOptions(), nil)
	require.NoError(t, err)

	plan := c.Plan()
	assert.Equal(t, types.AllPhases, plan.Phases)
	assert.NotEmpty(t, plan.RunID)
	assert.False(t, plan.DryRun)
}

func TestDryRunDoesNoIO(t *testing.T) {
	calls := &callLog{}
	events := &eventRecorder{}
	c, err := New(asWorkers(fakeWorkers(calls, "a", "b")), Options{Trials: 3, DryRun: true}, events)
	require.NoError(t, err)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, calls.snapshot())
	assert.Zero(t, summary.TrialsCompleted)

	starts := events.ofKind(types.EventRunStart)
	require.Len(t, starts, 1)
	require.NotNil(t, starts[0].Plan)
	assert.True(t, starts[0].Plan.DryRun)
	assert.Equal(t, 3, starts[0].Plan.Trials)
	assert.Len(t, events.ofKind(types.EventRunEnd), 1)
	assert.Empty(t, events.ofKind(types.EventTrialStart))
}

func TestSubStepsAreBarriers(t *testing.T) {
	calls := &callLog{}
	fakes := fakeWorkers(calls, "a", "b", "c", "d")
	for _, f := range fakes {
		f.jitter = 3 * time.Millisecond
	}

	c, err := New(asWorkers(fakes), Options{Trials: 2, Parallelism: 4}, nil)
	require.NoError(t, err)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TrialsCompleted)

	got := calls.snapshot()
	// 2 trials x 4 phases x 3 sub-steps x 4 workers
	require.Len(t, got, 96)

	ops := []string{"download", "trigger", "collect"}
	for block := 0; block < len(got)/4; block++ {
		want := ops[block%3]
		for _, call := range got[block*4 : block*4+4] {
			assert.Contains(t, call, " "+want, "call %q in block %d", call, block)
		}
	}

	for i, phase := range slices.Concat(types.AllPhases, types.AllPhases) {
		for _, call := range got[i*12 : i*12+4] {
			assert.True(t, strings.HasSuffix(call, string(phase)), "call %q", call)
		}
	}
}

func TestParallelismOneIsSequential(t *testing.T) {
	calls := &callLog{}
	c, err := New(asWorkers(fakeWorkers(calls, "a", "b", "c")), Options{
		Trials: 1,
		Phases: []types.PhaseName{types.PhaseRun},
	}, nil)
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a download run", "b download run", "c download run",
		"a trigger", "b trigger", "c trigger",
		"a collect", "b collect", "c collect",
	}, calls.snapshot())
}

func TestFailedWorkerSkippedForRestOfTrial(t *testing.T) {
	calls := &callLog{}
	fakes := fakeWorkers(calls, "a", "b")
	fakes[1].failOp = client.OpDownload
	fakes[1].failsN = 1
	events := &eventRecorder{}

	c, err := New(asWorkers(fakes), Options{Trials: 2}, events)
	require.NoError(t, err)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TrialsCompleted)
	require.Len(t, summary.WorkerErrors, 1)
	assert.True(t, summary.Degraded())

	var werr *client.WorkerError
	require.ErrorAs(t, summary.WorkerErrors[0], &werr)
	assert.Equal(t, "b", werr.Worker)
	assert.Equal(t, client.OpDownload, werr.Op)

	var bCalls []string
	for _, call := range calls.snapshot() {
		if strings.HasPrefix(call, "b ") {
			bCalls = append(bCalls, call)
		}
	}
	// trial 1: only the failed download; trial 2: three calls per phase
	require.Len(t, bCalls, 1+4*3)
	assert.Equal(t, "b download startup", bCalls[0])
	assert.Equal(t, "b download startup", bCalls[1])

	errEvents := events.ofKind(types.EventWorkerError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, 1, errEvents[0].Trial)
	assert.Equal(t, types.PhaseStartup, errEvents[0].Phase)
	assert.Equal(t, "b", errEvents[0].Worker)

	// worker a never failed and reported DONE for every phase of both trials
	doneA := 0
	for _, e := range events.forWorker("a") {
		if e.Kind == types.EventWorkerDone {
			doneA++
		}
	}
	assert.Equal(t, 8, doneA)
}

func TestTriggerFailureSkipsCollect(t *testing.T) {
	calls := &callLog{}
	fakes := fakeWorkers(calls, "a")
	fakes[0].failOp = client.OpTrigger
	fakes[0].failsN = 1

	c, err := New(asWorkers(fakes), Options{Trials: 1}, nil)
	require.NoError(t, err)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a download startup", "a trigger"}, calls.snapshot())
	require.Len(t, summary.WorkerErrors, 1)
}

func TestResultsBecomeEvents(t *testing.T) {
	fakes := fakeWorkers(&callLog{}, "a")
	fakes[0].results = []types.RetVal{
		types.NewRetVal(0, "ok"),
		types.NewRetVal(2, "Command 'x' returned non-zero exit status 2"),
	}
	events := &eventRecorder{}

	c, err := New(asWorkers(fakes), Options{
		RunID:  "r",
		Trials: 1,
		Phases: []types.PhaseName{types.PhaseRun},
	}, events)
	require.NoError(t, err)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Results)
	assert.Equal(t, 1, summary.FailedResults)
	assert.False(t, summary.Degraded())

	worker := events.forWorker("a")
	require.Len(t, worker, 3)
	assert.Equal(t, types.EventResult, worker[0].Kind)
	assert.Equal(t, "ok", worker[0].Message)
	assert.Equal(t, types.EventResult, worker[1].Kind)
	assert.Equal(t, 2, worker[1].Code)
	assert.Equal(t, types.EventWorkerDone, worker[2].Kind)
	for _, e := range worker {
		assert.Equal(t, "r", e.RunID)
		assert.Equal(t, 1, e.Trial)
		assert.Equal(t, types.PhaseRun, e.Phase)
		assert.False(t, e.Time.IsZero())
	}

	var kinds []types.EventKind
	events.mu.Lock()
	for _, e := range events.events {
		kinds = append(kinds, e.Kind)
	}
	events.mu.Unlock()
	assert.Equal(t, []types.EventKind{
		types.EventRunStart, types.EventTrialStart, types.EventPhaseStart,
		types.EventResult, types.EventResult, types.EventWorkerDone,
		types.EventPhaseEnd, types.EventTrialEnd, types.EventRunEnd,
	}, kinds)
}

func TestCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fakes := fakeWorkers(&callLog{}, "a")
	fakes[0].collect = func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	c, err := New(asWorkers(fakes), Options{Trials: 3}, nil)
	require.NoError(t, err)
	summary, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.TrialsCompleted)
	assert.Equal(t, 1, fakes[0].closes)
}

func TestSinkErrorsDoNotStopRun(t *testing.T) {
	sink := EventSinkFunc(func(context.Context, *types.Event) error {
		return errors.New("reporter down")
	})
	c, err := New(asWorkers(fakeWorkers(&callLog{}, "a")), Options{Trials: 1}, sink)
	require.NoError(t, err)
	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TrialsCompleted)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startPlayer(t *testing.T) int {
	t.Helper()
	p := player.New(&player.Config{Address: "127.0.0.1:0"})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	})
	return p.Addr().(*net.TCPAddr).Port
}

func TestEndToEndTwoPlayers(t *testing.T) {
	steps := []config.StepEntry{
		{Key: "step1", Value: "echo A"},
		{Key: "step2", Value: "false"},
	}

	var workers []Worker
	for _, name := range []string{"worker1", "worker2"} {
		wc := &config.WorkerConfig{
			Name:        name,
			Player:      "127.0.0.1",
			Conductor:   "127.0.0.1",
			CmdPort:     startPlayer(t),
			ResultsPort: freePort(t),
			Phases:      map[types.PhaseName][]config.StepEntry{types.PhaseRun: steps},
		}
		c, err := client.New(wc, client.Options{ListenHost: "127.0.0.1"})
		require.NoError(t, err)
		workers = append(workers, c)
	}

	events := &eventRecorder{}
	c, err := New(workers, Options{Trials: 1, Parallelism: 2}, events)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TrialsCompleted)
	assert.Empty(t, summary.WorkerErrors)
	assert.Equal(t, 4, summary.Results)
	assert.Equal(t, 2, summary.FailedResults)

	for _, name := range []string{"worker1", "worker2"} {
		var run []types.Event
		done := 0
		for _, e := range events.forWorker(name) {
			if e.Kind == types.EventWorkerDone {
				done++
			}
			if e.Phase == types.PhaseRun {
				run = append(run, e)
			}
		}
		// startup, run, collect and reset each end in DONE; only run has steps
		assert.Equal(t, 4, done, name)
		require.Len(t, run, 3, name)
		assert.Equal(t, types.EventResult, run[0].Kind)
		assert.Equal(t, 0, run[0].Code)
		assert.Equal(t, "A\n", run[0].Message)
		assert.Equal(t, types.EventResult, run[1].Kind)
		assert.Equal(t, 1, run[1].Code)
		assert.Contains(t, run[1].Message, "false")
		assert.Equal(t, types.EventWorkerDone, run[2].Kind)
	}
}
