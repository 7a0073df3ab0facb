package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/pkg/types"
)

var t0 = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func runEvents() []*types.Event {
	return []*types.Event{
		{Kind: types.EventRunStart, RunID: "r1", Time: at(0), Plan: &types.RunPlan{
			RunID: "r1", Trials: 1, Workers: []string{"w1", "w2"}, Phases: []types.PhaseName{types.PhaseRun},
		}},
		{Kind: types.EventTrialStart, RunID: "r1", Trial: 1, Time: at(1)},
		{Kind: types.EventPhaseStart, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Time: at(2)},
		{Kind: types.EventResult, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Worker: "w1", Code: 0, Message: "A\n", Time: at(3)},
		{Kind: types.EventResult, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Worker: "w1", Code: 1, Message: "failed, badly", Time: at(4)},
		{Kind: types.EventWorkerDone, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Worker: "w1", Code: types.ResultDone, Duration: 1500 * time.Millisecond, Time: at(5)},
		{Kind: types.EventWorkerError, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Worker: "w2", Message: "connection refused", Time: at(5)},
		{Kind: types.EventPhaseEnd, RunID: "r1", Trial: 1, Phase: types.PhaseRun, Time: at(6)},
		{Kind: types.EventTrialEnd, RunID: "r1", Trial: 1, Time: at(7)},
		{Kind: types.EventRunEnd, RunID: "r1", Time: at(8)},
	}
}

func feed(t *testing.T, r interface {
	Report(context.Context, *types.Event) error
}) {
	t.Helper()
	for _, e := range runEvents() {
		require.NoError(t, r.Report(context.Background(), e))
	}
}

func TestJSONReporterNestedReport(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewJSONReporter(&JSONConfig{Writer: buf})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))
	feed(t, r)
	assert.Zero(t, buf.Len(), "nothing is written before Close")
	require.NoError(t, r.Close(ctx))

	var report JSONReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))

	assert.Equal(t, "r1", report.Metadata.RunID)
	assert.Equal(t, 1, report.Metadata.TotalTrials)
	assert.Equal(t, 2, report.Metadata.TotalWorkers)
	require.NotNil(t, report.Metadata.EndTime)
	assert.True(t, report.Metadata.EndTime.Equal(at(8)))

	require.Len(t, report.Trials, 1)
	trial := report.Trials[0]
	assert.Equal(t, 1, trial.TrialNumber)
	require.NotNil(t, trial.EndTime)

	phase := trial.Phases["run"]
	require.NotNil(t, phase)
	require.NotNil(t, phase.EndTime)

	w1 := phase.Workers["w1"]
	require.NotNil(t, w1)
	require.Len(t, w1.Results, 2)
	assert.True(t, w1.Results[0].Timestamp.Equal(at(3)))
	assert.Equal(t, 0, w1.Results[0].Code)
	assert.Equal(t, "A\n", w1.Results[0].Message)
	assert.Equal(t, 1, w1.Results[1].Code)
	assert.Equal(t, 1500.0, w1.DurationMs)
	assert.True(t, w1.StartTime.Equal(at(3)))

	w2 := phase.Workers["w2"]
	require.NotNil(t, w2)
	assert.Empty(t, w2.Results)
	assert.Equal(t, "connection refused", w2.Error)
}

func TestJSONReporterWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	factory := NewJSONFactory()
	v, err := factory(map[string]any{"file_path": path, "pretty": false})
	require.NoError(t, err)
	r := v.(*JSONReporter)
	assert.Equal(t, "json", r.Name())
	assert.Equal(t, path, r.GetFilePath())

	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))
	feed(t, r)
	require.NoError(t, r.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data[:len(data)-1]), "\n", "compact output is one line")
	var report JSONReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Len(t, report.Trials, 1)

	assert.NoError(t, r.Close(ctx), "second close is a no-op")
}

func TestJSONReporterLifecycle(t *testing.T) {
	r := NewJSONReporter(&JSONConfig{Writer: &bytes.Buffer{}})
	ctx := context.Background()
	assert.Error(t, r.Report(ctx, &types.Event{Kind: types.EventResult}))
	require.NoError(t, r.Init(ctx, nil))
	assert.Error(t, r.Init(ctx, nil))

	// results outside a trial are dropped, not a panic
	assert.NoError(t, r.Report(ctx, &types.Event{Kind: types.EventResult, Worker: "w", Phase: types.PhaseRun}))
	require.NoError(t, r.Close(ctx))
}

func TestCSVReporterOneRowPerWorkerEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewCSVReporter(&CSVConfig{Writer: buf, IncludeHeader: true})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))
	feed(t, r)
	require.NoError(t, r.Close(ctx))

	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{at(3).Format(time.RFC3339Nano), "r1", "1", "run", "w1", "result", "0", "", "A\n"}, rows[1])
	assert.Equal(t, "failed, badly", rows[2][8])
	assert.Equal(t, []string{"worker_done", "", "1500.000", ""}, rows[3][5:])
	assert.Equal(t, []string{"w2", "worker_error", "", "", "connection refused"}, rows[4][4:])
}

func TestCSVReporterFileAndBuffering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	v, err := NewCSVFactory()(map[string]any{
		"file_path":      path,
		"delimiter":      ";",
		"include_header": false,
		"buffer_size":    1,
	})
	require.NoError(t, err)
	r := v.(*CSVReporter)
	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))

	require.NoError(t, r.Report(ctx, &types.Event{Kind: types.EventResult, Trial: 2, Phase: types.PhaseReset, Worker: "w", Code: 3, Message: "x", Time: t0}))
	// buffer size 1 flushes immediately
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ";2;reset;w;result;3;;x")

	require.NoError(t, r.Close(ctx))
	assert.Error(t, r.Report(ctx, &types.Event{Kind: types.EventResult}))
}

func TestNewCSVReporterDefaults(t *testing.T) {
	r := NewCSVReporter(&CSVConfig{})
	assert.Equal(t, ',', r.config.Delimiter)
	assert.Equal(t, 100, r.config.BufferSize)
	assert.NotNil(t, r.config.Writer)
	assert.Equal(t, "csv", r.Name())
}
