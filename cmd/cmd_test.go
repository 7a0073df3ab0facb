package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/conductor/internal/player"
	"yqhp/conductor/internal/reporter/file"
	"yqhp/conductor/pkg/logger"
)

// execute 运行一次 CLI，返回 stdout、stderr 与错误
func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	prev := logger.GetLevel()
	t.Cleanup(func() {
		logger.SetOutput(nil)
		logger.SetLevel(prev)
	})

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func workerFile(cmdPort, resultsPort int, run ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Coordinator]\nplayer = 127.0.0.1\nconductor = 127.0.0.1\ncmdport = %d\nresultsport = %d\n", cmdPort, resultsPort)
	b.WriteString("[Startup]\n[Run]\n")
	for i, cmd := range run {
		fmt.Fprintf(&b, "step%d = %s\n", i+1, cmd)
	}
	b.WriteString("[Collect]\n[Reset]\n")
	return b.String()
}

// writeTest 写出一个 master 文件和两个 worker 文件
func writeTest(t *testing.T, trials int) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "web.cfg", workerFile(16970, 16971, "echo web"))
	writeFile(t, dir, "db.cfg", workerFile(16980, 16981, "echo db"))
	return writeFile(t, dir, "master.cfg", fmt.Sprintf("[Test]\ntrials = %d\n[Workers]\nweb = web.cfg\ndb = db.cfg\n", trials))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestHelpMentionsConductFlags(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Conductor - Orchestrate distributed system tests")
	assert.Contains(t, stdout, "--trials")
	assert.Contains(t, stdout, "--phases")
	assert.Contains(t, stdout, "--dry-run")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Conductor "+Version+"\n"))

	stdout, _, err = execute(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, "Conductor "+Version+"\n", stdout)
}

func TestConductDryRun(t *testing.T) {
	master := writeTest(t, 3)

	stdout, _, err := execute(t, context.Background(), "conduct", "--dry-run", master)
	require.NoError(t, err)
	assert.Contains(t, stdout, "DRY RUN MODE")
	assert.Contains(t, stdout, "Would run 3 trial(s) with 2 worker(s)")
	assert.Contains(t, stdout, "Phases: [all]")
}

func TestConductDryRunOverrides(t *testing.T) {
	master := writeTest(t, 3)

	stdout, _, err := execute(t, context.Background(),
		"conduct", "--dry-run", "-t", "5", "-p", "collect", "--phases", "run", "-w", "db", master)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Would run 5 trial(s) with 1 worker(s)")
	assert.Contains(t, stdout, "Phases: [run collect]")
	assert.Contains(t, stdout, "Workers: db")
}

func TestConductDryRunQuiet(t *testing.T) {
	master := writeTest(t, 1)

	stdout, _, err := execute(t, context.Background(), "conduct", "--dry-run", "-q", master)
	require.NoError(t, err)
	assert.Less(t, len(stdout), 100)
}

func TestConductVerboseLogsDebug(t *testing.T) {
	master := writeTest(t, 1)

	_, stderr, err := execute(t, context.Background(), "conduct", "--dry-run", "-v", master)
	require.NoError(t, err)
	assert.Contains(t, stderr, "DEBUG")
	assert.Contains(t, stderr, "Loading worker web")
}

func TestConductLoadErrors(t *testing.T) {
	dir := t.TempDir()
	invalid := writeFile(t, dir, "invalid.cfg", "This is not a valid INI file\n")
	missingWorker := writeFile(t, dir, "master.cfg", "[Test]\ntrials = 1\n[Workers]\nghost = ghost.cfg\n")
	badTrials := writeFile(t, dir, "trials.cfg", "[Test]\ntrials = zero\n[Workers]\n")

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing master", filepath.Join(dir, "nope.cfg"), "Configuration file not found"},
		{"unparsable master", invalid, "Failed to read configuration"},
		{"missing worker", missingWorker, "Worker config not found"},
		{"bad trials", badTrials, "Failed to read configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, context.Background(), "conduct", tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConductRejectsBadSelections(t *testing.T) {
	master := writeTest(t, 1)

	_, _, err := execute(t, context.Background(), "conduct", "--dry-run", "-p", "teardown", master)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")

	_, _, err = execute(t, context.Background(), "conduct", "--dry-run", "-w", "cache", master)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown worker "cache"`)

	_, _, err = execute(t, context.Background(), "conduct", "--dry-run", "-t", "0", master)
	require.Error(t, err)

	_, _, err = execute(t, context.Background(), "conduct", "-f", "xml", master)
	require.Error(t, err)
}

func TestParsePhases(t *testing.T) {
	phases, err := parsePhases([]string{"Run", " reset "})
	require.NoError(t, err)
	assert.Len(t, phases, 2)

	phases, err = parsePhases([]string{"run", "all"})
	require.NoError(t, err)
	assert.Nil(t, phases)

	phases, err = parsePhases(nil)
	require.NoError(t, err)
	assert.Nil(t, phases)
}

func TestConductAgainstPlayerWritesJSON(t *testing.T) {
	p := player.New(&player.Config{Address: "127.0.0.1:0"})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Stop(context.Background()) })
	cmdPort := p.Addr().(*net.TCPAddr).Port

	dir := t.TempDir()
	writeFile(t, dir, "w1.cfg", workerFile(cmdPort, freePort(t), "echo A", "false"))
	master := writeFile(t, dir, "master.cfg", "[Test]\ntrials = 1\n[Workers]\nw1 = w1.cfg\n")

	stdout, _, err := execute(t, context.Background(), "conduct", "-q", "-f", "json", "-p", "run", master)
	require.NoError(t, err)

	var report file.JSONReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Trials, 1)
	worker := report.Trials[0].Phases["run"].Workers["w1"]
	require.NotNil(t, worker)
	require.Len(t, worker.Results, 2)
	assert.Equal(t, 0, worker.Results[0].Code)
	assert.Equal(t, "A\n", worker.Results[0].Message)
	assert.Equal(t, 1, worker.Results[1].Code)
}

func TestPlayerCommandStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := execute(t, ctx, "player", "-q", "-b", "127.0.0.1", "-p", "0")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("player command did not stop")
	}
}

func TestPlayerCommandMissingFile(t *testing.T) {
	_, _, err := execute(t, context.Background(), "player", filepath.Join(t.TempDir(), "player.cfg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Configuration file not found")
}

func TestPlayerStatusCommand(t *testing.T) {
	p := player.New(&player.Config{ID: "p1", Address: "127.0.0.1:0", StatusAddress: "127.0.0.1:0"})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Stop(context.Background()) })

	stdout, _, err := execute(t, context.Background(), "player", "status", "--address", p.StatusAddr().String())
	require.NoError(t, err)
	assert.Contains(t, stdout, "Player p1")
	assert.Contains(t, stdout, "State:           idle")
	assert.Contains(t, stdout, "Last run at:     never")
}
