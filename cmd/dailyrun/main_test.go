package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dailyrun/internal/config"
	"dailyrun/internal/dates"
	"dailyrun/internal/driver"
	"dailyrun/internal/logging"
)

// testEnv is a workspace with a routine script and a config pointing at it.
type testEnv struct {
	dir        string
	configPath string
	historyDB  string
	auditLog   string
}

func newTestEnv(t *testing.T, routineBody string, mutate func(*config.Config)) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	for _, key := range []string{"DAILYRUN_ROUTINE", "DAILYRUN_MODE", "DAILYRUN_HISTORY_DB", "DAILYRUN_AUDIT_LOG", "DAILYRUN_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Cleanup(logging.Reset)

	dir := t.TempDir()
	routine := filepath.Join(dir, "run_day.sh")
	if err := os.WriteFile(routine, []byte("#!/bin/sh\n"+routineBody), 0755); err != nil {
		t.Fatalf("write routine: %v", err)
	}

	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "dailyrun.yaml"),
		historyDB:  filepath.Join(dir, "state", "history.db"),
		auditLog:   filepath.Join(dir, "state", "audit.jsonl"),
	}

	cfg := config.DefaultConfig()
	cfg.Routine = routine
	cfg.History.Enabled = true
	cfg.History.DatabasePath = env.historyDB
	cfg.Audit.Path = env.auditLog
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Save(env.configPath); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return env
}

func (e *testEnv) execute(args ...string) (string, string, error) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func expectedProtocol(line func(date string) string) string {
	var sb strings.Builder
	for _, d := range dates.Runnable() {
		sb.WriteString(d.String() + "\n")
		sb.WriteString(line(d.String()))
		sb.WriteString(driver.Separator)
	}
	return sb.String()
}

func TestRootCmd_RunsAllDates(t *testing.T) {
	env := newTestEnv(t, `echo "$1|$2|$3"`+"\n", nil)

	stdout, _, err := env.execute("cid1", "pw1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := expectedProtocol(func(d string) string { return "cid1|" + d + "|pw1\n" })
	if stdout != want {
		t.Fatalf("stdout mismatch\nwant:\n%q\ngot:\n%q", want, stdout)
	}
}

func TestRootCmd_ByteIdenticalRuns(t *testing.T) {
	env := newTestEnv(t, `echo "day $2"`+"\n", nil)

	first, _, err := env.execute("cid1", "pw1")
	require.NoError(t, err)
	second, _, err := env.execute("cid1", "pw1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRootCmd_FailingRoutineExitsZero(t *testing.T) {
	env := newTestEnv(t, "echo boom >&2\nexit 9\n", nil)

	stdout, stderr, err := env.execute("cid1", "pw1")
	require.NoError(t, err)

	assert.Equal(t, dates.RunCount, strings.Count(stdout, driver.Separator))
	assert.Equal(t, dates.RunCount, strings.Count(stderr, "boom"))
}

func TestRootCmd_MissingArgumentsPassedEmpty(t *testing.T) {
	env := newTestEnv(t, `echo "[$#][$1][$3]"`+"\n", nil)

	stdout, _, err := env.execute()
	require.NoError(t, err)

	want := expectedProtocol(func(string) string { return "[3][][]\n" })
	assert.Equal(t, want, stdout)
}

func TestRootCmd_ExtraArgsIgnored(t *testing.T) {
	env := newTestEnv(t, `echo "[$#][$1][$3]"`+"\n", nil)

	stdout, _, err := env.execute("a", "b", "c")
	require.NoError(t, err)

	want := expectedProtocol(func(string) string { return "[3][a][b]\n" })
	assert.Equal(t, want, stdout)
}

func TestRootCmd_CredentialStartingWithDash(t *testing.T) {
	env := newTestEnv(t, `echo "$1|$3"`+"\n", nil)

	stdout, _, err := env.execute("cid1", "-pw1")
	require.NoError(t, err)

	want := expectedProtocol(func(string) string { return "cid1|-pw1\n" })
	assert.Equal(t, want, stdout)

	// Flag-like words after the container id are arguments too.
	stdout, _, err = env.execute("cid1", "--summary")
	require.NoError(t, err)
	want = expectedProtocol(func(string) string { return "cid1|--summary\n" })
	assert.Equal(t, want, stdout)
}

func TestRootCmd_RoutineSeesHostEnvironment(t *testing.T) {
	env := newTestEnv(t, `echo "$DOCKER_HOST|$CONDA_PREFIX"`+"\n", nil)
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:2375")
	t.Setenv("CONDA_PREFIX", "/opt/conda/envs/sim")

	stdout, _, err := env.execute("cid1", "pw1")
	require.NoError(t, err)

	want := expectedProtocol(func(string) string { return "tcp://127.0.0.1:2375|/opt/conda/envs/sim\n" })
	assert.Equal(t, want, stdout)
}

func TestRootCmd_BackgroundHelpersDoNotStallTheLoop(t *testing.T) {
	env := newTestEnv(t, "echo \"day $2\"\nsleep 3 &\nexit 0\n", nil)

	start := time.Now()
	stdout, _, err := env.execute("cid1", "pw1")
	elapsed := time.Since(start)
	require.NoError(t, err)

	want := expectedProtocol(func(d string) string { return "day " + d + "\n" })
	assert.Equal(t, want, stdout)
	assert.Less(t, elapsed, 20*time.Second, "each iteration waited for its background helper")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", nil)
	require.NoError(t, os.WriteFile(env.configPath, []byte("execution:\n  mode: vm\n"), 0644))

	stdout, _, err := env.execute("cid1", "pw1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid execution mode")
	assert.Empty(t, stdout)
}

func TestRootCmd_HistoryAndSummary(t *testing.T) {
	env := newTestEnv(t, `[ "$2" = "20191205" ] && exit 1`+"\nexit 0\n", nil)

	_, stderr, err := env.execute("--summary", "cid1", "pw1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "22 iterations, 1 failed")
	assert.Contains(t, stderr, "exit 1")

	stdout, _, err := env.execute("--history", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Recent runs")
	assert.Contains(t, stdout, "cid1")
	assert.NotContains(t, stdout, "pw1")
	assert.NotContains(t, stdout, driver.Separator, "--history must not run the loop")
}

func TestRootCmd_HistoryEmpty(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", nil)

	stdout, _, err := env.execute("--history", "3")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", stdout)
}

func TestRootCmd_AuditTrailRedactsCredential(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", func(c *config.Config) {
		c.Audit.Enabled = true
	})

	_, _, err := env.execute("cid1", "s3cr3t-token")
	require.NoError(t, err)

	data, err := os.ReadFile(env.auditLog)
	require.NoError(t, err)
	assert.Equal(t, 2*dates.RunCount, bytes.Count(data, []byte("\n")))
	assert.NotContains(t, string(data), "s3cr3t-token")
	assert.Contains(t, string(data), "20191222")
}

func TestRootCmd_HistoryDisabled(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", func(c *config.Config) {
		c.History.Enabled = false
	})

	_, _, err := env.execute("cid1", "pw1")
	require.NoError(t, err)

	_, err = os.Stat(env.historyDB)
	assert.True(t, errors.Is(err, os.ErrNotExist), "history database must not be created")
}

func TestRootCmd_HistoryOffByDefault(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", nil)
	routine := filepath.Join(env.dir, "run_day.sh")
	content := "routine: " + routine + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0644))
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(env.dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, _, err := env.execute("cid1", "pw1")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(env.dir, ".dailyrun"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "no state directory without history enabled")
}

func TestRootCmd_InitConfig(t *testing.T) {
	env := newTestEnv(t, "exit 0\n", nil)
	path := filepath.Join(env.dir, "fresh", "dailyrun.yaml")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--init-config"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, config.DefaultConfig().Routine, cfg.Routine)

	// A second init refuses to overwrite.
	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--init-config"})
	assert.Error(t, cmd.Execute())
}

func TestPositional(t *testing.T) {
	tests := []struct {
		args       []string
		container  string
		credential string
	}{
		{nil, "", ""},
		{[]string{"cid"}, "cid", ""},
		{[]string{"cid", "pw"}, "cid", "pw"},
		{[]string{"cid", "-pw", "extra"}, "cid", "-pw"},
	}
	for _, tt := range tests {
		c, p := positional(tt.args)
		if c != tt.container || p != tt.credential {
			t.Errorf("positional(%v) = (%q, %q)", tt.args, c, p)
		}
	}
}

func TestExecutorConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Execution.Timeout = "90s"

	ec := executorConfig(cfg)
	assert.Equal(t, ".", ec.DefaultWorkingDir)
	assert.Equal(t, "1m30s", ec.DefaultTimeout.String())
	assert.True(t, ec.InheritEnvironment)
	assert.Equal(t, cfg.Execution.AllowedEnvVars, ec.AllowedEnvironment)
	assert.Equal(t, 100*time.Millisecond, ec.WaitDelay)
	assert.Equal(t, int64(1024*1024), ec.MaxOutputBytes)
}
