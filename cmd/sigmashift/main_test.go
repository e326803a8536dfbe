package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command in-process with an isolated home directory
func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestCLI_DefaultSearch(t *testing.T) {
	// Given no configuration at all
	isolate(t)

	// When running the root command
	stdout, stderr, err := execute(t, context.Background(), "--no-cache", "--interval", "0.5")

	// Then the default wan22 split is printed at shift 7
	require.NoError(t, err)
	assert.Contains(t, stdout, "shift: 7.00\n")
	assert.Contains(t, stdout, "steps_high: 4\n")
	assert.Contains(t, stdout, "sigmas_high: [1.0000, ")
	assert.Contains(t, stderr, "[sigmashift] shift: 7.00")
	assert.Contains(t, stderr, "stop: accepted")
}

func TestCLI_JSONOutputAndQuiet(t *testing.T) {
	isolate(t)

	stdout, stderr, err := execute(t, context.Background(),
		"--no-cache", "--interval", "0.5", "--format", "json", "-q")

	require.NoError(t, err)
	assert.Empty(t, stderr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Equal(t, 7.0, decoded["shift"])
	assert.Len(t, decoded["sigmas"], 9)
	assert.Len(t, decoded["sigmas_low"], 5)
}

func TestCLI_EnvironmentOverridesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("SIGMASHIFT_FORMAT", "json")

	stdout, _, err := execute(t, context.Background(), "--no-cache", "--interval", "0.5", "-q")

	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)), "expected JSON output, got %q", stdout)
}

func TestCLI_ConfigFile(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("steps_high = 2\nsteps_low = 6\ninterval = 0.5\n"), 0644))

	// Flags still win over the file
	stdout, _, err := execute(t, context.Background(),
		"--config", configPath, "--no-cache", "--steps-low", "3", "-q")

	require.NoError(t, err)
	assert.Contains(t, stdout, "steps_high: 2\n")
	assert.Contains(t, stdout, "steps_low: 3\n")
}

func TestCLI_InvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"steps out of range", []string{"--steps-high", "100"}, "steps_high"},
		{"zero denoise", []string{"--denoise", "0"}, "denoise"},
		{"shift-insensitive scheduler", []string{"--scheduler", "karras"}, "cannot be searched"},
		{"unknown model", []string{"--model", "nope"}, "nope"},
		{"bad format", []string{"--format", "yaml"}, "format"},
		{"positional args", []string{"extra"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			args := append([]string{"--no-cache"}, tt.args...)

			_, _, err := execute(t, context.Background(), args...)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCLI_CacheAndHistory(t *testing.T) {
	// Given a cache file
	isolate(t)
	cache := filepath.Join(t.TempDir(), "history.db")
	args := []string{"--cache", cache, "--interval", "0.5"}

	// When the same search runs twice
	_, first, err := execute(t, context.Background(), args...)
	require.NoError(t, err)
	_, second, err := execute(t, context.Background(), args...)
	require.NoError(t, err)

	// Then the second one is served from the cache
	assert.NotContains(t, first, "cached result")
	assert.Contains(t, second, "cached result")

	// And history lists it with one hit
	stdout, _, err := execute(t, context.Background(), "history", "--cache", cache, "--format", "json")
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "wan22", entries[0]["model"])
	assert.Equal(t, 1.0, entries[0]["hits"])

	stdout, _, err = execute(t, context.Background(), "history", "--cache", cache, "--stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "entries: 1")

	stdout, _, err = execute(t, context.Background(), "history", "--cache", cache, "--clear-older=-1h")
	require.NoError(t, err)
	assert.Contains(t, stdout, "removed 1 cached results")

	stdout, _, err = execute(t, context.Background(), "history", "--cache", cache)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No cached results.")
}

func TestCLI_Schedulers(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, context.Background(), "schedulers")

	require.NoError(t, err)
	assert.Contains(t, stdout, "SCHEDULER")
	assert.Regexp(t, `simple\s+yes`, stdout)
	assert.Regexp(t, `karras\s+no \(ignores shift\)`, stdout)
}

func TestCLI_Sigmas(t *testing.T) {
	isolate(t)

	// Shift-insensitive schedulers are allowed when no search runs
	stdout, _, err := execute(t, context.Background(), "sigmas", "karras", "--shift", "1", "--steps", "4", "-f", "json")
	require.NoError(t, err)
	var sigmas []float64
	require.NoError(t, json.Unmarshal([]byte(stdout), &sigmas))
	assert.Len(t, sigmas, 5)
	assert.Equal(t, 0.0, sigmas[4])

	stdout, _, err = execute(t, context.Background(), "sigmas", "--shift", "7")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0.8750")

	_, _, err = execute(t, context.Background(), "sigmas")
	assert.ErrorContains(t, err, "--shift is required")

	_, _, err = execute(t, context.Background(), "sigmas", "bogus", "--shift", "1")
	assert.Error(t, err)
}

func TestCLI_Sweep(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, context.Background(),
		"sweep", "simple", "beta", "karras", "--interval", "0.5", "-f", "json", "-q")

	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "simple", rows[0]["scheduler"])
	assert.NotNil(t, rows[0]["result"])
	assert.Equal(t, "beta", rows[1]["scheduler"])
	assert.Equal(t, "karras", rows[2]["scheduler"])
	assert.NotEmpty(t, rows[2]["error"])
}

func TestCLI_Plot(t *testing.T) {
	isolate(t)
	output := filepath.Join(t.TempDir(), "split.png")

	stdout, _, err := execute(t, context.Background(), "plot", "-o", output, "--no-cache", "--interval", "0.5", "-q")

	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+output)
	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	_, _, err = execute(t, context.Background(), "plot", "--no-cache")
	assert.ErrorContains(t, err, "--output is required")
}

func TestCLI_ServeAndQuery(t *testing.T) {
	// Given a daemon serving on a temporary socket
	isolate(t)
	dir := t.TempDir()
	socket := filepath.Join(dir, "d.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := execute(t, ctx, "serve", "--socket", socket, "--no-cache",
			"--interval", "0.5", "--rate-limit", "100", "--pid-file", filepath.Join(dir, "d.pid"))
		done <- err
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// When querying it
	stdout, stderr, err := execute(t, context.Background(), "query", "--socket", socket, "--interval", "0.5")

	// Then the daemon answers with the same split as a local search
	require.NoError(t, err)
	assert.Contains(t, stdout, "shift: 7.00\n")
	assert.Contains(t, stderr, "wan22:")

	// And a query without search flags takes the daemon's interval
	stdout, _, err = execute(t, context.Background(), "query", "--socket", socket, "-f", "json", "-q")
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Equal(t, 7.0, decoded["shift"])
	assert.Equal(t, 15.0, decoded["iterations"])

	stdout, _, err = execute(t, context.Background(), "query", "--socket", socket, "--schedulers")
	require.NoError(t, err)
	assert.Contains(t, stdout, "beta")

	// And its stats count the search
	stdout, _, err = execute(t, context.Background(), "query", "--socket", socket, "--stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "searches: 2 (cached 0, failed 0)")
	assert.Regexp(t, `wan22\s+simple\s+2\s+0\s+7\.00`, stdout)
}

func TestCLI_QueryWithoutDaemon(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, context.Background(), "query", "--socket", filepath.Join(t.TempDir(), "none.sock"))

	assert.ErrorContains(t, err, "failed to connect to daemon")
}
