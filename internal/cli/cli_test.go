package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a sqlite-backed store definition into a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := fmt.Sprintf(`store: {
	storage_id:   "prefs"
	exclude_keys: ["session"]
	initial: {
		theme:   "light"
		volume:  3
		muted:   false
		session: "local"
	}
}

backend: {
	kind:          "sqlite"
	path:          %q
	poll_interval: "20ms"
}
`, filepath.Join(dir, "prefs.db"))
	path := filepath.Join(dir, "store.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "ripple", cmd.Use)

	for _, name := range []string{"get", "set", "toggle", "watch", "clear", "scenario"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
	assert.Equal(t, DefaultConfig, cmd.PersistentFlags().Lookup("config").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, context.Background(), "--config", writeConfig(t), "--format", "xml", "get")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGet_Initial(t *testing.T) {
	out, err := execute(t, context.Background(), "--config", writeConfig(t), "get")
	require.NoError(t, err)
	assert.Equal(t, "muted=false\nsession=\"local\"\ntheme=\"light\"\nvolume=3\n", out)
}

func TestSet_PersistsAcrossInvocations(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()

	_, err := execute(t, ctx, "--config", cfg, "set", "theme=dark", "volume=7", "session=remote")
	require.NoError(t, err)

	out, err := execute(t, ctx, "--config", cfg, "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "\"dark\"\n", out)

	out, err = execute(t, ctx, "--config", cfg, "--format", "json", "get")
	require.NoError(t, err)

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{
		"theme":   "dark",
		"volume":  7.0,
		"muted":   false,
		"session": "local", // excluded from persistence
	}, resp.Data)
}

func TestSet_InvalidArgument(t *testing.T) {
	out, err := execute(t, context.Background(), "--config", writeConfig(t), "set", "novalue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestToggle(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()

	out, err := execute(t, ctx, "--config", cfg, "toggle", "muted")
	require.NoError(t, err)
	assert.Contains(t, out, "muted=true\n")

	out, err = execute(t, ctx, "--config", cfg, "toggle", "theme")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E301]: NOT_BOOLEAN")
}

func TestClear(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()

	_, err := execute(t, ctx, "--config", cfg, "set", "theme=dark")
	require.NoError(t, err)

	out, err := execute(t, ctx, "--config", cfg, "clear")
	require.NoError(t, err)
	assert.Equal(t, "cleared prefs\n", out)

	out, err = execute(t, ctx, "--config", cfg, "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "\"light\"\n", out)
}

func TestMissingConfig(t *testing.T) {
	out, err := execute(t, context.Background(), "--config", filepath.Join(t.TempDir(), "nope.cue"), "get")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
}

func TestWatch_InitialState(t *testing.T) {
	out, err := execute(t, context.Background(), "--config", writeConfig(t), "watch", "--count", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"muted":false,"session":"local","theme":"light","volume":3}`, strings.TrimSpace(out))
}

func TestWatch_SeesOtherProcesses(t *testing.T) {
	cfg := writeConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type watchResult struct {
		out string
		err error
	}
	done := make(chan watchResult, 1)
	go func() {
		out, err := execute(t, ctx, "--config", cfg, "watch", "--keys", "volume", "--count", "2")
		done <- watchResult{out, err}
	}()

	// Keep writing until the watcher has seen a change; it may not be
	// subscribed yet when the first writes land.
	var res watchResult
	for i := 10; ; i++ {
		_, err := execute(t, ctx, "--config", cfg, "set", fmt.Sprintf("volume=%d", i))
		require.NoError(t, err)

		select {
		case res = <-done:
		case <-time.After(100 * time.Millisecond):
			continue
		}
		break
	}

	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.out), "\n")
	require.Len(t, lines, 2)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.GreaterOrEqual(t, last["volume"], 10.0)
}

func TestScenario(t *testing.T) {
	out, err := execute(t, context.Background(), "scenario", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ coalescing")
	assert.Contains(t, out, "0 failed")
}

func TestScenario_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad
description: wrong final state
initial: {n: 0}
steps:
  - set: {n: 1}
assertions:
  - type: final_state
    expect: {n: 2}
`), 0o644))

	out, err := execute(t, context.Background(), "--format", "json", "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data ScenarioReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, "bad", resp.Data.Scenarios[0].Name)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"n=3", "name=ada", `tags=["a"]`, "empty=", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":     3.0,
		"name":  "ada",
		"tags":  []any{"a"},
		"empty": "",
		"eq":    "a=b",
	}, got)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
}
