package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: append_tail
description: "appending needs no order map"
initial:
  - key: a
    text: Alpha
steps:
  - do: insert
    index: 1
    text: Tail
  - do: flush
assertions:
  - type: request_routes
    routes: [save]
  - type: server_order
    keys: [a, p1]
`

const failingScenario = `name: wrong_order
description: "expects an order the run never produces"
initial:
  - key: a
    text: Alpha
  - key: b
    text: Bravo
steps:
  - do: flush
assertions:
  - type: server_order
    keys: [b, a]
`

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func TestTestCommand_Pass(t *testing.T) {
	e := newCLIEnv(t)
	dir := writeScenarios(t, map[string]string{"append_tail.yaml": passingScenario})

	out, err := e.run(t, "test", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ append_tail")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_Failure(t *testing.T) {
	e := newCLIEnv(t)
	dir := writeScenarios(t, map[string]string{
		"append_tail.yaml": passingScenario,
		"wrong_order.yaml": failingScenario,
	})

	out, err := e.run(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "wrong_order", result.Scenarios[1].Name)
	assert.NotEmpty(t, result.Scenarios[1].Errors)
}

func TestTestCommand_Filter(t *testing.T) {
	e := newCLIEnv(t)
	dir := writeScenarios(t, map[string]string{
		"append_tail.yaml": passingScenario,
		"wrong_order.yaml": failingScenario,
	})

	out, err := e.run(t, "test", dir, "--filter", "append_*")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "wrong_order")
}

// TestTestCommand_Golden tests that --update writes golden files and that a
// later run compares against them.
func TestTestCommand_Golden(t *testing.T) {
	e := newCLIEnv(t)
	dir := writeScenarios(t, map[string]string{"append_tail.yaml": passingScenario})

	_, err := e.run(t, "test", dir, "--update")
	require.NoError(t, err)
	goldenPath := filepath.Join(dir, "golden", "append_tail.golden")
	require.FileExists(t, goldenPath)

	_, err = e.run(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err := e.run(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_MissingDir(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
