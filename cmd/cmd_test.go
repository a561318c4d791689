package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := execute(t, "classify", "-c", "", "--bus", "07:48", "--target", "08:00", "--type", "rail", "--scenario", "arrive_before", "--priority", "8")
	require.NoError(t, err)
	assert.Equal(t, "ideal gap +12.0 min score 0.80\n", out)
}

func TestClassifyCommandRejectsUnknownType(t *testing.T) {
	_, err := execute(t, "classify", "-c", "", "--bus", "07:48", "--target", "08:00", "--type", "ferry", "--scenario", "arrive_before", "--priority", "8")
	assert.ErrorContains(t, err, "unknown connection type")
}

func TestOptimizeAnalyzeAndHistory(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "connopt.yaml")
	runs := filepath.Join(dir, "runs.jsonl")
	require.NoError(t, os.WriteFile(cfgFile, []byte("run_log:\n  backend: jsonl\n  path: "+runs+"\n"), 0o644))
	result := filepath.Join(dir, "result.json")
	prom := filepath.Join(dir, "connopt.prom")

	out, err := execute(t, "optimize", "-c", cfgFile, "-s", "testdata/route-26.yaml", "-o", result, "--metrics-textfile", prom)
	require.NoError(t, err, out)
	assert.Contains(t, out, "score        0.700 -> 1.000")
	assert.Contains(t, out, "central-start")
	assert.Contains(t, out, "move         align trip 3 with central-start +8.0 min")

	data, err := os.ReadFile(result)
	require.NoError(t, err)
	var res struct {
		Success bool    `json:"success"`
		Score   float64 `json:"score"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Success)
	assert.InDelta(t, 1.0, res.Score, 1e-9)

	metrics, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "connopt_optimization_runs_total")

	out, err = execute(t, "analyze", "-c", cfgFile, "-s", "testdata/route-26.yaml", "--json=false")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "connections 1, served 1 (100.0%)"), out)

	out, err = execute(t, "history", "-c", cfgFile, "--schedule", "route-26", "--failed=false", "--connection", "", "--since", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "route-26")
	assert.Contains(t, out, "completed")
}

func TestOptimizeCommandMissingScenario(t *testing.T) {
	_, err := execute(t, "optimize", "-c", "", "-s", filepath.Join(t.TempDir(), "missing.yaml"), "-o", "", "--metrics-textfile", "")
	assert.Error(t, err)
}
