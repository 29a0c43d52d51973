package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mealScenario = "../testdata/scenarios/meal_with_bolus.yaml"
	loopScenario = "../testdata/scenarios/loop_intermittent.yaml"
)

func TestRunScenario_WritesCSVAndPrintsMetrics(t *testing.T) {
	// GIVEN an 8 hour scenario and a CSV results path
	out := filepath.Join(t.TempDir(), "results.csv")
	var buf bytes.Buffer

	// WHEN the scenario is run
	err := runScenario(runOptions{ScenarioPath: mealScenario, ResultsPath: out}, &buf)
	require.NoError(t, err)

	// THEN one CSV line per tick plus t0 follows the header
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1+8*12+1)
	assert.True(t, strings.HasPrefix(lines[0], "time,bg,bg_sensor,iob,cob,temp_basal"))

	// AND the metrics are printed
	assert.Contains(t, buf.String(), "Scenario: meal-with-bolus (seed 1)")
	assert.Contains(t, buf.String(), "=== Simulation Metrics ===")
	assert.NotContains(t, buf.String(), "Decision Trace", "trace is off in this scenario")
}

func TestRunScenario_JSONByExtension(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.json")
	err := runScenario(runOptions{ScenarioPath: mealScenario, ResultsPath: out, DurationHours: 1}, &bytes.Buffer{})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, 13)
	assert.Nil(t, rows[0]["temp_basal"], "no override is active without a controller")
	assert.Equal(t, 1.5, rows[0]["bolus"])
}

func TestRunScenario_SeedOverrideIsReproducible(t *testing.T) {
	// GIVEN a noisy intermittently connected scenario
	dir := t.TempDir()
	run := func(name string, seed int64) []byte {
		path := filepath.Join(dir, name)
		opts := runOptions{ScenarioPath: loopScenario, Seed: seed, SeedSet: true, DurationHours: 2, ResultsPath: path}
		require.NoError(t, runScenario(opts, &bytes.Buffer{}))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}

	// WHEN it is run twice with one seed and once with another
	a := run("a.csv", 7)
	b := run("b.csv", 7)
	c := run("c.csv", 8)

	// THEN equal seeds give identical tables and a new seed changes them
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRunScenario_TraceSummaryPrinted(t *testing.T) {
	var buf bytes.Buffer
	err := runScenario(runOptions{ScenarioPath: loopScenario, DurationHours: 1}, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "=== Decision Trace ===")
	assert.Contains(t, buf.String(), "Decisions            : 13")
}

func TestRunScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts runOptions
		want string
	}{
		{"missing file", runOptions{ScenarioPath: "does-not-exist.yaml"}, "reading scenario"},
		{"bad trace level", runOptions{ScenarioPath: mealScenario, TraceLevel: "verbose"}, "unknown trace level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := runScenario(tc.opts, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRunSweep_PrintsEveryRunAndSummary(t *testing.T) {
	var buf bytes.Buffer
	opts := sweepOptions{ScenarioPaths: []string{mealScenario}, Runs: 3, Workers: 2, DurationHours: 2}
	require.NoError(t, runSweep(context.Background(), opts, &buf))

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "meal-with-bolus"))
	assert.Contains(t, out, "=== Sweep Summary ===")
	assert.Contains(t, out, "Runs (failed)        : 3 (0)")
}

func TestRunSweep_RejectsNonPositiveRuns(t *testing.T) {
	err := runSweep(context.Background(), sweepOptions{ScenarioPaths: []string{mealScenario}}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runs must be positive")
}

func TestValidateScenarios(t *testing.T) {
	// GIVEN the shipped scenarios and one with an unknown field
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: \"1\"\nname: x\nbogus_field: 1\n"), 0o644))

	var buf bytes.Buffer
	failed := validateScenarios([]string{mealScenario, loopScenario, bad}, &buf)

	// THEN only the bad file is reported
	assert.Equal(t, 1, failed)
	assert.Contains(t, buf.String(), mealScenario+": ok")
	assert.Contains(t, buf.String(), loopScenario+": ok")
	assert.Contains(t, buf.String(), bad+": INVALID")
}
