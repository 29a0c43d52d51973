package sweep

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/internal/testutil"
	"github.com/loop-sim/loop-sim/sim/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadBundle(t *testing.T, name string) *scenario.Bundle {
	t.Helper()
	s, err := scenario.Load(testutil.TestdataPath(t, "scenarios", name))
	require.NoError(t, err)
	s.DurationHours = 2
	b, err := s.Build()
	require.NoError(t, err)
	return b
}

func csvBytes(t *testing.T, r *sim.Results) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))
	return buf.Bytes()
}

func TestPlan_DeterministicSeeds(t *testing.T) {
	b := &scenario.Bundle{Name: "x"}
	a := Plan([]*scenario.Bundle{b, b}, 3, 7)
	c := Plan([]*scenario.Bundle{b, b}, 3, 7)
	require.Len(t, a, 6)
	seen := map[int64]bool{}
	for i := range a {
		assert.Equal(t, i, a[i].Index)
		assert.Equal(t, a[i].Seed, c[i].Seed)
		seen[a[i].Seed] = true
	}
	assert.Len(t, seen, 6, "every run gets its own seed")
}

func TestExecute_OneResultPerJobInOrder(t *testing.T) {
	jobs := Plan([]*scenario.Bundle{loadBundle(t, "loop_intermittent.yaml")}, 6, 1)
	results, err := Execute(context.Background(), jobs, Config{Workers: 3})
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	ids := map[string]bool{}
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, jobs[i].Index, r.Index)
		assert.Equal(t, jobs[i].Seed, r.Seed)
		assert.Equal(t, 2*60/sim.TickMinutes+1, r.Results.Len())
		assert.NotNil(t, r.Metrics)
		assert.NotNil(t, r.Trace)
		ids[r.RunID.String()] = true
	}
	assert.Len(t, ids, len(jobs))
}

func TestExecute_ConcurrencyDoesNotChangeResults(t *testing.T) {
	b := loadBundle(t, "loop_intermittent.yaml")
	jobs := Plan([]*scenario.Bundle{b}, 4, 99)

	serial, err := Execute(context.Background(), jobs, Config{Workers: 1})
	require.NoError(t, err)
	parallel, err := Execute(context.Background(), jobs, Config{Workers: 4})
	require.NoError(t, err)

	for i := range jobs {
		assert.Equal(t, csvBytes(t, serial[i].Results), csvBytes(t, parallel[i].Results), "job %d", i)
	}
}

func TestExecute_FailureIsReported(t *testing.T) {
	good := loadBundle(t, "meal_with_bolus.yaml")
	bad := loadBundle(t, "meal_with_bolus.yaml")
	bad.Config.DurationHours = 0

	jobs := Plan([]*scenario.Bundle{good, bad, good}, 1, 1)
	results, err := Execute(context.Background(), jobs, Config{Workers: 2})
	require.Error(t, err)
	var cfgErr *sim.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err, "other runs are unaffected")
}

func TestSummarize(t *testing.T) {
	jobs := Plan([]*scenario.Bundle{loadBundle(t, "meal_with_bolus.yaml")}, 3, 5)
	results, err := Execute(context.Background(), jobs, Config{Workers: 2})
	require.NoError(t, err)
	results = append(results, Result{Err: errors.New("boom")})

	s := Summarize(results)
	assert.Equal(t, 4, s.Runs)
	assert.Equal(t, 1, s.Failed)
	// Ideal sensor, no controller: every run is the same.
	assert.InDelta(t, 0, s.MeanBGStdDev, 1e-9)
	assert.Equal(t, results[0].Metrics.True.TimeInRange, s.WorstTIR)

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "Runs (failed)        : 4 (1)")
}

func TestSummarize_AllFailed(t *testing.T) {
	s := Summarize([]Result{{Err: errors.New("boom")}})
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 0.0, s.MeanBG)
}
