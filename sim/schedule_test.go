package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func halfDaySchedule(t *testing.T) *Schedule[float64] {
	t.Helper()
	s, err := NewSchedule("basal_rate",
		[]time.Duration{0, 12 * time.Hour},
		[]float64{0.3, 0.5},
		[]time.Duration{12 * time.Hour, 12 * time.Hour})
	require.NoError(t, err)
	return s
}

func TestSchedule_FullDayLookup(t *testing.T) {
	s := halfDaySchedule(t)
	require.NoError(t, s.RequireFullDay())

	tests := []struct {
		tod  time.Duration
		want float64
	}{
		{0, 0.3},
		{11*time.Hour + 59*time.Minute, 0.3},
		{12 * time.Hour, 0.5}, // segments are half-open
		{23*time.Hour + 59*time.Minute, 0.5},
		{24 * time.Hour, 0.3}, // wraps to midnight
	}
	for _, tt := range tests {
		got, err := s.ValueAt(tt.tod)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "time of day %s", tt.tod)
	}
}

func TestSchedule_GapLookupFails(t *testing.T) {
	s, err := NewSchedule("carb_ratio",
		[]time.Duration{0, 13 * time.Hour},
		[]float64{10, 12},
		[]time.Duration{12 * time.Hour, 11 * time.Hour})
	require.NoError(t, err)

	var gap *ScheduleGapError
	require.True(t, errors.As(s.RequireFullDay(), &gap))
	assert.Equal(t, 12*time.Hour, gap.TimeOfDay)

	_, err = s.ValueAt(12*time.Hour + 30*time.Minute)
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, "carb_ratio", gap.Schedule)
}

func TestNewSchedule_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name      string
		starts    []time.Duration
		values    []float64
		durations []time.Duration
	}{
		{"length mismatch", []time.Duration{0}, []float64{1, 2}, []time.Duration{Day}},
		{"crosses midnight", []time.Duration{22 * time.Hour}, []float64{1}, []time.Duration{4 * time.Hour}},
		{"zero duration", []time.Duration{0}, []float64{1}, []time.Duration{0}},
		{"overlap", []time.Duration{0, 6 * time.Hour}, []float64{1, 2}, []time.Duration{12 * time.Hour, 6 * time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchedule("x", tt.starts, tt.values, tt.durations)
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestSchedule_AdvanceToAndCurrent(t *testing.T) {
	s := halfDaySchedule(t)
	s.AdvanceTo(time.Date(2019, 8, 15, 6, 0, 0, 0, time.UTC))
	v, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 0.3, v)

	s.AdvanceTo(time.Date(2019, 8, 16, 18, 0, 0, 0, time.UTC))
	v, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestSchedule_LoopInputsColumns(t *testing.T) {
	in := halfDaySchedule(t).LoopInputs()
	assert.Equal(t, []float64{0.3, 0.5}, in.Values)
	assert.Equal(t, []time.Duration{0, 12 * time.Hour}, in.StartTimes)
	assert.Equal(t, []time.Duration{12 * time.Hour, Day}, in.EndTimes)

	v, ok := in.ValueAt(time.Date(2019, 8, 15, 13, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
}

func TestSchedule_CloneIsIndependent(t *testing.T) {
	s := halfDaySchedule(t)
	c := s.Clone()
	s.AdvanceTo(testStart)
	c.AdvanceTo(testStart.Add(-6 * time.Hour))
	a, _ := s.Current()
	b, _ := c.Current()
	assert.Equal(t, 0.5, a)
	assert.Equal(t, 0.3, b)
}
