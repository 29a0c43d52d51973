package sim

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPump_SetTempBasalOverridesSchedule(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	require.NoError(t, p.SetTempBasal(1.5, 30))

	rate, err := p.CurrentBasalRate()
	require.NoError(t, err)
	assert.Equal(t, 1.5, rate)

	p.Update(testStart.Add(30 * time.Minute))
	rate, err = p.CurrentBasalRate()
	require.NoError(t, err)
	assert.Equal(t, 0.3, rate, "override expires at its commanded end")
	_, active := p.ActiveTempBasal()
	assert.False(t, active)
}

func TestPump_DeactivateThenCurrentBasalReturnsSchedule(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	require.NoError(t, p.SetTempBasal(0, 60))
	p.Update(testStart.Add(10 * time.Minute))
	p.DeactivateTempBasal()

	rate, err := p.CurrentBasalRate()
	require.NoError(t, err)
	assert.Equal(t, 0.3, rate)

	end := p.TempBasalTimeline().WindowedHistory(testStart.Add(time.Hour), 8)[0].End
	assert.Equal(t, testStart.Add(10*time.Minute), end)
}

func TestPump_ZeroZeroCancels(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	require.NoError(t, p.SetTempBasal(2, 30))
	p.Update(testStart.Add(5 * time.Minute))
	require.NoError(t, p.SetTempBasal(0, 0))
	_, active := p.ActiveTempBasal()
	assert.False(t, active)
	assert.Equal(t, 1, p.TempBasalTimeline().Len(), "cancel records no new event")
}

func TestPump_ReplacingOverrideTruncatesPrevious(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	require.NoError(t, p.SetTempBasal(2, 30))
	p.Update(testStart.Add(10 * time.Minute))
	require.NoError(t, p.SetTempBasal(1, 30))

	ledger := p.TempBasalTimeline().Ledger(testStart.Add(time.Hour))
	require.Len(t, ledger, 2)
	assert.True(t, ledger[0].Truncated)
	assert.InDelta(t, 10, ledger[0].DeliveredMinutes, 1e-9)
	assert.False(t, ledger[1].Truncated)
}

func TestPump_InvalidTempBasal(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		duration float64
	}{
		{"negative rate", -0.1, 30},
		{"NaN rate", math.NaN(), 30},
		{"infinite rate", math.Inf(1), 30},
		{"infinite duration", 1, math.Inf(1)},
		{"negative infinite duration", 1, math.Inf(-1)},
		{"NaN duration", 1, math.NaN()},
		{"zero duration", 1, 0},
		{"negative duration", 1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPump(t, testPumpConfig())
			var cmdErr *InvalidCommandError
			require.True(t, errors.As(p.SetTempBasal(tt.rate, tt.duration), &cmdErr))
			assert.Equal(t, testStart, cmdErr.Time)
			assert.Equal(t, 0, p.TempBasalTimeline().Len())
		})
	}
}

func TestPump_OmnipodRoundsDown(t *testing.T) {
	cfg := testPumpConfig()
	cfg.Model = PumpOmnipod
	p := newTestPump(t, cfg)

	delivered := p.DeliverBolus(Bolus{Amount: 1.234})
	assert.InDelta(t, 1.20, delivered.Amount, 1e-9)

	require.NoError(t, p.SetTempBasal(0.15, 30))
	tb, ok := p.ActiveTempBasal()
	require.True(t, ok)
	assert.InDelta(t, 0.15, tb.Rate, 1e-9)
}

func TestPump_InvalidTempBasalKeepsActiveOverride(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	require.NoError(t, p.SetTempBasal(2, 60))

	require.Error(t, p.SetTempBasal(1, math.Inf(1)))

	tb, ok := p.ActiveTempBasal()
	require.True(t, ok)
	assert.Equal(t, 2.0, tb.Rate)
	assert.Equal(t, 1, p.TempBasalTimeline().Len())
}

func TestPump_OmnipodBolusBelowIncrementIsNotRecorded(t *testing.T) {
	cfg := testPumpConfig()
	cfg.Model = PumpOmnipod
	p := newTestPump(t, cfg)

	assert.Equal(t, 0.0, p.Deliverable(0.03))
	delivered := p.DeliverBolus(Bolus{Amount: 0.03})
	assert.Equal(t, 0.0, delivered.Amount)
	assert.Equal(t, 0, p.BolusTimeline().Len())
}

func TestPump_ContinuousDoesNotRound(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	assert.Equal(t, 1.234, p.DeliverBolus(Bolus{Amount: 1.234}).Amount)
}

func TestNewPump_ActivatesRunningOverride(t *testing.T) {
	cfg := testPumpConfig()
	cfg.TempBasalTimeline = NewEventTimeline("temp_basal")
	start := testStart.Add(-10 * time.Minute)
	cfg.TempBasalTimeline.Record(start, TempBasal{Start: start, Rate: 0.8, DurationMinutes: 30})

	p := newTestPump(t, cfg)
	tb, ok := p.ActiveTempBasal()
	require.True(t, ok)
	assert.Equal(t, 0.8, tb.Rate)

	// The caller's timeline is not shared with the pump.
	require.NoError(t, p.SetTempBasal(1, 30))
	assert.Equal(t, 1, cfg.TempBasalTimeline.Len())
}

func TestNewPump_Validation(t *testing.T) {
	cfg := testPumpConfig()
	cfg.Model = "medtronic"
	_, err := NewPump(testStart, cfg)
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	cfg = testPumpConfig()
	cfg.BasalSchedule = nil
	_, err = NewPump(testStart, cfg)
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPump_StateReportsEventsAtCurrentTime(t *testing.T) {
	p := newTestPump(t, testPumpConfig())
	p.DeliverBolus(Bolus{Amount: 1.5})
	p.ReportCarb(Carb{Amount: 30, DurationMinutes: 180})

	st, err := p.State()
	require.NoError(t, err)
	assert.Equal(t, 1.5, st.Bolus)
	assert.Equal(t, 30.0, st.Carb)
	assert.Equal(t, 0.3, st.ScheduledBasalRate)
	assert.Nil(t, st.TempBasal)

	p.Update(testStart.Add(TickDuration))
	st, err = p.State()
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Bolus)
}
