package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStart is noon so constant and half-day schedules are easy to reason about.
var testStart = time.Date(2019, 8, 15, 12, 0, 0, 0, time.UTC)

func testPumpConfig() PumpConfig {
	return PumpConfig{
		Model:               PumpContinuous,
		BasalSchedule:       ConstantSchedule("basal_rate", 0.3),
		CarbRatioSchedule:   ConstantSchedule("carb_ratio", 20.0),
		SensitivitySchedule: ConstantSchedule("insulin_sensitivity", 150.0),
		TargetRangeSchedule: ConstantSchedule("target_range", TargetRange{Min: 100, Max: 120}),
	}
}

func newTestPump(t *testing.T, cfg PumpConfig) *Pump {
	t.Helper()
	p, err := NewPump(testStart, cfg)
	require.NoError(t, err)
	return p
}

// flatHistory is a steady sensor history ending at testStart.
func flatHistory(glucose float64, hours int) GlucoseTrace {
	n := hours*60/TickMinutes + 1
	times := make([]time.Time, n)
	values := make([]float64, n)
	for i := range times {
		times[i] = testStart.Add(-time.Duration(n-1-i) * TickDuration)
		values[i] = glucose
	}
	return NewGlucoseTrace(times, values)
}

func simpleModel(t *testing.T) MetabolismModel {
	t.Helper()
	m, err := NewMetabolismModel("simple", nil)
	require.NoError(t, err)
	return m
}

// flatModel forecasts a constant glucose and records every request.
type flatModel struct {
	requests []ForecastRequest
}

func (m *flatModel) Forecast(req ForecastRequest) (Trajectory, error) {
	m.requests = append(m.requests, req)
	steps := req.HorizonMinutes / TickMinutes
	traj := make(Trajectory, steps+1)
	for i := range traj {
		traj[i] = ForecastPoint{Time: req.Time.Add(time.Duration(i) * TickDuration), Glucose: req.Glucose}
	}
	return traj, nil
}

type patientOptions struct {
	pump       PumpConfig
	model      MetabolismModel
	sensor     Sensor
	acceptProb float64
	boluses    *EventTimeline
	carbs      *EventTimeline
	meals      []MealConfig
}

func newTestPatient(t *testing.T, opts patientOptions) *Patient {
	t.Helper()
	if opts.pump.BasalSchedule == nil {
		opts.pump = testPumpConfig()
	}
	if opts.model == nil {
		opts.model = simpleModel(t)
	}
	if opts.sensor == nil {
		opts.sensor = NewIdealSensor(SensorConfig{History: flatHistory(110, 3)})
	}
	p, err := NewPatient(testStart, newTestPump(t, opts.pump), opts.sensor, opts.model, PatientConfig{
		InitialGlucose:           110,
		RecommendationAcceptProb: opts.acceptProb,
		BolusTimeline:            opts.boluses,
		CarbTimeline:             opts.carbs,
		Meals:                    opts.meals,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return p
}

// scriptedDecider returns the same record every tick and counts calls.
type scriptedDecider struct {
	rec    Recommendation
	calls  int
	inputs []LoopInputs
}

func (d *scriptedDecider) Decide(in LoopInputs) (Recommendation, error) {
	d.calls++
	d.inputs = append(d.inputs, in)
	return d.rec.Clone(), nil
}

func noRecommendation() Recommendation {
	return Recommendation{RecommendedBolusKey: nil, RecommendedTempBasalKey: nil}
}
