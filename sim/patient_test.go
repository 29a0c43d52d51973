package sim

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPatient_RequiresCollaborators(t *testing.T) {
	pump := newTestPump(t, testPumpConfig())
	sensor := NewIdealSensor(SensorConfig{})
	rng := rand.New(rand.NewSource(1))
	model := &flatModel{}

	tests := []struct {
		name   string
		pump   *Pump
		sensor Sensor
		model  MetabolismModel
		rng    *rand.Rand
		prob   float64
	}{
		{"no pump", nil, sensor, model, rng, 0},
		{"no sensor", pump, nil, model, rng, 0},
		{"no model", pump, sensor, nil, rng, 0},
		{"no rng", pump, sensor, model, nil, 0},
		{"probability above one", pump, sensor, model, rng, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPatient(testStart, tt.pump, tt.sensor, tt.model,
				PatientConfig{InitialGlucose: 110, RecommendationAcceptProb: tt.prob}, tt.rng)
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestPatient_InitSetsSteadyState(t *testing.T) {
	p := newTestPatient(t, patientOptions{})
	require.NoError(t, p.Init())

	st, err := p.State()
	require.NoError(t, err)
	assert.Equal(t, 110.0, st.Glucose)
	assert.Equal(t, 110.0, st.SensorGlucose)
	assert.Equal(t, 0.0, st.InsulinOnBoard)
	assert.Equal(t, 20.0, st.CarbRatio)
	assert.Equal(t, 150.0, st.InsulinSensitivity)
	assert.Equal(t, testStart, p.Prediction()[0].Time)
}

func TestPatient_UpdateFromPredictionAdoptsForecast(t *testing.T) {
	carbs := NewEventTimeline("patient_carb")
	carbs.Record(testStart, Carb{Amount: 30, DurationMinutes: 180})
	p := newTestPatient(t, patientOptions{carbs: carbs})
	require.NoError(t, p.Init())

	next := testStart.Add(TickDuration)
	want, ok := p.Prediction().At(next)
	require.True(t, ok)

	require.NoError(t, p.UpdateFromPrediction(next))
	require.NoError(t, p.Update(next))
	st, err := p.State()
	require.NoError(t, err)
	assert.Equal(t, want.Glucose, st.Glucose)
	assert.Greater(t, st.Glucose, 110.0)
	assert.Equal(t, st.Glucose, st.SensorGlucose)
	assert.Greater(t, st.CarbsOnBoard, 0.0)
	assert.Equal(t, 0.0, st.Carb, "the meal row is t0 only")
}

func TestPatient_UpdateFromPredictionOutsideForecastFails(t *testing.T) {
	p := newTestPatient(t, patientOptions{})
	require.NoError(t, p.Init())
	assert.Error(t, p.UpdateFromPrediction(testStart.Add(7*time.Minute)))
}

func TestPatient_TempBasalBecomesBasalDeviation(t *testing.T) {
	model := &flatModel{}
	p := newTestPatient(t, patientOptions{model: model})
	require.NoError(t, p.Pump().SetTempBasal(0.9, 30))
	require.NoError(t, p.Init())

	req := model.requests[len(model.requests)-1]
	require.Len(t, req.Insulin, 30/TickMinutes)
	total := 0.0
	for _, d := range req.Insulin {
		total += d.Units
	}
	// (0.9 - 0.3) U/hr for half an hour
	assert.InDelta(t, 0.3, total, 1e-9)
}

func TestPatient_AcceptanceIsProbabilistic(t *testing.T) {
	never := newTestPatient(t, patientOptions{acceptProb: 0})
	always := newTestPatient(t, patientOptions{acceptProb: 1})
	for i := 0; i < 50; i++ {
		assert.False(t, never.DoesAcceptRecommendation(Bolus{Amount: 1}))
		assert.True(t, always.DoesAcceptRecommendation(Bolus{Amount: 1}))
	}
}

func TestPatient_CloneIsIndependent(t *testing.T) {
	p := newTestPatient(t, patientOptions{})
	require.NoError(t, p.Init())
	c := p.Clone(NewPartitionedRNG(NewSimulationKey(3)))

	c.RecordBolus(Bolus{Amount: 1})
	require.NoError(t, c.Pump().SetTempBasal(1, 30))

	assert.Equal(t, 0, p.BolusTimeline().Len())
	assert.Equal(t, 0, p.Pump().TempBasalTimeline().Len())
	assert.Equal(t, 1, c.BolusTimeline().Len())
}
