package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := Load(testutil.TestdataPath(t, "scenarios", name))
	require.NoError(t, err)
	return s
}

func TestLoad_MealWithBolus(t *testing.T) {
	s := loadTestScenario(t, "meal_with_bolus.yaml")
	require.NoError(t, s.Validate())

	assert.Equal(t, "meal-with-bolus", s.Name)
	assert.Equal(t, time.Date(2019, 8, 15, 12, 0, 0, 0, time.UTC), s.Start.UTC())
	assert.Equal(t, 8.0, s.DurationHours)
	assert.Equal(t, sim.TargetRange{Min: 100, Max: 120}, s.Pump.TargetRange[0].Value)
	assert.Len(t, s.Patient.Events, 2)
	assert.Equal(t, sim.ControllerDoNothing, s.Controller.Type)
}

func TestLoad_Defaults(t *testing.T) {
	s := loadTestScenario(t, "loop_intermittent.yaml")
	assert.Equal(t, "temp-basal", s.Controller.Decider)
	require.NotNil(t, s.Controller.ConnectProb)
	assert.Equal(t, 0.8, *s.Controller.ConnectProb)
	assert.Equal(t, 3, s.Controller.Settings["max_basal_rate"])

	minimal, err := Parse([]byte("start: 2019-08-15T12:00:00Z\nduration_hours: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "1", minimal.Version)
	assert.Equal(t, sim.PumpContinuous, minimal.Pump.Model)
	assert.Equal(t, sim.SensorIdeal, minimal.Sensor.Type)
	assert.Equal(t, "simple", minimal.Patient.Model.Name)
	assert.Equal(t, sim.ControllerDoNothing, minimal.Controller.Type)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	data := testutil.ReadTestdata(t, "scenarios", "meal_with_bolus.yaml")
	typo := strings.Replace(string(data), "initial_glucose", "initial_glucos", 1)
	_, err := Parse([]byte(typo))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantMsg string
	}{
		{"zero duration", func(s *Scenario) { s.DurationHours = 0 }, "duration_hours"},
		{"no start", func(s *Scenario) { s.Start = time.Time{} }, "start"},
		{"bad trace level", func(s *Scenario) { s.TraceLevel = "verbose" }, "trace_level"},
		{"bad pump model", func(s *Scenario) { s.Pump.Model = "medtronic" }, "pump"},
		{"no basal", func(s *Scenario) { s.Pump.BasalRate = nil }, "pump.basal_rate"},
		{"zero carb ratio", func(s *Scenario) { s.Pump.CarbRatio[0].Value = 0 }, "pump.carb_ratio[0].value"},
		{"bad start", func(s *Scenario) { s.Pump.InsulinSensitivity[0].Start = "25:00" }, "pump.insulin_sensitivity[0].start"},
		{"inverted target", func(s *Scenario) { s.Pump.TargetRange[0].Value = sim.TargetRange{Min: 120, Max: 100} }, "pump.target_range[0].value"},
		{"unknown event", func(s *Scenario) { s.Pump.Events[0].Type = "exercise" }, "pump.events[0]"},
		{"bad sensor", func(s *Scenario) { s.Sensor.Type = "dexcom" }, "sensor"},
		{"probability", func(s *Scenario) { s.Patient.RecommendationAcceptProb = 2 }, "recommendation_accept_prob"},
		{"horizon off tick", func(s *Scenario) { s.Patient.ForecastHorizonMinutes = 7 }, "forecast_horizon_minutes"},
		{"patient temp basal", func(s *Scenario) {
			s.Patient.Events = append(s.Patient.Events, EventSpec{Type: EventTempBasal, Rate: 1, DurationMinutes: 30})
		}, "patient.events"},
		{"bad controller", func(s *Scenario) { s.Controller.Type = "pid" }, "controller"},
		{"connect prob", func(s *Scenario) { p := -0.5; s.Controller.ConnectProb = &p }, "connect_prob"},
		{"meal probability", func(s *Scenario) {
			s.Patient.Meals = []MealSpec{{Name: "lunch", Start: "12:00", DurationMinutes: 60, Probability: 1.5}}
		}, "patient.meals[0]"},
		{"meal start", func(s *Scenario) {
			s.Patient.Meals = []MealSpec{{Name: "lunch", Start: "25:00", DurationMinutes: 60, Probability: 0.5}}
		}, "patient.meals[0]: start"},
		{"meal window shorter than a tick", func(s *Scenario) {
			s.Patient.Meals = []MealSpec{{Name: "lunch", Start: "12:00", DurationMinutes: 2, Probability: 0.5}}
		}, "patient.meals[0]"},
		{"meal grams inverted", func(s *Scenario) {
			s.Patient.Meals = []MealSpec{{Name: "lunch", Start: "12:00", DurationMinutes: 60, Probability: 0.5, MinGrams: 30, MaxGrams: 10}}
		}, "patient.meals[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadTestScenario(t, "meal_with_bolus.yaml")
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuild_MealWithBolus(t *testing.T) {
	b, err := loadTestScenario(t, "meal_with_bolus.yaml").Build()
	require.NoError(t, err)

	assert.Equal(t, "meal-with-bolus", b.Name)
	assert.Equal(t, "Do Nothing", b.Controller.Name())
	assert.Equal(t, "IdealSensor", b.Patient.Sensor().Name())
	assert.Equal(t, 1, b.Patient.BolusTimeline().Len())
	assert.Equal(t, 1, b.Patient.Pump().CarbTimeline().Len())

	times, _ := b.Patient.Sensor().LoopInputs()
	assert.Len(t, times, 3*60/sim.TickMinutes+1)

	s, err := b.NewSimulation(1)
	require.NoError(t, err)
	res, err := s.Run()
	require.NoError(t, err)
	rows := res.Rows()
	assert.Equal(t, 1.5, rows[0].Bolus)
	assert.Equal(t, 30.0, rows[0].TrueCarb)
}

func TestBuild_LoopIntermittent(t *testing.T) {
	b, err := loadTestScenario(t, "loop_intermittent.yaml").Build()
	require.NoError(t, err)
	assert.Equal(t, "loop, P(Connect)=0.8", b.Controller.Name())
	assert.Equal(t, "iCGM", b.Patient.Sensor().Name())
	assert.Equal(t, sim.PumpOmnipod, b.Patient.Pump().Model())
	assert.True(t, b.Config.Trace.Enabled())

	s, err := b.NewSimulation(42)
	require.NoError(t, err)
	_, err = s.Run()
	require.NoError(t, err)
	assert.NotEmpty(t, s.Trace().Decisions)
}

func TestBuild_RandomMeals(t *testing.T) {
	s := loadTestScenario(t, "random_meals.yaml")
	require.Len(t, s.Patient.Meals, 2)
	assert.True(t, s.Patient.Meals[0].Announced)
	assert.Equal(t, []float64{120}, s.Patient.Meals[1].AbsorptionMinutes)

	b, err := s.Build()
	require.NoError(t, err)
	run := func(seed int64) *sim.Results {
		sm, err := b.NewSimulation(seed)
		require.NoError(t, err)
		res, err := sm.Run()
		require.NoError(t, err)
		return res
	}

	// The dinner is certain and announced, so it reaches both timelines.
	res := run(7)
	dinner, ok := res.At(time.Date(2019, 8, 15, 18, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.GreaterOrEqual(t, dinner.Patient.Carb, 20.0)
	assert.LessOrEqual(t, dinner.Patient.Carb, 39.0)
	assert.Equal(t, dinner.Patient.Carb, dinner.Patient.Pump.Carb)

	// Equal seeds eat the same meals.
	first, err := res.Column("true_carb")
	require.NoError(t, err)
	again, err := run(7).Column("true_carb")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestBuild_ScheduleGap(t *testing.T) {
	s := loadTestScenario(t, "meal_with_bolus.yaml")
	s.Pump.BasalRate[0].DurationMinutes = 600
	_, err := s.Build()
	var gap *sim.ScheduleGapError
	require.True(t, errors.As(err, &gap), "got %v", err)
	assert.Equal(t, "basal_rate", gap.Schedule)
	assert.Equal(t, 10*time.Hour, gap.TimeOfDay)
}

func TestBuild_UnknownRegistryNames(t *testing.T) {
	var cfgErr *sim.ConfigurationError

	s := loadTestScenario(t, "meal_with_bolus.yaml")
	s.Patient.Model.Name = "uva-padova"
	_, err := s.Build()
	assert.True(t, errors.As(err, &cfgErr), "got %v", err)

	s = loadTestScenario(t, "loop_intermittent.yaml")
	s.Controller.Decider = "pyloopkit"
	_, err = s.Build()
	assert.True(t, errors.As(err, &cfgErr), "got %v", err)
}

func TestBuild_TempBasalHistoryActiveAtStart(t *testing.T) {
	s := loadTestScenario(t, "meal_with_bolus.yaml")
	s.Pump.Events = append(s.Pump.Events, EventSpec{Type: EventTempBasal, OffsetMinutes: -10, Rate: 0.9, DurationMinutes: 30})
	b, err := s.Build()
	require.NoError(t, err)
	tb, ok := b.Patient.Pump().ActiveTempBasal()
	require.True(t, ok)
	assert.Equal(t, 0.9, tb.Rate)
}

func TestBuild_ExplicitHistoryValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	data := testutil.ReadTestdata(t, "scenarios", "meal_with_bolus.yaml")
	data = []byte(strings.Replace(string(data), "history: {hours: 3, glucose: 110}", "history: {values: [100, 105, 110]}", 1))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	b, err := s.Build()
	require.NoError(t, err)
	times, values := b.Patient.Sensor().LoopInputs()
	assert.Equal(t, []float64{100, 105, 110}, values)
	assert.Equal(t, s.Start.Add(-2*sim.TickDuration), times[0])
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := parseTimeOfDay("06:30")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour+30*time.Minute, d)
	d, err = parseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour-time.Second, d)
	for _, bad := range []string{"", "6", "24:00", "12:60", "a:b"} {
		_, err := parseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}
