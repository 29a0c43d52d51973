package scenario

import (
	"fmt"
	"time"

	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/trace"
)

// Bundle is a built scenario: the components and run config one Simulation
// needs. Bundles are templates; NewSimulation copies them, so one bundle can
// back any number of runs.
type Bundle struct {
	Name       string
	Config     sim.SimulationConfig
	Patient    *sim.Patient
	Controller sim.Controller
}

// NewSimulation creates a simulation from the bundle with the given seed.
func (b *Bundle) NewSimulation(seed int64) (*sim.Simulation, error) {
	cfg := b.Config
	cfg.Seed = seed
	return sim.NewSimulation(cfg, b.Patient, b.Controller)
}

// Build validates the scenario and constructs its components. Every schedule
// must cover the full day.
func (s *Scenario) Build() (*Bundle, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(s.Seed))
	t0 := s.Start

	pump, err := s.buildPump(t0)
	if err != nil {
		return nil, err
	}
	sensor := s.buildSensor(t0, rng)

	model, err := sim.NewMetabolismModel(s.Patient.Model.Name, s.Patient.Model.Params)
	if err != nil {
		return nil, err
	}
	boluses, carbs, err := buildTimelines("patient", t0, s.Patient.Events)
	if err != nil {
		return nil, err
	}
	meals := make([]sim.MealConfig, len(s.Patient.Meals))
	for i, m := range s.Patient.Meals {
		if meals[i], err = m.config(); err != nil {
			return nil, fmt.Errorf("patient.meals[%d]: %w", i, err)
		}
	}
	patient, err := sim.NewPatient(t0, pump, sensor, model, sim.PatientConfig{
		InitialGlucose:           s.Patient.InitialGlucose,
		RecommendationAcceptProb: s.Patient.RecommendationAcceptProb,
		ForecastHorizonMinutes:   s.Patient.ForecastHorizonMinutes,
		InsulinHistoryHours:      s.Patient.InsulinHistoryHours,
		BolusTimeline:            boluses,
		CarbTimeline:             carbs,
		Meals:                    meals,
	}, rng.ForSubsystem(sim.SubsystemPatient))
	if err != nil {
		return nil, err
	}

	controller, err := s.buildController(t0, rng)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Name: s.Name,
		Config: sim.SimulationConfig{
			DurationHours: s.DurationHours,
			Seed:          s.Seed,
			Trace:         trace.TraceConfig{Level: trace.TraceLevel(s.TraceLevel)},
		},
		Patient:    patient,
		Controller: controller,
	}, nil
}

func (s *Scenario) buildPump(t0 time.Time) (*sim.Pump, error) {
	basal, err := buildSchedule("basal_rate", s.Pump.BasalRate)
	if err != nil {
		return nil, err
	}
	cir, err := buildSchedule("carb_ratio", s.Pump.CarbRatio)
	if err != nil {
		return nil, err
	}
	isf, err := buildSchedule("insulin_sensitivity", s.Pump.InsulinSensitivity)
	if err != nil {
		return nil, err
	}
	target, err := buildSchedule("target_range", s.Pump.TargetRange)
	if err != nil {
		return nil, err
	}
	boluses, carbs, err := buildTimelines("pump", t0, s.Pump.Events)
	if err != nil {
		return nil, err
	}
	tempBasals := sim.NewEventTimeline("pump_temp_basal")
	for _, e := range s.Pump.Events {
		if e.Type != EventTempBasal {
			continue
		}
		at := offset(t0, e.OffsetMinutes)
		tempBasals.Record(at, sim.TempBasal{Start: at, Rate: e.Rate, DurationMinutes: e.DurationMinutes, Unit: "U/hr"})
	}
	return sim.NewPump(t0, sim.PumpConfig{
		Model:               s.Pump.Model,
		BasalSchedule:       basal,
		CarbRatioSchedule:   cir,
		SensitivitySchedule: isf,
		TargetRangeSchedule: target,
		BolusTimeline:       boluses,
		TempBasalTimeline:   tempBasals,
		CarbTimeline:        carbs,
	})
}

func (s *Scenario) buildSensor(t0 time.Time, rng *sim.PartitionedRNG) sim.Sensor {
	cfg := sim.SensorConfig{
		StdDev:       s.Sensor.StdDev,
		HistoryHours: s.Sensor.HistoryHours,
		History:      buildHistory(t0, s.Sensor.History, s.Patient.InitialGlucose),
	}
	if s.Sensor.Type == sim.SensorNoisy {
		return sim.NewNoisySensor(cfg, rng.ForSubsystem(sim.SubsystemSensor))
	}
	return sim.NewIdealSensor(cfg)
}

func (s *Scenario) buildController(t0 time.Time, rng *sim.PartitionedRNG) (sim.Controller, error) {
	var inner sim.Controller
	switch s.Controller.Type {
	case sim.ControllerLoop:
		decider, err := sim.NewDecider(s.Controller.Decider, s.Controller.Settings)
		if err != nil {
			return nil, err
		}
		c, err := sim.NewAutomatedController(sim.ControllerLoop, t0, sim.ControllerConfig{
			Settings:     s.Controller.Settings,
			HistoryHours: s.Controller.HistoryHours,
		}, decider)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		inner = sim.NewDoNothingController(t0)
	}
	if s.Controller.ConnectProb == nil {
		return inner, nil
	}
	c, err := sim.NewIntermittentlyConnectedController(inner, *s.Controller.ConnectProb,
		rng.ForSubsystem(sim.SubsystemConnectivity))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildSchedule[V any](name string, segs []SegmentSpec[V]) (*sim.Schedule[V], error) {
	starts := make([]time.Duration, len(segs))
	values := make([]V, len(segs))
	durations := make([]time.Duration, len(segs))
	for i, seg := range segs {
		start, err := parseTimeOfDay(seg.Start)
		if err != nil {
			return nil, fmt.Errorf("%s[%d].start: %w", name, i, err)
		}
		starts[i] = start
		values[i] = seg.Value
		durations[i] = time.Duration(seg.DurationMinutes * float64(time.Minute))
	}
	sched, err := sim.NewSchedule(name, starts, values, durations)
	if err != nil {
		return nil, err
	}
	if err := sched.RequireFullDay(); err != nil {
		return nil, err
	}
	return sched, nil
}

// buildTimelines records bolus and carb events; temp basals are skipped.
func buildTimelines(owner string, t0 time.Time, events []EventSpec) (boluses, carbs *sim.EventTimeline, err error) {
	boluses = sim.NewEventTimeline(owner + "_bolus")
	carbs = sim.NewEventTimeline(owner + "_carb")
	for _, e := range events {
		at := offset(t0, e.OffsetMinutes)
		switch e.Type {
		case EventBolus:
			boluses.Record(at, sim.Bolus{Amount: e.Amount, Unit: "U"})
		case EventCarb:
			carbs.Record(at, sim.Carb{Amount: e.Amount, Unit: "g", DurationMinutes: e.DurationMinutes})
		case EventTempBasal:
		default:
			return nil, nil, fmt.Errorf("%s events: unknown type %q", owner, e.Type)
		}
	}
	return boluses, carbs, nil
}

// buildHistory returns sensor readings ending at t0, one per tick. Without a
// history section the sensor starts with a single reading of initialGlucose.
func buildHistory(t0 time.Time, h *HistorySpec, initialGlucose float64) sim.GlucoseTrace {
	values := []float64{initialGlucose}
	if h != nil {
		if len(h.Values) > 0 {
			values = h.Values
		} else {
			n := int(h.Hours*60)/sim.TickMinutes + 1
			values = make([]float64, n)
			for i := range values {
				values[i] = h.Glucose
			}
		}
	}
	times := make([]time.Time, len(values))
	for i := range values {
		times[i] = t0.Add(-time.Duration(len(values)-1-i) * sim.TickDuration)
	}
	return sim.NewGlucoseTrace(times, values)
}

func offset(t0 time.Time, minutes float64) time.Time {
	return t0.Add(time.Duration(minutes * float64(time.Minute)))
}
