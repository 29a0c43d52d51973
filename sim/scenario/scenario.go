// Package scenario loads simulation scenarios from YAML and builds the
// pump, sensor, patient and controller they describe.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/decision"
	"github.com/loop-sim/loop-sim/sim/metabolism"
	"github.com/loop-sim/loop-sim/sim/trace"
	"gopkg.in/yaml.v3"
)

// Scenario is the top-level scenario configuration.
// Loaded from YAML via Load(path) or Parse(data).
type Scenario struct {
	Version       string         `yaml:"version"`
	Name          string         `yaml:"name"`
	Start         time.Time      `yaml:"start"`
	DurationHours float64        `yaml:"duration_hours"`
	Seed          int64          `yaml:"seed"`
	TraceLevel    string         `yaml:"trace_level,omitempty"`
	Pump          PumpSpec       `yaml:"pump"`
	Sensor        SensorSpec     `yaml:"sensor"`
	Patient       PatientSpec    `yaml:"patient"`
	Controller    ControllerSpec `yaml:"controller"`
}

// SegmentSpec is one entry of a daily schedule. Start is "HH:MM" from midnight.
type SegmentSpec[V any] struct {
	Start           string  `yaml:"start"`
	DurationMinutes float64 `yaml:"duration_minutes"`
	Value           V       `yaml:"value"`
}

// PumpSpec configures the pump, its schedules and the events reported to it.
type PumpSpec struct {
	Model              string                         `yaml:"model,omitempty"`
	BasalRate          []SegmentSpec[float64]         `yaml:"basal_rate"`
	CarbRatio          []SegmentSpec[float64]         `yaml:"carb_ratio"`
	InsulinSensitivity []SegmentSpec[float64]         `yaml:"insulin_sensitivity"`
	TargetRange        []SegmentSpec[sim.TargetRange] `yaml:"target_range"`
	Events             []EventSpec                    `yaml:"events,omitempty"`
}

// EventSpec is a bolus, carb or temp basal at an offset from the scenario start.
// Negative offsets place history before t0.
type EventSpec struct {
	Type            string  `yaml:"type"`
	OffsetMinutes   float64 `yaml:"offset_minutes"`
	Amount          float64 `yaml:"amount,omitempty"`
	Rate            float64 `yaml:"rate,omitempty"`
	DurationMinutes float64 `yaml:"duration_minutes,omitempty"`
}

// Event types accepted in EventSpec.Type.
const (
	EventBolus     = "bolus"
	EventCarb      = "carb"
	EventTempBasal = "temp_basal"
)

// SensorSpec configures the sensor and the readings it holds at t0.
type SensorSpec struct {
	Type         string       `yaml:"type,omitempty"`
	StdDev       float64      `yaml:"std_dev,omitempty"`
	HistoryHours float64      `yaml:"history_hours,omitempty"`
	History      *HistorySpec `yaml:"history,omitempty"`
}

// HistorySpec seeds sensor history ending at t0. Either Values (oldest first,
// one per tick) or a flat Glucose over Hours.
type HistorySpec struct {
	Hours   float64   `yaml:"hours,omitempty"`
	Glucose float64   `yaml:"glucose,omitempty"`
	Values  []float64 `yaml:"values,omitempty"`
}

// PatientSpec configures the virtual patient.
type PatientSpec struct {
	InitialGlucose           float64     `yaml:"initial_glucose"`
	RecommendationAcceptProb float64     `yaml:"recommendation_accept_prob"`
	ForecastHorizonMinutes   int         `yaml:"forecast_horizon_minutes,omitempty"`
	InsulinHistoryHours      float64     `yaml:"insulin_history_hours,omitempty"`
	Model                    ModelSpec   `yaml:"model"`
	Events                   []EventSpec `yaml:"events,omitempty"`
	Meals                    []MealSpec  `yaml:"meals,omitempty"`
}

// MealSpec is a daily window in which the patient eats with some probability.
// Start is "HH:MM" from midnight. Zero grams or no absorption times select
// the defaults (20-39 g over 3, 4 or 5 hours).
type MealSpec struct {
	Name              string    `yaml:"name"`
	Start             string    `yaml:"start"`
	DurationMinutes   float64   `yaml:"duration_minutes"`
	Probability       float64   `yaml:"probability"`
	MinGrams          int       `yaml:"min_grams,omitempty"`
	MaxGrams          int       `yaml:"max_grams,omitempty"`
	AbsorptionMinutes []float64 `yaml:"absorption_minutes,omitempty"`
	Announced         bool      `yaml:"announced,omitempty"`
}

// config converts the spec and validates it the way the patient will.
func (m MealSpec) config() (sim.MealConfig, error) {
	start, err := parseTimeOfDay(m.Start)
	if err != nil {
		return sim.MealConfig{}, fmt.Errorf("start: %w", err)
	}
	cfg := sim.MealConfig{
		Name:              m.Name,
		Start:             start,
		DurationMinutes:   m.DurationMinutes,
		Probability:       m.Probability,
		MinGrams:          m.MinGrams,
		MaxGrams:          m.MaxGrams,
		AbsorptionMinutes: m.AbsorptionMinutes,
		Announced:         m.Announced,
	}
	if _, err := sim.NewMealModel(cfg); err != nil {
		return sim.MealConfig{}, err
	}
	return cfg, nil
}

// ModelSpec names a registered metabolism model.
type ModelSpec struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// ControllerSpec configures the controller. A nil ConnectProb means the
// controller is always connected and is not wrapped.
type ControllerSpec struct {
	Type         string         `yaml:"type"`
	Decider      string         `yaml:"decider,omitempty"`
	Settings     map[string]any `yaml:"settings,omitempty"`
	HistoryHours float64        `yaml:"history_hours,omitempty"`
	ConnectProb  *float64       `yaml:"connect_prob,omitempty"`
}

// Load reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario with strict field checking and fills defaults.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	if s.Version == "" {
		s.Version = "1"
	}
	if s.Pump.Model == "" {
		s.Pump.Model = sim.PumpContinuous
	}
	if s.Sensor.Type == "" {
		s.Sensor.Type = sim.SensorIdeal
	}
	if s.Patient.Model.Name == "" {
		s.Patient.Model.Name = metabolism.ModelSimple
	}
	if s.Controller.Type == "" {
		s.Controller.Type = sim.ControllerDoNothing
	}
	if s.Controller.Type == sim.ControllerLoop && s.Controller.Decider == "" {
		s.Controller.Decider = decision.DeciderTempBasal
	}
}

var validEventTypes = map[string]bool{EventBolus: true, EventCarb: true, EventTempBasal: true}

// Validate checks that all fields in the scenario are valid. Registry lookups
// (model and decider names) are left to Build.
func (s *Scenario) Validate() error {
	if s.Version != "1" {
		return fmt.Errorf("unsupported version %q; valid: 1", s.Version)
	}
	if s.Start.IsZero() {
		return fmt.Errorf("start is required")
	}
	if err := validateFinitePositive("duration_hours", s.DurationHours); err != nil {
		return err
	}
	if !trace.IsValidTraceLevel(s.TraceLevel) {
		return fmt.Errorf("unknown trace_level %q; valid: none, decisions", s.TraceLevel)
	}
	if err := s.Pump.validate(); err != nil {
		return err
	}
	if err := s.Sensor.validate(); err != nil {
		return err
	}
	if err := s.Patient.validate(); err != nil {
		return err
	}
	return s.Controller.validate()
}

func (p *PumpSpec) validate() error {
	if !sim.ValidPumpModels[p.Model] {
		return fmt.Errorf("pump: unknown model %q; valid: continuous, omnipod", p.Model)
	}
	if err := validateSegments("pump.basal_rate", p.BasalRate, nonNegative); err != nil {
		return err
	}
	if err := validateSegments("pump.carb_ratio", p.CarbRatio, positive); err != nil {
		return err
	}
	if err := validateSegments("pump.insulin_sensitivity", p.InsulinSensitivity, positive); err != nil {
		return err
	}
	if err := validateSegments("pump.target_range", p.TargetRange, func(r sim.TargetRange) error {
		if r.Min <= 0 || r.Max < r.Min {
			return fmt.Errorf("want 0 < min <= max, got min=%g max=%g", r.Min, r.Max)
		}
		return nil
	}); err != nil {
		return err
	}
	return validateEvents("pump.events", p.Events)
}

func (s *SensorSpec) validate() error {
	if !sim.ValidSensors[s.Type] {
		return fmt.Errorf("sensor: unknown type %q; valid: ideal, noisy", s.Type)
	}
	if s.StdDev < 0 || math.IsNaN(s.StdDev) {
		return fmt.Errorf("sensor.std_dev must be non-negative, got %g", s.StdDev)
	}
	if s.HistoryHours < 0 {
		return fmt.Errorf("sensor.history_hours must be non-negative, got %g", s.HistoryHours)
	}
	if h := s.History; h != nil {
		if len(h.Values) > 0 && (h.Hours != 0 || h.Glucose != 0) {
			return fmt.Errorf("sensor.history: set either values or hours/glucose, not both")
		}
		if len(h.Values) == 0 {
			if err := validateFinitePositive("sensor.history.hours", h.Hours); err != nil {
				return err
			}
			if err := validateFinitePositive("sensor.history.glucose", h.Glucose); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PatientSpec) validate() error {
	if err := validateFinitePositive("patient.initial_glucose", p.InitialGlucose); err != nil {
		return err
	}
	if p.RecommendationAcceptProb < 0 || p.RecommendationAcceptProb > 1 {
		return fmt.Errorf("patient.recommendation_accept_prob must be in [0, 1], got %g", p.RecommendationAcceptProb)
	}
	if p.ForecastHorizonMinutes < 0 {
		return fmt.Errorf("patient.forecast_horizon_minutes must be non-negative, got %d", p.ForecastHorizonMinutes)
	}
	if p.ForecastHorizonMinutes%sim.TickMinutes != 0 {
		return fmt.Errorf("patient.forecast_horizon_minutes must be a multiple of %d, got %d",
			sim.TickMinutes, p.ForecastHorizonMinutes)
	}
	if p.InsulinHistoryHours < 0 {
		return fmt.Errorf("patient.insulin_history_hours must be non-negative, got %g", p.InsulinHistoryHours)
	}
	for _, e := range p.Events {
		if e.Type == EventTempBasal {
			return fmt.Errorf("patient.events: temp_basal belongs on pump.events")
		}
	}
	for i, m := range p.Meals {
		if _, err := m.config(); err != nil {
			return fmt.Errorf("patient.meals[%d]: %w", i, err)
		}
	}
	return validateEvents("patient.events", p.Events)
}

func (c *ControllerSpec) validate() error {
	if !sim.ValidControllers[c.Type] {
		return fmt.Errorf("controller: unknown type %q; valid: do-nothing, loop", c.Type)
	}
	if c.HistoryHours < 0 {
		return fmt.Errorf("controller.history_hours must be non-negative, got %g", c.HistoryHours)
	}
	if c.ConnectProb != nil && (*c.ConnectProb < 0 || *c.ConnectProb > 1) {
		return fmt.Errorf("controller.connect_prob must be in [0, 1], got %g", *c.ConnectProb)
	}
	return nil
}

func validateSegments[V any](field string, segs []SegmentSpec[V], check func(V) error) error {
	if len(segs) == 0 {
		return fmt.Errorf("%s: at least one segment required", field)
	}
	for i, seg := range segs {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if _, err := parseTimeOfDay(seg.Start); err != nil {
			return fmt.Errorf("%s.start: %w", prefix, err)
		}
		if err := validateFinitePositive(prefix+".duration_minutes", seg.DurationMinutes); err != nil {
			return err
		}
		if err := check(seg.Value); err != nil {
			return fmt.Errorf("%s.value: %w", prefix, err)
		}
	}
	return nil
}

func validateEvents(field string, events []EventSpec) error {
	for i, e := range events {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if !validEventTypes[e.Type] {
			return fmt.Errorf("%s: unknown type %q; valid: bolus, carb, temp_basal", prefix, e.Type)
		}
		switch e.Type {
		case EventBolus, EventCarb:
			if err := validateFinitePositive(prefix+".amount", e.Amount); err != nil {
				return err
			}
			if e.DurationMinutes < 0 {
				return fmt.Errorf("%s.duration_minutes must be non-negative, got %g", prefix, e.DurationMinutes)
			}
		case EventTempBasal:
			if e.Rate < 0 || math.IsNaN(e.Rate) {
				return fmt.Errorf("%s.rate must be non-negative, got %g", prefix, e.Rate)
			}
			if err := validateFinitePositive(prefix+".duration_minutes", e.DurationMinutes); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonNegative(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("must be a finite non-negative number, got %g", v)
	}
	return nil
}

func positive(v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("must be a finite positive number, got %g", v)
	}
	return nil
}

// validateFinitePositive rejects NaN, Inf and non-positive values.
func validateFinitePositive(name string, v float64) error {
	if err := positive(v); err != nil {
		return fmt.Errorf("%s %w", name, err)
	}
	return nil
}

// parseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("want HH:MM, got %q", s)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}
