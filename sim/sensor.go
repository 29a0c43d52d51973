package sim

import (
	"math"
	"math/rand"
	"time"
)

// Sensor variants.
const (
	SensorIdeal = "ideal"
	SensorNoisy = "noisy"
)

// ValidSensors is the set of recognized sensor names.
var ValidSensors = map[string]bool{"": true, SensorIdeal: true, SensorNoisy: true}

// DefaultSensorHistoryHours bounds the readings a sensor retains.
const DefaultSensorHistoryHours = 24.0

// defaultNoisyStdDev is used when a noisy sensor has no configured spread.
const defaultNoisyStdDev = 5.0

// SensorConfig configures a sensor. History seeds the readings the controller
// can see at t0.
type SensorConfig struct {
	History      GlucoseTrace
	StdDev       float64
	HistoryHours float64
}

// SensorState is the last measurement of a sensor.
type SensorState struct {
	Glucose  float64
	Forecast []float64
}

// Sensor turns true glucose into measured glucose and keeps the readings a
// controller consumes.
type Sensor interface {
	Name() string
	// Update measures trueGlucose and trueForecast at t and stores the reading.
	Update(t time.Time, trueGlucose float64, trueForecast []float64)
	State() SensorState
	// LoopInputs returns the retained readings in ascending time order.
	LoopInputs() ([]time.Time, []float64)
	Info() map[string]any
	Clone(rng *PartitionedRNG) Sensor
}

// baseSensor holds the reading history shared by all variants.
type baseSensor struct {
	config   SensorConfig
	history  GlucoseTrace
	current  float64
	forecast []float64
}

func newBaseSensor(config SensorConfig) baseSensor {
	if config.HistoryHours <= 0 {
		config.HistoryHours = DefaultSensorHistoryHours
	}
	b := baseSensor{history: config.History.Clone()}
	config.History = GlucoseTrace{}
	b.config = config
	if _, v, ok := b.history.Last(); ok {
		b.current = v
	}
	return b
}

func (b *baseSensor) record(t time.Time, measured float64, forecast []float64) {
	b.current = measured
	b.forecast = forecast
	b.history.Append(t, measured)
	b.history.DropBefore(t.Add(-hours(b.config.HistoryHours)))
}

// State returns the last measurement and forecast.
func (b *baseSensor) State() SensorState {
	fc := make([]float64, len(b.forecast))
	copy(fc, b.forecast)
	return SensorState{Glucose: b.current, Forecast: fc}
}

// LoopInputs returns the retained readings in ascending time order.
func (b *baseSensor) LoopInputs() ([]time.Time, []float64) {
	c := b.history.Clone()
	return c.Times, c.Values
}

func (b *baseSensor) clone() baseSensor {
	fc := make([]float64, len(b.forecast))
	copy(fc, b.forecast)
	return baseSensor{config: b.config, history: b.history.Clone(), current: b.current, forecast: fc}
}

// IdealSensor reads glucose perfectly.
type IdealSensor struct {
	baseSensor
}

// NewIdealSensor creates an IdealSensor from a copy of config.
func NewIdealSensor(config SensorConfig) *IdealSensor {
	return &IdealSensor{baseSensor: newBaseSensor(config)}
}

// Name implements Sensor.
func (s *IdealSensor) Name() string { return "IdealSensor" }

// Update records the true glucose and forecast unchanged.
func (s *IdealSensor) Update(t time.Time, trueGlucose float64, trueForecast []float64) {
	fc := make([]float64, len(trueForecast))
	copy(fc, trueForecast)
	s.record(t, trueGlucose, fc)
}

// Info describes the sensor for run metadata.
func (s *IdealSensor) Info() map[string]any {
	return map[string]any{"name": s.Name(), "history_hours": s.config.HistoryHours}
}

// Clone returns an independent copy with its own history.
func (s *IdealSensor) Clone(*PartitionedRNG) Sensor {
	return &IdealSensor{baseSensor: s.clone()}
}

// NoisySensor adds independent Gaussian noise to every sample, rounded to
// whole mg/dL. Forecast samples are perturbed elementwise.
type NoisySensor struct {
	baseSensor
	rng *rand.Rand
}

// NewNoisySensor creates a NoisySensor drawing noise from rng.
func NewNoisySensor(config SensorConfig, rng *rand.Rand) *NoisySensor {
	if config.StdDev <= 0 {
		config.StdDev = defaultNoisyStdDev
	}
	return &NoisySensor{baseSensor: newBaseSensor(config), rng: rng}
}

// Name implements Sensor.
func (s *NoisySensor) Name() string { return "iCGM" }

func (s *NoisySensor) measure(trueGlucose float64) float64 {
	return math.Round(trueGlucose + s.rng.NormFloat64()*s.config.StdDev)
}

// Update records noisy readings of the true glucose and forecast.
func (s *NoisySensor) Update(t time.Time, trueGlucose float64, trueForecast []float64) {
	measured := s.measure(trueGlucose)
	fc := make([]float64, len(trueForecast))
	for i, v := range trueForecast {
		fc[i] = s.measure(v)
	}
	s.record(t, measured, fc)
}

// Info describes the sensor and its noise for run metadata.
func (s *NoisySensor) Info() map[string]any {
	return map[string]any{
		"name":               s.Name(),
		"history_hours":      s.config.HistoryHours,
		"standard_deviation": s.config.StdDev,
	}
}

// Clone returns a copy drawing noise from rng's sensor stream.
func (s *NoisySensor) Clone(rng *PartitionedRNG) Sensor {
	return &NoisySensor{baseSensor: s.clone(), rng: rng.ForSubsystem(SubsystemSensor)}
}
