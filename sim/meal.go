package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Meal defaults: 20-39 g absorbed over 3, 4 or 5 hours.
const (
	DefaultMealMinGrams = 20
	DefaultMealMaxGrams = 39
)

// DefaultMealAbsorptionMinutes are the absorption times a meal draws from.
var DefaultMealAbsorptionMinutes = []float64{180, 240, 300}

// MealConfig describes a daily window in which the patient may eat.
type MealConfig struct {
	Name              string
	Start             time.Duration // offset from midnight
	DurationMinutes   float64
	Probability       float64 // chance of eating at all within one window
	MinGrams          int
	MaxGrams          int
	AbsorptionMinutes []float64
	Announced         bool // also reported to the pump
}

// MealModel decides tick by tick whether the patient eats during a meal
// window. Each tick in the window is an independent trial whose probability
// is chosen so that the whole window eats with Probability. The patient eats
// at most once per window.
type MealModel struct {
	config   MealConfig
	stepProb float64
	eaten    time.Time // start of the last window a meal was eaten in
}

// NewMealModel validates config and fills defaults.
func NewMealModel(config MealConfig) (*MealModel, error) {
	fail := func(reason string) (*MealModel, error) {
		return nil, &ConfigurationError{Component: "meal " + config.Name, Reason: reason}
	}
	if !isFinite(config.Probability) || config.Probability < 0 || config.Probability > 1 {
		return fail(fmt.Sprintf("probability %g outside [0, 1]", config.Probability))
	}
	if !isFinite(config.DurationMinutes) || config.DurationMinutes < TickMinutes || config.DurationMinutes > 24*60 {
		return fail(fmt.Sprintf("window of %g minutes must span one tick to one day", config.DurationMinutes))
	}
	if config.MinGrams == 0 && config.MaxGrams == 0 {
		config.MinGrams, config.MaxGrams = DefaultMealMinGrams, DefaultMealMaxGrams
	}
	if config.MinGrams <= 0 || config.MaxGrams < config.MinGrams {
		return fail(fmt.Sprintf("carb range [%d, %d] g is empty or not positive", config.MinGrams, config.MaxGrams))
	}
	if len(config.AbsorptionMinutes) == 0 {
		config.AbsorptionMinutes = DefaultMealAbsorptionMinutes
	}
	absorption := make([]float64, len(config.AbsorptionMinutes))
	for i, m := range config.AbsorptionMinutes {
		if !isFinite(m) || m <= 0 {
			return fail(fmt.Sprintf("absorption time %g minutes must be positive", m))
		}
		absorption[i] = m
	}
	config.AbsorptionMinutes = absorption
	config.Start = normalizeTimeOfDay(config.Start)

	steps := int(config.DurationMinutes / TickMinutes)
	return &MealModel{config: config, stepProb: BernoulliStepProbability(steps, config.Probability)}, nil
}

// BernoulliStepProbability returns the per-trial probability p such that at
// least one of steps independent trials succeeds with probability total.
func BernoulliStepProbability(steps int, total float64) float64 {
	if steps <= 1 {
		return total
	}
	return 1 - math.Pow(1-total, 1/float64(steps))
}

// Name returns the meal name.
func (m *MealModel) Name() string { return m.config.Name }

// Announced reports whether the meal is also entered on the pump.
func (m *MealModel) Announced() bool { return m.config.Announced }

// StepProbability returns the per-tick eating probability.
func (m *MealModel) StepProbability() float64 { return m.stepProb }

// Window returns the start of the meal window containing t. Windows may run
// past midnight.
func (m *MealModel) Window(t time.Time) (time.Time, bool) {
	offset := normalizeTimeOfDay(TimeOfDay(t) - m.config.Start)
	if offset >= minutes(m.config.DurationMinutes) {
		return time.Time{}, false
	}
	return t.Add(-offset), true
}

// Step runs the trial for t and draws the meal on success. Every tick inside
// a window not yet eaten in consumes exactly one trial draw.
func (m *MealModel) Step(t time.Time, rng *rand.Rand) (Carb, bool) {
	start, ok := m.Window(t)
	if !ok || start.Equal(m.eaten) {
		return Carb{}, false
	}
	if rng.Float64() >= m.stepProb {
		return Carb{}, false
	}
	m.eaten = start
	grams := m.config.MinGrams + rng.Intn(m.config.MaxGrams-m.config.MinGrams+1)
	absorption := m.config.AbsorptionMinutes[rng.Intn(len(m.config.AbsorptionMinutes))]
	return Carb{Amount: float64(grams), Unit: "g", DurationMinutes: absorption}, true
}

// Clone returns an independent copy, including which window was eaten.
func (m *MealModel) Clone() *MealModel {
	c := *m
	c.config.AbsorptionMinutes = append([]float64(nil), m.config.AbsorptionMinutes...)
	return &c
}
