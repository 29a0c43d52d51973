package sim

import (
	"fmt"
	"sort"
	"time"
)

// InsulinDose is a quantity of insulin, in U, acting from Time. Basal doses are
// expressed relative to the scheduled rate, so a patient on schedule has none.
type InsulinDose struct {
	Time  time.Time
	Units float64
}

// CarbIntake is a carbohydrate intake with its absorption time.
type CarbIntake struct {
	Time              time.Time
	Grams             float64
	AbsorptionMinutes float64
}

// ForecastRequest is everything a MetabolismModel sees for one forecast.
type ForecastRequest struct {
	Time               time.Time
	Glucose            float64
	InsulinSensitivity float64 // mg/dL per U
	CarbRatio          float64 // g per U
	ScheduledBasalRate float64 // U/hr
	Insulin            []InsulinDose
	Carbs              []CarbIntake
	HorizonMinutes     int
}

// MetabolismModel forecasts true glucose from the current state and event
// history. The trajectory starts at req.Time with req.Glucose and is stepped
// every TickMinutes.
type MetabolismModel interface {
	Forecast(req ForecastRequest) (Trajectory, error)
}

// MetabolismModelFactory constructs a MetabolismModel from named parameters.
type MetabolismModelFactory func(params map[string]float64) (MetabolismModel, error)

// metabolismModels holds factories registered by implementation packages
// (see sim/metabolism/register.go).
var metabolismModels = map[string]MetabolismModelFactory{}

// RegisterMetabolismModel makes a model constructible by name.
// Panics on duplicate names.
func RegisterMetabolismModel(name string, f MetabolismModelFactory) {
	if _, dup := metabolismModels[name]; dup {
		panic(fmt.Sprintf("metabolism model %q registered twice", name))
	}
	metabolismModels[name] = f
}

// NewMetabolismModel builds the registered model called name.
func NewMetabolismModel(name string, params map[string]float64) (MetabolismModel, error) {
	f, ok := metabolismModels[name]
	if !ok {
		return nil, &ConfigurationError{Component: "metabolism model",
			Reason: fmt.Sprintf("no model registered as %q (known: %v)", name, MetabolismModelNames())}
	}
	return f(params)
}

// MetabolismModelNames lists registered model names in sorted order.
func MetabolismModelNames() []string {
	names := make([]string, 0, len(metabolismModels))
	for n := range metabolismModels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
