// Package metabolism provides glucose forecasting models for the simulator.
// The MetabolismModel interface is defined in sim/ (parent package).
// SimpleModel combines an exponential insulin activity curve with linear carb
// absorption and is the default model of every scenario.
package metabolism

import (
	"fmt"
	"math"
	"time"

	"github.com/loop-sim/loop-sim/sim"
)

// ModelSimple is the registry name of SimpleModel.
const ModelSimple = "simple"

// Parameter names accepted by NewSimpleModel.
const (
	ParamInsulinDuration   = "insulin_duration_minutes"
	ParamInsulinPeak       = "insulin_peak_minutes"
	ParamDefaultAbsorption = "default_absorption_minutes"
)

// Rapid-acting adult insulin curve and a three hour meal.
const (
	defaultInsulinDuration   = 360.0
	defaultInsulinPeak       = 75.0
	defaultAbsorptionMinutes = 180.0
)

// SimpleModel forecasts glucose as the current value plus the insulin and carb
// effects still to come. It is stateless and safe to share between runs.
type SimpleModel struct {
	duration   float64 // minutes
	peak       float64 // minutes
	absorption float64 // minutes, used when an intake has none

	// exponential curve constants derived from duration and peak
	tau, a, s float64
}

// NewSimpleModel builds a SimpleModel. Unknown parameter names are rejected.
func NewSimpleModel(params map[string]float64) (*SimpleModel, error) {
	m := &SimpleModel{
		duration:   defaultInsulinDuration,
		peak:       defaultInsulinPeak,
		absorption: defaultAbsorptionMinutes,
	}
	for k, v := range params {
		switch k {
		case ParamInsulinDuration:
			m.duration = v
		case ParamInsulinPeak:
			m.peak = v
		case ParamDefaultAbsorption:
			m.absorption = v
		default:
			return nil, &sim.ConfigurationError{Component: "metabolism model " + ModelSimple,
				Reason: fmt.Sprintf("unknown parameter %q", k)}
		}
	}
	if m.duration <= 0 || m.peak <= 0 || 2*m.peak >= m.duration {
		return nil, &sim.ConfigurationError{Component: "metabolism model " + ModelSimple,
			Reason: fmt.Sprintf("need 0 < 2*peak < duration, got peak=%g duration=%g", m.peak, m.duration)}
	}
	if m.absorption <= 0 {
		return nil, &sim.ConfigurationError{Component: "metabolism model " + ModelSimple,
			Reason: fmt.Sprintf("default absorption must be positive, got %g", m.absorption)}
	}
	m.tau = m.peak * (1 - m.peak/m.duration) / (1 - 2*m.peak/m.duration)
	m.a = 2 * m.tau / m.duration
	m.s = 1 / (1 - m.a + (1+m.a)*math.Exp(-m.duration/m.tau))
	return m, nil
}

// InsulinRemaining returns the fraction of a dose still on board t minutes
// after delivery.
func (m *SimpleModel) InsulinRemaining(t float64) float64 {
	switch {
	case t <= 0:
		return 1
	case t >= m.duration:
		return 0
	}
	tau, a, td := m.tau, m.a, m.duration
	return 1 - m.s*(1-a)*((t*t/(tau*td*(1-a))-t/tau-1)*math.Exp(-t/tau)+1)
}

// CarbAbsorbed returns the fraction of an intake absorbed t minutes after it.
func (m *SimpleModel) CarbAbsorbed(t, absorption float64) float64 {
	if absorption <= 0 {
		absorption = m.absorption
	}
	switch {
	case t <= 0:
		return 0
	case t >= absorption:
		return 1
	}
	return t / absorption
}

// Forecast implements sim.MetabolismModel.
func (m *SimpleModel) Forecast(req sim.ForecastRequest) (sim.Trajectory, error) {
	if req.InsulinSensitivity <= 0 || req.CarbRatio <= 0 {
		return nil, fmt.Errorf("forecast at %s: sensitivity %g and carb ratio %g must be positive",
			req.Time.Format(time.RFC3339), req.InsulinSensitivity, req.CarbRatio)
	}
	if req.HorizonMinutes <= 0 {
		return nil, fmt.Errorf("forecast at %s: horizon must be positive, got %d",
			req.Time.Format(time.RFC3339), req.HorizonMinutes)
	}
	since := func(t, ref time.Time) float64 { return ref.Sub(t).Minutes() }
	carbFactor := req.InsulinSensitivity / req.CarbRatio

	steps := req.HorizonMinutes / sim.TickMinutes
	traj := make(sim.Trajectory, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := req.Time.Add(time.Duration(i) * sim.TickDuration)
		point := sim.ForecastPoint{Time: t, Glucose: req.Glucose}
		for _, d := range req.Insulin {
			now, then := since(d.Time, req.Time), since(d.Time, t)
			point.Glucose -= req.InsulinSensitivity * d.Units * (m.InsulinRemaining(now) - m.InsulinRemaining(then))
			if !d.Time.After(t) {
				point.InsulinOnBoard += d.Units * m.InsulinRemaining(then)
			}
		}
		for _, c := range req.Carbs {
			now, then := since(c.Time, req.Time), since(c.Time, t)
			absorbed := m.CarbAbsorbed(then, c.AbsorptionMinutes) - m.CarbAbsorbed(now, c.AbsorptionMinutes)
			point.Glucose += carbFactor * c.Grams * absorbed
			if !c.Time.After(t) {
				point.CarbsOnBoard += c.Grams * (1 - m.CarbAbsorbed(then, c.AbsorptionMinutes))
			}
		}
		point.Glucose = math.Max(point.Glucose, 0)
		traj = append(traj, point)
	}
	return traj, nil
}
