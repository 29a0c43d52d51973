// Package decision provides dosing algorithms for the automated controller.
// The Decider interface is defined in sim/ (parent package).
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/loop-sim/loop-sim/sim"
)

// DeciderTempBasal is the registry name of TempBasalDecider.
const DeciderTempBasal = "temp-basal"

// Settings keys read by TempBasalDecider.
const (
	SettingSuspendThreshold  = "suspend_threshold"
	SettingMaxBasalRate      = "max_basal_rate"
	SettingProjectionMinutes = "projection_minutes"
	SettingTempBasalMinutes  = "temp_basal_minutes"
	SettingPartialBolus      = "partial_application_factor"
)

const (
	defaultSuspendThreshold  = 70.0
	defaultMaxBasalRate      = 3.0
	defaultProjectionMinutes = 30.0
	defaultTempBasalMinutes  = 30.0

	// Changes smaller than a pump increment are not worth a command.
	minRateChange = 0.05
)

// TempBasalDecider projects the latest glucose trend forward, corrects toward
// the middle of the target range with a temp basal, and suspends when the
// projection falls below the suspend threshold. With a partial application
// factor above zero it recommends that fraction of a correction as a bolus
// instead of raising the basal.
type TempBasalDecider struct {
	suspendThreshold  float64
	maxBasalRate      float64
	projectionMinutes float64
	tempBasalMinutes  float64
	partialBolus      float64
}

// NewTempBasalDecider reads its parameters from settings, falling back to
// defaults for absent keys.
func NewTempBasalDecider(settings map[string]any) (*TempBasalDecider, error) {
	d := &TempBasalDecider{}
	var err error
	if d.suspendThreshold, err = setting(settings, SettingSuspendThreshold, defaultSuspendThreshold); err != nil {
		return nil, err
	}
	if d.maxBasalRate, err = setting(settings, SettingMaxBasalRate, defaultMaxBasalRate); err != nil {
		return nil, err
	}
	if d.projectionMinutes, err = setting(settings, SettingProjectionMinutes, defaultProjectionMinutes); err != nil {
		return nil, err
	}
	if d.tempBasalMinutes, err = setting(settings, SettingTempBasalMinutes, defaultTempBasalMinutes); err != nil {
		return nil, err
	}
	if d.partialBolus, err = setting(settings, SettingPartialBolus, 0); err != nil {
		return nil, err
	}
	switch {
	case d.maxBasalRate < 0:
		return nil, settingError(SettingMaxBasalRate, "must be non-negative")
	case d.projectionMinutes < 0:
		return nil, settingError(SettingProjectionMinutes, "must be non-negative")
	case d.tempBasalMinutes <= 0:
		return nil, settingError(SettingTempBasalMinutes, "must be positive")
	case d.partialBolus < 0 || d.partialBolus > 1:
		return nil, settingError(SettingPartialBolus, "must be within [0, 1]")
	}
	return d, nil
}

// Decide implements sim.Decider.
func (d *TempBasalDecider) Decide(in sim.LoopInputs) (sim.Recommendation, error) {
	rec := sim.Recommendation{
		sim.RecommendedBolusKey:     nil,
		sim.RecommendedTempBasalKey: nil,
	}
	n := len(in.GlucoseValues)
	if n == 0 {
		return rec, nil
	}
	at := in.TimeToCalculateAt

	sbr, ok := in.BasalRates.ValueAt(at)
	if !ok {
		return nil, fmt.Errorf("no basal rate at %s", at.Format(time.RFC3339))
	}
	isf, ok := in.Sensitivities.ValueAt(at)
	if !ok || isf <= 0 {
		return nil, fmt.Errorf("no usable sensitivity at %s", at.Format(time.RFC3339))
	}
	target, ok := in.TargetRanges.ValueAt(at)
	if !ok {
		return nil, fmt.Errorf("no target range at %s", at.Format(time.RFC3339))
	}

	projected := in.GlucoseValues[n-1]
	if n > 1 {
		dt := in.GlucoseDates[n-1].Sub(in.GlucoseDates[n-2]).Minutes()
		if dt > 0 {
			slope := (in.GlucoseValues[n-1] - in.GlucoseValues[n-2]) / dt
			projected += slope * d.projectionMinutes
		}
	}

	active := activeTempBasal(in.LastTempBasal, at)

	if projected < d.suspendThreshold {
		if active != nil && active.Rate == 0 {
			return rec, nil
		}
		rec[sim.RecommendedTempBasalKey] = []float64{0, d.tempBasalMinutes}
		return rec, nil
	}

	correction := (projected - (target.Min+target.Max)/2) / isf
	if correction > 0 && d.partialBolus > 0 {
		rec[sim.RecommendedBolusKey] = correction * d.partialBolus
		return rec, nil
	}

	rate := sbr + correction/(d.tempBasalMinutes/60)
	rate = math.Max(0, math.Min(rate, d.maxBasalRate))

	if math.Abs(rate-sbr) < minRateChange {
		if active != nil {
			rec[sim.RecommendedTempBasalKey] = []float64{0, 0}
		}
		return rec, nil
	}
	if active != nil && math.Abs(active.Rate-rate) < minRateChange {
		return rec, nil
	}
	rec[sim.RecommendedTempBasalKey] = []float64{rate, d.tempBasalMinutes}
	return rec, nil
}

func activeTempBasal(last *sim.LastTempBasal, at time.Time) *sim.LastTempBasal {
	if last == nil || !at.Before(last.End) {
		return nil
	}
	return last
}

func setting(settings map[string]any, key string, def float64) (float64, error) {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, settingError(key, fmt.Sprintf("want a number, got %T", raw))
}

func settingError(key, reason string) error {
	return &sim.ConfigurationError{Component: "decider " + DeciderTempBasal, Reason: key + " " + reason}
}
