package sim

import (
	"fmt"
	"math"
	"time"
)

// Pump models.
const (
	PumpContinuous = "continuous"
	PumpOmnipod    = "omnipod"
)

// ValidPumpModels is the set of recognized pump model names.
var ValidPumpModels = map[string]bool{"": true, PumpContinuous: true, PumpOmnipod: true}

// omnipodIncrement is the delivery resolution of an Omnipod, in U and U/hr.
const omnipodIncrement = 0.05

// PumpConfig holds the settings a pump is built from. Everything here is
// read-only after NewPump; the pump keeps its own copies.
type PumpConfig struct {
	Model               string
	BasalSchedule       *Schedule[float64]
	CarbRatioSchedule   *Schedule[float64]
	SensitivitySchedule *Schedule[float64]
	TargetRangeSchedule *Schedule[TargetRange]

	// Events already reported to the pump before the simulation starts.
	BolusTimeline     *EventTimeline
	TempBasalTimeline *EventTimeline
	CarbTimeline      *EventTimeline
}

// Clone returns a deep copy of the config.
func (c PumpConfig) Clone() PumpConfig {
	out := c
	if c.BasalSchedule != nil {
		out.BasalSchedule = c.BasalSchedule.Clone()
	}
	if c.CarbRatioSchedule != nil {
		out.CarbRatioSchedule = c.CarbRatioSchedule.Clone()
	}
	if c.SensitivitySchedule != nil {
		out.SensitivitySchedule = c.SensitivitySchedule.Clone()
	}
	if c.TargetRangeSchedule != nil {
		out.TargetRangeSchedule = c.TargetRangeSchedule.Clone()
	}
	out.BolusTimeline = cloneOrNew(c.BolusTimeline, "pump_bolus")
	out.TempBasalTimeline = cloneOrNew(c.TempBasalTimeline, "pump_temp_basal")
	out.CarbTimeline = cloneOrNew(c.CarbTimeline, "pump_carb")
	return out
}

func cloneOrNew(tl *EventTimeline, name string) *EventTimeline {
	if tl == nil {
		return NewEventTimeline(name)
	}
	return tl.Clone()
}

// PumpState is a snapshot of the pump at one time.
type PumpState struct {
	ScheduledBasalRate float64
	TempBasal          *TempBasal // nil when no override is active
	Bolus              float64    // reported bolus at this time
	Carb               float64    // reported carbs at this time
}

// TempBasalRate returns the active override rate, or def when none is active.
func (s PumpState) TempBasalRate(def float64) float64 {
	if s.TempBasal == nil {
		return def
	}
	return s.TempBasal.Rate
}

// Pump is the source of truth for insulin delivery. Commands act at the
// pump's current time, which the patient advances each tick.
type Pump struct {
	config PumpConfig
	time   time.Time
	active *TempBasal

	bolusTimeline     *EventTimeline
	tempBasalTimeline *EventTimeline
	carbTimeline      *EventTimeline
}

// NewPump builds a pump at t0 from a defensive copy of config.
// A temp basal already on the timeline and running at t0 becomes active.
func NewPump(t0 time.Time, config PumpConfig) (*Pump, error) {
	if !ValidPumpModels[config.Model] {
		return nil, &ConfigurationError{Component: "pump", Reason: fmt.Sprintf("unknown pump model %q", config.Model)}
	}
	if config.BasalSchedule == nil || config.CarbRatioSchedule == nil ||
		config.SensitivitySchedule == nil || config.TargetRangeSchedule == nil {
		return nil, &ConfigurationError{Component: "pump", Reason: "basal, carb ratio, sensitivity and target range schedules are required"}
	}
	cfg := config.Clone()
	p := &Pump{
		config:            cfg,
		bolusTimeline:     cfg.BolusTimeline,
		tempBasalTimeline: cfg.TempBasalTimeline,
		carbTimeline:      cfg.CarbTimeline,
	}
	for _, t := range p.tempBasalTimeline.Times() {
		if t.After(t0) {
			break
		}
		e, _ := p.tempBasalTimeline.EventAt(t)
		if tb, ok := e.(TempBasal); ok && tb.ActiveAt(t0) {
			active := tb
			p.active = &active
		}
	}
	p.Update(t0)
	return p, nil
}

// Update moves the pump clock to t and expires a finished override.
func (p *Pump) Update(t time.Time) {
	p.time = t
	p.config.BasalSchedule.AdvanceTo(t)
	p.config.CarbRatioSchedule.AdvanceTo(t)
	p.config.SensitivitySchedule.AdvanceTo(t)
	p.config.TargetRangeSchedule.AdvanceTo(t)
	if p.active != nil && !p.active.ActiveAt(t) {
		p.active = nil
	}
}

// Time returns the pump clock.
func (p *Pump) Time() time.Time { return p.time }

// SetTempBasal starts a new override at the pump's current time, replacing
// any active one. Rate 0 with duration 0 cancels.
func (p *Pump) SetTempBasal(rate, durationMinutes float64) error {
	if rate == 0 && durationMinutes == 0 {
		p.DeactivateTempBasal()
		return nil
	}
	if !isFinite(rate) || rate < 0 {
		return &InvalidCommandError{Time: p.time, Command: "set_temp_basal", Rate: rate,
			DurationMinutes: durationMinutes, Reason: "rate must be finite and non-negative"}
	}
	if !isFinite(durationMinutes) || durationMinutes <= 0 {
		return &InvalidCommandError{Time: p.time, Command: "set_temp_basal", Rate: rate,
			DurationMinutes: durationMinutes, Reason: "duration must be finite and positive"}
	}
	if p.active != nil {
		p.tempBasalTimeline.MarkEnded(p.active.Start, p.time)
	}
	tb := TempBasal{
		Start:           p.time,
		Rate:            p.round(rate),
		DurationMinutes: durationMinutes,
		Unit:            "U/hr",
	}
	p.tempBasalTimeline.Record(p.time, tb)
	p.active = &tb
	return nil
}

// DeactivateTempBasal cancels the active override; delivery resumes the schedule.
func (p *Pump) DeactivateTempBasal() {
	if p.active == nil {
		return
	}
	p.tempBasalTimeline.MarkEnded(p.active.Start, p.time)
	p.active = nil
}

// ActiveTempBasal returns the override in effect, if any.
func (p *Pump) ActiveTempBasal() (TempBasal, bool) {
	if p.active == nil || !p.active.ActiveAt(p.time) {
		return TempBasal{}, false
	}
	return *p.active, true
}

// CurrentBasalRate returns the active override rate, else the scheduled rate.
func (p *Pump) CurrentBasalRate() (float64, error) {
	if tb, ok := p.ActiveTempBasal(); ok {
		return tb.Rate, nil
	}
	return p.ScheduledBasalRate()
}

// ScheduledBasalRate returns the basal schedule's value at the pump time.
func (p *Pump) ScheduledBasalRate() (float64, error) {
	return p.config.BasalSchedule.Current()
}

// DeliverBolus records an immediate bolus at the pump time. An amount that
// rounds to nothing at the pump's resolution is not recorded.
func (p *Pump) DeliverBolus(b Bolus) Bolus {
	b.Amount = p.round(b.Amount)
	if b.Unit == "" {
		b.Unit = "U"
	}
	if !isFinite(b.Amount) || b.Amount <= 0 {
		b.Amount = 0
		return b
	}
	p.bolusTimeline.Record(p.time, b)
	return b
}

// Deliverable returns the part of amount the pump can deliver.
func (p *Pump) Deliverable(amount float64) float64 {
	return p.round(amount)
}

// ReportCarb records a carb entry at the pump time.
func (p *Pump) ReportCarb(c Carb) {
	p.carbTimeline.Record(p.time, c)
}

// round floors an amount to the pump's delivery resolution.
func (p *Pump) round(v float64) float64 {
	if p.config.Model != PumpOmnipod {
		return v
	}
	// Epsilon absorbs binary representation error, e.g. 0.15/0.05 = 2.9999...
	return math.Floor(v/omnipodIncrement+1e-9) * omnipodIncrement
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BolusTimeline returns the reported bolus history.
func (p *Pump) BolusTimeline() *EventTimeline { return p.bolusTimeline }

// TempBasalTimeline returns the commanded temp basal history.
func (p *Pump) TempBasalTimeline() *EventTimeline { return p.tempBasalTimeline }

// CarbTimeline returns the reported carb history.
func (p *Pump) CarbTimeline() *EventTimeline { return p.carbTimeline }

// BasalSchedule returns the pump's basal schedule.
func (p *Pump) BasalSchedule() *Schedule[float64] { return p.config.BasalSchedule }

// CarbRatioSchedule returns the pump's carb ratio schedule.
func (p *Pump) CarbRatioSchedule() *Schedule[float64] { return p.config.CarbRatioSchedule }

// SensitivitySchedule returns the pump's insulin sensitivity schedule.
func (p *Pump) SensitivitySchedule() *Schedule[float64] { return p.config.SensitivitySchedule }

// TargetRangeSchedule returns the pump's target range schedule.
func (p *Pump) TargetRangeSchedule() *Schedule[TargetRange] { return p.config.TargetRangeSchedule }

// Model returns the pump model name.
func (p *Pump) Model() string {
	if p.config.Model == "" {
		return PumpContinuous
	}
	return p.config.Model
}

// State returns a snapshot of the pump at its current time.
func (p *Pump) State() (PumpState, error) {
	sbr, err := p.ScheduledBasalRate()
	if err != nil {
		return PumpState{}, err
	}
	st := PumpState{ScheduledBasalRate: sbr}
	if tb, ok := p.ActiveTempBasal(); ok {
		st.TempBasal = &tb
	}
	if e, ok := p.bolusTimeline.EventAt(p.time); ok {
		if b, ok := e.(Bolus); ok {
			st.Bolus = b.Amount
		}
	}
	if e, ok := p.carbTimeline.EventAt(p.time); ok {
		if c, ok := e.(Carb); ok {
			st.Carb = c.Amount
		}
	}
	return st, nil
}

// Clone returns an independent deep copy of the pump and its timelines.
func (p *Pump) Clone() *Pump {
	cfg := p.config.Clone()
	c := &Pump{
		config:            cfg,
		time:              p.time,
		bolusTimeline:     cfg.BolusTimeline,
		tempBasalTimeline: cfg.TempBasalTimeline,
		carbTimeline:      cfg.CarbTimeline,
	}
	if p.active != nil {
		active := *p.active
		c.active = &active
	}
	return c
}
