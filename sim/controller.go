package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/loop-sim/loop-sim/sim/trace"
	"github.com/sirupsen/logrus"
)

// Controller variants.
const (
	ControllerDoNothing = "do-nothing"
	ControllerLoop      = "loop"
)

// ValidControllers is the set of recognized controller names.
var ValidControllers = map[string]bool{"": true, ControllerDoNothing: true, ControllerLoop: true}

// DefaultHistoryHours is how far back a controller sees dosing history.
const DefaultHistoryHours = 8.0

// ControllerConfig is the algorithm configuration of a controller.
type ControllerConfig struct {
	Settings     map[string]any
	HistoryHours float64

	BolusTimeline     *EventTimeline
	TempBasalTimeline *EventTimeline
	CarbTimeline      *EventTimeline
}

// Clone returns a copy with its own settings map and timelines.
func (c ControllerConfig) Clone() ControllerConfig {
	out := c
	out.Settings = make(map[string]any, len(c.Settings))
	for k, v := range c.Settings {
		out.Settings[k] = v
	}
	out.BolusTimeline = cloneOrNew(c.BolusTimeline, "controller_bolus")
	out.TempBasalTimeline = cloneOrNew(c.TempBasalTimeline, "controller_temp_basal")
	out.CarbTimeline = cloneOrNew(c.CarbTimeline, "controller_carb")
	return out
}

// ControllerState is what a controller exposes for diagnostics. Recommendation
// is the raw last record, not reinterpreted.
type ControllerState struct {
	Name           string
	Connected      bool
	Recommendation Recommendation
}

// Controller decides and applies insulin adjustments each tick.
type Controller interface {
	Name() string
	Update(t time.Time, p *Patient) error
	State() ControllerState
	Clone(rng *PartitionedRNG) Controller
}

// Traceable controllers record their decisions into a trace.
type Traceable interface {
	SetTrace(st *trace.SimulationTrace)
}

// === DoNothing ===

// DoNothingController leaves delivery to the pump schedules.
type DoNothingController struct {
	time time.Time
}

// NewDoNothingController creates a DoNothingController.
func NewDoNothingController(t0 time.Time) *DoNothingController {
	return &DoNothingController{time: t0}
}

// Name implements Controller.
func (c *DoNothingController) Name() string { return "Do Nothing" }

// Update only advances the controller clock.
func (c *DoNothingController) Update(t time.Time, _ *Patient) error {
	c.time = t
	return nil
}

// State reports an always-connected controller with no recommendation.
func (c *DoNothingController) State() ControllerState {
	return ControllerState{Name: c.Name(), Connected: true}
}

// Clone returns a copy at the same time.
func (c *DoNothingController) Clone(*PartitionedRNG) Controller {
	return &DoNothingController{time: c.time}
}

// === Automated dosing ===

// AutomatedController runs a Decider against the device history each tick and
// applies its recommendation to the pump.
type AutomatedController struct {
	name    string
	time    time.Time
	config  ControllerConfig
	decider Decider
	trace   *trace.SimulationTrace

	bolusTimeline     *EventTimeline
	tempBasalTimeline *EventTimeline
	carbTimeline      *EventTimeline

	recommendation Recommendation
}

// NewAutomatedController creates a controller from a copy of config.
func NewAutomatedController(name string, t0 time.Time, config ControllerConfig, decider Decider) (*AutomatedController, error) {
	if decider == nil {
		return nil, &ConfigurationError{Component: "controller " + name, Reason: "decision function is required"}
	}
	cfg := config.Clone()
	if cfg.HistoryHours <= 0 {
		cfg.HistoryHours = DefaultHistoryHours
	}
	return &AutomatedController{
		name:              name,
		time:              t0,
		config:            cfg,
		decider:           decider,
		bolusTimeline:     cfg.BolusTimeline,
		tempBasalTimeline: cfg.TempBasalTimeline,
		carbTimeline:      cfg.CarbTimeline,
	}, nil
}

// Name implements Controller.
func (c *AutomatedController) Name() string { return c.name }

// SetTrace implements Traceable.
func (c *AutomatedController) SetTrace(st *trace.SimulationTrace) { c.trace = st }

// Update reads the pump's history, asks the decider and applies the result.
func (c *AutomatedController) Update(t time.Time, p *Patient) error {
	c.time = t

	// The controller only knows what was reported to the pump.
	c.bolusTimeline = p.Pump().BolusTimeline()
	c.tempBasalTimeline = p.Pump().TempBasalTimeline()
	c.carbTimeline = p.Pump().CarbTimeline()

	inputs := c.PrepareInputs(p)
	rec, err := c.decider.Decide(inputs)
	if err != nil {
		return fmt.Errorf("controller %q at %s: decide: %w", c.name, t.Format(time.RFC3339), err)
	}
	return c.apply(p, rec)
}

// PrepareInputs assembles the decider record for the current time.
func (c *AutomatedController) PrepareInputs(p *Patient) LoopInputs {
	glucoseDates, glucoseValues := p.Sensor().LoopInputs()

	bolusHistory := c.bolusTimeline.WindowedHistory(c.time, c.config.HistoryHours)
	tempBasalHistory := c.tempBasalTimeline.WindowedHistory(c.time, c.config.HistoryHours)
	carbHistory := c.carbTimeline.WindowedHistory(c.time, c.config.HistoryHours)

	var last *LastTempBasal
	if n := len(tempBasalHistory); n > 0 {
		tb := tempBasalHistory[n-1]
		last = &LastTempBasal{Type: tb.Kind, Start: tb.Start, End: tb.End, Rate: tb.Value}
	}

	pump := p.Pump()
	return LoopInputs{
		TimeToCalculateAt: c.time,
		GlucoseDates:      glucoseDates,
		GlucoseValues:     glucoseValues,
		Doses:             MergeDoseHistories(bolusHistory, tempBasalHistory),
		Carbs:             NewCarbColumns(carbHistory),
		BasalRates:        pump.BasalSchedule().LoopInputs(),
		CarbRatios:        pump.CarbRatioSchedule().LoopInputs(),
		Sensitivities:     pump.SensitivitySchedule().LoopInputs(),
		TargetRanges:      pump.TargetRangeSchedule().LoopInputs(),
		LastTempBasal:     last,
		Settings:          c.config.Clone().Settings,
	}
}

func (c *AutomatedController) apply(p *Patient, rec Recommendation) error {
	parsed, err := parseRecommendation(c.name, c.time, rec)
	if err != nil {
		return err
	}
	record := trace.DecisionRecord{Clock: c.time, Connected: true}

	// A bolus the pump would round to nothing is no bolus at all.
	bolus := parsed.bolus
	if bolus != nil && p.Pump().Deliverable(bolus.Amount) <= 0 {
		bolus = nil
	}

	switch {
	case bolus != nil && p.DoesAcceptRecommendation(*bolus):
		delivered := p.Pump().DeliverBolus(*bolus)
		p.RecordBolus(delivered)
		record.Action = trace.ActionBolus
		record.Bolus = delivered.Amount
		logrus.Debugf("[%s] %s: bolus %.2f U accepted", c.time.Format(time.RFC3339), c.name, delivered.Amount)
	case parsed.tempBasal != nil:
		rate, duration := parsed.tempBasal[0], parsed.tempBasal[1]
		if rate == 0 && duration == 0 {
			p.Pump().DeactivateTempBasal()
			record.Action = trace.ActionCancelTempBasal
		} else {
			if err := p.Pump().SetTempBasal(rate, duration); err != nil {
				return err
			}
			record.Action = trace.ActionTempBasal
			record.TempBasalRate = rate
			record.TempBasalMinutes = duration
		}
	default:
		record.Action = trace.ActionNone
	}
	if parsed.bolus != nil {
		record.BolusRecommended = parsed.bolus.Amount
	}
	if c.trace != nil {
		c.trace.RecordDecision(record)
	}

	c.recommendation = rec.Clone()
	return nil
}

// State returns a copy of the last raw recommendation.
func (c *AutomatedController) State() ControllerState {
	return ControllerState{Name: c.name, Connected: true, Recommendation: c.recommendation.Clone()}
}

// Clone returns a copy with its own config and timelines. The decider is shared.
func (c *AutomatedController) Clone(*PartitionedRNG) Controller {
	cfg := c.config.Clone()
	clone := &AutomatedController{
		name:              c.name,
		time:              c.time,
		config:            cfg,
		decider:           c.decider,
		bolusTimeline:     cfg.BolusTimeline,
		tempBasalTimeline: cfg.TempBasalTimeline,
		carbTimeline:      cfg.CarbTimeline,
		recommendation:    c.recommendation.Clone(),
	}
	return clone
}

// === Intermittently connected ===

// IntermittentlyConnectedController forwards a tick to the wrapped controller
// only when a Bernoulli trial against ConnectProb succeeds. A skipped tick
// leaves the pump on its current schedule or override.
type IntermittentlyConnectedController struct {
	inner       Controller
	connectProb float64
	rng         *rand.Rand
	connected   bool
	trace       *trace.SimulationTrace
}

// NewIntermittentlyConnectedController wraps inner.
func NewIntermittentlyConnectedController(inner Controller, connectProb float64, rng *rand.Rand) (*IntermittentlyConnectedController, error) {
	if inner == nil {
		return nil, &ConfigurationError{Component: "intermittent controller", Reason: "wrapped controller is required"}
	}
	if rng == nil {
		return nil, &ConfigurationError{Component: "intermittent controller", Reason: "random source is required"}
	}
	if connectProb < 0 || connectProb > 1 {
		return nil, &ConfigurationError{Component: "intermittent controller",
			Reason: fmt.Sprintf("connect probability %g outside [0, 1]", connectProb)}
	}
	return &IntermittentlyConnectedController{inner: inner, connectProb: connectProb, rng: rng}, nil
}

// Name includes the connect probability.
func (c *IntermittentlyConnectedController) Name() string {
	return fmt.Sprintf("%s, P(Connect)=%g", c.inner.Name(), c.connectProb)
}

// SetTrace implements Traceable and passes the trace to the wrapped controller.
func (c *IntermittentlyConnectedController) SetTrace(st *trace.SimulationTrace) {
	c.trace = st
	if t, ok := c.inner.(Traceable); ok {
		t.SetTrace(st)
	}
}

// Update forwards to the wrapped controller when the connection trial succeeds.
func (c *IntermittentlyConnectedController) Update(t time.Time, p *Patient) error {
	c.connected = c.rng.Float64() < c.connectProb
	if !c.connected {
		logrus.Debugf("[%s] %s: disconnected, tick skipped", t.Format(time.RFC3339), c.Name())
		if c.trace != nil {
			c.trace.RecordDecision(trace.DecisionRecord{Clock: t, Connected: false, Action: trace.ActionNone})
		}
		return nil
	}
	return c.inner.Update(t, p)
}

// State is the wrapped controller's state with this tick's connection flag.
func (c *IntermittentlyConnectedController) State() ControllerState {
	st := c.inner.State()
	st.Name = c.Name()
	st.Connected = c.connected
	return st
}

// Clone returns a copy drawing trials from rng's connectivity stream.
func (c *IntermittentlyConnectedController) Clone(rng *PartitionedRNG) Controller {
	return &IntermittentlyConnectedController{
		inner:       c.inner.Clone(rng),
		connectProb: c.connectProb,
		rng:         rng.ForSubsystem(SubsystemConnectivity),
		connected:   c.connected,
	}
}
