// sim/simulator.go
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/loop-sim/loop-sim/sim/trace"
	"github.com/sirupsen/logrus"
)

// TickMinutes is the fixed simulation step of the target devices.
const TickMinutes = 5

// TickDuration is TickMinutes as a time.Duration.
const TickDuration = TickMinutes * time.Minute

// Phase is the lifecycle state of a Simulation.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseFinished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ErrAlreadyRun is returned when Run is called on a finished or failed
// simulation.
var ErrAlreadyRun = errors.New("simulation already run")

// SimulationConfig holds the run-level parameters of a Simulation.
type SimulationConfig struct {
	DurationHours float64
	Seed          int64
	Trace         trace.TraceConfig
}

// Simulation drives the patient/controller feedback loop through time and
// records one immutable snapshot per tick. It owns time tracking; components
// only index history or forecasts relative to the time they are handed.
type Simulation struct {
	config     SimulationConfig
	start      time.Time
	time       time.Time
	patient    *Patient
	controller Controller
	results    *Results
	trace      *trace.SimulationTrace
	phase      Phase
}

// NewSimulation deep-copies patient and controller, reseeds their random
// streams from config.Seed and performs the t0 pass. The caller's components
// are never touched, so one scenario can back many concurrent simulations.
func NewSimulation(config SimulationConfig, patient *Patient, controller Controller) (*Simulation, error) {
	if patient == nil {
		return nil, &ConfigurationError{Component: "simulation", Reason: "patient is required"}
	}
	if controller == nil {
		return nil, &ConfigurationError{Component: "simulation", Reason: "controller is required"}
	}
	if config.DurationHours <= 0 {
		return nil, &ConfigurationError{Component: "simulation",
			Reason: fmt.Sprintf("duration must be positive, got %g hours", config.DurationHours)}
	}
	rng := NewPartitionedRNG(NewSimulationKey(config.Seed))
	s := &Simulation{
		config:     config,
		start:      patient.Time(),
		time:       patient.Time(),
		patient:    patient.Clone(rng),
		controller: controller.Clone(rng),
		results:    NewResults(),
		phase:      PhaseInitializing,
	}
	if config.Trace.Enabled() {
		s.trace = trace.NewSimulationTrace(config.Trace)
		if t, ok := s.controller.(Traceable); ok {
			t.SetTrace(s.trace)
		}
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init sets up t0: any commands the controller issues at t0, steady state,
// the first forecast, and the first snapshot.
func (s *Simulation) init() error {
	if err := s.controller.Update(s.time, s.patient); err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	if err := s.patient.Init(); err != nil {
		return fmt.Errorf("init patient: %w", err)
	}
	if err := s.patient.Predict(); err != nil {
		return fmt.Errorf("init prediction: %w", err)
	}
	if err := s.storeState(); err != nil {
		return err
	}
	s.phase = PhaseRunning
	logrus.Infof("[%s] Simulation initialized: controller=%s sensor=%s duration=%gh seed=%d",
		s.time.Format(time.RFC3339), s.controller.Name(), s.patient.Sensor().Name(),
		s.config.DurationHours, s.config.Seed)
	return nil
}

// Step advances one tick: last tick's forecast becomes truth, the controller
// acts, the patient re-forecasts and measures, and the state is recorded.
func (s *Simulation) Step() error {
	if s.phase != PhaseRunning {
		return fmt.Errorf("step in phase %s", s.phase)
	}
	next := s.time.Add(TickDuration)
	s.time = next
	logrus.Debugf("[tick %07d] %s", s.TickCount(), next.Format(time.RFC3339))

	if err := s.patient.UpdateFromPrediction(next); err != nil {
		return err
	}
	if err := s.controller.Update(next, s.patient); err != nil {
		return err
	}
	if err := s.patient.Update(next); err != nil {
		return err
	}
	return s.storeState()
}

// Run steps until the configured duration has elapsed and returns the
// result table. A simulation runs once; a failed step ends it for good.
func (s *Simulation) Run() (*Results, error) {
	if s.phase == PhaseFinished || s.phase == PhaseFailed {
		return nil, ErrAlreadyRun
	}
	for !s.IsFinished() {
		if err := s.Step(); err != nil {
			s.phase = PhaseFailed
			return nil, fmt.Errorf("simulation at %s: %w", s.time.Format(time.RFC3339), err)
		}
	}
	s.phase = PhaseFinished
	logrus.Infof("[tick %07d] Simulation ended at %s", s.TickCount(), s.time.Format(time.RFC3339))
	return s.results, nil
}

// IsFinished reports whether the elapsed simulated time reached the duration.
func (s *Simulation) IsFinished() bool {
	return s.time.Sub(s.start).Hours() >= s.config.DurationHours
}

func (s *Simulation) storeState() error {
	ps, err := s.patient.State()
	if err != nil {
		return fmt.Errorf("snapshot at %s: %w", s.time.Format(time.RFC3339), err)
	}
	s.results.add(SimulationState{
		Time:       s.time,
		Patient:    ps,
		Controller: s.controller.State(),
	})
	return nil
}

// TickCount returns the number of ticks taken since t0.
func (s *Simulation) TickCount() int {
	return int(s.time.Sub(s.start) / TickDuration)
}

// Time returns the simulation clock.
func (s *Simulation) Time() time.Time { return s.time }

// Phase returns the lifecycle phase.
func (s *Simulation) Phase() Phase { return s.phase }

// Results returns the result table accumulated so far.
func (s *Simulation) Results() *Results { return s.results }

// Trace returns the decision trace, or nil when tracing is off.
func (s *Simulation) Trace() *trace.SimulationTrace { return s.trace }

// Patient returns the simulation's own patient copy.
func (s *Simulation) Patient() *Patient { return s.patient }

// Controller returns the simulation's own controller copy.
func (s *Simulation) Controller() Controller { return s.controller }
