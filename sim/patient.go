package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Patient defaults.
const (
	DefaultForecastHorizonMinutes = 480
	DefaultInsulinHistoryHours    = 8.0
)

// PatientConfig is the read-only configuration of a virtual patient.
type PatientConfig struct {
	InitialGlucose           float64
	RecommendationAcceptProb float64
	ForecastHorizonMinutes   int
	InsulinHistoryHours      float64

	// What actually happened to the patient, as opposed to what was reported
	// to the pump.
	BolusTimeline *EventTimeline
	CarbTimeline  *EventTimeline

	// Meals the patient may eat on their own, recorded as they happen.
	Meals []MealConfig
}

// PatientState is a snapshot of the patient at one time.
type PatientState struct {
	Glucose            float64
	SensorGlucose      float64
	InsulinOnBoard     float64
	CarbsOnBoard       float64
	CarbRatio          float64
	InsulinSensitivity float64
	Bolus              float64 // true bolus at this time
	Carb               float64 // true carbs at this time
	Pump               PumpState
}

// Patient owns true physiological state and delegates forward simulation to
// a MetabolismModel. Each tick the engine calls UpdateFromPrediction then
// Update; Init and Predict run once at t0.
type Patient struct {
	time   time.Time
	config PatientConfig
	pump   *Pump
	sensor Sensor
	model  MetabolismModel
	rng    *rand.Rand

	bolusTimeline *EventTimeline
	carbTimeline  *EventTimeline

	meals   []*MealModel
	mealRNG *rand.Rand

	glucose    float64
	iob        float64
	cob        float64
	prediction Trajectory
}

// NewPatient builds a patient at t0. The patient takes ownership of pump and
// sensor; config timelines are copied.
func NewPatient(t0 time.Time, pump *Pump, sensor Sensor, model MetabolismModel, config PatientConfig, rng *rand.Rand) (*Patient, error) {
	switch {
	case pump == nil:
		return nil, &ConfigurationError{Component: "patient", Reason: "pump is required"}
	case sensor == nil:
		return nil, &ConfigurationError{Component: "patient", Reason: "sensor is required"}
	case model == nil:
		return nil, &ConfigurationError{Component: "patient", Reason: "metabolism model is required"}
	case rng == nil:
		return nil, &ConfigurationError{Component: "patient", Reason: "random source is required"}
	}
	if config.RecommendationAcceptProb < 0 || config.RecommendationAcceptProb > 1 {
		return nil, &ConfigurationError{Component: "patient",
			Reason: fmt.Sprintf("recommendation accept probability %g outside [0, 1]", config.RecommendationAcceptProb)}
	}
	if config.ForecastHorizonMinutes <= 0 {
		config.ForecastHorizonMinutes = DefaultForecastHorizonMinutes
	}
	if config.InsulinHistoryHours <= 0 {
		config.InsulinHistoryHours = DefaultInsulinHistoryHours
	}
	meals := make([]*MealModel, 0, len(config.Meals))
	for _, mc := range config.Meals {
		m, err := NewMealModel(mc)
		if err != nil {
			return nil, err
		}
		meals = append(meals, m)
	}
	var mealRNG *rand.Rand
	if len(meals) > 0 {
		mealRNG = rand.New(rand.NewSource(rng.Int63()))
	}
	config.BolusTimeline = cloneOrNew(config.BolusTimeline, "patient_bolus")
	config.CarbTimeline = cloneOrNew(config.CarbTimeline, "patient_carb")
	return &Patient{
		time:          t0,
		config:        config,
		pump:          pump,
		sensor:        sensor,
		model:         model,
		rng:           rng,
		bolusTimeline: config.BolusTimeline,
		carbTimeline:  config.CarbTimeline,
		meals:         meals,
		mealRNG:       mealRNG,
		glucose:       config.InitialGlucose,
	}, nil
}

// Init establishes t0 glucose, insulin on board and the first sensor reading
// from the events already present on the timelines.
func (p *Patient) Init() error {
	p.pump.Update(p.time)
	p.glucose = p.config.InitialGlucose
	if err := p.Predict(); err != nil {
		return err
	}
	p.adoptBoardState()
	p.sensor.Update(p.time, p.glucose, p.prediction.Glucose())
	return nil
}

// Predict forecasts glucose from the current state and caches the trajectory.
func (p *Patient) Predict() error {
	req, err := p.forecastRequest()
	if err != nil {
		return err
	}
	traj, err := p.model.Forecast(req)
	if err != nil {
		return fmt.Errorf("forecast at %s: %w", p.time.Format(time.RFC3339), err)
	}
	if len(traj) == 0 {
		return fmt.Errorf("forecast at %s: metabolism model returned an empty trajectory", p.time.Format(time.RFC3339))
	}
	p.prediction = traj
	return nil
}

// UpdateFromPrediction adopts the cached forecast's value at t as true glucose.
func (p *Patient) UpdateFromPrediction(t time.Time) error {
	p.time = t
	p.pump.Update(t)
	point, ok := p.prediction.At(t)
	if !ok {
		return fmt.Errorf("patient: cached forecast has no point at %s", t.Format(time.RFC3339))
	}
	p.glucose = point.Glucose
	return nil
}

// Update eats any meal that comes up, refreshes the forecast against the
// current events, recomputes insulin and carbs on board, and takes a sensor
// reading.
func (p *Patient) Update(t time.Time) error {
	p.time = t
	p.pump.Update(t)
	p.eat(t)
	if err := p.Predict(); err != nil {
		return err
	}
	p.adoptBoardState()
	p.sensor.Update(t, p.glucose, p.prediction.Glucose())
	return nil
}

// eat runs each meal's trial for t. Meals land on the true carb timeline,
// and on the pump's when announced.
func (p *Patient) eat(t time.Time) {
	for _, m := range p.meals {
		carb, ok := m.Step(t, p.mealRNG)
		if !ok {
			continue
		}
		p.carbTimeline.Record(t, carb)
		if m.Announced() {
			p.pump.ReportCarb(carb)
		}
		logrus.Debugf("[%s] patient eats %s: %g g over %g min (announced=%t)",
			t.Format(time.RFC3339), m.Name(), carb.Amount, carb.DurationMinutes, m.Announced())
	}
}

func (p *Patient) adoptBoardState() {
	if point, ok := p.prediction.At(p.time); ok {
		p.iob = point.InsulinOnBoard
		p.cob = point.CarbsOnBoard
	}
}

// DoesAcceptRecommendation draws against the acceptance probability.
func (p *Patient) DoesAcceptRecommendation(Bolus) bool {
	return p.rng.Float64() < p.config.RecommendationAcceptProb
}

// RecordBolus logs a bolus the patient actually took at the current time.
func (p *Patient) RecordBolus(b Bolus) {
	p.bolusTimeline.Record(p.time, b)
}

// forecastRequest assembles model inputs: true boluses and carbs plus temp
// basal deviations from schedule, from the look-back window to the horizon.
func (p *Patient) forecastRequest() (ForecastRequest, error) {
	isf, err := p.pump.SensitivitySchedule().At(p.time)
	if err != nil {
		return ForecastRequest{}, err
	}
	cir, err := p.pump.CarbRatioSchedule().At(p.time)
	if err != nil {
		return ForecastRequest{}, err
	}
	sbr, err := p.pump.BasalSchedule().At(p.time)
	if err != nil {
		return ForecastRequest{}, err
	}

	horizonEnd := p.time.Add(time.Duration(p.config.ForecastHorizonMinutes) * time.Minute)
	span := p.config.InsulinHistoryHours + float64(p.config.ForecastHorizonMinutes)/60

	req := ForecastRequest{
		Time:               p.time,
		Glucose:            p.glucose,
		InsulinSensitivity: isf,
		CarbRatio:          cir,
		ScheduledBasalRate: sbr,
		HorizonMinutes:     p.config.ForecastHorizonMinutes,
	}
	for _, e := range p.bolusTimeline.WindowedHistory(horizonEnd, span) {
		req.Insulin = append(req.Insulin, InsulinDose{Time: e.Start, Units: e.Value})
	}
	for _, e := range p.pump.TempBasalTimeline().WindowedHistory(horizonEnd, span) {
		doses, err := p.basalDeviation(e)
		if err != nil {
			return ForecastRequest{}, err
		}
		req.Insulin = append(req.Insulin, doses...)
	}
	for _, e := range p.carbTimeline.WindowedHistory(horizonEnd, span) {
		req.Carbs = append(req.Carbs, CarbIntake{
			Time:              e.Start,
			Grams:             e.Value,
			AbsorptionMinutes: e.End.Sub(e.Start).Minutes(),
		})
	}
	return req, nil
}

// basalDeviation splits a temp basal into tick-sized doses of the difference
// between the override and the scheduled rate.
func (p *Patient) basalDeviation(e HistoryEntry) ([]InsulinDose, error) {
	var doses []InsulinDose
	for t := e.Start; t.Before(e.End); t = t.Add(TickDuration) {
		chunk := TickDuration
		if rest := e.End.Sub(t); rest < chunk {
			chunk = rest
		}
		sbr, err := p.pump.BasalSchedule().At(t)
		if err != nil {
			return nil, err
		}
		if units := (e.Value - sbr) * chunk.Hours(); units != 0 {
			doses = append(doses, InsulinDose{Time: t, Units: units})
		}
	}
	return doses, nil
}

// State returns a snapshot of the patient at its current time.
func (p *Patient) State() (PatientState, error) {
	pumpState, err := p.pump.State()
	if err != nil {
		return PatientState{}, err
	}
	cir, err := p.pump.CarbRatioSchedule().Current()
	if err != nil {
		return PatientState{}, err
	}
	isf, err := p.pump.SensitivitySchedule().Current()
	if err != nil {
		return PatientState{}, err
	}
	st := PatientState{
		Glucose:            p.glucose,
		SensorGlucose:      p.sensor.State().Glucose,
		InsulinOnBoard:     p.iob,
		CarbsOnBoard:       p.cob,
		CarbRatio:          cir,
		InsulinSensitivity: isf,
		Pump:               pumpState,
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

// Time returns the patient clock.
func (p *Patient) Time() time.Time { return p.time }

// Pump returns the patient's pump.
func (p *Patient) Pump() *Pump { return p.pump }

// Sensor returns the patient's sensor.
func (p *Patient) Sensor() Sensor { return p.sensor }

// BolusTimeline returns the true bolus history.
func (p *Patient) BolusTimeline() *EventTimeline { return p.bolusTimeline }

// CarbTimeline returns the true carb history.
func (p *Patient) CarbTimeline() *EventTimeline { return p.carbTimeline }

// Prediction returns the cached forecast.
func (p *Patient) Prediction() Trajectory { return p.prediction }

// Clone returns a deep copy drawing acceptance trials from rng. The
// metabolism model is shared; models are stateless.
func (p *Patient) Clone(rng *PartitionedRNG) *Patient {
	config := p.config
	config.BolusTimeline = p.bolusTimeline.Clone()
	config.CarbTimeline = p.carbTimeline.Clone()
	prediction := make(Trajectory, len(p.prediction))
	copy(prediction, p.prediction)
	meals := make([]*MealModel, len(p.meals))
	for i, m := range p.meals {
		meals[i] = m.Clone()
	}
	return &Patient{
		time:          p.time,
		config:        config,
		pump:          p.pump.Clone(),
		sensor:        p.sensor.Clone(rng),
		model:         p.model,
		rng:           rng.ForSubsystem(SubsystemPatient),
		bolusTimeline: config.BolusTimeline,
		carbTimeline:  config.CarbTimeline,
		meals:         meals,
		mealRNG:       rng.ForSubsystem(SubsystemMeal),
		glucose:       p.glucose,
		iob:           p.iob,
		cob:           p.cob,
		prediction:    prediction,
	}
}
