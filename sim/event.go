package sim

import "time"

// EventKind tags the variant of an Event.
type EventKind string

const (
	KindBolus     EventKind = "bolus"
	KindTempBasal EventKind = "basal"
	KindCarb      EventKind = "carb"
)

// Event is a discrete dosing or meal event recorded on an EventTimeline.
// Implementations are value types and immutable once recorded.
type Event interface {
	Kind() EventKind
}

// Bolus is an immediate insulin dose.
type Bolus struct {
	Amount float64 `yaml:"amount" json:"amount"`
	Unit   string  `yaml:"unit" json:"unit"`
}

// Kind implements Event.
func (Bolus) Kind() EventKind { return KindBolus }

// TempBasal is a time-bounded override of the scheduled basal rate.
// DurationMinutes is the commanded duration; early replacement is tracked by
// the owning timeline, never by mutating the event.
type TempBasal struct {
	Start           time.Time `yaml:"start" json:"start"`
	Rate            float64   `yaml:"rate" json:"rate"`
	DurationMinutes float64   `yaml:"duration_minutes" json:"duration_minutes"`
	Unit            string    `yaml:"unit" json:"unit"`
}

// Kind implements Event.
func (TempBasal) Kind() EventKind { return KindTempBasal }

// ScheduledEnd returns the commanded end of the override.
func (tb TempBasal) ScheduledEnd() time.Time {
	return tb.Start.Add(minutes(tb.DurationMinutes))
}

// ActiveAt reports whether t falls within the commanded window.
func (tb TempBasal) ActiveAt(t time.Time) bool {
	return !t.Before(tb.Start) && t.Before(tb.ScheduledEnd())
}

// Carb is a carbohydrate intake absorbed over DurationMinutes.
type Carb struct {
	Amount          float64 `yaml:"amount" json:"amount"`
	Unit            string  `yaml:"unit" json:"unit"`
	DurationMinutes float64 `yaml:"duration_minutes" json:"duration_minutes"`
}

// Kind implements Event.
func (Carb) Kind() EventKind { return KindCarb }

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
