package sim

import (
	"sort"
	"time"
)

// GlucoseTrace is a time-ordered series of glucose readings in mg/dL.
type GlucoseTrace struct {
	Times  []time.Time
	Values []float64
}

// NewGlucoseTrace copies times and values into a trace sorted by time.
func NewGlucoseTrace(times []time.Time, values []float64) GlucoseTrace {
	n := min(len(times), len(values))
	tr := GlucoseTrace{Times: make([]time.Time, n), Values: make([]float64, n)}
	copy(tr.Times, times[:n])
	copy(tr.Values, values[:n])
	sort.Stable(traceSorter(tr))
	return tr
}

// Len returns the number of readings.
func (tr GlucoseTrace) Len() int { return len(tr.Times) }

// Append adds a reading; a reading at an existing timestamp replaces it.
func (tr *GlucoseTrace) Append(t time.Time, v float64) {
	i := sort.Search(len(tr.Times), func(i int) bool { return !tr.Times[i].Before(t) })
	if i < len(tr.Times) && tr.Times[i].Equal(t) {
		tr.Values[i] = v
		return
	}
	tr.Times = append(tr.Times, time.Time{})
	tr.Values = append(tr.Values, 0)
	copy(tr.Times[i+1:], tr.Times[i:])
	copy(tr.Values[i+1:], tr.Values[i:])
	tr.Times[i] = t
	tr.Values[i] = v
}

// DropBefore discards readings older than cutoff.
func (tr *GlucoseTrace) DropBefore(cutoff time.Time) {
	i := sort.Search(len(tr.Times), func(i int) bool { return !tr.Times[i].Before(cutoff) })
	if i == 0 {
		return
	}
	tr.Times = append([]time.Time(nil), tr.Times[i:]...)
	tr.Values = append([]float64(nil), tr.Values[i:]...)
}

// Last returns the most recent reading.
func (tr GlucoseTrace) Last() (time.Time, float64, bool) {
	if len(tr.Times) == 0 {
		return time.Time{}, 0, false
	}
	n := len(tr.Times) - 1
	return tr.Times[n], tr.Values[n], true
}

// Clone returns an independent copy.
func (tr GlucoseTrace) Clone() GlucoseTrace {
	return NewGlucoseTrace(tr.Times, tr.Values)
}

type traceSorter GlucoseTrace

func (s traceSorter) Len() int           { return len(s.Times) }
func (s traceSorter) Less(i, j int) bool { return s.Times[i].Before(s.Times[j]) }
func (s traceSorter) Swap(i, j int) {
	s.Times[i], s.Times[j] = s.Times[j], s.Times[i]
	s.Values[i], s.Values[j] = s.Values[j], s.Values[i]
}

// ForecastPoint is one step of a metabolism model forecast.
type ForecastPoint struct {
	Time           time.Time
	Glucose        float64
	InsulinOnBoard float64
	CarbsOnBoard   float64
}

// Trajectory is a forecast ordered by time, starting at the request time.
type Trajectory []ForecastPoint

// At returns the point stamped exactly t.
func (tr Trajectory) At(t time.Time) (ForecastPoint, bool) {
	i := sort.Search(len(tr), func(i int) bool { return !tr[i].Time.Before(t) })
	if i < len(tr) && tr[i].Time.Equal(t) {
		return tr[i], true
	}
	return ForecastPoint{}, false
}

// Glucose returns the glucose column.
func (tr Trajectory) Glucose() []float64 {
	out := make([]float64, len(tr))
	for i, p := range tr {
		out[i] = p.Glucose
	}
	return out
}
