package sim

import (
	"fmt"
	"sort"
	"time"
)

// Day is the length of one schedule cycle.
const Day = 24 * time.Hour

// TargetRange is a glucose target band in mg/dL.
type TargetRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Segment is one half-open [Start, End) time-of-day range of a Schedule.
type Segment[V any] struct {
	Start time.Duration
	End   time.Duration
	Value V
}

// Schedule is a recurring daily piecewise setting, e.g. basal rate by time of day.
// Segments never overlap; lookups outside every segment fail with ScheduleGapError.
type Schedule[V any] struct {
	name     string
	segments []Segment[V] // sorted by Start
	now      time.Time
}

// NewSchedule builds a Schedule from parallel start/value/duration slices.
// Start times are offsets from midnight. Segments that end before they start
// (including ones running past midnight) and overlapping segments are rejected.
func NewSchedule[V any](name string, startTimes []time.Duration, values []V, durations []time.Duration) (*Schedule[V], error) {
	if len(startTimes) != len(values) || len(startTimes) != len(durations) {
		return nil, &ConfigurationError{
			Component: fmt.Sprintf("schedule %q", name),
			Reason: fmt.Sprintf("mismatched lengths: %d start times, %d values, %d durations",
				len(startTimes), len(values), len(durations)),
		}
	}
	segments := make([]Segment[V], len(startTimes))
	for i := range startTimes {
		start, end := startTimes[i], startTimes[i]+durations[i]
		if start < 0 || durations[i] <= 0 || end > Day {
			return nil, &ConfigurationError{
				Component: fmt.Sprintf("schedule %q", name),
				Reason: fmt.Sprintf("segment %d [%s, %s) is inverted or leaves the day",
					i, formatTimeOfDay(start), formatTimeOfDay(end)),
			}
		}
		segments[i] = Segment[V]{Start: start, End: end, Value: values[i]}
	}
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	for i := 1; i < len(segments); i++ {
		if segments[i].Start < segments[i-1].End {
			return nil, &ConfigurationError{
				Component: fmt.Sprintf("schedule %q", name),
				Reason: fmt.Sprintf("segment starting %s overlaps segment ending %s",
					formatTimeOfDay(segments[i].Start), formatTimeOfDay(segments[i-1].End)),
			}
		}
	}
	return &Schedule[V]{name: name, segments: segments}, nil
}

// ConstantSchedule returns a single-segment schedule covering the full day.
func ConstantSchedule[V any](name string, value V) *Schedule[V] {
	return &Schedule[V]{
		name:     name,
		segments: []Segment[V]{{Start: 0, End: Day, Value: value}},
	}
}

// Name returns the setting name.
func (s *Schedule[V]) Name() string { return s.name }

// RequireFullDay returns a ScheduleGapError for the first uncovered time of day.
func (s *Schedule[V]) RequireFullDay() error {
	var cursor time.Duration
	for _, seg := range s.segments {
		if seg.Start > cursor {
			return &ScheduleGapError{Schedule: s.name, TimeOfDay: cursor}
		}
		cursor = seg.End
	}
	if cursor < Day {
		return &ScheduleGapError{Schedule: s.name, TimeOfDay: cursor}
	}
	return nil
}

// ValueAt returns the value of the segment covering timeOfDay.
func (s *Schedule[V]) ValueAt(timeOfDay time.Duration) (V, error) {
	timeOfDay = normalizeTimeOfDay(timeOfDay)
	i := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].End > timeOfDay })
	if i < len(s.segments) && s.segments[i].Start <= timeOfDay {
		return s.segments[i].Value, nil
	}
	var zero V
	return zero, &ScheduleGapError{Schedule: s.name, TimeOfDay: timeOfDay}
}

// AdvanceTo moves the reference time used by Current. No lookup is performed.
func (s *Schedule[V]) AdvanceTo(t time.Time) {
	s.now = t
}

// Current returns the value at the reference time set by AdvanceTo.
func (s *Schedule[V]) Current() (V, error) {
	return s.ValueAt(TimeOfDay(s.now))
}

// At returns the value in effect at the wall time t.
func (s *Schedule[V]) At(t time.Time) (V, error) {
	return s.ValueAt(TimeOfDay(t))
}

// ScheduleInputs is the column view of a Schedule handed to a Decider.
type ScheduleInputs[V any] struct {
	Values     []V             `json:"values"`
	StartTimes []time.Duration `json:"start_times"`
	Durations  []time.Duration `json:"durations"`
	EndTimes   []time.Duration `json:"end_times"`
}

// LoopInputs returns the schedule as parallel columns ordered by start time.
func (s *Schedule[V]) LoopInputs() ScheduleInputs[V] {
	in := ScheduleInputs[V]{
		Values:     make([]V, len(s.segments)),
		StartTimes: make([]time.Duration, len(s.segments)),
		Durations:  make([]time.Duration, len(s.segments)),
		EndTimes:   make([]time.Duration, len(s.segments)),
	}
	for i, seg := range s.segments {
		in.Values[i] = seg.Value
		in.StartTimes[i] = seg.Start
		in.Durations[i] = seg.End - seg.Start
		in.EndTimes[i] = seg.End
	}
	return in
}

// ValueAt looks up the segment covering the time of day of t.
func (in ScheduleInputs[V]) ValueAt(t time.Time) (V, bool) {
	tod := TimeOfDay(t)
	for i := range in.Values {
		if in.StartTimes[i] <= tod && tod < in.EndTimes[i] {
			return in.Values[i], true
		}
	}
	var zero V
	return zero, false
}

// Clone returns an independent copy of the schedule.
func (s *Schedule[V]) Clone() *Schedule[V] {
	segments := make([]Segment[V], len(s.segments))
	copy(segments, s.segments)
	return &Schedule[V]{name: s.name, segments: segments, now: s.now}
}

// TimeOfDay returns the offset of t from its local midnight.
func TimeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func normalizeTimeOfDay(d time.Duration) time.Duration {
	d %= Day
	if d < 0 {
		d += Day
	}
	return d
}
