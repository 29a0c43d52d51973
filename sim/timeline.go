package sim

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryEntry is one event flattened the way a dosing algorithm reads it.
type HistoryEntry struct {
	Kind      EventKind
	Value     float64
	Start     time.Time
	End       time.Time
	Delivered float64
}

// EventTimeline is a time-ordered log of events with at most one event per
// timestamp. A second write at the same timestamp replaces the first.
//
// Temp-basal truncation is tracked beside the events: the commanded TempBasal
// stays as recorded and ends holds the time it was actually stopped.
type EventTimeline struct {
	name   string
	times  []time.Time
	events map[int64]Event
	ends   map[int64]time.Time
}

// NewEventTimeline creates an empty timeline. The name only appears in logs.
func NewEventTimeline(name string) *EventTimeline {
	return &EventTimeline{
		name:   name,
		events: make(map[int64]Event),
		ends:   make(map[int64]time.Time),
	}
}

// Name returns the timeline name.
func (tl *EventTimeline) Name() string { return tl.name }

// Len returns the number of recorded events.
func (tl *EventTimeline) Len() int { return len(tl.times) }

// Record inserts e at t, replacing any event already at t.
func (tl *EventTimeline) Record(t time.Time, e Event) {
	key := t.UnixNano()
	if prev, ok := tl.events[key]; ok {
		logrus.Warnf("timeline %s: replacing %s event at %s with %s event",
			tl.name, prev.Kind(), t.Format(time.RFC3339), e.Kind())
		tl.events[key] = e
		delete(tl.ends, key)
		return
	}
	i := sort.Search(len(tl.times), func(i int) bool { return !tl.times[i].Before(t) })
	tl.times = append(tl.times, time.Time{})
	copy(tl.times[i+1:], tl.times[i:])
	tl.times[i] = t
	tl.events[key] = e
}

// EventAt returns the event recorded exactly at t.
func (tl *EventTimeline) EventAt(t time.Time) (Event, bool) {
	e, ok := tl.events[t.UnixNano()]
	return e, ok
}

// Times returns a copy of the event timestamps in ascending order.
func (tl *EventTimeline) Times() []time.Time {
	out := make([]time.Time, len(tl.times))
	copy(out, tl.times)
	return out
}

// MarkEnded records that the temp basal commanded at start stopped at end.
// It is a no-op unless end falls inside the commanded window.
func (tl *EventTimeline) MarkEnded(start, end time.Time) bool {
	e, ok := tl.events[start.UnixNano()]
	if !ok {
		return false
	}
	tb, ok := e.(TempBasal)
	if !ok || !end.Before(tb.ScheduledEnd()) || end.Before(start) {
		return false
	}
	tl.ends[start.UnixNano()] = end
	return true
}

// effectiveEnd is the earlier of the commanded end and any recorded stop.
func (tl *EventTimeline) effectiveEnd(tb TempBasal) time.Time {
	if end, ok := tl.ends[tb.Start.UnixNano()]; ok {
		return end
	}
	return tb.ScheduledEnd()
}

// WindowedHistory returns entries whose start lies in [ref-hoursBack, ref],
// ascending by start. Temp-basal delivery is counted up to ref.
func (tl *EventTimeline) WindowedHistory(ref time.Time, hoursBack float64) []HistoryEntry {
	lo := ref.Add(-hours(hoursBack))
	first := sort.Search(len(tl.times), func(i int) bool { return !tl.times[i].Before(lo) })
	entries := make([]HistoryEntry, 0)
	for _, t := range tl.times[first:] {
		if t.After(ref) {
			break
		}
		entries = append(entries, tl.entry(t, tl.events[t.UnixNano()], ref))
	}
	return entries
}

func (tl *EventTimeline) entry(t time.Time, e Event, ref time.Time) HistoryEntry {
	switch ev := e.(type) {
	case Bolus:
		return HistoryEntry{Kind: KindBolus, Value: ev.Amount, Start: t, End: t, Delivered: ev.Amount}
	case TempBasal:
		end := tl.effectiveEnd(ev)
		deliveredUntil := end
		if ref.Before(deliveredUntil) {
			deliveredUntil = ref
		}
		return HistoryEntry{
			Kind:      KindTempBasal,
			Value:     ev.Rate,
			Start:     t,
			End:       end,
			Delivered: ev.Rate * deliveredUntil.Sub(t).Hours(),
		}
	case Carb:
		return HistoryEntry{
			Kind:      KindCarb,
			Value:     ev.Amount,
			Start:     t,
			End:       t.Add(minutes(ev.DurationMinutes)),
			Delivered: ev.Amount,
		}
	}
	return HistoryEntry{Kind: e.Kind(), Start: t, End: t}
}

// DeliveryRecord contrasts the commanded and delivered views of one override.
type DeliveryRecord struct {
	Start            time.Time
	Rate             float64
	CommandedMinutes float64
	DeliveredMinutes float64
	CommandedUnits   float64
	DeliveredUnits   float64
	UndeliveredUnits float64
	Truncated        bool
}

// Ledger returns the delivery accounting of every temp basal started at or
// before ref. Overrides still running at ref count only what has been delivered.
func (tl *EventTimeline) Ledger(ref time.Time) []DeliveryRecord {
	records := make([]DeliveryRecord, 0)
	for _, t := range tl.times {
		if t.After(ref) {
			break
		}
		tb, ok := tl.events[t.UnixNano()].(TempBasal)
		if !ok {
			continue
		}
		_, truncated := tl.ends[t.UnixNano()]
		end := tl.effectiveEnd(tb)
		if ref.Before(end) {
			end = ref
		}
		delivered := end.Sub(tb.Start).Minutes()
		rec := DeliveryRecord{
			Start:            tb.Start,
			Rate:             tb.Rate,
			CommandedMinutes: tb.DurationMinutes,
			DeliveredMinutes: delivered,
			CommandedUnits:   tb.Rate * tb.DurationMinutes / 60,
			DeliveredUnits:   tb.Rate * delivered / 60,
			Truncated:        truncated,
		}
		if truncated {
			rec.UndeliveredUnits = rec.CommandedUnits - rec.DeliveredUnits
		}
		records = append(records, rec)
	}
	return records
}

// Clone returns an independent deep copy.
func (tl *EventTimeline) Clone() *EventTimeline {
	c := &EventTimeline{
		name:   tl.name,
		times:  make([]time.Time, len(tl.times)),
		events: make(map[int64]Event, len(tl.events)),
		ends:   make(map[int64]time.Time, len(tl.ends)),
	}
	copy(c.times, tl.times)
	for k, v := range tl.events {
		c.events[k] = v
	}
	for k, v := range tl.ends {
		c.ends[k] = v
	}
	return c
}

// DoseColumns is the parallel-array dosing record consumed by a Decider.
type DoseColumns struct {
	Types          []EventKind `json:"dose_types"`
	Values         []float64   `json:"dose_values"`
	StartTimes     []time.Time `json:"dose_start_times"`
	EndTimes       []time.Time `json:"dose_end_times"`
	DeliveredUnits []float64   `json:"dose_delivered_units"`
}

// NewDoseColumns flattens entries into columns, preserving their order.
func NewDoseColumns(entries []HistoryEntry) DoseColumns {
	c := DoseColumns{
		Types:          make([]EventKind, 0, len(entries)),
		Values:         make([]float64, 0, len(entries)),
		StartTimes:     make([]time.Time, 0, len(entries)),
		EndTimes:       make([]time.Time, 0, len(entries)),
		DeliveredUnits: make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		c.Types = append(c.Types, e.Kind)
		c.Values = append(c.Values, e.Value)
		c.StartTimes = append(c.StartTimes, e.Start)
		c.EndTimes = append(c.EndTimes, e.End)
		c.DeliveredUnits = append(c.DeliveredUnits, e.Delivered)
	}
	return c
}

// MergeDoseHistories merges several windowed histories into one record
// ordered by start time. Entries with equal starts keep argument order.
func MergeDoseHistories(histories ...[]HistoryEntry) DoseColumns {
	var all []HistoryEntry
	for _, h := range histories {
		all = append(all, h...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return NewDoseColumns(all)
}

// CarbColumns is the parallel-array carb record consumed by a Decider.
type CarbColumns struct {
	Values            []float64   `json:"carb_values"`
	StartTimes        []time.Time `json:"carb_dates"`
	AbsorptionMinutes []float64   `json:"carb_absorption_times"`
}

// NewCarbColumns flattens carb history entries into columns.
func NewCarbColumns(entries []HistoryEntry) CarbColumns {
	c := CarbColumns{
		Values:            make([]float64, 0, len(entries)),
		StartTimes:        make([]time.Time, 0, len(entries)),
		AbsorptionMinutes: make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Kind != KindCarb {
			continue
		}
		c.Values = append(c.Values, e.Value)
		c.StartTimes = append(c.StartTimes, e.Start)
		c.AbsorptionMinutes = append(c.AbsorptionMinutes, e.End.Sub(e.Start).Minutes())
	}
	return c
}
