package sim

import (
	"fmt"
	"sort"
	"time"
)

// Recommendation record keys every Decider must return.
const (
	RecommendedBolusKey     = "recommended_bolus"
	RecommendedTempBasalKey = "recommended_temp_basal"
)

// Recommendation is the raw record returned by a Decider. It is kept as a
// record, not a struct, so a malformed shape can be reported instead of being
// silently zero-filled.
type Recommendation map[string]any

// Clone returns a shallow copy of the record.
func (r Recommendation) Clone() Recommendation {
	if r == nil {
		return nil
	}
	out := make(Recommendation, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// LastTempBasal describes the most recent temp basal on the pump timeline.
type LastTempBasal struct {
	Type  EventKind `json:"type"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Rate  float64   `json:"rate"`
}

// LoopInputs is the single record a Decider receives each tick.
type LoopInputs struct {
	TimeToCalculateAt time.Time                   `json:"time_to_calculate_at"`
	GlucoseDates      []time.Time                 `json:"glucose_dates"`
	GlucoseValues     []float64                   `json:"glucose_values"`
	Doses             DoseColumns                 `json:"doses"`
	Carbs             CarbColumns                 `json:"carbs"`
	BasalRates        ScheduleInputs[float64]     `json:"basal_rates"`
	CarbRatios        ScheduleInputs[float64]     `json:"carb_ratios"`
	Sensitivities     ScheduleInputs[float64]     `json:"sensitivities"`
	TargetRanges      ScheduleInputs[TargetRange] `json:"target_ranges"`
	LastTempBasal     *LastTempBasal              `json:"last_temporary_basal"`
	Settings          map[string]any              `json:"settings_dictionary"`
}

// Decider converts assembled inputs into a recommendation record.
type Decider interface {
	Decide(in LoopInputs) (Recommendation, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(in LoopInputs) (Recommendation, error)

// Decide implements Decider.
func (f DeciderFunc) Decide(in LoopInputs) (Recommendation, error) { return f(in) }

// DeciderFactory constructs a Decider from algorithm settings.
type DeciderFactory func(settings map[string]any) (Decider, error)

var deciders = map[string]DeciderFactory{}

// RegisterDecider makes a decision function constructible by name.
// Panics on duplicate names.
func RegisterDecider(name string, f DeciderFactory) {
	if _, dup := deciders[name]; dup {
		panic(fmt.Sprintf("decider %q registered twice", name))
	}
	deciders[name] = f
}

// NewDecider builds the registered decider called name.
func NewDecider(name string, settings map[string]any) (Decider, error) {
	f, ok := deciders[name]
	if !ok {
		return nil, &ConfigurationError{Component: "decider",
			Reason: fmt.Sprintf("no decider registered as %q (known: %v)", name, DeciderNames())}
	}
	return f(settings)
}

// DeciderNames lists registered decider names in sorted order.
func DeciderNames() []string {
	names := make([]string, 0, len(deciders))
	for n := range deciders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parsedRecommendation is the typed view of a Recommendation.
type parsedRecommendation struct {
	bolus     *Bolus
	tempBasal *[2]float64 // rate U/hr, duration minutes
}

func parseRecommendation(controller string, t time.Time, rec Recommendation) (parsedRecommendation, error) {
	var out parsedRecommendation
	fail := func(key, reason string) (parsedRecommendation, error) {
		return parsedRecommendation{}, &ControllerOutputError{Time: t, Controller: controller, Key: key, Reason: reason}
	}

	raw, ok := rec[RecommendedBolusKey]
	if !ok {
		return fail(RecommendedBolusKey, "missing")
	}
	if raw != nil {
		// Some algorithms return [amount, ...]; the amount is the first element.
		if list, isList := asNumberList(raw); isList {
			if len(list) == 0 {
				return fail(RecommendedBolusKey, "empty list")
			}
			raw = list[0]
		}
		amount, isNum := asNumber(raw)
		if !isNum {
			return fail(RecommendedBolusKey, fmt.Sprintf("unexpected type %T", raw))
		}
		if !isFinite(amount) {
			return fail(RecommendedBolusKey, fmt.Sprintf("non-finite amount %v", amount))
		}
		if amount > 0 {
			out.bolus = &Bolus{Amount: amount, Unit: "U"}
		}
	}

	raw, ok = rec[RecommendedTempBasalKey]
	if !ok {
		return fail(RecommendedTempBasalKey, "missing")
	}
	if raw != nil {
		list, isList := asNumberList(raw)
		if !isList || len(list) != 2 {
			return fail(RecommendedTempBasalKey, fmt.Sprintf("want [rate, duration], got %v", raw))
		}
		rate, ok1 := asNumber(list[0])
		duration, ok2 := asNumber(list[1])
		if !ok1 || !ok2 {
			return fail(RecommendedTempBasalKey, fmt.Sprintf("non-numeric [rate, duration] %v", raw))
		}
		if !isFinite(rate) || !isFinite(duration) {
			return fail(RecommendedTempBasalKey, fmt.Sprintf("non-finite [rate, duration] %v", raw))
		}
		out.tempBasal = &[2]float64{rate, duration}
	}
	return out, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asNumberList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []float64:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}
