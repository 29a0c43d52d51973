package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions     int
	DisconnectedTicks  int
	BolusesRecommended int
	BolusesAccepted    int
	TotalBolusUnits    float64
	TempBasalsSet      int
	TempBasalsCanceled int
	ActionDistribution map[Action]int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		ActionDistribution: make(map[Action]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Decisions)
	for _, d := range st.Decisions {
		summary.ActionDistribution[d.Action]++
		if !d.Connected {
			summary.DisconnectedTicks++
		}
		if d.BolusRecommended > 0 {
			summary.BolusesRecommended++
		}
		switch d.Action {
		case ActionBolus:
			summary.BolusesAccepted++
			summary.TotalBolusUnits += d.Bolus
		case ActionTempBasal:
			summary.TempBasalsSet++
		case ActionCancelTempBasal:
			summary.TempBasalsCanceled++
		}
	}
	return summary
}
