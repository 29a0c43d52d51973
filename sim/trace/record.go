// Package trace provides decision-trace recording for controller analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

import "time"

// Action is what a controller did with one decision.
type Action string

const (
	ActionNone            Action = "none"
	ActionBolus           Action = "bolus"
	ActionTempBasal       Action = "temp_basal"
	ActionCancelTempBasal Action = "cancel_temp_basal"
)

// DecisionRecord captures a single controller tick.
type DecisionRecord struct {
	Clock            time.Time
	Connected        bool
	Action           Action
	BolusRecommended float64 // recommended amount, 0 when none
	Bolus            float64 // delivered amount, 0 unless Action is ActionBolus
	TempBasalRate    float64
	TempBasalMinutes float64
}
