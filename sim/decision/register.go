// register.go makes the deciders in this package constructible by name
// through sim.NewDecider.
package decision

import "github.com/loop-sim/loop-sim/sim"

func init() {
	sim.RegisterDecider(DeciderTempBasal, func(settings map[string]any) (sim.Decider, error) {
		return NewTempBasalDecider(settings)
	})
}
