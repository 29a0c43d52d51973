package sim_test

// Blank imports trigger the init() of sim/metabolism and sim/decision, which
// register the simple model and the temp-basal decider. This lets package
// sim's internal tests build them by name without an import cycle.
import (
	_ "github.com/loop-sim/loop-sim/sim/decision"
	_ "github.com/loop-sim/loop-sim/sim/metabolism"
)
