// register.go makes the models in this package constructible by name through
// sim.NewMetabolismModel. sim owns the interface and the registry; importing
// sim/metabolism (directly or blank) fills it in.
package metabolism

import "github.com/loop-sim/loop-sim/sim"

func init() {
	sim.RegisterMetabolismModel(ModelSimple, func(params map[string]float64) (sim.MetabolismModel, error) {
		return NewSimpleModel(params)
	})
}
