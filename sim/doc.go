// Package sim provides the core closed-loop co-simulation engine for insulin
// delivery.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - simulator.go: the fixed-tick loop (forecast becomes truth, controller
//     acts, patient re-forecasts) and the per-tick snapshot
//   - patient.go: true glucose, insulin and carbs on board, sensor readings
//   - controller.go: DoNothing, automated dosing and the intermittently
//     connected wrapper
//
// Devices and their bookkeeping:
//   - pump.go: schedules, temp basal overrides, reported boluses and carbs
//   - sensor.go: ideal and noisy glucose sensors with back-filled history
//   - schedule.go: daily settings schedules (basal, carb ratio, ISF, targets)
//   - timeline.go: event timelines with windowed history queries
//
// # Architecture
//
// The sim package defines interfaces and bridge types; implementations live in
// sub-packages:
//   - sim/metabolism/: glucose forecasting models
//   - sim/decision/: dosing decision functions
//   - sim/scenario/: YAML scenarios and component construction
//   - sim/sweep/: parallel multi-run execution and cross-run summaries
//   - sim/trace/: decision trace recording
//
// Sub-packages register their implementations via init() functions that call
// RegisterMetabolismModel and RegisterDecider.
//
// # Key Interfaces
//
//   - MetabolismModel: forecast a glucose trajectory from doses and carbs
//   - Decider: turn the assembled loop inputs into a recommendation record
//   - Controller: decide and apply adjustments each tick
//   - Sensor: measure glucose and expose reading history
//
// Randomness flows only through PartitionedRNG, so a seed fully determines a
// run's result table.
package sim
