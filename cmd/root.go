package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/scenario"
	"github.com/loop-sim/loop-sim/sim/trace"
)

var (
	// CLI flags shared by run and sweep
	scenarioPath  string  // Scenario YAML file
	seed          int64   // Seed override for the scenario
	logLevel      string  // Log verbosity level
	durationHours float64 // Duration override in hours (0 keeps the scenario value)
	traceLevel    string  // Trace level override ("" keeps the scenario value)

	// run only
	resultsPath string // Where to write the result table (.csv or .json)

	// sweep only
	runs     int  // Runs per scenario
	workers  int  // Concurrent simulations
	failFast bool // Stop at the first failed run
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "loop-sim",
	Short: "Closed-loop insulin delivery simulator",
}

// runOptions are the resolved settings of a single run.
type runOptions struct {
	ScenarioPath  string
	Seed          int64
	SeedSet       bool
	DurationHours float64
	TraceLevel    string
	ResultsPath   string
}

// runCmd executes one simulation of a scenario
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario once and print its metrics",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}
		opts := runOptions{
			ScenarioPath:  scenarioPath,
			Seed:          seed,
			SeedSet:       cmd.Flags().Changed("seed"),
			DurationHours: durationHours,
			TraceLevel:    traceLevel,
			ResultsPath:   resultsPath,
		}
		if err := runScenario(opts, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadScenario reads a scenario file and applies CLI overrides.
func loadScenario(path string, seedOverride *int64, hours float64, level string) (*scenario.Scenario, error) {
	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	if seedOverride != nil {
		logrus.Infof("CLI --seed %d overrides scenario seed %d", *seedOverride, sc.Seed)
		sc.Seed = *seedOverride
	}
	if hours > 0 {
		sc.DurationHours = hours
	}
	if level != "" {
		if !trace.IsValidTraceLevel(level) {
			return nil, fmt.Errorf("unknown trace level %q", level)
		}
		sc.TraceLevel = level
	}
	return sc, nil
}

// runScenario builds and runs one simulation, writes the result table when
// asked and prints metrics to w.
func runScenario(opts runOptions, w io.Writer) error {
	var override *int64
	if opts.SeedSet {
		override = &opts.Seed
	}
	sc, err := loadScenario(opts.ScenarioPath, override, opts.DurationHours, opts.TraceLevel)
	if err != nil {
		return err
	}
	bundle, err := sc.Build()
	if err != nil {
		return err
	}

	logrus.Infof("Starting scenario %q: duration=%gh seed=%d", bundle.Name, bundle.Config.DurationHours, sc.Seed)
	startTime := time.Now()

	s, err := bundle.NewSimulation(sc.Seed)
	if err != nil {
		return err
	}
	res, err := s.Run()
	if err != nil {
		return err
	}
	logrus.Infof("Simulated %d ticks in %s", s.TickCount(), time.Since(startTime))

	if opts.ResultsPath != "" {
		if err := sim.SaveResults(res, opts.ResultsPath); err != nil {
			return err
		}
	}
	m, err := sim.ComputeMetrics(res)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Scenario: %s (seed %d)\n", bundle.Name, sc.Seed)
	m.Print(w)
	if s.Trace() != nil {
		printTraceSummary(w, trace.Summarize(s.Trace()))
	}
	return nil
}

func printTraceSummary(w io.Writer, ts *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Decision Trace ===")
	fmt.Fprintf(w, "Decisions            : %d\n", ts.TotalDecisions)
	fmt.Fprintf(w, "Disconnected ticks   : %d\n", ts.DisconnectedTicks)
	fmt.Fprintf(w, "Boluses rec/accepted : %d / %d (%.2f U)\n", ts.BolusesRecommended, ts.BolusesAccepted, ts.TotalBolusUnits)
	fmt.Fprintf(w, "Temp basals set      : %d\n", ts.TempBasalsSet)
	fmt.Fprintf(w, "Temp basals canceled : %d\n", ts.TempBasalsCanceled)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, sweepCmd} {
		c.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML file")
		c.Flags().Int64Var(&seed, "seed", 42, "Seed override (the scenario seed is used when unset)")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().Float64Var(&durationHours, "duration", 0, "Simulated hours (0 keeps the scenario value)")
		c.Flags().StringVar(&traceLevel, "trace-level", "", "Decision trace level: none or decisions")
	}
	runCmd.Flags().StringVar(&resultsPath, "results-path", "", "File to write the result table to (.json for JSON, otherwise CSV)")

	sweepCmd.Flags().IntVar(&runs, "runs", 10, "Runs per scenario")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent simulations (0 = number of CPUs)")
	sweepCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Cancel remaining runs after the first failure")

	validateCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(validateCmd)
}
