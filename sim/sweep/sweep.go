// Package sweep runs many independent simulations of built scenarios on a
// bounded pool of goroutines.
//
// Every run gets its own deep copy of the scenario components (see
// sim.NewSimulation) and its own seed, so runs share nothing mutable. Each
// worker hands back exactly one Result over its own one-slot channel.
package sweep

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/loop-sim/loop-sim/sim"
	"github.com/loop-sim/loop-sim/sim/scenario"
	"github.com/loop-sim/loop-sim/sim/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Job is one simulation to execute.
type Job struct {
	Index  int
	Seed   int64
	Bundle *scenario.Bundle
}

// Result is what a finished (or failed) job delivers.
type Result struct {
	RunID    uuid.UUID
	Index    int
	Scenario string
	Seed     int64
	Elapsed  time.Duration
	Results  *sim.Results
	Metrics  *sim.Metrics
	Trace    *trace.TraceSummary
	Err      error
}

// Config controls a sweep.
type Config struct {
	Workers  int  // 0 means runtime.NumCPU()
	FailFast bool // skip jobs not yet started once any run fails
}

// Plan expands bundles into runs jobs each. Per-run seeds are derived from
// baseSeed, so the same plan always yields the same seeds.
func Plan(bundles []*scenario.Bundle, runs int, baseSeed int64) []Job {
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(baseSeed))
	jobs := make([]Job, 0, len(bundles)*runs)
	for _, b := range bundles {
		for r := 0; r < runs; r++ {
			i := len(jobs)
			jobs = append(jobs, Job{Index: i, Seed: rng.DeriveSeed(sim.SubsystemRun(i)), Bundle: b})
		}
	}
	return jobs
}

// Execute runs jobs with at most cfg.Workers in flight and returns one
// Result per job in job order. The error is the first run failure, if any;
// failed runs also carry their error in Result.Err.
func Execute(ctx context.Context, jobs []Job, cfg Config) ([]Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	channels := make([]chan Result, len(jobs))
	for i, job := range jobs {
		job := job
		ch := make(chan Result, 1)
		channels[i] = ch
		g.Go(func() error {
			if cfg.FailFast {
				if err := gctx.Err(); err != nil {
					ch <- Result{Index: job.Index, Seed: job.Seed, Scenario: job.Bundle.Name, Err: err}
					return nil
				}
			}
			res := runJob(job)
			ch <- res
			if cfg.FailFast {
				return res.Err
			}
			return nil
		})
	}

	results := make([]Result, len(jobs))
	var firstErr error
	for i, ch := range channels {
		results[i] = <-ch
		if results[i].Err != nil && firstErr == nil {
			firstErr = results[i].Err
		}
	}
	if err := g.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return results, firstErr
}

func runJob(job Job) (res Result) {
	res = Result{RunID: uuid.New(), Index: job.Index, Scenario: job.Bundle.Name, Seed: job.Seed}
	log := logrus.WithFields(logrus.Fields{"run": res.RunID.String(), "scenario": res.Scenario, "seed": res.Seed})
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	s, err := job.Bundle.NewSimulation(job.Seed)
	if err != nil {
		res.Err = fmt.Errorf("run %d (%s, seed %d): %w", job.Index, res.Scenario, job.Seed, err)
		log.Errorf("Setup failed: %v", err)
		return res
	}
	out, err := s.Run()
	if err != nil {
		res.Err = fmt.Errorf("run %d (%s, seed %d): %w", job.Index, res.Scenario, job.Seed, err)
		log.Errorf("Run failed: %v", err)
		return res
	}
	res.Results = out
	if res.Metrics, err = sim.ComputeMetrics(out); err != nil {
		res.Err = fmt.Errorf("run %d metrics: %w", job.Index, err)
		return res
	}
	if st := s.Trace(); st != nil {
		res.Trace = trace.Summarize(st)
	}
	log.Debugf("Run finished: %d rows", out.Len())
	return res
}
