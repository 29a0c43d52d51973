package sweep

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates per-run metrics across a sweep.
type Summary struct {
	Runs          int     `json:"runs"`
	Failed        int     `json:"failed"`
	MeanBG        float64 `json:"mean_bg"`
	MeanBGStdDev  float64 `json:"mean_bg_std_dev"`
	TimeInRange   float64 `json:"time_in_range"`
	TIRStdDev     float64 `json:"time_in_range_std_dev"`
	WorstTIR      float64 `json:"worst_time_in_range"`
	TimeBelow70   float64 `json:"time_below_70"`
	MeanLBGI      float64 `json:"mean_lbgi"`
	MeanHBGI      float64 `json:"mean_hbgi"`
	MeanBasalUsed float64 `json:"mean_basal_delivered"`
}

// Summarize aggregates the successful runs in results.
func Summarize(results []Result) Summary {
	var meanBG, tir, below, lbgi, hbgi, basal []float64
	s := Summary{Runs: len(results)}
	for _, r := range results {
		if r.Err != nil || r.Metrics == nil {
			s.Failed++
			continue
		}
		m := r.Metrics
		meanBG = append(meanBG, m.True.Mean)
		tir = append(tir, m.True.TimeInRange)
		below = append(below, m.True.TimeBelow70)
		lbgi = append(lbgi, m.True.LBGI)
		hbgi = append(hbgi, m.True.HBGI)
		basal = append(basal, m.BasalDelivered)
	}
	if len(meanBG) == 0 {
		return s
	}
	s.MeanBG = stat.Mean(meanBG, nil)
	s.TimeInRange = stat.Mean(tir, nil)
	if len(meanBG) > 1 {
		s.MeanBGStdDev = stat.StdDev(meanBG, nil)
		s.TIRStdDev = stat.StdDev(tir, nil)
	}
	s.WorstTIR = tir[0]
	for _, v := range tir[1:] {
		s.WorstTIR = min(s.WorstTIR, v)
	}
	s.TimeBelow70 = stat.Mean(below, nil)
	s.MeanLBGI = stat.Mean(lbgi, nil)
	s.MeanHBGI = stat.Mean(hbgi, nil)
	s.MeanBasalUsed = stat.Mean(basal, nil)
	return s
}

// Print writes a human-readable sweep summary.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Sweep Summary ===")
	fmt.Fprintf(w, "Runs (failed)        : %d (%d)\n", s.Runs, s.Failed)
	fmt.Fprintf(w, "Mean BG              : %.1f mg/dL (sd across runs %.1f)\n", s.MeanBG, s.MeanBGStdDev)
	fmt.Fprintf(w, "Time in range        : %.1f%% (sd %.1f, worst %.1f%%)\n", 100*s.TimeInRange, 100*s.TIRStdDev, 100*s.WorstTIR)
	fmt.Fprintf(w, "Time <70             : %.1f%%\n", 100*s.TimeBelow70)
	fmt.Fprintf(w, "LBGI / HBGI          : %.2f / %.2f\n", s.MeanLBGI, s.MeanHBGI)
	fmt.Fprintf(w, "Basal delivered      : %.2f U\n", s.MeanBasalUsed)
}
