// Summarizes a finished run: glucose distribution, time in range, risk
// indices and dosing totals.

package sim

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Glucose thresholds in mg/dL used for time-in-range reporting.
const (
	SevereHypoThreshold  = 54.0
	HypoThreshold        = 70.0
	HyperThreshold       = 180.0
	SevereHyperThreshold = 250.0
)

// GlucoseMetrics describes one glucose column of a run.
type GlucoseMetrics struct {
	Readings int     `json:"readings"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	CV       float64 `json:"cv"`
	Min      float64 `json:"min"`
	P5       float64 `json:"p5"`
	P25      float64 `json:"p25"`
	Median   float64 `json:"median"`
	P75      float64 `json:"p75"`
	P95      float64 `json:"p95"`
	Max      float64 `json:"max"`

	// Fractions of readings, in [0, 1].
	TimeBelow54  float64 `json:"time_below_54"`
	TimeBelow70  float64 `json:"time_below_70"`
	TimeInRange  float64 `json:"time_in_range"`
	TimeAbove180 float64 `json:"time_above_180"`
	TimeAbove250 float64 `json:"time_above_250"`

	LBGI float64 `json:"lbgi"`
	HBGI float64 `json:"hbgi"`
}

// Metrics aggregates statistics about a run for final reporting.
type Metrics struct {
	Ticks          int            `json:"ticks"`
	True           GlucoseMetrics `json:"bg"`
	Sensor         GlucoseMetrics `json:"bg_sensor"`
	ReportedBolus  float64        `json:"bolus_total"`
	TrueBolus      float64        `json:"true_bolus_total"`
	ReportedCarbs  float64        `json:"carb_total"`
	TrueCarbs      float64        `json:"true_carb_total"`
	TempBasalTicks int            `json:"temp_basal_ticks"`
	BasalDelivered float64        `json:"basal_delivered"` // U, tick-integrated
}

// ComputeMetrics summarizes a result table.
func ComputeMetrics(res *Results) (*Metrics, error) {
	rows := res.Rows()
	if len(rows) == 0 {
		return nil, fmt.Errorf("no results to summarize")
	}
	m := &Metrics{Ticks: len(rows)}
	bg := make([]float64, len(rows))
	sensor := make([]float64, len(rows))
	for i, row := range rows {
		bg[i] = row.BG
		sensor[i] = row.SensorBG
		m.ReportedBolus += row.Bolus
		m.TrueBolus += row.TrueBolus
		m.ReportedCarbs += row.Carb
		m.TrueCarbs += row.TrueCarb
		rate := row.SBR
		if row.TempBasal != nil {
			m.TempBasalTicks++
			rate = *row.TempBasal
		}
		if i < len(rows)-1 {
			m.BasalDelivered += rate * rows[i+1].Time.Sub(row.Time).Hours()
		}
	}
	m.True = glucoseMetrics(bg)
	m.Sensor = glucoseMetrics(sensor)
	return m, nil
}

func glucoseMetrics(values []float64) GlucoseMetrics {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	g := GlucoseMetrics{
		Readings: len(sorted),
		Mean:     mean,
		StdDev:   std,
		Min:      sorted[0],
		P5:       stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P25:      stat.Quantile(0.25, stat.Empirical, sorted, nil),
		Median:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P75:      stat.Quantile(0.75, stat.Empirical, sorted, nil),
		P95:      stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:      sorted[len(sorted)-1],

		TimeBelow54:  fractionWhere(sorted, func(v float64) bool { return v < SevereHypoThreshold }),
		TimeBelow70:  fractionWhere(sorted, func(v float64) bool { return v < HypoThreshold }),
		TimeInRange:  fractionWhere(sorted, func(v float64) bool { return v >= HypoThreshold && v <= HyperThreshold }),
		TimeAbove180: fractionWhere(sorted, func(v float64) bool { return v > HyperThreshold }),
		TimeAbove250: fractionWhere(sorted, func(v float64) bool { return v > SevereHyperThreshold }),
	}
	if len(sorted) < 2 {
		g.StdDev = 0
	}
	if mean != 0 {
		g.CV = g.StdDev / mean
	}
	g.LBGI, g.HBGI = riskIndices(sorted)
	return g
}

// Print writes a human-readable summary.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks                : %d\n", m.Ticks)
	fmt.Fprintf(w, "Mean BG              : %.1f mg/dL (sd %.1f, cv %.2f)\n", m.True.Mean, m.True.StdDev, m.True.CV)
	fmt.Fprintf(w, "BG min/median/max    : %.1f / %.1f / %.1f\n", m.True.Min, m.True.Median, m.True.Max)
	fmt.Fprintf(w, "Time in range        : %.1f%%\n", 100*m.True.TimeInRange)
	fmt.Fprintf(w, "Time <54 / <70       : %.1f%% / %.1f%%\n", 100*m.True.TimeBelow54, 100*m.True.TimeBelow70)
	fmt.Fprintf(w, "Time >180 / >250     : %.1f%% / %.1f%%\n", 100*m.True.TimeAbove180, 100*m.True.TimeAbove250)
	fmt.Fprintf(w, "LBGI / HBGI          : %.2f / %.2f\n", m.True.LBGI, m.True.HBGI)
	fmt.Fprintf(w, "Mean sensor BG       : %.1f mg/dL\n", m.Sensor.Mean)
	fmt.Fprintf(w, "Bolus (true/reported): %.2f / %.2f U\n", m.TrueBolus, m.ReportedBolus)
	fmt.Fprintf(w, "Carbs (true/reported): %.0f / %.0f g\n", m.TrueCarbs, m.ReportedCarbs)
	fmt.Fprintf(w, "Basal delivered      : %.2f U (%d temp basal ticks)\n", m.BasalDelivered, m.TempBasalTicks)
}
