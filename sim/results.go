package sim

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// SimulationState is the immutable snapshot recorded once per tick.
type SimulationState struct {
	Time       time.Time
	Patient    PatientState
	Controller ControllerState
}

// Row is one flattened line of the result table.
type Row struct {
	Time           time.Time `json:"time"`
	BG             float64   `json:"bg"`
	SensorBG       float64   `json:"bg_sensor"`
	IOB            float64   `json:"iob"`
	COB            float64   `json:"cob"`
	TempBasal      *float64  `json:"temp_basal"`
	TempBasalZeros float64   `json:"temp_basal_zeros"`
	SBR            float64   `json:"sbr"`
	CIR            float64   `json:"cir"`
	ISF            float64   `json:"isf"`
	Bolus          float64   `json:"bolus"`
	TrueBolus      float64   `json:"true_bolus"`
	Carb           float64   `json:"carb"`
	TrueCarb       float64   `json:"true_carb"`
}

// Columns is the result table header, in row order.
var Columns = []string{
	"time", "bg", "bg_sensor", "iob", "cob", "temp_basal", "temp_basal_zeros",
	"sbr", "cir", "isf", "bolus", "true_bolus", "carb", "true_carb",
}

// Results is the time-indexed table of snapshots a run produces. Rows are
// appended in strictly increasing time order.
type Results struct {
	states []SimulationState
	index  map[int64]int
}

// NewResults creates an empty table.
func NewResults() *Results {
	return &Results{index: make(map[int64]int)}
}

func (r *Results) add(st SimulationState) {
	key := st.Time.UnixNano()
	if i, ok := r.index[key]; ok {
		r.states[i] = st
		return
	}
	r.index[key] = len(r.states)
	r.states = append(r.states, st)
}

// Len returns the number of snapshots.
func (r *Results) Len() int { return len(r.states) }

// States returns the snapshots in time order.
func (r *Results) States() []SimulationState {
	out := make([]SimulationState, len(r.states))
	copy(out, r.states)
	return out
}

// At returns the snapshot stamped t.
func (r *Results) At(t time.Time) (SimulationState, bool) {
	i, ok := r.index[t.UnixNano()]
	if !ok {
		return SimulationState{}, false
	}
	return r.states[i], true
}

// Rows flattens the snapshots into result rows.
func (r *Results) Rows() []Row {
	rows := make([]Row, len(r.states))
	for i, st := range r.states {
		ps := st.Patient
		row := Row{
			Time:           st.Time,
			BG:             ps.Glucose,
			SensorBG:       ps.SensorGlucose,
			IOB:            ps.InsulinOnBoard,
			COB:            ps.CarbsOnBoard,
			TempBasalZeros: ps.Pump.TempBasalRate(0),
			SBR:            ps.Pump.ScheduledBasalRate,
			CIR:            ps.CarbRatio,
			ISF:            ps.InsulinSensitivity,
			Bolus:          ps.Pump.Bolus,
			TrueBolus:      ps.Bolus,
			Carb:           ps.Pump.Carb,
			TrueCarb:       ps.Carb,
		}
		if ps.Pump.TempBasal != nil {
			rate := ps.Pump.TempBasal.Rate
			row.TempBasal = &rate
		}
		rows[i] = row
	}
	return rows
}

// Column returns a numeric column by header name. temp_basal reads as
// temp_basal_zeros.
func (r *Results) Column(name string) ([]float64, error) {
	rows := r.Rows()
	out := make([]float64, len(rows))
	for i, row := range rows {
		v, err := row.value(name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Sum totals a numeric column.
func (r *Results) Sum(name string) (float64, error) {
	col, err := r.Column(name)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range col {
		total += v
	}
	return total, nil
}

func (row Row) value(name string) (float64, error) {
	switch name {
	case "bg":
		return row.BG, nil
	case "bg_sensor":
		return row.SensorBG, nil
	case "iob":
		return row.IOB, nil
	case "cob":
		return row.COB, nil
	case "temp_basal", "temp_basal_zeros":
		return row.TempBasalZeros, nil
	case "sbr":
		return row.SBR, nil
	case "cir":
		return row.CIR, nil
	case "isf":
		return row.ISF, nil
	case "bolus":
		return row.Bolus, nil
	case "true_bolus":
		return row.TrueBolus, nil
	case "carb":
		return row.Carb, nil
	case "true_carb":
		return row.TrueCarb, nil
	}
	return 0, fmt.Errorf("unknown numeric column %q", name)
}

func (row Row) record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	tempBasal := ""
	if row.TempBasal != nil {
		tempBasal = f(*row.TempBasal)
	}
	return []string{
		row.Time.Format(time.RFC3339),
		f(row.BG), f(row.SensorBG), f(row.IOB), f(row.COB),
		tempBasal, f(row.TempBasalZeros),
		f(row.SBR), f(row.CIR), f(row.ISF),
		f(row.Bolus), f(row.TrueBolus), f(row.Carb), f(row.TrueCarb),
	}
}

// WriteCSV writes the header and one line per row. An inactive temp basal is
// an empty cell.
func (r *Results) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, row := range r.Rows() {
		if err := cw.Write(row.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows as an indented JSON array.
func (r *Results) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Rows())
}
