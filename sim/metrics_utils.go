// sim/metrics_utils.go
package sim

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// fractionWhere returns the share of values satisfying pred.
func fractionWhere(values []float64, pred func(float64) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if pred(v) {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

// glucoseRisk is the symmetrized BG risk of a single reading (Kovatchev).
// The sign tells low (negative) from high (positive) risk.
func glucoseRisk(bg float64) float64 {
	bg = math.Max(bg, 1)
	f := 1.509 * (math.Pow(math.Log(bg), 1.084) - 5.381)
	r := 10 * f * f
	if f < 0 {
		return -r
	}
	return r
}

// riskIndices returns the low and high blood glucose indices.
func riskIndices(values []float64) (lbgi, hbgi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	low := make([]float64, len(values))
	high := make([]float64, len(values))
	for i, v := range values {
		if r := glucoseRisk(v); r < 0 {
			low[i] = -r
		} else {
			high[i] = r
		}
	}
	return stat.Mean(low, nil), stat.Mean(high, nil)
}

// SaveResults writes the result table to fileName. The format follows the
// extension: .json for JSON, anything else CSV.
func SaveResults(res *Results, fileName string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", fileName, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logrus.Errorf("Error closing file %s: %v", fileName, closeErr)
		}
	}()

	writer := bufio.NewWriter(file)
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		err = res.WriteJSON(writer)
	} else {
		err = res.WriteCSV(writer)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", fileName, err)
	}
	logrus.Infof("Results written to %s", fileName)
	return nil
}
