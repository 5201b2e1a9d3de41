package population

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// ReportRow is one instance's outcome as appended to report.csv.
type ReportRow struct {
	InstanceID int
	ExitStatus string
	ModelPath  string
	Generation int
	GameSeed   int64
	Fitness    float64
}

var reportHeader = []string{"instanceID", "exitStatus", "modelPath", "generationID", "gameSeed", "fitness"}

// AppendReport appends one completed generation's rows to the CSV report,
// writing the header when the file is new.
func AppendReport(path string, rows []ReportRow) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(reportHeader); err != nil {
			return err
		}
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.InstanceID),
			row.ExitStatus,
			row.ModelPath,
			strconv.Itoa(row.Generation),
			strconv.FormatInt(row.GameSeed, 10),
			strconv.FormatFloat(row.Fitness, 'g', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Diagnostics summarizes one generation's fitness distribution.
type Diagnostics struct {
	Generation  int     `json:"generation"`
	Population  int     `json:"population"`
	BestFitness float64 `json:"best_fitness"`
	MeanFitness float64 `json:"mean_fitness"`
	MinFitness  float64 `json:"min_fitness"`
	StddevFit   float64 `json:"stddev_fitness"`
}

// Summarize computes generation diagnostics from raw fitness values.
func Summarize(generation int, fitness []float64) (Diagnostics, error) {
	if len(fitness) == 0 {
		return Diagnostics{}, fmt.Errorf("no fitness values for generation %d", generation)
	}

	best, minFit := fitness[0], fitness[0]
	for _, f := range fitness {
		if f > best {
			best = f
		}
		if f < minFit {
			minFit = f
		}
	}
	stddev := 0.0
	if len(fitness) > 1 {
		stddev = stat.StdDev(fitness, nil)
	}
	return Diagnostics{
		Generation:  generation,
		Population:  len(fitness),
		BestFitness: best,
		MeanFitness: stat.Mean(fitness, nil),
		MinFitness:  minFit,
		StddevFit:   stddev,
	}, nil
}
