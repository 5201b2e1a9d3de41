package population

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendReportWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	rows := []ReportRow{
		{InstanceID: 0, ExitStatus: "ENDED", ModelPath: "gen0/model_0.fnnm", Generation: 0, GameSeed: 42, Fitness: 10.5},
		{InstanceID: 1, ExitStatus: "ERRENDED", ModelPath: "gen0/model_1.fnnm", Generation: 0, GameSeed: 42, Fitness: 0},
	}

	if err := AppendReport(path, rows); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendReport(path, rows[:1]); err != nil {
		t.Fatalf("second append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	if len(records) != 4 {
		t.Fatalf("rows: got %d want 4 (header + 3)", len(records))
	}
	if records[0][0] != "instanceID" || records[0][5] != "fitness" {
		t.Fatalf("bad header: %v", records[0])
	}
	if records[1][1] != "ENDED" || records[2][1] != "ERRENDED" {
		t.Fatalf("bad exit statuses: %v %v", records[1], records[2])
	}
	if records[1][4] != "42" {
		t.Fatalf("bad seed column: %v", records[1])
	}
}

func TestSummarize(t *testing.T) {
	d, err := Summarize(2, []float64{1, 2, 3, 6})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if d.Generation != 2 || d.Population != 4 {
		t.Fatalf("meta: %+v", d)
	}
	if d.BestFitness != 6 || d.MinFitness != 1 {
		t.Fatalf("extremes: %+v", d)
	}
	if math.Abs(d.MeanFitness-3) > 1e-12 {
		t.Fatalf("mean: %v", d.MeanFitness)
	}
	if d.StddevFit <= 0 {
		t.Fatalf("stddev: %v", d.StddevFit)
	}
}

func TestSummarizeRejectsEmpty(t *testing.T) {
	if _, err := Summarize(0, nil); err == nil {
		t.Fatal("expected error for empty fitness slice")
	}
}
