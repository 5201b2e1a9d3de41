package storage

import (
	"context"

	"asterion/internal/population"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord is one training run's identity and final outcome.
type RunRecord struct {
	VersionedRecord
	RunID          string  `json:"run_id"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	PopulationRoot string  `json:"population_root"`
	Generations    int     `json:"generations"`
	MaxParallel    int     `json:"max_parallel"`
	EliteCount     int     `json:"elite_count"`
	Seed           int64   `json:"seed"`
	BestFitness    float64 `json:"best_fitness"`
}

// Store defines persistence for run history: run identities, generation
// diagnostics and per-instance results.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []population.Diagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]population.Diagnostics, bool, error)
	SaveInstanceResults(ctx context.Context, runID string, generation int, rows []population.ReportRow) error
	GetInstanceResults(ctx context.Context, runID string) ([]population.ReportRow, bool, error)
}
