package models

import (
	"time"
)

// BenchmarkRun represents one invocation of the experiment harness
type BenchmarkRun struct {
	ID          string     `json:"id" db:"id"`
	DataDir     string     `json:"data_dir" db:"data_dir"`
	FileCount   int        `json:"file_count" db:"file_count"`
	Rounds      int        `json:"rounds" db:"rounds"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ExperimentResult holds the timings of one experiment within a run
type ExperimentResult struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Experiment int       `json:"experiment" db:"experiment"`
	Strategy   string    `json:"strategy" db:"strategy"`
	Threads    int       `json:"threads" db:"threads"`
	RoundsMS   []int64   `json:"rounds_ms" db:"-"`
	AverageMS  int64     `json:"average_ms" db:"average_ms"`
	MedianMS   float64   `json:"median_ms" db:"median_ms"`
	StdDevMS   float64   `json:"stddev_ms" db:"stddev_ms"`
	FileErrors int       `json:"file_errors" db:"file_errors"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// RoundTiming is one measured round of an experiment
type RoundTiming struct {
	RunID      string `json:"run_id" db:"run_id"`
	Experiment int    `json:"experiment" db:"experiment"`
	Round      int    `json:"round" db:"round"`
	DurationMS int64  `json:"duration_ms" db:"duration_ms"`
}

// RunPeriodStat is a merged period aggregate stored for an experiment
type RunPeriodStat struct {
	RunID      string `json:"run_id" db:"run_id"`
	Experiment int    `json:"experiment" db:"experiment"`
	PeriodStat
}
