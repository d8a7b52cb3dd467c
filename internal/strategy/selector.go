// Package strategy maps experiment indices to partitioning plans and
// executes them over a set of data files.
package strategy

import (
	"fmt"
	"strings"

	"temperature-bench/internal/models"
)

const (
	// MinExperiment is the first defined experiment index
	MinExperiment = 1
	// MaxExperiment is the last defined experiment index
	MaxExperiment = 20
)

// Strategy is a partitioning and concurrency policy
type Strategy int

const (
	// Sequential processes every file on the calling goroutine
	Sequential Strategy = iota
	// FlatParallel runs one bounded pool over the files
	FlatParallel
	// NestedParallel runs a bounded pool over files, each with a pool over years
	NestedParallel
)

// String returns string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case FlatParallel:
		return "flat_parallel"
	case NestedParallel:
		return "nested_parallel"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a name to a strategy
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "seq":
		return Sequential, nil
	case "flat_parallel", "flat":
		return FlatParallel, nil
	case "nested_parallel", "nested":
		return NestedParallel, nil
	default:
		return Sequential, fmt.Errorf("invalid strategy %q, expected sequential, flat or nested", s)
	}
}

// Pipeline is the per-file work a plan performs
type Pipeline int

const (
	// MonthlyPipeline aggregates each file by year-month
	MonthlyPipeline Pipeline = iota
	// YearPipeline groups each file by year and handles years as separate tasks
	YearPipeline
)

// String returns string representation of the pipeline
func (p Pipeline) String() string {
	if p == YearPipeline {
		return "by_year"
	}
	return "monthly"
}

// Plan describes how one experiment partitions its work
type Plan struct {
	Experiment int
	Strategy   Strategy
	Pipeline   Pipeline
	// Threads bounds the file-level pool, 1 for Sequential
	Threads int
	// InnerLimit bounds each file's year pool; 0 means one worker per year
	InnerLimit int
}

// String returns a short description for logs
func (p Plan) String() string {
	return fmt.Sprintf("experiment=%d strategy=%s pipeline=%s threads=%d", p.Experiment, p.Strategy, p.Pipeline, p.Threads)
}

var threadCounts = map[int]int{
	2:  2,
	3:  4,
	4:  8,
	5:  16,
	6:  32,
	7:  64,
	8:  80,
	9:  160,
	10: 320,
}

// ThreadCount returns the pool size for a slot in 2..10, and 1 otherwise
func ThreadCount(slot int) int {
	if n, ok := threadCounts[slot]; ok {
		return n
	}
	return 1
}

// Select returns the plan of an experiment index:
//
//	1       sequential, monthly
//	2..10   flat parallel, monthly, ThreadCount(e) workers
//	11      sequential, by year, one year at a time
//	12..20  nested parallel, by year, ThreadCount(e-10) file workers
func Select(experiment int) (Plan, error) {
	switch {
	case experiment == 1:
		return Plan{Experiment: experiment, Strategy: Sequential, Pipeline: MonthlyPipeline, Threads: 1}, nil
	case experiment == 11:
		return Plan{Experiment: experiment, Strategy: Sequential, Pipeline: YearPipeline, Threads: 1, InnerLimit: 1}, nil
	case experiment >= 2 && experiment <= 10:
		return Plan{Experiment: experiment, Strategy: FlatParallel, Pipeline: MonthlyPipeline, Threads: ThreadCount(experiment)}, nil
	case experiment >= 12 && experiment <= 20:
		return Plan{Experiment: experiment, Strategy: NestedParallel, Pipeline: YearPipeline, Threads: ThreadCount(experiment - 10)}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %d (expected %d..%d)", models.ErrUnknownExperiment, experiment, MinExperiment, MaxExperiment)
	}
}
