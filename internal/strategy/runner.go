package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"temperature-bench/internal/aggregation"
	"temperature-bench/internal/models"
	"temperature-bench/internal/workerpool"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

// FileReport is the outcome of one file within a run
type FileReport struct {
	Path string
	// Result holds the file's aggregates, nil for the row-reporting year layout
	Result *aggregation.FileResult
	// Year is set for the by-year pipeline
	Year *aggregation.YearResult
	Err  error
}

// RunResult is the outcome of executing a plan over a file set
type RunResult struct {
	Plan     Plan
	Files    []FileReport
	Merged   *aggregation.SyncTable
	Duration time.Duration
	// Peak is the highest number of file tasks observed running at once
	Peak int
	// NotStarted counts files dropped because the context ended first
	NotStarted int
	poolErr    error
}

// Err combines every file error and any interrupted join
func (r *RunResult) Err() error {
	var errs error
	for _, f := range r.Files {
		errs = multierr.Append(errs, f.Err)
	}
	return multierr.Append(errs, r.poolErr)
}

// Failed returns the number of files that did not complete
func (r *RunResult) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Options tunes a Runner
type Options struct {
	// TaskTimeout bounds each file task; 0 disables
	TaskTimeout time.Duration
	// InnerLimit bounds nested year pools; 0 keeps one worker per year
	InnerLimit int
}

// Runner executes plans. Every file task owns the table it folds into;
// the only state shared between tasks is the result slot of each file
// and the merged view, which is a SyncTable.
type Runner struct {
	aggregator *aggregation.FileAggregator
	years      *aggregation.YearProcessor
	sink       aggregation.Sink
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	opts       Options
}

// NewRunner creates a new runner
func NewRunner(
	aggregator *aggregation.FileAggregator,
	years *aggregation.YearProcessor,
	sink aggregation.Sink,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	opts Options,
) *Runner {
	return &Runner{
		aggregator: aggregator,
		years:      years,
		sink:       sink,
		logger:     logger,
		metrics:    metricsCollector,
		opts:       opts,
	}
}

// Run executes plan over files and blocks until every file task is done.
// A failing file never stops the others; its error is kept in its
// FileReport. The returned error is only non-nil when the context ended
// before all files were handled, and then matches models.ErrInterruptedWait.
func (r *Runner) Run(ctx context.Context, plan Plan, files []string) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		Plan:   plan,
		Files:  make([]FileReport, len(files)),
		Merged: aggregation.NewSyncTable(),
	}

	r.logger.Debug(ctx, "[RUN_START] Running plan", logging.Fields{
		"experiment": plan.Experiment,
		"strategy":   plan.Strategy.String(),
		"pipeline":   plan.Pipeline.String(),
		"threads":    plan.Threads,
		"file_count": len(files),
	})

	inner := plan.InnerLimit
	if plan.Strategy == NestedParallel && r.opts.InnerLimit > 0 {
		inner = r.opts.InnerLimit
	}

	switch plan.Strategy {
	case Sequential:
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				result.NotStarted = len(files) - i
				result.poolErr = fmt.Errorf("%w: %v (%d files not started)", models.ErrInterruptedWait, err, result.NotStarted)
				break
			}
			result.Files[i] = r.runFile(ctx, plan, path, inner, result.Merged)
		}
		result.Peak = min(1, len(files))

	case FlatParallel, NestedParallel:
		threads := max(plan.Threads, 1)
		pool := workerpool.New(ctx, threads, workerpool.WithGauge(r.metrics.PoolActiveWorkers.WithLabelValues("file")))
		for i, path := range files {
			pool.Submit(func(ctx context.Context) error {
				result.Files[i] = r.runFile(ctx, plan, path, inner, result.Merged)
				return nil
			})
		}
		result.poolErr = pool.Wait()
		result.Peak = pool.Peak()
		result.NotStarted = pool.Skipped()

	default:
		return nil, fmt.Errorf("unsupported strategy %d", plan.Strategy)
	}

	// slots left empty belong to files never started
	for i := range result.Files {
		if result.Files[i].Path == "" {
			result.Files[i] = FileReport{Path: files[i], Err: fmt.Errorf("%w: %s not started", models.ErrInterruptedWait, files[i])}
		}
	}
	result.Duration = time.Since(start)

	if result.NotStarted > 0 {
		r.logger.Warn(ctx, "[RUN_INTERRUPTED] Context ended before all files started", logging.Fields{
			"experiment":  plan.Experiment,
			"strategy":    plan.Strategy.String(),
			"not_started": result.NotStarted,
			"file_count":  len(files),
		})
	}
	if result.poolErr != nil {
		return result, result.poolErr
	}
	return result, nil
}

func (r *Runner) runFile(ctx context.Context, plan Plan, path string, inner int, merged *aggregation.SyncTable) FileReport {
	if r.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.TaskTimeout)
		defer cancel()
	}

	report := FileReport{Path: path}

	switch plan.Pipeline {
	case YearPipeline:
		yr, err := r.years.Process(ctx, path, inner)
		if err != nil {
			report.Err = err
			break
		}
		report.Year = yr
		report.Result = yr.File
	default:
		res, err := r.aggregator.AggregateFile(ctx, path, models.MonthlyMode)
		if err != nil {
			report.Err = err
			break
		}
		report.Result = res
	}

	if report.Err != nil {
		r.metrics.RecordFileError(errorType(report.Err))
		r.logger.Error(ctx, "[RUN_FILE_ERROR] File aggregation failed", logging.Fields{
			"file_path":  path,
			"experiment": plan.Experiment,
			"strategy":   plan.Strategy.String(),
		}, report.Err)
		return report
	}

	if report.Result != nil {
		r.sink.PeriodStats(ctx, path, report.Result.Stats())
		merged.Merge(report.Result.Table)
	}
	r.metrics.FilesProcessedTotal.WithLabelValues(plan.Strategy.String()).Inc()
	return report
}

func errorType(err error) string {
	switch {
	case errors.Is(err, models.ErrFileRead):
		return "file_read"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, models.ErrInterruptedWait):
		return "cancelled"
	default:
		return "other"
	}
}
