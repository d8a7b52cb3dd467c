package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"temperature-bench/internal/aggregation"
	"temperature-bench/internal/config"
	"temperature-bench/internal/models"
	"temperature-bench/internal/repository"
	"temperature-bench/internal/strategy"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

// ExperimentService runs benchmark experiments over city temperature files
type ExperimentService struct {
	repo    repository.ResultsRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// ExperimentReport contains the outcome of one harness invocation
type ExperimentReport struct {
	RunID       string
	OutputDir   string
	Experiments []*models.ExperimentResult
	Failed      []int
	Duration    time.Duration
	Errors      []string
}

// NewExperimentService creates a new experiment service. repo may be nil,
// in which case results are only written to files.
func NewExperimentService(repo repository.ResultsRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ExperimentService {
	return &ExperimentService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListDataFiles returns the regular files of dir, sorted by name
func ListDataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// environment is what a single invocation builds once from its config
type environment struct {
	runner *strategy.Runner
	layout aggregation.YearLayout
	cfg    config.ExperimentConfig
	files  map[string][]string
}

func (s *ExperimentService) newEnvironment(cfg config.ExperimentConfig, sink aggregation.Sink) (*environment, error) {
	layout, err := aggregation.ParseYearLayout(cfg.NestedLayout)
	if err != nil {
		return nil, err
	}

	if sink == nil {
		sink = aggregation.NewLogSink(s.logger)
	}
	aggregator := aggregation.NewFileAggregator(s.logger, s.metrics, cfg.MaxDiagnostics)
	years := aggregation.NewYearProcessor(aggregator, sink, layout, s.logger, s.metrics)
	runner := strategy.NewRunner(aggregator, years, sink, s.logger, s.metrics, strategy.Options{
		TaskTimeout: cfg.TaskTimeout,
		InnerLimit:  cfg.InnerLimit,
	})

	return &environment{
		runner: runner,
		layout: layout,
		cfg:    cfg,
		files:  make(map[string][]string),
	}, nil
}

// dirFor returns the input directory of a plan; only the row layout of
// the by-year pipeline reads the yearly schema.
func (e *environment) dirFor(plan strategy.Plan) string {
	if plan.Pipeline == strategy.YearPipeline && e.layout == aggregation.RowLayout {
		return e.cfg.YearlyDir()
	}
	return e.cfg.DataDir
}

func (e *environment) filesFor(plan strategy.Plan) ([]string, error) {
	dir := e.dirFor(plan)
	if files, ok := e.files[dir]; ok {
		return files, nil
	}
	files, err := ListDataFiles(dir)
	if err != nil {
		return nil, err
	}
	e.files[dir] = files
	return files, nil
}

// RunExperiments runs every configured experiment for cfg.Rounds rounds,
// writes one timing file per experiment into cfg.OutputDir and, when a
// repository is configured, stores the run. An unknown or failing
// experiment is reported and the remaining experiments still run; only a
// cancelled context stops the loop early.
func (s *ExperimentService) RunExperiments(ctx context.Context, cfg config.ExperimentConfig) (*ExperimentReport, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	env, err := s.newEnvironment(cfg, nil)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	experiments := cfg.Experiments()
	report := &ExperimentReport{
		RunID:     runID,
		OutputDir: cfg.OutputDir,
		Errors:    make([]string, 0),
	}

	s.logger.Info(ctx, "[BENCH_START] Starting experiments", logging.Fields{
		"data_dir":    cfg.DataDir,
		"yearly_dir":  cfg.YearlyDir(),
		"experiments": len(experiments),
		"rounds":      cfg.Rounds,
		"layout":      env.layout.String(),
		"stage":       "INITIALIZATION",
	})

	if s.repo != nil {
		files, err := ListDataFiles(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		run := &models.BenchmarkRun{
			ID:        runID,
			DataDir:   cfg.DataDir,
			FileCount: len(files),
			Rounds:    cfg.Rounds,
			StartedAt: startTime.UTC(),
		}
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	for _, experiment := range experiments {
		result, merged, err := s.runExperiment(ctx, env, runID, experiment)
		if err != nil {
			report.Failed = append(report.Failed, experiment)
			report.Errors = append(report.Errors, fmt.Sprintf("experiment %d: %v", experiment, err))
			s.metrics.ExperimentsTotal.WithLabelValues("failed").Inc()
			s.logger.Error(ctx, "[BENCH_EXPERIMENT_ERROR] Experiment failed", logging.Fields{
				"experiment": experiment,
				"stage":      "EXPERIMENT",
			}, err)

			if errors.Is(err, models.ErrInterruptedWait) || ctx.Err() != nil {
				report.Duration = time.Since(startTime)
				return report, err
			}
			continue
		}

		s.metrics.ExperimentsTotal.WithLabelValues("succeeded").Inc()
		report.Experiments = append(report.Experiments, result)

		if err := writeTimings(cfg.OutputDir, result); err != nil {
			report.Errors = append(report.Errors, err.Error())
			s.logger.Error(ctx, "[BENCH_WRITE_ERROR] Failed to write timing file", logging.Fields{
				"experiment": experiment,
				"output_dir": cfg.OutputDir,
			}, err)
		}

		if s.repo != nil {
			if err := s.persist(ctx, result, merged); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		}

		s.logger.Info(ctx, "[BENCH_EXPERIMENT_COMPLETE] Experiment completed", logging.Fields{
			"experiment":  experiment,
			"strategy":    result.Strategy,
			"threads":     result.Threads,
			"average_ms":  result.AverageMS,
			"median_ms":   result.MedianMS,
			"stddev_ms":   result.StdDevMS,
			"file_errors": result.FileErrors,
			"stage":       "EXPERIMENT",
		})
	}

	if s.repo != nil {
		if err := s.repo.CompleteRun(ctx, runID, time.Now().UTC()); err != nil {
			report.Errors = append(report.Errors, err.Error())
			s.logger.Error(ctx, "[BENCH_PERSIST_ERROR] Failed to complete run", logging.Fields{}, err)
		}
	}

	report.Duration = time.Since(startTime)
	s.logger.Info(ctx, "[BENCH_COMPLETE] Experiments completed", logging.Fields{
		"succeeded":        len(report.Experiments),
		"failed":           len(report.Failed),
		"duration_seconds": report.Duration.Seconds(),
		"error_count":      len(report.Errors),
		"stage":            "COMPLETE",
	})

	return report, nil
}

// runExperiment times cfg.Rounds executions of one experiment and returns
// its summary together with the merged statistics of the last round.
func (s *ExperimentService) runExperiment(ctx context.Context, env *environment, runID string, experiment int) (*models.ExperimentResult, []models.PeriodStat, error) {
	plan, err := strategy.Select(experiment)
	if err != nil {
		return nil, nil, err
	}

	files, err := env.filesFor(plan)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		s.logger.Warn(ctx, "[BENCH_NO_FILES] No data files found", logging.Fields{
			"experiment": experiment,
			"data_dir":   env.dirFor(plan),
		})
	}

	s.logger.Info(ctx, "[BENCH_EXPERIMENT_START] Running experiment", logging.Fields{
		"experiment": experiment,
		"plan":       plan.String(),
		"file_count": len(files),
		"stage":      "EXPERIMENT",
	})

	experimentLabel := strconv.Itoa(experiment)
	roundsMS := make([]int64, 0, env.cfg.Rounds)
	var last *strategy.RunResult

	for round := 1; round <= env.cfg.Rounds; round++ {
		timer := s.metrics.NewTimer(s.metrics.RoundDuration.WithLabelValues(experimentLabel, plan.Strategy.String()))
		result, err := env.runner.Run(ctx, plan, files)
		elapsed := timer.ObserveDuration()
		if err != nil {
			return nil, nil, fmt.Errorf("round %d: %w", round, err)
		}

		roundsMS = append(roundsMS, elapsed.Milliseconds())
		last = result

		s.logger.Debug(ctx, "[BENCH_ROUND] Round finished", logging.Fields{
			"experiment":  experiment,
			"round":       round,
			"duration_ms": elapsed.Milliseconds(),
			"failed":      result.Failed(),
		})
	}

	summary := &models.ExperimentResult{
		RunID:      runID,
		Experiment: experiment,
		Strategy:   plan.Strategy.String(),
		Threads:    plan.Threads,
		RoundsMS:   roundsMS,
		CreatedAt:  time.Now().UTC(),
	}
	summarize(summary)
	if last != nil {
		summary.FileErrors = last.Failed()
		return summary, last.Merged.Snapshot(), nil
	}
	return summary, nil, nil
}

// summarize fills the average (integer milliseconds, sum divided by the
// number of rounds) and the median and standard deviation of the rounds.
func summarize(result *models.ExperimentResult) {
	if len(result.RoundsMS) == 0 {
		return
	}

	var sum int64
	data := make(stats.Float64Data, len(result.RoundsMS))
	for i, ms := range result.RoundsMS {
		sum += ms
		data[i] = float64(ms)
	}
	result.AverageMS = sum / int64(len(result.RoundsMS))

	if median, err := stats.Median(data); err == nil {
		result.MedianMS = median
	}
	if stddev, err := stats.StandardDeviation(data); err == nil {
		result.StdDevMS = stddev
	}
}

// TimingFileName returns the name of the timing file of an experiment
func TimingFileName(experiment int) string {
	return fmt.Sprintf("experiment_%d.txt", experiment)
}

func writeTimings(dir string, result *models.ExperimentResult) error {
	var b strings.Builder
	for _, ms := range result.RoundsMS {
		fmt.Fprintf(&b, "Round: %dms\n", ms)
	}
	fmt.Fprintf(&b, "Average: %dms\n", result.AverageMS)

	path := filepath.Join(dir, TimingFileName(result.Experiment))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *ExperimentService) persist(ctx context.Context, result *models.ExperimentResult, merged []models.PeriodStat) error {
	if err := s.repo.SaveExperiment(ctx, result); err != nil {
		s.logger.Error(ctx, "[BENCH_PERSIST_ERROR] Failed to save experiment", logging.Fields{
			"experiment": result.Experiment,
		}, err)
		return fmt.Errorf("experiment %d: %w", result.Experiment, err)
	}
	if err := s.repo.SavePeriodStats(ctx, result.RunID, result.Experiment, merged); err != nil {
		s.logger.Error(ctx, "[BENCH_PERSIST_ERROR] Failed to save period statistics", logging.Fields{
			"experiment": result.Experiment,
			"periods":    len(merged),
		}, err)
		return fmt.Errorf("experiment %d periods: %w", result.Experiment, err)
	}
	return nil
}

// Aggregate runs a single plan once over the configured input, reporting
// every file to sink, and returns the per-file and merged statistics. A
// nil sink logs at debug level.
func (s *ExperimentService) Aggregate(ctx context.Context, cfg config.ExperimentConfig, plan strategy.Plan, sink aggregation.Sink) (*strategy.RunResult, error) {
	env, err := s.newEnvironment(cfg, sink)
	if err != nil {
		return nil, err
	}
	files, err := env.filesFor(plan)
	if err != nil {
		return nil, err
	}

	result, err := env.runner.Run(ctx, plan, files)
	if err != nil {
		return result, err
	}

	s.logger.Info(ctx, "[AGGREGATE_COMPLETE] Aggregation completed", logging.Fields{
		"plan":        plan.String(),
		"file_count":  len(files),
		"failed":      result.Failed(),
		"periods":     result.Merged.Len(),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}
