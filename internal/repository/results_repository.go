package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"temperature-bench/internal/models"
	"temperature-bench/pkg/database"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

// periodStatsChunk keeps a batch insert under the PostgreSQL parameter limit
const periodStatsChunk = 1000

// ResultsRepository provides data access for benchmark results
type ResultsRepository interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.BenchmarkRun) error
	CompleteRun(ctx context.Context, runID string, completedAt time.Time) error
	GetRun(ctx context.Context, runID string) (*models.BenchmarkRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*models.BenchmarkRun, int, error)

	// Experiment operations
	SaveExperiment(ctx context.Context, result *models.ExperimentResult) error
	GetExperiments(ctx context.Context, runID string) ([]*models.ExperimentResult, error)

	// Period statistics operations
	SavePeriodStats(ctx context.Context, runID string, experiment int, stats []models.PeriodStat) error
	GetPeriodStats(ctx context.Context, filter PeriodStatsFilter) ([]*models.RunPeriodStat, int, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// PeriodStatsFilter defines filters for querying stored period statistics
type PeriodStatsFilter struct {
	RunID      string
	Experiment *int
	KeyPrefix  string
	Limit      int
	Offset     int
}

type resultsRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewResultsRepository creates a new results repository
func NewResultsRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ResultsRepository {
	return &resultsRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateRun inserts a new benchmark run
func (r *resultsRepository) CreateRun(ctx context.Context, run *models.BenchmarkRun) error {
	query := `
		INSERT INTO benchmark_runs (id, data_dir, file_count, rounds, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, "insert_run", query,
		run.ID,
		run.DataDir,
		run.FileCount,
		run.Rounds,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_RUN] Run created", logging.Fields{
		"run_id":     run.ID,
		"file_count": run.FileCount,
	})
	return nil
}

// CompleteRun stamps the completion time of a run
func (r *resultsRepository) CompleteRun(ctx context.Context, runID string, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, "complete_run",
		`UPDATE benchmark_runs SET completed_at = $2 WHERE id = $1`,
		runID, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Resource: "benchmark_run", ID: runID}
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *resultsRepository) GetRun(ctx context.Context, runID string) (*models.BenchmarkRun, error) {
	query := `
		SELECT id, data_dir, file_count, rounds, started_at, completed_at
		FROM benchmark_runs
		WHERE id = $1
	`

	var run models.BenchmarkRun
	err := r.db.GetContext(ctx, "get_run", &run, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "benchmark_run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves runs, newest first, with pagination
func (r *resultsRepository) ListRuns(ctx context.Context, limit, offset int) ([]*models.BenchmarkRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_runs", &total, `SELECT COUNT(*) FROM benchmark_runs`); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT id, data_dir, file_count, rounds, started_at, completed_at
		FROM benchmark_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	var runs []*models.BenchmarkRun
	if err := r.db.SelectContext(ctx, "list_runs", &runs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, total, nil
}

// SaveExperiment stores an experiment summary and its round timings in
// one transaction, replacing any earlier result for the same experiment.
func (r *resultsRepository) SaveExperiment(ctx context.Context, result *models.ExperimentResult) error {
	err := r.db.InTx(ctx, "save_experiment", func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO experiment_results
				(run_id, experiment, strategy, threads, average_ms, median_ms, stddev_ms, file_errors, created_at)
			VALUES
				(:run_id, :experiment, :strategy, :threads, :average_ms, :median_ms, :stddev_ms, :file_errors, :created_at)
			ON CONFLICT (run_id, experiment) DO UPDATE SET
				strategy = EXCLUDED.strategy,
				threads = EXCLUDED.threads,
				average_ms = EXCLUDED.average_ms,
				median_ms = EXCLUDED.median_ms,
				stddev_ms = EXCLUDED.stddev_ms,
				file_errors = EXCLUDED.file_errors,
				created_at = EXCLUDED.created_at
		`, result)
		if err != nil {
			return fmt.Errorf("failed to upsert experiment: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM experiment_rounds WHERE run_id = $1 AND experiment = $2`,
			result.RunID, result.Experiment,
		); err != nil {
			return fmt.Errorf("failed to clear rounds: %w", err)
		}

		if len(result.RoundsMS) == 0 {
			return nil
		}

		rounds := make([]models.RoundTiming, len(result.RoundsMS))
		for i, ms := range result.RoundsMS {
			rounds[i] = models.RoundTiming{
				RunID:      result.RunID,
				Experiment: result.Experiment,
				Round:      i + 1,
				DurationMS: ms,
			}
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO experiment_rounds (run_id, experiment, round, duration_ms)
			VALUES (:run_id, :experiment, :round, :duration_ms)
		`, rounds); err != nil {
			return fmt.Errorf("failed to insert rounds: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug(ctx, "[REPO_SAVE_EXPERIMENT] Experiment saved", logging.Fields{
		"run_id":     result.RunID,
		"experiment": result.Experiment,
		"rounds":     len(result.RoundsMS),
	})
	return nil
}

// GetExperiments retrieves every experiment of a run with its rounds
func (r *resultsRepository) GetExperiments(ctx context.Context, runID string) ([]*models.ExperimentResult, error) {
	var results []*models.ExperimentResult
	err := r.db.SelectContext(ctx, "get_experiments", &results, `
		SELECT run_id, experiment, strategy, threads, average_ms, median_ms, stddev_ms, file_errors, created_at
		FROM experiment_results
		WHERE run_id = $1
		ORDER BY experiment
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiments: %w", err)
	}

	var rounds []models.RoundTiming
	err = r.db.SelectContext(ctx, "get_rounds", &rounds, `
		SELECT run_id, experiment, round, duration_ms
		FROM experiment_rounds
		WHERE run_id = $1
		ORDER BY experiment, round
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}

	byExperiment := make(map[int]*models.ExperimentResult, len(results))
	for _, res := range results {
		byExperiment[res.Experiment] = res
	}
	for _, rt := range rounds {
		if res, ok := byExperiment[rt.Experiment]; ok {
			res.RoundsMS = append(res.RoundsMS, rt.DurationMS)
		}
	}
	return results, nil
}

// SavePeriodStats upserts the merged period aggregates of an experiment
func (r *resultsRepository) SavePeriodStats(ctx context.Context, runID string, experiment int, stats []models.PeriodStat) error {
	if len(stats) == 0 {
		return nil
	}

	rows := make([]models.RunPeriodStat, len(stats))
	for i, s := range stats {
		rows[i] = models.RunPeriodStat{RunID: runID, Experiment: experiment, PeriodStat: s}
	}

	err := r.db.InTx(ctx, "save_period_stats", func(tx *sqlx.Tx) error {
		for start := 0; start < len(rows); start += periodStatsChunk {
			chunk := rows[start:min(start+periodStatsChunk, len(rows))]
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO period_stats
					(run_id, experiment, period_key, max_temperature, min_temperature, mean_temperature, observation_count)
				VALUES
					(:run_id, :experiment, :period_key, :max_temperature, :min_temperature, :mean_temperature, :observation_count)
				ON CONFLICT (run_id, experiment, period_key) DO UPDATE SET
					max_temperature = EXCLUDED.max_temperature,
					min_temperature = EXCLUDED.min_temperature,
					mean_temperature = EXCLUDED.mean_temperature,
					observation_count = EXCLUDED.observation_count
			`, chunk)
			if err != nil {
				return fmt.Errorf("failed to upsert period stats: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug(ctx, "[REPO_SAVE_PERIODS] Period statistics saved", logging.Fields{
		"run_id":     runID,
		"experiment": experiment,
		"count":      len(rows),
	})
	return nil
}

// GetPeriodStats retrieves stored period statistics with filtering and pagination
func (r *resultsRepository) GetPeriodStats(ctx context.Context, filter PeriodStatsFilter) ([]*models.RunPeriodStat, int, error) {
	conditions := []string{"run_id = $1"}
	args := []interface{}{filter.RunID}
	argPos := 2

	if filter.Experiment != nil {
		conditions = append(conditions, fmt.Sprintf("experiment = $%d", argPos))
		args = append(args, *filter.Experiment)
		argPos++
	}
	if filter.KeyPrefix != "" {
		conditions = append(conditions, fmt.Sprintf("period_key LIKE $%d", argPos))
		args = append(args, escapeLike(filter.KeyPrefix)+"%")
		argPos++
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, "count_period_stats", &total, "SELECT COUNT(*) FROM period_stats "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count period stats: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT run_id, experiment, period_key, max_temperature, min_temperature, mean_temperature, observation_count
		FROM period_stats
		%s
		ORDER BY experiment, period_key
		LIMIT $%d OFFSET $%d
	`, where, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	var stats []*models.RunPeriodStat
	if err := r.db.SelectContext(ctx, "get_period_stats", &stats, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get period stats: %w", err)
	}
	return stats, total, nil
}

// HealthCheck checks database connectivity
func (r *resultsRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
