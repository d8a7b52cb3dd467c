package aggregation

import (
	"bufio"
	"context"
	"errors"
	"iter"
	"os"

	"temperature-bench/internal/models"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

const (
	// DefaultMaxDiagnostics bounds the skipped-line errors kept per file
	DefaultMaxDiagnostics = 100

	maxLineSize   = 1024 * 1024
	ctxCheckEvery = 4096
)

// FileResult holds the aggregates of one data file
type FileResult struct {
	Path        string
	Mode        models.GroupingMode
	Table       *Table
	Lines       int
	Skipped     int
	Malformed   int
	InvalidTemp int
	Diagnostics []error
}

// Stats yields the file's period statistics in ascending key order
func (r *FileResult) Stats() iter.Seq[models.PeriodStat] {
	return r.Table.Stats()
}

// skip records a rejected line, stamping record errors with lineNo
func (r *FileResult) skip(err error, lineNo, maxDiagnostics int) {
	var recErr *models.RecordError
	if errors.As(err, &recErr) {
		recErr.Line = lineNo
	}
	r.Skipped++
	if errors.Is(err, models.ErrInvalidTemperature) {
		r.InvalidTemp++
	} else {
		r.Malformed++
	}
	if len(r.Diagnostics) < maxDiagnostics {
		r.Diagnostics = append(r.Diagnostics, err)
	}
}

// absorb adds the skip counts, diagnostics and table of other to r.
// Lines is left to the caller.
func (r *FileResult) absorb(other *FileResult, maxDiagnostics int) {
	r.Skipped += other.Skipped
	r.Malformed += other.Malformed
	r.InvalidTemp += other.InvalidTemp
	for _, d := range other.Diagnostics {
		if len(r.Diagnostics) >= maxDiagnostics {
			break
		}
		r.Diagnostics = append(r.Diagnostics, d)
	}
	if r.Table != nil && other.Table != nil {
		r.Table.Merge(other.Table)
	}
}

// FileAggregator reads data files sequentially and folds them into tables
type FileAggregator struct {
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
	maxDiagnostics int
}

// NewFileAggregator creates a new file aggregator
func NewFileAggregator(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, maxDiagnostics int) *FileAggregator {
	if maxDiagnostics <= 0 {
		maxDiagnostics = DefaultMaxDiagnostics
	}
	return &FileAggregator{
		logger:         logger,
		metrics:        metricsCollector,
		maxDiagnostics: maxDiagnostics,
	}
}

// AggregateFile reads one file end to end and aggregates it by mode.
// Malformed lines are skipped and counted. Open or read failures are
// returned as *models.FileReadError.
func (a *FileAggregator) AggregateFile(ctx context.Context, path string, mode models.GroupingMode) (*FileResult, error) {
	result := &FileResult{
		Path:  path,
		Mode:  mode,
		Table: NewTable(),
	}

	err := scanDataLines(ctx, path, func(lineNo int, line string) {
		result.Lines++
		key, temp, err := parseForMode(line, mode)
		if err != nil {
			result.skip(err, lineNo, a.maxDiagnostics)
			return
		}
		result.Table.Fold(key, temp)
	})

	a.record(ctx, result)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// AggregateLines folds already-read lines of the monthly layout into a new
// table. lineNos[i] is the file line of lines[i], used in diagnostics.
func (a *FileAggregator) AggregateLines(path string, lines []string, lineNos []int) *FileResult {
	result := &FileResult{
		Path:  path,
		Mode:  models.MonthlyMode,
		Table: NewTable(),
	}
	for i, line := range lines {
		result.Lines++
		key, temp, err := parseForMode(line, models.MonthlyMode)
		if err != nil {
			result.skip(err, lineNos[i], a.maxDiagnostics)
			continue
		}
		result.Table.Fold(key, temp)
	}
	return result
}

func (a *FileAggregator) record(ctx context.Context, result *FileResult) {
	a.metrics.RecordsProcessedTotal.Add(float64(result.Lines - result.Skipped))
	a.metrics.RecordSkipped("malformed_record", result.Malformed)
	a.metrics.RecordSkipped("invalid_temperature", result.InvalidTemp)

	if result.Skipped == 0 {
		return
	}
	for _, diag := range result.Diagnostics {
		a.logger.Warn(ctx, "[AGG_SKIP_LINE] Skipping malformed line", logging.Fields{
			"file_path": result.Path,
			"reason":    diag.Error(),
		})
	}
	if result.Skipped > len(result.Diagnostics) {
		a.logger.Warn(ctx, "[AGG_SKIP_SUMMARY] Further malformed lines not logged", logging.Fields{
			"file_path":  result.Path,
			"skipped":    result.Skipped,
			"not_logged": result.Skipped - len(result.Diagnostics),
		})
	}
}

func parseForMode(line string, mode models.GroupingMode) (models.PeriodKey, float64, error) {
	if mode == models.YearlyMode {
		row, err := ParseYearRecord(line)
		if err != nil {
			return "", 0, err
		}
		return models.YearlyKey(row), row.TempMean, nil
	}

	obs, err := ParseRecord(line)
	if err != nil {
		return "", 0, err
	}
	return models.MonthlyKey(obs), obs.AvgTemp, nil
}

// scanDataLines calls fn for every line after the header.
// lineNo is 1-based and counts the header.
func scanDataLines(ctx context.Context, path string, fn func(lineNo int, line string)) error {
	file, err := os.Open(path)
	if err != nil {
		return &models.FileReadError{Path: path, Err: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}
		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(lineNo, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return &models.FileReadError{Path: path, Err: err}
	}
	return nil
}
