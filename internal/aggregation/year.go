package aggregation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"temperature-bench/internal/models"
	"temperature-bench/internal/workerpool"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

// YearLayout selects the input schema of the year-partitioned pipeline
type YearLayout int

const (
	// RowLayout reads _,dateLike,tempMax,tempMin,tempMean and reports each row
	RowLayout YearLayout = iota
	// MonthlyLayout reads the monthly schema, partitions by its year
	// column and aggregates by year-month within each partition
	MonthlyLayout
)

// String returns string representation of the layout
func (l YearLayout) String() string {
	if l == MonthlyLayout {
		return "monthly"
	}
	return "rows"
}

// ParseYearLayout maps a config value to a layout
func ParseYearLayout(s string) (YearLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rows", "yearly":
		return RowLayout, nil
	case "monthly":
		return MonthlyLayout, nil
	default:
		return RowLayout, fmt.Errorf("invalid year layout %q, expected rows or monthly", s)
	}
}

// YearGroups holds the raw lines of one file grouped by year
type YearGroups struct {
	Path  string
	Lines map[string][]string
	// LineNos holds the 1-based file line of each entry of Lines
	LineNos     map[string][]int
	Total       int
	Skipped     int
	Diagnostics []error
}

// Years returns the distinct years in ascending order
func (g *YearGroups) Years() []string {
	years := make([]string, 0, len(g.Lines))
	for y := range g.Lines {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// yearKey returns the partition of line. RowLayout partitions on the
// first four characters of the date-like field; MonthlyLayout on the
// whole year field, as MonthlyKey does.
func yearKey(line string, layout YearLayout) (string, bool) {
	if layout == MonthlyLayout {
		return field(line, monthlyYearField)
	}
	return yearPrefix(line, yearlyDateField)
}

// GroupByYear reads a file sequentially, skipping the header, and groups
// its lines by year. Lines without a year are counted as skipped and the
// first maxDiagnostics of them kept as *models.RecordError.
func GroupByYear(ctx context.Context, path string, layout YearLayout, maxDiagnostics int) (*YearGroups, error) {
	if maxDiagnostics <= 0 {
		maxDiagnostics = DefaultMaxDiagnostics
	}
	groups := &YearGroups{
		Path:    path,
		Lines:   make(map[string][]string),
		LineNos: make(map[string][]int),
	}

	err := scanDataLines(ctx, path, func(lineNo int, line string) {
		groups.Total++
		year, ok := yearKey(line, layout)
		if !ok {
			groups.Skipped++
			if len(groups.Diagnostics) < maxDiagnostics {
				groups.Diagnostics = append(groups.Diagnostics, &models.RecordError{Line: lineNo, Value: line, Kind: models.ErrMalformedRecord})
			}
			return
		}
		groups.Lines[year] = append(groups.Lines[year], line)
		groups.LineNos[year] = append(groups.LineNos[year], lineNo)
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// YearResult summarises one file processed by year
type YearResult struct {
	Path      string
	Years     int
	Rows      int
	Skipped   int
	InnerPeak int
	// Diagnostics holds the first skipped lines of the file, both layouts
	Diagnostics []error
	// File is set for MonthlyLayout only
	File *FileResult
}

// YearProcessor runs the two-pass per-file, per-year pipeline
type YearProcessor struct {
	aggregator *FileAggregator
	sink       Sink
	layout     YearLayout
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewYearProcessor creates a new year processor
func NewYearProcessor(aggregator *FileAggregator, sink Sink, layout YearLayout, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *YearProcessor {
	return &YearProcessor{
		aggregator: aggregator,
		sink:       sink,
		layout:     layout,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Process groups path by year, then handles every year as its own task
// on an inner pool. With innerLimit <= 0 the inner pool gets one worker
// per distinct year, independent of any outer pool bound. Process
// returns once every year task has finished.
func (p *YearProcessor) Process(ctx context.Context, path string, innerLimit int) (*YearResult, error) {
	maxDiagnostics := p.aggregator.maxDiagnostics
	groups, err := GroupByYear(ctx, path, p.layout, maxDiagnostics)
	if err != nil {
		return nil, err
	}

	years := groups.Years()
	limit := innerLimit
	if limit <= 0 {
		limit = len(years)
	}

	// one slot per year; each task writes only its own
	parts := make([]*FileResult, len(years))

	pool := workerpool.New(ctx, limit, workerpool.WithGauge(p.metrics.PoolActiveWorkers.WithLabelValues("year")))
	for i, year := range years {
		lines, lineNos := groups.Lines[year], groups.LineNos[year]
		pool.Submit(func(ctx context.Context) error {
			if p.layout == MonthlyLayout {
				parts[i] = p.aggregator.AggregateLines(path, lines, lineNos)
				return nil
			}
			parts[i] = p.reportRows(ctx, path, lines, lineNos)
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return nil, fmt.Errorf("failed to process years of %s: %w", path, err)
	}

	merged := &FileResult{
		Path:        path,
		Mode:        models.YearlyMode,
		Lines:       groups.Total,
		Skipped:     groups.Skipped,
		Malformed:   groups.Skipped,
		Diagnostics: groups.Diagnostics,
	}
	if p.layout == MonthlyLayout {
		merged.Mode = models.MonthlyMode
		merged.Table = NewTable()
	}
	for _, part := range parts {
		if part != nil {
			merged.absorb(part, maxDiagnostics)
		}
	}
	slices.SortStableFunc(merged.Diagnostics, func(a, b error) int {
		return lineOf(a) - lineOf(b)
	})
	p.aggregator.record(ctx, merged)

	result := &YearResult{
		Path:        path,
		Years:       len(years),
		Skipped:     merged.Skipped,
		InnerPeak:   pool.Peak(),
		Diagnostics: merged.Diagnostics,
	}
	if p.layout == MonthlyLayout {
		result.File = merged
	} else {
		result.Rows = merged.Lines - merged.Skipped
	}
	return result, nil
}

// reportRows parses each line of one year and hands it to the sink.
// Rows are reported individually, not aggregated.
func (p *YearProcessor) reportRows(ctx context.Context, path string, lines []string, lineNos []int) *FileResult {
	result := &FileResult{Path: path, Mode: models.YearlyMode, Lines: len(lines)}
	for i, line := range lines {
		row, err := ParseYearRecord(line)
		if err != nil {
			result.skip(err, lineNos[i], p.aggregator.maxDiagnostics)
			continue
		}
		p.sink.YearRow(ctx, path, row)
	}
	return result
}

func lineOf(err error) int {
	var recErr *models.RecordError
	if errors.As(err, &recErr) {
		return recErr.Line
	}
	return 0
}
