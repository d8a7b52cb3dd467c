package aggregation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"temperature-bench/internal/models"
	"temperature-bench/pkg/logging"
)

// Sink receives aggregation output. Implementations must be safe for
// concurrent use since file and year tasks report independently.
type Sink interface {
	PeriodStats(ctx context.Context, path string, stats iter.Seq[models.PeriodStat])
	YearRow(ctx context.Context, path string, row models.YearRow)
}

// NopSink discards all output
type NopSink struct{}

func (NopSink) PeriodStats(context.Context, string, iter.Seq[models.PeriodStat]) {}

func (NopSink) YearRow(context.Context, string, models.YearRow) {}

// LogSink writes output as debug log entries
type LogSink struct {
	logger *logging.StructuredLogger
}

// NewLogSink creates a sink logging through logger
func NewLogSink(logger *logging.StructuredLogger) *LogSink {
	return &LogSink{logger: logger}
}

// PeriodStats logs one entry per period
func (s *LogSink) PeriodStats(ctx context.Context, path string, stats iter.Seq[models.PeriodStat]) {
	if !s.logger.Enabled(logging.DebugLevel) {
		return
	}
	for stat := range stats {
		s.logger.Debug(ctx, "[AGG_PERIOD] Period statistics", logging.Fields{
			"file_path": path,
			"period":    string(stat.Key),
			"max":       stat.Max,
			"min":       stat.Min,
			"mean":      stat.Mean,
		})
	}
}

// YearRow logs one row of the year-partitioned pipeline
func (s *LogSink) YearRow(ctx context.Context, path string, row models.YearRow) {
	if !s.logger.Enabled(logging.DebugLevel) {
		return
	}
	s.logger.Debug(ctx, "[AGG_YEAR_ROW] Year row", logging.Fields{
		"file_path": path,
		"year":      row.Year,
		"max":       row.TempMax,
		"min":       row.TempMin,
		"mean":      row.TempMean,
	})
}

// WriterSink prints output as text lines. The periods of one file are
// written as a single block. After the first failed write every later
// write is dropped and Err reports the failure.
type WriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// PeriodStats writes one line per period, in key order
func (s *WriterSink) PeriodStats(_ context.Context, path string, stats iter.Seq[models.PeriodStat]) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", path)
	for stat := range stats {
		fmt.Fprintf(&buf, "Period: %s - Max: %g - Min: %g - Mean: %g\n", stat.Key, stat.Max, stat.Min, stat.Mean)
	}
	s.write(buf.Bytes())
}

// YearRow writes one row of the year-partitioned pipeline
func (s *WriterSink) YearRow(_ context.Context, _ string, row models.YearRow) {
	s.write(fmt.Appendf(nil, "Year: %s - Max: %g - Min: %g - Mean: %g\n", row.Year, row.TempMax, row.TempMin, row.TempMean))
}

// Err returns the first write error, if any
func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *WriterSink) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.w.Write(p); err != nil {
		s.err = fmt.Errorf("failed to write output: %w", err)
	}
}
