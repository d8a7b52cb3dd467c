package aggregation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"temperature-bench/internal/models"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

const yearlyHeader = "City,Date,TempMax,TempMin,TempMean"

func TestParseYearLayout(t *testing.T) {
	for in, want := range map[string]YearLayout{"": RowLayout, "rows": RowLayout, "Yearly": RowLayout, "monthly": MonthlyLayout} {
		got, err := ParseYearLayout(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseYearLayout("weekly")
	assert.Error(t, err)
}

func TestGroupByYear(t *testing.T) {
	dir := t.TempDir()
	path := writeDataFile(t, dir, "y.csv",
		yearlyHeader,
		"Recife,2001-01-01,30.0,20.0,25.0",
		"Recife,2002-01-01,31.0,21.0,26.0",
		"Recife,2001-06-01,28.0,18.0,23.0",
		"Recife",
	)

	groups, err := GroupByYear(context.Background(), path, RowLayout, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, groups.Total)
	assert.Equal(t, 1, groups.Skipped)
	assert.Equal(t, []string{"2001", "2002"}, groups.Years())
	assert.Equal(t, []string{
		"Recife,2001-01-01,30.0,20.0,25.0",
		"Recife,2001-06-01,28.0,18.0,23.0",
	}, groups.Lines["2001"])
	assert.Equal(t, []int{2, 4}, groups.LineNos["2001"])

	require.Len(t, groups.Diagnostics, 1)
	var recErr *models.RecordError
	require.ErrorAs(t, groups.Diagnostics[0], &recErr)
	assert.Equal(t, 5, recErr.Line)
	assert.ErrorIs(t, recErr, models.ErrMalformedRecord)
}

func TestGroupByYear_MonthlyWholeYearField(t *testing.T) {
	dir := t.TempDir()
	path := writeDataFile(t, dir, "m.csv",
		monthlyHeader,
		"BR,X,1,1,999,10.0",
		"BR,X,1,1,2000,20.0",
		"BR,X,2,1,99,5.0",
		"BR,X,1,1",
	)

	groups, err := GroupByYear(context.Background(), path, MonthlyLayout, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"2000", "99", "999"}, groups.Years())
	assert.Equal(t, 1, groups.Skipped)
	assert.Equal(t, []int{2}, groups.LineNos["999"])
}

func TestGroupByYear_MissingFile(t *testing.T) {
	_, err := GroupByYear(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), RowLayout, 0)
	assert.ErrorIs(t, err, models.ErrFileRead)
}

func TestYearProcessor_Rows(t *testing.T) {
	dir := t.TempDir()
	lines := []string{yearlyHeader}
	for year := 1990; year < 2010; year++ {
		for day := 1; day <= 3; day++ {
			lines = append(lines, fmt.Sprintf("Recife,%d-01-%02d,%d.5,%d.0,%d.0", year, day, day+20, day+10, day+15))
		}
	}
	lines = append(lines, "Recife,2000-02-01,hot,1.0,1.0")
	path := writeDataFile(t, dir, "rows.csv", lines...)

	sink := newRecordingSink()
	m := metrics.NewTestCollector()
	agg := NewFileAggregator(logging.NewNopLogger(), m, 0)
	proc := NewYearProcessor(agg, sink, RowLayout, logging.NewNopLogger(), m)

	result, err := proc.Process(context.Background(), path, 0)
	require.NoError(t, err)

	assert.Equal(t, 20, result.Years)
	assert.Equal(t, 60, result.Rows)
	assert.Equal(t, 1, result.Skipped)
	assert.Nil(t, result.File)
	assert.LessOrEqual(t, result.InnerPeak, 20)

	require.Len(t, result.Diagnostics, 1)
	var recErr *models.RecordError
	require.ErrorAs(t, result.Diagnostics[0], &recErr)
	assert.Equal(t, 62, recErr.Line)
	assert.ErrorIs(t, recErr, models.ErrInvalidTemperature)
	assert.Equal(t, 60.0, testutil.ToFloat64(m.RecordsProcessedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsSkippedTotal.WithLabelValues("invalid_temperature")))
	require.Len(t, sink.rows[path], 60)

	// rows are reported as read, one entry per line
	perYear := map[string]int{}
	for _, row := range sink.rows[path] {
		perYear[row.Year]++
	}
	assert.Len(t, perYear, 20)
	for year, n := range perYear {
		assert.Equal(t, 3, n, year)
	}
}

func TestYearProcessor_InnerLimit(t *testing.T) {
	dir := t.TempDir()
	lines := []string{yearlyHeader}
	for year := 1990; year < 2000; year++ {
		lines = append(lines, fmt.Sprintf("Recife,%d-01-01,1.0,1.0,1.0", year))
	}
	path := writeDataFile(t, dir, "rows.csv", lines...)

	m := metrics.NewTestCollector()
	proc := NewYearProcessor(NewFileAggregator(logging.NewNopLogger(), m, 0), NopSink{}, RowLayout, logging.NewNopLogger(), m)

	result, err := proc.Process(context.Background(), path, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.InnerPeak)
	assert.Equal(t, 10, result.Rows)
}

func TestYearProcessor_MonthlyMatchesFileAggregator(t *testing.T) {
	dir := t.TempDir()
	lines := []string{monthlyHeader}
	for year := 1995; year < 2005; year++ {
		for month := 1; month <= 12; month++ {
			for day := 1; day <= 4; day++ {
				lines = append(lines, fmt.Sprintf("BR,Recife,%d,%d,%d,%d.25", month, day, year, (year+month*day)%40))
			}
		}
	}
	lines = append(lines, "BR,Recife,1,1,2000,NaNstr", "BR,Recife")
	path := writeDataFile(t, dir, "monthly.csv", lines...)

	m := metrics.NewTestCollector()
	agg := NewFileAggregator(logging.NewNopLogger(), m, 0)

	want, err := agg.AggregateFile(context.Background(), path, models.MonthlyMode)
	require.NoError(t, err)

	proc := NewYearProcessor(agg, NopSink{}, MonthlyLayout, logging.NewNopLogger(), m)
	got, err := proc.Process(context.Background(), path, 0)
	require.NoError(t, err)
	require.NotNil(t, got.File)

	assert.Equal(t, 10, got.Years)
	assert.Equal(t, want.Table.Snapshot(), got.File.Table.Snapshot())
	assert.Equal(t, want.Lines, got.File.Lines)
	assert.Equal(t, want.Skipped, got.File.Skipped)
	assert.Equal(t, want.Diagnostics, got.File.Diagnostics)
	assert.Equal(t, 2, got.Skipped)
}

func TestYearProcessor_MonthlyKeepsShortYears(t *testing.T) {
	dir := t.TempDir()
	path := writeDataFile(t, dir, "short-years.csv",
		monthlyHeader,
		"BR,X,1,1,999,10.0",
		"BR,X,1,1,2000,20.0",
		"BR,X,3,2,7,-1.5",
	)

	m := metrics.NewTestCollector()
	agg := NewFileAggregator(logging.NewNopLogger(), m, 0)

	want, err := agg.AggregateFile(context.Background(), path, models.MonthlyMode)
	require.NoError(t, err)

	proc := NewYearProcessor(agg, NopSink{}, MonthlyLayout, logging.NewNopLogger(), m)
	got, err := proc.Process(context.Background(), path, 2)
	require.NoError(t, err)

	assert.Equal(t, 0, got.Skipped)
	assert.Equal(t, want.Table.Snapshot(), got.File.Table.Snapshot())
	assert.Equal(t, []models.PeriodStat{
		{Key: "2000-01", Max: 20, Min: 20, Mean: 20, Count: 1},
		{Key: "7-03", Max: -1.5, Min: -1.5, Mean: -1.5, Count: 1},
		{Key: "999-01", Max: 10, Min: 10, Mean: 10, Count: 1},
	}, got.File.Table.Snapshot())
}

func TestYearProcessor_RowsLogsSkippedLines(t *testing.T) {
	dir := t.TempDir()
	path := writeDataFile(t, dir, "bad-rows.csv",
		yearlyHeader,
		"Recife,2001-01-01,30.0,20.0,25.0",
		"Recife,01",
		"Recife,2001-02-01,warm,20.0,25.0",
	)

	core, logs := observer.New(zapcore.WarnLevel)
	logger := logging.NewFromZap(zap.New(core))
	m := metrics.NewTestCollector()
	proc := NewYearProcessor(NewFileAggregator(logger, m, 0), NopSink{}, RowLayout, logger, m)

	result, err := proc.Process(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	assert.Equal(t, 2, result.Skipped)

	skipped := logs.FilterMessage("[AGG_SKIP_LINE] Skipping malformed line").All()
	require.Len(t, skipped, 2)
	assert.Contains(t, skipped[0].ContextMap()["reason"], "line 3: malformed record")
	assert.Contains(t, skipped[1].ContextMap()["reason"], "line 4: invalid temperature")
}

func TestYearProcessor_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeDataFile(t, dir, "empty.csv", yearlyHeader)

	m := metrics.NewTestCollector()
	proc := NewYearProcessor(NewFileAggregator(logging.NewNopLogger(), m, 0), NopSink{}, RowLayout, logging.NewNopLogger(), m)

	result, err := proc.Process(context.Background(), path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Years)
	assert.Equal(t, 0, result.Rows)
}
