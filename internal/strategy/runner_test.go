package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"temperature-bench/internal/aggregation"
	"temperature-bench/internal/models"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeMonthlyFiles creates n city files of the monthly layout
func writeMonthlyFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, 0, n)
	for f := 0; f < n; f++ {
		var b strings.Builder
		b.WriteString("Country,City,Month,Day,Year,AvgTemperature\n")
		for year := 2000; year < 2004; year++ {
			for month := 1; month <= 12; month++ {
				for day := 1; day <= 5; day++ {
					fmt.Fprintf(&b, "BR,City%d,%d,%d,%d,%d.5\n", f, month, day, year, (f*7+month*day+year)%45-5)
				}
			}
		}
		fmt.Fprintf(&b, "BR,City%d,1,1,999,%d.0\n", f, f)
		fmt.Fprintf(&b, "BR,City%d,6,2,99,-%d.0\n", f, f)
		b.WriteString("BR,City,1,1,2000,NaNstr\n")
		b.WriteString("BR,short\n")

		path := filepath.Join(dir, fmt.Sprintf("city_%02d.csv", f))
		require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
		files = append(files, path)
	}
	return files
}

func newTestRunner(layout aggregation.YearLayout, opts Options) (*Runner, *metrics.Collector) {
	m := metrics.NewTestCollector()
	logger := logging.NewNopLogger()
	agg := aggregation.NewFileAggregator(logger, m, 0)
	years := aggregation.NewYearProcessor(agg, aggregation.NopSink{}, layout, logger, m)
	return NewRunner(agg, years, aggregation.NopSink{}, logger, m, opts), m
}

// perFile returns each file's statistics keyed by path
func perFile(t *testing.T, result *RunResult) map[string][]models.PeriodStat {
	t.Helper()
	out := make(map[string][]models.PeriodStat, len(result.Files))
	for _, f := range result.Files {
		require.NoError(t, f.Err, f.Path)
		require.NotNil(t, f.Result, f.Path)
		out[f.Path] = f.Result.Table.Snapshot()
	}
	return out
}

func TestRun_WorkedExample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"Country,City,Month,Day,Year,AvgTemperature",
		"BR,X,1,1,2000,10.0",
		"BR,X,1,2,2000,30.0",
		"BR,X,2,1,2000,20.0",
	}, "\n")), 0o644))

	runner, _ := newTestRunner(aggregation.RowLayout, Options{})
	plan, err := Select(1)
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), plan, []string{path})
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.Equal(t, []models.PeriodStat{
		{Key: "2000-01", Max: 30.0, Min: 10.0, Mean: 20.0, Count: 2},
		{Key: "2000-02", Max: 20.0, Min: 20.0, Mean: 20.0, Count: 1},
	}, result.Files[0].Result.Table.Snapshot())
}

func TestRun_StrategiesAgree(t *testing.T) {
	files := writeMonthlyFiles(t, 12)
	runner, _ := newTestRunner(aggregation.MonthlyLayout, Options{})

	baseline, err := runner.Run(context.Background(), Plan{Experiment: 1, Strategy: Sequential, Pipeline: MonthlyPipeline, Threads: 1}, files)
	require.NoError(t, err)
	want := perFile(t, baseline)
	wantMerged := baseline.Merged.Snapshot()
	require.NotEmpty(t, wantMerged)

	for slot := 1; slot <= 10; slot++ {
		threads := ThreadCount(slot)

		flat, err := runner.Run(context.Background(), Plan{Strategy: FlatParallel, Pipeline: MonthlyPipeline, Threads: threads}, files)
		require.NoError(t, err)
		assert.Equal(t, want, perFile(t, flat), "flat threads=%d", threads)
		assert.Equal(t, wantMerged, flat.Merged.Snapshot(), "flat merged threads=%d", threads)
		assert.LessOrEqual(t, flat.Peak, threads)

		nested, err := runner.Run(context.Background(), Plan{Strategy: NestedParallel, Pipeline: YearPipeline, Threads: threads}, files)
		require.NoError(t, err)
		assert.Equal(t, want, perFile(t, nested), "nested threads=%d", threads)
		assert.Equal(t, wantMerged, nested.Merged.Snapshot(), "nested merged threads=%d", threads)
		assert.LessOrEqual(t, nested.Peak, threads)
	}

	seqYears, err := runner.Run(context.Background(), Plan{Strategy: Sequential, Pipeline: YearPipeline, Threads: 1, InnerLimit: 1}, files)
	require.NoError(t, err)
	assert.Equal(t, want, perFile(t, seqYears))
}

func TestRun_ShortYearsAgree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"Country,City,Month,Day,Year,AvgTemperature",
		"BR,X,1,1,999,10.0",
		"BR,X,1,1,2000,20.0",
	}, "\n")), 0o644))

	runner, _ := newTestRunner(aggregation.MonthlyLayout, Options{})
	want := []models.PeriodStat{
		{Key: "2000-01", Max: 20, Min: 20, Mean: 20, Count: 1},
		{Key: "999-01", Max: 10, Min: 10, Mean: 10, Count: 1},
	}

	for _, plan := range []Plan{
		{Strategy: Sequential, Pipeline: MonthlyPipeline, Threads: 1},
		{Strategy: FlatParallel, Pipeline: MonthlyPipeline, Threads: 2},
		{Strategy: NestedParallel, Pipeline: YearPipeline, Threads: 2},
	} {
		result, err := runner.Run(context.Background(), plan, []string{path})
		require.NoError(t, err, plan.String())
		assert.Equal(t, want, result.Merged.Snapshot(), plan.String())
		assert.Equal(t, 0, result.Files[0].Result.Skipped, plan.String())
	}
}

func TestRun_FileErrorIsolated(t *testing.T) {
	files := writeMonthlyFiles(t, 4)
	missing := filepath.Join(t.TempDir(), "gone.csv")
	files = append(files[:2], append([]string{missing}, files[2:]...)...)

	for _, plan := range []Plan{
		{Strategy: Sequential, Pipeline: MonthlyPipeline, Threads: 1},
		{Strategy: FlatParallel, Pipeline: MonthlyPipeline, Threads: 2},
		{Strategy: NestedParallel, Pipeline: YearPipeline, Threads: 3},
	} {
		runner, m := newTestRunner(aggregation.MonthlyLayout, Options{})
		result, err := runner.Run(context.Background(), plan, files)
		require.NoError(t, err, plan.String())

		assert.Equal(t, 1, result.Failed(), plan.String())
		assert.ErrorIs(t, result.Files[2].Err, models.ErrFileRead)
		assert.ErrorIs(t, result.Err(), models.ErrFileRead)
		for i, f := range result.Files {
			if i == 2 {
				continue
			}
			assert.NoError(t, f.Err)
			assert.NotNil(t, f.Result)
		}
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FileErrorsTotal.WithLabelValues("file_read")))
		assert.Equal(t, 4.0, testutil.ToFloat64(m.FilesProcessedTotal.WithLabelValues(plan.Strategy.String())))
	}
}

func TestRun_NestedRowLayout(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for f := 0; f < 3; f++ {
		var b strings.Builder
		b.WriteString("City,Date,TempMax,TempMin,TempMean\n")
		for year := 1990; year < 2000; year++ {
			fmt.Fprintf(&b, "C%d,%d-01-01,30.0,10.0,20.0\n", f, year)
			fmt.Fprintf(&b, "C%d,%d-07-01,35.0,15.0,25.0\n", f, year)
		}
		path := filepath.Join(dir, fmt.Sprintf("y%d.csv", f))
		require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
		files = append(files, path)
	}

	runner, _ := newTestRunner(aggregation.RowLayout, Options{})
	plan, err := Select(13)
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), plan, files)
	require.NoError(t, err)
	for _, f := range result.Files {
		require.NoError(t, f.Err)
		require.NotNil(t, f.Year)
		assert.Nil(t, f.Result)
		assert.Equal(t, 10, f.Year.Years)
		assert.Equal(t, 20, f.Year.Rows)
	}
	assert.Equal(t, 0, result.Merged.Len())
}

func TestRun_InnerLimitOption(t *testing.T) {
	files := writeMonthlyFiles(t, 2)
	runner, _ := newTestRunner(aggregation.MonthlyLayout, Options{InnerLimit: 1})

	result, err := runner.Run(context.Background(), Plan{Strategy: NestedParallel, Pipeline: YearPipeline, Threads: 2}, files)
	require.NoError(t, err)
	for _, f := range result.Files {
		require.NotNil(t, f.Year)
		assert.Equal(t, 1, f.Year.InnerPeak)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	files := writeMonthlyFiles(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, plan := range []Plan{
		{Strategy: Sequential, Pipeline: MonthlyPipeline, Threads: 1},
		{Strategy: FlatParallel, Pipeline: MonthlyPipeline, Threads: 2},
	} {
		runner, _ := newTestRunner(aggregation.MonthlyLayout, Options{})
		result, err := runner.Run(ctx, plan, files)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInterruptedWait)
		require.NotNil(t, result)
		assert.Equal(t, 3, result.Failed())
		assert.Equal(t, 3, result.NotStarted, plan.String())
	}
}
