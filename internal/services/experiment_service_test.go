package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"temperature-bench/internal/aggregation"
	"temperature-bench/internal/config"
	"temperature-bench/internal/models"
	"temperature-bench/internal/repository"
	"temperature-bench/internal/strategy"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRepo struct {
	runs        map[string]*models.BenchmarkRun
	experiments []*models.ExperimentResult
	periods     map[int][]models.PeriodStat
	createErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		runs:    make(map[string]*models.BenchmarkRun),
		periods: make(map[int][]models.PeriodStat),
	}
}

func (f *fakeRepo) CreateRun(_ context.Context, run *models.BenchmarkRun) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRepo) CompleteRun(_ context.Context, runID string, completedAt time.Time) error {
	run, ok := f.runs[runID]
	if !ok {
		return &repository.NotFoundError{Resource: "benchmark_run", ID: runID}
	}
	run.CompletedAt = &completedAt
	return nil
}

func (f *fakeRepo) GetRun(_ context.Context, runID string) (*models.BenchmarkRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "benchmark_run", ID: runID}
	}
	return run, nil
}

func (f *fakeRepo) ListRuns(context.Context, int, int) ([]*models.BenchmarkRun, int, error) {
	out := make([]*models.BenchmarkRun, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, len(out), nil
}

func (f *fakeRepo) SaveExperiment(_ context.Context, result *models.ExperimentResult) error {
	f.experiments = append(f.experiments, result)
	return nil
}

func (f *fakeRepo) GetExperiments(context.Context, string) ([]*models.ExperimentResult, error) {
	return f.experiments, nil
}

func (f *fakeRepo) SavePeriodStats(_ context.Context, _ string, experiment int, stats []models.PeriodStat) error {
	f.periods[experiment] = stats
	return nil
}

func (f *fakeRepo) GetPeriodStats(context.Context, repository.PeriodStatsFilter) ([]*models.RunPeriodStat, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) HealthCheck(context.Context) error {
	return nil
}

func writeCityFiles(t *testing.T, dir string, n int) {
	t.Helper()
	for f := 0; f < n; f++ {
		var b strings.Builder
		b.WriteString("Country,City,Month,Day,Year,AvgTemperature\n")
		for year := 2010; year < 2013; year++ {
			for month := 1; month <= 12; month++ {
				fmt.Fprintf(&b, "BR,City%d,%d,1,%d,%d.0\n", f, month, year, (f+month+year)%30)
				fmt.Fprintf(&b, "BR,City%d,%d,2,%d,%d.5\n", f, month, year, (f*month)%25)
			}
		}
		b.WriteString("BR,City,1,3,2010,NaNstr\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("city_%d.csv", f)), []byte(b.String()), 0o644))
	}
}

func writeYearlyFiles(t *testing.T, dir string, n int) {
	t.Helper()
	for f := 0; f < n; f++ {
		var b strings.Builder
		b.WriteString("City,Date,TempMax,TempMin,TempMean\n")
		for year := 2000; year < 2005; year++ {
			fmt.Fprintf(&b, "C%d,%d-03-01,25.0,12.0,18.5\n", f, year)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("daily_%d.csv", f)), []byte(b.String()), 0o644))
	}
}

func testConfig(t *testing.T) config.ExperimentConfig {
	t.Helper()
	dataDir := t.TempDir()
	writeCityFiles(t, dataDir, 4)
	return config.ExperimentConfig{
		Rounds:       2,
		DataDir:      dataDir,
		OutputDir:    filepath.Join(t.TempDir(), "output"),
		NestedLayout: "monthly",
	}
}

func TestListDataFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.csv", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("h\n"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := ListDataFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "b.csv"),
		filepath.Join(dir, "c.txt"),
	}, files)

	_, err = ListDataFiles(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	result := &models.ExperimentResult{RoundsMS: []int64{10, 20, 40}}
	summarize(result)

	assert.Equal(t, int64(23), result.AverageMS)
	assert.Equal(t, 20.0, result.MedianMS)
	assert.InDelta(t, 12.47, result.StdDevMS, 0.01)

	empty := &models.ExperimentResult{}
	summarize(empty)
	assert.Zero(t, empty.AverageMS)
}

func TestRunExperiments_WritesTimingsAndPersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.Only = []int{1, 4, 12, 25}

	repo := newFakeRepo()
	m := metrics.NewTestCollector()
	svc := NewExperimentService(repo, logging.NewNopLogger(), m)

	report, err := svc.RunExperiments(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, report.Experiments, 3)
	assert.Equal(t, []int{25}, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "experiment 25")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ExperimentsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExperimentsTotal.WithLabelValues("failed")))

	for _, res := range report.Experiments {
		assert.Len(t, res.RoundsMS, 2)
		assert.Zero(t, res.FileErrors)

		content, err := os.ReadFile(filepath.Join(cfg.OutputDir, TimingFileName(res.Experiment)))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "Round: "))
		assert.True(t, strings.HasSuffix(lines[1], "ms"))
		assert.Equal(t, fmt.Sprintf("Average: %dms", res.AverageMS), lines[2])
	}
	_, err = os.Stat(filepath.Join(cfg.OutputDir, TimingFileName(25)))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	run, ok := repo.runs[report.RunID]
	require.True(t, ok)
	assert.Equal(t, 4, run.FileCount)
	assert.NotNil(t, run.CompletedAt)
	require.Len(t, repo.experiments, 3)
	assert.Equal(t, "nested_parallel", repo.experiments[2].Strategy)
	assert.Equal(t, 2, repo.experiments[2].Threads)

	// every strategy yields the same merged statistics
	require.NotEmpty(t, repo.periods[1])
	assert.Equal(t, repo.periods[1], repo.periods[4])
	assert.Equal(t, repo.periods[1], repo.periods[12])
	assert.Equal(t, models.PeriodKey("2010-01"), repo.periods[1][0].Key)
}

func TestRunExperiments_RowLayoutReadsYearlyDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.NestedLayout = "rows"
	cfg.YearlyDataDir = t.TempDir()
	writeYearlyFiles(t, cfg.YearlyDataDir, 2)
	cfg.Only = []int{11, 13}
	cfg.Rounds = 1

	repo := newFakeRepo()
	svc := NewExperimentService(repo, logging.NewNopLogger(), metrics.NewTestCollector())

	report, err := svc.RunExperiments(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Experiments, 2)
	assert.Empty(t, report.Failed)
	for _, res := range report.Experiments {
		assert.Zero(t, res.FileErrors)
	}
	assert.Empty(t, repo.periods[11])
	assert.Empty(t, repo.periods[13])
}

func TestRunExperiments_MissingDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "absent")
	cfg.Only = []int{1, 2}

	svc := NewExperimentService(nil, logging.NewNopLogger(), metrics.NewTestCollector())
	report, err := svc.RunExperiments(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, report.Experiments)
	assert.Equal(t, []int{1, 2}, report.Failed)
}

func TestRunExperiments_CreateRunFails(t *testing.T) {
	cfg := testConfig(t)
	repo := newFakeRepo()
	repo.createErr = errors.New("connection refused")

	svc := NewExperimentService(repo, logging.NewNopLogger(), metrics.NewTestCollector())
	_, err := svc.RunExperiments(context.Background(), cfg)
	assert.ErrorIs(t, err, repo.createErr)
}

func TestRunExperiments_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Only = []int{1, 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewExperimentService(nil, logging.NewNopLogger(), metrics.NewTestCollector())
	report, err := svc.RunExperiments(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInterruptedWait)
	require.NotNil(t, report)
	assert.Equal(t, []int{1}, report.Failed)
}

func TestAggregate(t *testing.T) {
	cfg := testConfig(t)
	svc := NewExperimentService(nil, logging.NewNopLogger(), metrics.NewTestCollector())

	plan, err := strategy.Select(12)
	require.NoError(t, err)

	var out bytes.Buffer
	result, err := svc.Aggregate(context.Background(), cfg, plan, aggregation.NewWriterSink(&out))
	require.NoError(t, err)
	assert.Len(t, result.Files, 4)
	assert.Equal(t, 36, result.Merged.Len())
	assert.Equal(t, 4, strings.Count(out.String(), "# "))
	assert.Equal(t, 4*36, strings.Count(out.String(), "Period: "))
}
