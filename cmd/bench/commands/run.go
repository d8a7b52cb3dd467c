package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"temperature-bench/internal/config"
	"temperature-bench/internal/repository"
	"temperature-bench/internal/services"
	"temperature-bench/pkg/database"
	"temperature-bench/pkg/logging"
	"temperature-bench/pkg/metrics"
)

const metricsNamespace = "temperature_bench"

// experimentFlags are the flags shared by run and aggregate that override
// the experiment section of the configuration
type experimentFlags struct {
	dataDir    string
	yearlyDir  string
	layout     string
	innerLimit int
}

func (f *experimentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Directory of monthly-layout city files")
	cmd.Flags().StringVar(&f.yearlyDir, "yearly-data-dir", "", "Directory of yearly-layout files (default: data-dir)")
	cmd.Flags().StringVar(&f.layout, "layout", "", "Input layout of the by-year experiments: rows or monthly")
	cmd.Flags().IntVar(&f.innerLimit, "inner-limit", 0, "Bound of each per-file year pool (0: one worker per year)")
}

func (f *experimentFlags) apply(cmd *cobra.Command, cfg *config.ExperimentConfig) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if flags.Changed("yearly-data-dir") {
		cfg.YearlyDataDir = f.yearlyDir
	}
	if flags.Changed("layout") {
		cfg.NestedLayout = f.layout
	}
	if flags.Changed("inner-limit") {
		cfg.InnerLimit = f.innerLimit
	}
}

func newMetrics() (*metrics.Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return metrics.NewCollectorWithRegistry(metricsNamespace, reg, reg), reg
}

func NewRunCommand() *cobra.Command {
	var (
		shared      experimentFlags
		outputDir   string
		rounds      int
		count       int
		experiments []int
		taskTimeout time.Duration
		persist     bool
		metricsAddr string
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark experiments and write one timing file per experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			flags := cmd.Flags()
			shared.apply(cmd, &cfg.Experiment)
			if flags.Changed("output-dir") {
				cfg.Experiment.OutputDir = outputDir
			}
			if flags.Changed("rounds") {
				cfg.Experiment.Rounds = rounds
			}
			if flags.Changed("count") {
				cfg.Experiment.Count = count
			}
			if flags.Changed("experiments") {
				cfg.Experiment.Only = experiments
			}
			if flags.Changed("task-timeout") {
				cfg.Experiment.TaskTimeout = taskTimeout
			}
			if flags.Changed("persist") {
				cfg.Database.Enabled = persist
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cfg, "run")
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metricsCollector, reg := newMetrics()
			if metricsAddr != "" {
				server := serveMetrics(ctx, logger, metricsAddr, reg)
				defer server.Close()
			}

			var repo repository.ResultsRepository
			if cfg.Database.Enabled {
				db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
				if err != nil {
					return err
				}
				defer db.Close()
				repo = repository.NewResultsRepository(db, logger, metricsCollector)
			}

			svc := services.NewExperimentService(repo, logger, metricsCollector)
			report, err := svc.RunExperiments(ctx, cfg.Experiment)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	shared.register(command)
	command.Flags().StringVar(&outputDir, "output-dir", "", "Directory receiving experiment_<n>.txt files")
	command.Flags().IntVar(&rounds, "rounds", 0, "Rounds per experiment")
	command.Flags().IntVar(&count, "count", 0, "Run experiments 1..count")
	command.Flags().IntSliceVar(&experiments, "experiments", nil, "Explicit experiment indices, e.g. 1,4,12")
	command.Flags().DurationVar(&taskTimeout, "task-timeout", 0, "Timeout of each file task (0: none)")
	command.Flags().BoolVar(&persist, "persist", false, "Store results in PostgreSQL")
	command.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while running, e.g. :9090")
	return command
}

func serveMetrics(ctx context.Context, logger *logging.StructuredLogger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info(ctx, "[METRICS_START] Serving metrics", logging.Fields{"address": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "[METRICS_ERROR] Metrics server failed", logging.Fields{"address": addr}, err)
		}
	}()
	return server
}

func printReport(w io.Writer, report *services.ExperimentReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "EXPERIMENT\tSTRATEGY\tTHREADS\tAVERAGE\tMEDIAN\tSTDDEV\tFILE ERRORS\n")
	for _, res := range report.Experiments {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%dms\t%.1fms\t%.1fms\t%d\n",
			res.Experiment, res.Strategy, res.Threads, res.AverageMS, res.MedianMS, res.StdDevMS, res.FileErrors)
	}
	tw.Flush()

	for _, msg := range report.Errors {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	fmt.Fprintf(w, "run %s: %d succeeded, %d failed in %s, timings in %s\n",
		report.RunID, len(report.Experiments), len(report.Failed), report.Duration.Round(time.Millisecond), report.OutputDir)
}
