package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"temperature-bench/internal/aggregation"
	"temperature-bench/internal/services"
	"temperature-bench/internal/strategy"
)

func NewAggregateCommand() *cobra.Command {
	var (
		shared       experimentFlags
		experiment   int
		strategyName string
		threads      int
		mergedOnly   bool
	)

	command := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate every file once and print the period statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			shared.apply(cmd, &cfg.Experiment)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			plan, err := resolvePlan(experiment, strategyName, threads)
			if err != nil {
				return err
			}

			logger := newLogger(cfg, "aggregate")
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := aggregation.NewWriterSink(cmd.OutOrStdout())
			var sink aggregation.Sink = out
			if mergedOnly {
				sink = aggregation.NopSink{}
			}

			metricsCollector, _ := newMetrics()
			svc := services.NewExperimentService(nil, logger, metricsCollector)
			result, err := svc.Aggregate(ctx, cfg.Experiment, plan, sink)
			if err != nil {
				return err
			}

			if mergedOnly {
				out.PeriodStats(ctx, "merged", slices.Values(result.Merged.Snapshot()))
			}
			if err := out.Err(); err != nil {
				return err
			}
			for _, f := range result.Files {
				if f.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", f.Err)
				}
			}
			return nil
		},
	}

	shared.register(command)
	command.Flags().IntVar(&experiment, "experiment", 1, "Experiment index selecting strategy and thread count")
	command.Flags().StringVar(&strategyName, "strategy", "", "Strategy overriding --experiment: sequential, flat or nested")
	command.Flags().IntVar(&threads, "threads", 1, "Thread count used with --strategy")
	command.Flags().BoolVar(&mergedOnly, "merged", false, "Print only the statistics merged across all files")
	return command
}

// resolvePlan prefers an explicit strategy over the experiment index
func resolvePlan(experiment int, strategyName string, threads int) (strategy.Plan, error) {
	if strategyName == "" {
		return strategy.Select(experiment)
	}

	s, err := strategy.ParseStrategy(strategyName)
	if err != nil {
		return strategy.Plan{}, err
	}
	if threads < 1 {
		return strategy.Plan{}, fmt.Errorf("threads must be >= 1, got %d", threads)
	}

	plan := strategy.Plan{Strategy: s, Pipeline: strategy.MonthlyPipeline, Threads: threads}
	switch s {
	case strategy.Sequential:
		plan.Threads = 1
	case strategy.NestedParallel:
		plan.Pipeline = strategy.YearPipeline
	}
	return plan, nil
}
