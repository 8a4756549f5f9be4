package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	"github.com/kbrapp1/sourcebatch/internal/metrics"
	"github.com/kbrapp1/sourcebatch/internal/processor/crawl"
	"github.com/kbrapp1/sourcebatch/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one batch over the configured sources",
		Long: `Runs a single batch over the sources listed in the configuration file,
stores the run record, and prints the summary as JSON. The command exits
non-zero only when the batch is rejected or infrastructure fails; a run with
failed items still completes and reports its counts.`,
		RunE: runBatchCommand,
	}
	cmd.Flags().Bool("force-refresh", false, "process sources even when marked inactive")
	return cmd
}

func runBatchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	if len(cfg.Sources) == 0 {
		logger.Warn("no sources configured, nothing to do")
		return nil
	}

	items := make([]batch.Item, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		items = append(items, batch.Item{
			ID:      src.ID,
			Active:  src.Active,
			Payload: crawl.Source{URL: src.URL},
		})
	}

	opts := cfg.BatchOptions()
	if force, ferr := cmd.Flags().GetBool("force-refresh"); ferr == nil && force {
		opts.ForceRefresh = true
	}

	ctx := cmd.Context()
	logger.Info("starting batch run",
		zap.Int("items", len(items)),
		zap.Int("max_concurrency", opts.MaxConcurrency),
		zap.Bool("force_refresh", opts.ForceRefresh),
	)

	summary, err := appInstance.Orchestrator().Run(ctx, items, opts, appInstance.Processor())
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	metrics.ObserveRun(
		summary.OverallSuccess,
		summary.SuccessfulItems,
		summary.FailedItems,
		summary.SkippedItems,
		time.Duration(summary.ProcessingTimeMs)*time.Millisecond,
	)

	runID, err := appInstance.IDGen().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	record := store.RunRecord{
		ID:        runID,
		CreatedAt: appInstance.Clock().Now(),
		Summary:   summary,
	}
	if err := appInstance.RunStore().SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if topic := cfg.PubSub.TopicName; topic != "" {
		if _, perr := appInstance.Publisher().Publish(ctx, topic, record); perr != nil {
			logger.Warn("publish run summary failed", zap.String("run_id", runID), zap.Error(perr))
		}
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	cmd.Println(string(out))

	logger.Info("batch run finished",
		zap.String("run_id", runID),
		zap.Bool("overall_success", summary.OverallSuccess),
		zap.Int("successful", summary.SuccessfulItems),
		zap.Int("failed", summary.FailedItems),
		zap.Int("skipped", summary.SkippedItems),
	)
	return nil
}
