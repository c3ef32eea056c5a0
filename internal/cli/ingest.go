package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docqa/internal/activities"
	"docqa/internal/config"
	"docqa/internal/ingest"
	"docqa/internal/models"
	"docqa/internal/providers"
	"docqa/internal/storage"
	"docqa/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"github.com/spf13/cobra"
)

var (
	ingestWait  bool
	ingestLocal bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest DOCUMENT_ID STORAGE_PATH",
	Short: "Start the ingestion workflow for a registered document",
	Long: `Starts the ingestion workflow on the configured Temporal task queue.
With --local the document is processed in this process instead, with no
workflow retries, and the outcome is printed when it finishes.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "block until the workflow finishes and print the final status")
	ingestCmd.Flags().BoolVar(&ingestLocal, "local", false, "process the document in-process without Temporal")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestLocal {
		p, closeFn, err := openProcessor(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		return processLocal(cmd, p, args[0], args[1])
	}
	c, err := dialTemporal(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return startIngest(cmd, c, cfg.TemporalTaskQueue, args[0], args[1])
}

func startIngest(cmd *cobra.Command, c tclient.Client, taskQueue, documentID, storagePath string) error {
	ctx := cmd.Context()
	run, err := c.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflows.WorkflowID(documentID),
		TaskQueue:                                taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.DocumentIngestWorkflow, workflows.DocumentIngestInput{
		DocumentID:  documentID,
		StoragePath: storagePath,
	})
	if err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "workflow_id=%s run_id=%s\n", run.GetID(), run.GetRunID())
	if !ingestWait {
		return nil
	}
	var status string
	if err := run.Get(ctx, &status); err != nil {
		return fmt.Errorf("wait for ingestion: %w", err)
	}
	fmt.Fprintf(out, "status=%s\n", status)
	return nil
}

// dialTemporal is replaced in tests.
var dialTemporal = workflows.Dial

type processor interface {
	Process(ctx context.Context, job ingest.Job) ingest.Result
}

// openProcessor is replaced in tests.
var openProcessor = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (processor, func(), error) {
	db, err := storage.NewDB(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		return nil, nil, err
	}
	pm, err := providers.NewManager(cfg, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	p, err := activities.NewPipeline(cfg, db, pm, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return p, db.Close, nil
}

func processLocal(cmd *cobra.Command, p processor, documentID, storagePath string) error {
	res := p.Process(cmd.Context(), ingest.Job{DocumentID: documentID, StoragePath: storagePath})
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status=%s\n", res.Status)
	if res.Status != models.StatusCompleted {
		return errors.New(res.Error)
	}
	fmt.Fprintf(out, "chunks=%d pages=%d detected_type=%s\n",
		res.Outcome.ChunkCount, res.Outcome.PageCount, res.Outcome.Classification.DetectedType)
	return nil
}
