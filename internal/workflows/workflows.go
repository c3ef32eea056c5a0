package workflows

import (
	"errors"
	"time"

	"docqa/internal/activities"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetDocumentStatus = "GetDocumentStatus"

// WorkflowID is the id used for a document's ingestion run.
func WorkflowID(documentID string) string {
	return "ingest-" + documentID
}

// DocumentIngestWorkflow moves one document through processing. It always
// completes with the final status ("completed" or "failed") and records
// failures on the document instead of returning them.
func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	logger := workflow.GetLogger(ctx)
	status := DocumentStatus{
		DocumentID:  input.DocumentID,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	statusCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})
	processCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    1,
		},
	})

	fail := func(reason string) (string, error) {
		status.Status = "failed"
		status.FailReason = reason
		status.Steps[status.CurrentStep] = "failed"
		markFailedBestEffort(statusCtx, input.DocumentID, reason)
		return status.Status, nil
	}

	status.CurrentStep = "mark_processing"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(statusCtx, "MarkProcessingActivity", activities.DocumentInput{DocumentID: input.DocumentID}).Get(ctx, nil); err != nil {
		logger.Error("mark processing failed", "document_id", input.DocumentID, "error", err)
		status.Status = "failed"
		status.FailReason = failReason(err)
		status.Steps[status.CurrentStep] = "failed"
		return status.Status, nil
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "process"
	status.Steps[status.CurrentStep] = "processing"
	var out activities.ProcessDocumentOutput
	if err := workflow.ExecuteActivity(processCtx, "ProcessDocumentActivity", activities.ProcessDocumentInput{
		DocumentID:  input.DocumentID,
		StoragePath: input.StoragePath,
	}).Get(ctx, &out); err != nil {
		return fail(failReason(err))
	}
	status.ChunkCount = out.Outcome.ChunkCount
	status.PageCount = out.Outcome.PageCount
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_completed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(statusCtx, "MarkCompletedActivity", activities.MarkCompletedInput{
		DocumentID: input.DocumentID,
		Outcome:    out.Outcome,
	}).Get(ctx, nil); err != nil {
		return fail(failReason(err))
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "completed"
	logger.Info("document ingested", "document_id", input.DocumentID, "chunks", status.ChunkCount)
	return status.Status, nil
}

func markFailedBestEffort(ctx workflow.Context, documentID, reason string) {
	err := workflow.ExecuteActivity(ctx, "MarkFailedActivity", activities.MarkFailedInput{
		DocumentID: documentID,
		Reason:     reason,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("mark failed did not persist", "document_id", documentID, "error", err)
	}
}

// failReason unwraps Temporal's activity error envelope to the cause message.
func failReason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
