package pipeline

import (
	"time"

	"salesbi-dataplane/services/importjob"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ImportSales drives one import batch through the fixed step order:
// validate → transform → persist → mark status. The job is moved to
// PROCESSING up front and always receives a terminal status: any step error
// records FAILED before the error propagates. Step retries and durable
// suspension between steps are delegated to the activity options below.
func ImportSales(ctx workflow.Context, in importjob.ImportInput) (*importjob.ImportResult, error) {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	if err := workflow.ExecuteActivity(ctx, ActivityMarkJobStatus, StatusInput{
		JobID:  in.JobID,
		Status: importjob.StatusProcessing,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to move job to PROCESSING", "job_id", in.JobID, "error", err)
		return nil, err
	}

	var valid []importjob.RawRow
	if err := workflow.ExecuteActivity(ctx, ActivityValidateRows, in.Rows).Get(ctx, &valid); err != nil {
		return nil, failImport(ctx, in.JobID, err)
	}

	var records []*importjob.SalesRecord
	if err := workflow.ExecuteActivity(ctx, ActivityTransformRows, TransformInput{
		TenantID:     in.TenantID,
		DepartmentID: in.DepartmentID,
		Rows:         valid,
	}).Get(ctx, &records); err != nil {
		return nil, failImport(ctx, in.JobID, err)
	}

	var count int
	if err := workflow.ExecuteActivity(ctx, ActivityPersistRecords, PersistInput{
		JobID:   in.JobID,
		Records: records,
	}).Get(ctx, &count); err != nil {
		return nil, failImport(ctx, in.JobID, err)
	}

	if err := workflow.ExecuteActivity(ctx, ActivityMarkJobStatus, StatusInput{
		JobID:       in.JobID,
		Status:      importjob.StatusSuccess,
		RecordCount: count,
	}).Get(ctx, nil); err != nil {
		return nil, err
	}

	logger.Info("import completed", "job_id", in.JobID, "record_count", count)
	return &importjob.ImportResult{RecordCount: count}, nil
}

// failImport records the FAILED terminal status before propagating the step
// error. Failure reporting is never skipped; if even the status write fails
// the original cause still wins.
func failImport(ctx workflow.Context, jobID string, cause error) error {
	if err := workflow.ExecuteActivity(ctx, ActivityMarkJobStatus, StatusInput{
		JobID:        jobID,
		Status:       importjob.StatusFailed,
		ErrorMessage: cause.Error(),
	}).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to record FAILED status", "job_id", jobID, "error", err)
	}
	return cause
}
