package importjob

import (
	"context"
	"fmt"
	"time"

	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/db/pagination"
	"salesbi-dataplane/pkg/errutil"
	wf "salesbi-dataplane/pkg/workflow"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service drives the job lifecycle: submission, status reads, the progress
// stream and the trash operations. It never mutates a running job's status
// itself; only the workflow that owns the run writes status.
type Service struct {
	store  *Store
	engine *wf.Engine
	cfg    *config.Config
}

type ServiceParams struct {
	fx.In
	Store  *Store
	Engine *wf.Engine
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:  p.Store,
		engine: p.Engine,
		cfg:    p.Config,
	}
}

type SubmitRequest struct {
	TenantID       string   `json:"tenantId"`
	FileName       string   `json:"fileName"`
	DepartmentID   string   `json:"departmentId"`
	UploadedByID   string   `json:"uploadedById"`
	UploadedByName string   `json:"uploadedByName"`
	Rows           []RawRow `json:"rows"`
}

type SubmitResult struct {
	JobID      string `json:"jobId"`
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// Submit records a new PENDING job and starts the import workflow bound to it.
// When the workflow engine is unavailable the job is still created and the
// caller receives a placeholder run id; the import will not complete until the
// engine returns.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", req.TenantID),
	)

	if req.TenantID == "" {
		return nil, errutil.BadRequest("tenantId is required")
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = "MANUAL_TRIGGER"
	}

	workflowID := fmt.Sprintf("sales-import-%s-%s", req.TenantID, uuid.NewString())
	job := &Job{
		TenantID:       req.TenantID,
		DepartmentID:   optional(req.DepartmentID),
		UploadedByID:   optional(req.UploadedByID),
		UploadedByName: optional(req.UploadedByName),
		WorkflowID:     workflowID,
		FileName:       fileName,
		Status:         StatusPending,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		zapLog.Error("failed to create job", zap.Error(err))
		return nil, err
	}

	c, ok := s.engine.Client()
	if !ok {
		zapLog.Warn("workflow engine unavailable, import will not run",
			zap.String("job_id", job.ID),
			zap.String("workflow_id", workflowID),
		)
		return &SubmitResult{
			JobID:      job.ID,
			WorkflowID: workflowID,
			RunID:      wf.PlaceholderID("run"),
			Degraded:   true,
		}, nil
	}

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.cfg.Temporal.TaskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, wf.WorkflowImportSales, ImportInput{
		TenantID:     req.TenantID,
		JobID:        job.ID,
		DepartmentID: req.DepartmentID,
		Rows:         req.Rows,
	})
	if err != nil {
		if temporal.IsWorkflowExecutionAlreadyStartedError(err) {
			return nil, errutil.Conflict(fmt.Sprintf("workflow %s already started", workflowID))
		}
		zapLog.Error("failed to start import workflow", zap.Error(err))
		return nil, errutil.ServiceUnavailable("failed to start import workflow", errutil.WithErr(err))
	}

	zapLog.Info("import workflow started",
		zap.String("job_id", job.ID),
		zap.String("workflow_id", workflowID),
		zap.String("run_id", run.GetRunID()),
	)

	return &SubmitResult{
		JobID:      job.ID,
		WorkflowID: workflowID,
		RunID:      run.GetRunID(),
	}, nil
}

type JobView struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	FileName     string    `json:"fileName"`
	CreatedAt    time.Time `json:"createdAt"`
	RecordCount  int64     `json:"recordCount"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errutil.Internal("failed to load job", errutil.WithErr(err))
	}
	if job == nil {
		return nil, errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
	}

	count := int64(job.RecordCount)
	if !job.Status.Terminal() {
		count, err = s.store.CountRecords(ctx, jobID)
		if err != nil {
			return nil, errutil.Internal("failed to count records", errutil.WithErr(err))
		}
	}

	return &JobView{
		ID:           job.ID,
		Status:       job.Status,
		FileName:     job.FileName,
		CreatedAt:    job.CreatedAt,
		RecordCount:  count,
		ErrorMessage: job.ErrorMessage,
	}, nil
}

func (s *Service) History(ctx context.Context, tenantID, departmentID string) ([]*Job, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenantId is required")
	}
	return s.store.History(ctx, tenantID, departmentID, 20)
}

func (s *Service) ListRecords(ctx context.Context, tenantID string, p pagination.Pagination) ([]*SalesRecord, *pagination.PageInfo, error) {
	if tenantID == "" {
		return nil, nil, errutil.BadRequest("tenantId is required")
	}
	return s.store.ListRecords(ctx, tenantID, p)
}

type ProgressEvent struct {
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	RecordCount int64     `json:"recordCount"`
}

// Progress emits the job's state at the configured poll interval until the job
// reaches a terminal status; the terminal event is emitted once and the
// channel is closed. Cancelling the context closes the channel early.
func (s *Service) Progress(ctx context.Context, jobID string) (<-chan ProgressEvent, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errutil.Internal("failed to load job", errutil.WithErr(err))
	}
	if job == nil {
		return nil, errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
	}

	interval := s.cfg.Progress.PollInterval
	ch := make(chan ProgressEvent, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			job, err := s.store.GetJob(ctx, jobID)
			if err != nil || job == nil {
				return
			}

			count, _ := s.store.CountRecords(ctx, jobID)
			ev := ProgressEvent{
				Status:      job.Status,
				Progress:    progressFor(job.Status),
				RecordCount: count,
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}

			if job.Status.Terminal() {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func progressFor(status JobStatus) int {
	switch status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 50
	default:
		return 100
	}
}

func (s *Service) SoftDelete(ctx context.Context, jobID, actorID, actorName string) error {
	return s.store.SoftDelete(ctx, jobID, actorID, actorName)
}

func (s *Service) SoftDeleteAll(ctx context.Context, tenantID, departmentID, actorID, actorName string) (int64, error) {
	if tenantID == "" {
		return 0, errutil.BadRequest("tenantId is required")
	}
	return s.store.SoftDeleteAll(ctx, tenantID, departmentID, actorID, actorName)
}

func (s *Service) Restore(ctx context.Context, jobID string) error {
	return s.store.Restore(ctx, jobID)
}

func (s *Service) Purge(ctx context.Context, jobID string) error {
	return s.store.Purge(ctx, jobID)
}

// ListTrash sweeps expired entries for the tenant before listing, so a stale
// trash view never shows jobs past their grace period. This is the second
// sweep trigger point next to the periodic sweeper.
func (s *Service) ListTrash(ctx context.Context, tenantID string) ([]*TrashEntry, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenantId is required")
	}

	now := time.Now()
	if n, err := s.store.SweepExpired(ctx, tenantID, now); err != nil {
		zap.L().Warn("opportunistic trash sweep failed", zap.String("tenant_id", tenantID), zap.Error(err))
	} else if n > 0 {
		zap.L().Info("opportunistic trash sweep purged expired jobs",
			zap.String("tenant_id", tenantID), zap.Int("purged", n))
	}

	return s.store.ListTrash(ctx, tenantID, now)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
