package importjob

import (
	"context"
	"fmt"
	"time"

	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/db/option"
	"salesbi-dataplane/pkg/db/pagination"
	"salesbi-dataplane/pkg/errutil"
	"salesbi-dataplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// visibleRecords filters out records whose owning job sits in the trash.
// Visibility is a join-time predicate, never a physical delete.
const visibleRecords = "sales_records.etl_job_id IS NULL OR etl_jobs.deleted_at IS NULL"

const persistBatchSize = 500

// Store owns all persisted state for jobs and their records.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
	ttl  time.Duration
	jobs repository.Repository[Job]
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:   p.DB,
		node: p.Node,
		ttl:  p.Config.Retention.TrashTTL,
		jobs: repository.ProvideStore[Job](p.DB),
	}
}

// newStoreForTest builds a Store without the fx plumbing.
func newStoreForTest(db *gorm.DB, node *snowflake.Node, ttl time.Duration) *Store {
	return &Store{db: db, node: node, ttl: ttl, jobs: repository.ProvideStore[Job](db)}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{}, &SalesRecord{})
}

// CreateJob persists a new job in PENDING. The workflow id must be unique; a
// duplicate means a concurrent run for the same logical job and is rejected.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.TenantID == "" {
		return errutil.BadRequest("tenantId is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}

	exist, err := s.jobs.FindOne(ctx, &Job{WorkflowID: job.WorkflowID})
	if err != nil {
		return errutil.Internal("failed to check existing workflow id", errutil.WithErr(err))
	}
	if exist != nil {
		return errutil.Conflict(fmt.Sprintf("workflow %s already started", job.WorkflowID))
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return errutil.Conflict("failed to create job", errutil.WithErr(err))
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.jobs.FindOne(ctx, &Job{ID: jobID})
}

// UpdateStatus advances a job along the single valid path
// PENDING → PROCESSING → {SUCCESS|FAILED}. Re-asserting the current status is
// a no-op so activity retries stay safe; any other transition is rejected.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status JobStatus, recordCount int, errMsg string) error {
	prev := previousStatuses(status)
	if prev == nil {
		return errutil.BadRequest(fmt.Sprintf("status %s is not a valid transition target", status))
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status == StatusSuccess {
		updates["record_count"] = recordCount
	}
	if status == StatusFailed && errMsg != "" {
		updates["error_message"] = errMsg
	}

	tx := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status IN ?", jobID, prev).
		Updates(updates)
	if tx.Error != nil {
		return errutil.Internal("failed to update job status", errutil.WithErr(tx.Error))
	}

	if tx.RowsAffected == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return errutil.Internal("failed to load job", errutil.WithErr(err))
		}
		if job == nil {
			return errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		if job.Status == status {
			return nil
		}
		return errutil.Conflict(fmt.Sprintf("invalid status transition %s → %s", job.Status, status))
	}
	return nil
}

// ReplaceRecords persists the transformed rows for a job. Any rows left behind
// by an earlier partial attempt are removed first, so the persist step can be
// retried with the same inputs without duplicating data.
func (s *Store) ReplaceRecords(ctx context.Context, jobID string, records []*SalesRecord) (int, error) {
	for _, r := range records {
		if r.ID == "" {
			r.ID = s.node.Generate().String()
		}
		if r.EtlJobID == nil {
			id := jobID
			r.EtlJobID = &id
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("etl_job_id = ?", jobID).Delete(&SalesRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear previous rows: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, persistBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, errutil.Internal("failed to persist records", errutil.WithErr(err))
	}
	return len(records), nil
}

func (s *Store) CountRecords(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&SalesRecord{}).
		Where("etl_job_id = ?", jobID).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListRecords returns one page of a tenant's records, newest first, excluding
// records owned by trashed jobs. Pages are keyed on (date, id); snowflake ids
// are time-ordered, so the id breaks ties within a date.
func (s *Store) ListRecords(ctx context.Context, tenantID string, p pagination.Pagination) ([]*SalesRecord, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	tx := s.db.WithContext(ctx).
		Model(&SalesRecord{}).
		Joins("LEFT JOIN etl_jobs ON etl_jobs.id = sales_records.etl_job_id").
		Where("sales_records.tenant_id = ?", tenantID).
		Where(visibleRecords)

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		tx = tx.Where("sales_records.date < ? OR (sales_records.date = ? AND sales_records.id < ?)",
			after, after, cursor.ID)
	}

	var out []*SalesRecord
	err := tx.Order("sales_records.date DESC, sales_records.id DESC").
		Limit(limit + 1).
		Find(&out).Error
	if err != nil {
		return nil, nil, errutil.Internal("failed to list records", errutil.WithErr(err))
	}

	info := pagination.BuildCursorPageInfo(out, int32(limit), func(r *SalesRecord) string {
		cur, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: r.Date.Format(time.RFC3339Nano),
			ID:        r.ID,
		})
		return cur
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, info, nil
}

// DailySalesTotal sums a tenant's visible record amounts for one calendar day.
func (s *Store) DailySalesTotal(ctx context.Context, tenantID string, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var total float64
	err := s.db.WithContext(ctx).
		Model(&SalesRecord{}).
		Joins("LEFT JOIN etl_jobs ON etl_jobs.id = sales_records.etl_job_id").
		Where("sales_records.tenant_id = ?", tenantID).
		Where("sales_records.date >= ? AND sales_records.date < ?", start, end).
		Where(visibleRecords).
		Select("COALESCE(SUM(sales_records.amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, errutil.Internal("failed to sum daily sales", errutil.WithErr(err))
	}
	return total, nil
}

// History lists a tenant's active (non-trashed) jobs, newest first.
func (s *Store) History(ctx context.Context, tenantID, departmentID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := []option.QueryOption{
		option.WithCondition("deleted_at IS NULL"),
		option.WithOrder("created_at DESC"),
		option.WithLimit(limit),
	}
	if departmentID != "" {
		opts = append(opts, option.WithCondition("department_id = ?", departmentID))
	}

	out, err := s.jobs.Find(ctx, &Job{TenantID: tenantID}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list jobs", errutil.WithErr(err))
	}
	return out, nil
}

// SoftDelete moves a job to the trash. When actorID is set it must match the
// original uploader; an empty actor is an administrative action and bypasses
// the ownership check.
func (s *Store) SoftDelete(ctx context.Context, jobID, actorID, actorName string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return errutil.Internal("failed to load job", errutil.WithErr(err))
	}
	if job == nil {
		return errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	if job.Trashed() {
		return errutil.Conflict(fmt.Sprintf("job %s is already in the trash", jobID))
	}
	if actorID != "" && job.UploadedByID != nil && *job.UploadedByID != actorID {
		return errutil.Forbidden("only the uploader may delete this import")
	}

	now := time.Now()
	updates := map[string]any{
		"deleted_at": now,
		"updated_at": now,
	}
	if actorID != "" {
		updates["deleted_by_id"] = actorID
	}
	if actorName != "" {
		updates["deleted_by_name"] = actorName
	}

	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return errutil.Internal("failed to soft delete job", errutil.WithErr(err))
	}
	return nil
}

// SoftDeleteAll trashes every active job for a tenant, optionally scoped to a
// department. Returns the number of jobs moved.
func (s *Store) SoftDeleteAll(ctx context.Context, tenantID, departmentID, actorID, actorName string) (int64, error) {
	now := time.Now()
	updates := map[string]any{
		"deleted_at": now,
		"updated_at": now,
	}
	if actorID != "" {
		updates["deleted_by_id"] = actorID
	}
	if actorName != "" {
		updates["deleted_by_name"] = actorName
	}

	tx := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("tenant_id = ? AND deleted_at IS NULL", tenantID)
	if departmentID != "" {
		tx = tx.Where("department_id = ?", departmentID)
	}
	tx = tx.Updates(updates)
	if tx.Error != nil {
		return 0, errutil.Internal("failed to bulk soft delete", errutil.WithErr(tx.Error))
	}
	return tx.RowsAffected, nil
}

// Restore clears the soft-delete fields. Restoring a job that is not in the
// trash is an idempotent no-op.
func (s *Store) Restore(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return errutil.Internal("failed to load job", errutil.WithErr(err))
	}
	if job == nil {
		return errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	if !job.Trashed() {
		return nil
	}

	err = s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"deleted_at":      nil,
		"deleted_by_id":   nil,
		"deleted_by_name": nil,
		"updated_at":      time.Now(),
	}).Error
	if err != nil {
		return errutil.Internal("failed to restore job", errutil.WithErr(err))
	}
	return nil
}

// Purge permanently deletes a job and every record it owns, records first so
// an interrupted purge never leaves orphaned rows. Purging an already-purged
// id is a no-op.
func (s *Store) Purge(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("etl_job_id = ?", jobID).Delete(&SalesRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
		if err := tx.Where("id = ?", jobID).Delete(&Job{}).Error; err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		return nil
	})
	if err != nil {
		return errutil.Internal("failed to purge job", errutil.WithErr(err))
	}
	return nil
}

// ListTrash returns a tenant's trashed jobs, most recently deleted first.
func (s *Store) ListTrash(ctx context.Context, tenantID string, now time.Time) ([]*TrashEntry, error) {
	jobs, err := s.jobs.Find(ctx, &Job{TenantID: tenantID},
		option.WithCondition("deleted_at IS NOT NULL"),
		option.WithOrder("deleted_at DESC"),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list trash", errutil.WithErr(err))
	}

	out := make([]*TrashEntry, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, &TrashEntry{
			ID:             job.ID,
			FileName:       job.FileName,
			Status:         job.Status,
			RecordCount:    job.RecordCount,
			DepartmentID:   job.DepartmentID,
			UploadedByID:   job.UploadedByID,
			UploadedByName: job.UploadedByName,
			CreatedAt:      job.CreatedAt,
			DeletedAt:      job.DeletedAt,
			DeletedByName:  job.DeletedByName,
			DaysLeft:       DaysLeft(job.DeletedAt, s.ttl, now),
		})
	}
	return out, nil
}

// ExpiredJobIDs selects jobs whose grace period has elapsed. The predicate is
// monotonic, so re-selecting after an interrupted sweep finds the same set.
func (s *Store) ExpiredJobIDs(ctx context.Context, tenantID string, now time.Time) ([]string, error) {
	cutoff := now.Add(-s.ttl)
	tx := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff)
	if tenantID != "" {
		tx = tx.Where("tenant_id = ?", tenantID)
	}

	var ids []string
	if err := tx.Pluck("id", &ids).Error; err != nil {
		return nil, errutil.Internal("failed to select expired jobs", errutil.WithErr(err))
	}
	return ids, nil
}

// SweepExpired purges every expired trashed job (optionally for one tenant)
// and returns how many were removed. Purges for distinct jobs are independent
// and fan out concurrently.
func (s *Store) SweepExpired(ctx context.Context, tenantID string, now time.Time) (int, error) {
	ids, err := s.ExpiredJobIDs(ctx, tenantID, now)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			return s.Purge(ctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(ids), nil
}
