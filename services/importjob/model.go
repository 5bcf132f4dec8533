package importjob

import (
	"time"
)

type JobStatus string

var (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSuccess    JobStatus = "SUCCESS"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return string(s)
	default:
		return ""
	}
}

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// previousStatuses lists the states a job may be in immediately before
// entering the given one. The transition graph is a single path
// PENDING → PROCESSING → {SUCCESS|FAILED}.
func previousStatuses(s JobStatus) []JobStatus {
	switch s {
	case StatusProcessing:
		return []JobStatus{StatusPending}
	case StatusSuccess, StatusFailed:
		return []JobStatus{StatusProcessing}
	default:
		return nil
	}
}

// RawRow is one uploaded batch row before validation, an arbitrary key/value
// bag as parsed from the upload payload.
type RawRow map[string]any

// Job is one tracked import batch.
type Job struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID       string     `gorm:"column:tenant_id;index:idx_etl_jobs_tenant_deleted,priority:1" json:"tenantId"`
	DepartmentID   *string    `gorm:"column:department_id" json:"departmentId,omitempty"`
	UploadedByID   *string    `gorm:"column:uploaded_by_id" json:"uploadedById,omitempty"`
	UploadedByName *string    `gorm:"column:uploaded_by_name" json:"uploadedByName,omitempty"`
	WorkflowID     string     `gorm:"column:workflow_id;uniqueIndex" json:"workflowId"`
	Status         JobStatus  `gorm:"column:status" json:"status"`
	FileName       string     `gorm:"column:file_name" json:"fileName"`
	RecordCount    int        `gorm:"column:record_count" json:"recordCount"`
	ErrorMessage   string     `gorm:"column:error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updatedAt"`
	DeletedAt      *time.Time `gorm:"column:deleted_at;index:idx_etl_jobs_tenant_deleted,priority:2" json:"deletedAt,omitempty"`
	DeletedByID    *string    `gorm:"column:deleted_by_id" json:"deletedById,omitempty"`
	DeletedByName  *string    `gorm:"column:deleted_by_name" json:"deletedByName,omitempty"`
}

func (Job) TableName() string { return "etl_jobs" }

// Trashed reports whether the job currently sits in the trash.
func (j *Job) Trashed() bool { return j.DeletedAt != nil }

// SalesRecord is one imported data row. EtlJobID is nullable: manually-entered
// records are not owned by any import batch.
type SalesRecord struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID     string    `gorm:"column:tenant_id;index:idx_sales_records_tenant_date,priority:1" json:"tenantId"`
	EtlJobID     *string   `gorm:"column:etl_job_id;index" json:"etlJobId,omitempty"`
	DepartmentID *string   `gorm:"column:department_id" json:"departmentId,omitempty"`
	Amount       float64   `gorm:"column:amount;type:decimal(10,2)" json:"amount"`
	Date         time.Time `gorm:"column:date;index:idx_sales_records_tenant_date,priority:2" json:"date"`
	Source       string    `gorm:"column:source" json:"source"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (SalesRecord) TableName() string { return "sales_records" }

// ImportInput is the workflow argument binding a submitted batch to its job.
type ImportInput struct {
	TenantID     string   `json:"tenantId"`
	JobID        string   `json:"jobId"`
	DepartmentID string   `json:"departmentId,omitempty"`
	Rows         []RawRow `json:"rows"`
}

// ImportResult is the workflow return value.
type ImportResult struct {
	RecordCount int `json:"recordCount"`
}

// TrashEntry is one soft-deleted job as presented by the trash listing.
type TrashEntry struct {
	ID             string     `json:"id"`
	FileName       string     `json:"fileName"`
	Status         JobStatus  `json:"status"`
	RecordCount    int        `json:"recordCount"`
	DepartmentID   *string    `json:"departmentId,omitempty"`
	UploadedByID   *string    `json:"uploadedById,omitempty"`
	UploadedByName *string    `json:"uploadedByName,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeletedAt      *time.Time `json:"deletedAt"`
	DeletedByName  *string    `json:"deletedByName,omitempty"`
	DaysLeft       int        `json:"daysLeft"`
}

// DaysLeft computes the presentational days-remaining counter for a trashed
// job. It is not authoritative for the sweeper's threshold check.
func DaysLeft(deletedAt *time.Time, ttl time.Duration, now time.Time) int {
	if deletedAt == nil {
		return int(ttl / (24 * time.Hour))
	}
	elapsed := int(now.Sub(*deletedAt).Hours() / 24)
	left := int(ttl/(24*time.Hour)) - elapsed
	if left < 0 {
		return 0
	}
	return left
}
