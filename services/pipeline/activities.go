package pipeline

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/errutil"
	"salesbi-dataplane/pkg/task"
	"salesbi-dataplane/services/alert"
	"salesbi-dataplane/services/importjob"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Activity names as registered on the worker (method names on Activities).
const (
	ActivityValidateRows   = "ValidateRows"
	ActivityTransformRows  = "TransformRows"
	ActivityPersistRecords = "PersistRecords"
	ActivityMarkJobStatus  = "MarkJobStatus"
	ActivityGetDailySales  = "GetDailySales"
	ActivityNotifyLowSales = "NotifyLowSales"
)

// ErrTypeNoValidData marks the non-retryable application error raised when a
// batch contains no importable rows. Input errors are deterministic, so
// retrying them only burns attempts.
const ErrTypeNoValidData = "NoValidData"

// SourceUnknown is the sentinel assigned to rows without a source field.
const SourceUnknown = "UNKNOWN"

// Activities hosts every pipeline step. ValidateRows and TransformRows are
// pure; PersistRecords and MarkJobStatus mutate the store and are safe to
// retry per job.
type Activities struct {
	store     *importjob.Store
	enqueuer  task.Enqueuer
	threshold float64
}

type ActivitiesParams struct {
	fx.In
	Store    *importjob.Store
	Enqueuer task.Enqueuer `optional:"true"`
	Config   *config.Config
}

func NewActivities(p ActivitiesParams) *Activities {
	return &Activities{
		store:     p.Store,
		enqueuer:  p.Enqueuer,
		threshold: p.Config.Monitoring.LowSalesThreshold,
	}
}

// ValidateRows keeps the rows carrying a positive amount and, when a date is
// present, a parseable one. An empty result is a NoValidData failure.
func (a *Activities) ValidateRows(ctx context.Context, rows []importjob.RawRow) ([]importjob.RawRow, error) {
	valid := make([]importjob.RawRow, 0, len(rows))
	for _, row := range rows {
		amount, ok := amountOf(row)
		if !ok || amount <= 0 {
			continue
		}
		if raw, present := dateValue(row); present {
			if _, err := parseDate(raw); err != nil {
				continue
			}
		}
		valid = append(valid, row)
	}

	if len(valid) == 0 {
		return nil, temporal.NewNonRetryableApplicationError(
			"no valid rows in batch", ErrTypeNoValidData, nil)
	}
	return valid, nil
}

type TransformInput struct {
	TenantID     string             `json:"tenantId"`
	DepartmentID string             `json:"departmentId,omitempty"`
	Rows         []importjob.RawRow `json:"rows"`
}

// TransformRows coerces validated rows into store records: amount to a 2-dp
// decimal, date to a calendar date (defaulting to today when absent), source
// to the UNKNOWN sentinel. The running total is logged only; the store is the
// single source of truth for aggregates.
func (a *Activities) TransformRows(ctx context.Context, in TransformInput) ([]*importjob.SalesRecord, error) {
	var total float64
	records := make([]*importjob.SalesRecord, 0, len(in.Rows))

	for _, row := range in.Rows {
		amount, _ := amountOf(row)
		amount = round2(amount)
		total += amount

		date := time.Now().Truncate(24 * time.Hour)
		if raw, present := dateValue(row); present {
			parsed, err := parseDate(raw)
			if err != nil {
				return nil, err
			}
			date = parsed
		}

		record := &importjob.SalesRecord{
			TenantID: in.TenantID,
			Amount:   amount,
			Date:     date,
			Source:   sourceOf(row),
		}
		if in.DepartmentID != "" {
			dep := in.DepartmentID
			record.DepartmentID = &dep
		}
		records = append(records, record)
	}

	zap.L().Info("transformed batch",
		zap.String("tenant_id", in.TenantID),
		zap.Int("rows", len(records)),
		zap.Float64("running_total", round2(total)),
	)
	return records, nil
}

type PersistInput struct {
	JobID   string                   `json:"jobId"`
	Records []*importjob.SalesRecord `json:"records"`
}

// PersistRecords bulk-inserts the transformed rows tagged with the job id.
// Retry-safe: rows from an earlier partial attempt are replaced, not appended.
func (a *Activities) PersistRecords(ctx context.Context, in PersistInput) (int, error) {
	return a.store.ReplaceRecords(ctx, in.JobID, in.Records)
}

type StatusInput struct {
	JobID        string              `json:"jobId"`
	Status       importjob.JobStatus `json:"status"`
	RecordCount  int                 `json:"recordCount,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// MarkJobStatus writes a status transition through the store's guard. The
// write is idempotent per target status, so activity retries are safe.
func (a *Activities) MarkJobStatus(ctx context.Context, in StatusInput) error {
	return a.store.UpdateStatus(ctx, in.JobID, in.Status, in.RecordCount, in.ErrorMessage)
}

// GetDailySales sums today's visible sales for a tenant.
func (a *Activities) GetDailySales(ctx context.Context, tenantID string) (float64, error) {
	return a.store.DailySalesTotal(ctx, tenantID, time.Now())
}

type AlertInput struct {
	TenantID string  `json:"tenantId"`
	Total    float64 `json:"total"`
}

// NotifyLowSales enqueues a Telegram alert when the daily total sits below the
// configured threshold. Returns whether an alert was dispatched.
func (a *Activities) NotifyLowSales(ctx context.Context, in AlertInput) (bool, error) {
	if in.Total >= a.threshold {
		return false, nil
	}
	if a.enqueuer == nil {
		return false, errutil.ServiceUnavailable("alert queue is not configured")
	}

	t, err := alert.NewLowSalesTask(alert.LowSalesPayload{
		TenantID:  in.TenantID,
		Total:     in.Total,
		Threshold: a.threshold,
	})
	if err != nil {
		return false, err
	}
	if _, err := a.enqueuer.Enqueue(t); err != nil {
		return false, err
	}

	zap.L().Warn("low sales alert enqueued",
		zap.String("tenant_id", in.TenantID),
		zap.Float64("total", in.Total),
		zap.Float64("threshold", a.threshold),
	)
	return true, nil
}

func amountOf(row importjob.RawRow) (float64, bool) {
	for _, key := range []string{"Amount", "amount"} {
		if v, ok := row[key]; ok {
			return toFloat(v)
		}
	}
	return 0, false
}

func dateValue(row importjob.RawRow) (any, bool) {
	for _, key := range []string{"Date", "date"} {
		if v, ok := row[key]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

func sourceOf(row importjob.RawRow) string {
	for _, key := range []string{"Source", "source"} {
		if v, ok := row[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return SourceUnknown
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, errutil.ValidationFailed("unparseable date: " + s)
	default:
		return time.Time{}, errutil.ValidationFailed("unsupported date value")
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
