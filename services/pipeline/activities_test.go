package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"salesbi-dataplane/pkg/errutil"
	"salesbi-dataplane/services/alert"
	"salesbi-dataplane/services/importjob"
)

func TestValidateRowsFiltersBadInput(t *testing.T) {
	a := newTestActivities(newPipelineStore(t), nil)

	valid, err := a.ValidateRows(context.Background(), []importjob.RawRow{
		{"amount": 100.0},
		{"amount": 50.0, "date": "2026-01-15"},
		{"amount": -1.0},
		{"amount": 0.0},
		{"amount": "abc"},
		{"amount": 10.0, "date": "not a date"},
		{"date": "2026-01-15"},
	})
	require.NoError(t, err)
	require.Len(t, valid, 2)
}

func TestValidateRowsEmptyBatchIsNonRetryable(t *testing.T) {
	a := newTestActivities(newPipelineStore(t), nil)

	_, err := a.ValidateRows(context.Background(), []importjob.RawRow{{"amount": -1.0}})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypeNoValidData, appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestTransformRowsDefaults(t *testing.T) {
	a := newTestActivities(newPipelineStore(t), nil)

	records, err := a.TransformRows(context.Background(), TransformInput{
		TenantID:     "t1",
		DepartmentID: "sales",
		Rows: []importjob.RawRow{
			{"amount": 100.555, "date": "2026-01-02", "source": "POS"},
			{"amount": 25.0},
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.InDelta(t, 100.56, records[0].Amount, 0.001)
	require.Equal(t, "POS", records[0].Source)
	require.Equal(t, 2026, records[0].Date.Year())
	require.NotNil(t, records[0].DepartmentID)
	require.Equal(t, "sales", *records[0].DepartmentID)

	require.Equal(t, SourceUnknown, records[1].Source)
	require.False(t, records[1].Date.IsZero())
}

func TestParseDateLayouts(t *testing.T) {
	for _, in := range []string{
		"2026-01-02T15:04:05Z",
		"2026-01-02",
		"2026-01-02 15:04:05",
		"02/01/2026",
	} {
		parsed, err := parseDate(in)
		require.NoError(t, err, in)
		require.Equal(t, 2026, parsed.Year(), in)
	}

	_, err := parseDate("garbage")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = parseDate(12345)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestToFloatAcceptsStringsAndNumbers(t *testing.T) {
	cases := map[string]struct {
		in   any
		want float64
		ok   bool
	}{
		"float":      {100.5, 100.5, true},
		"int":        {42, 42, true},
		"string":     {" 12.34 ", 12.34, true},
		"bad string": {"abc", 0, false},
		"nil":        {nil, 0, false},
	}
	for name, tc := range cases {
		got, ok := toFloat(tc.in)
		require.Equal(t, tc.ok, ok, name)
		if tc.ok {
			require.InDelta(t, tc.want, got, 0.001, name)
		}
	}
}

func TestNotifyLowSalesAboveThreshold(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := newTestActivities(newPipelineStore(t), enq)

	alerted, err := a.NotifyLowSales(context.Background(), AlertInput{TenantID: "t1", Total: 5_000_000})
	require.NoError(t, err)
	require.False(t, alerted)
	require.Empty(t, enq.tasks)
}

func TestNotifyLowSalesEnqueuesTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := newTestActivities(newPipelineStore(t), enq)

	alerted, err := a.NotifyLowSales(context.Background(), AlertInput{TenantID: "t1", Total: 500})
	require.NoError(t, err)
	require.True(t, alerted)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, alert.TaskLowSalesAlert, enq.tasks[0].Type())
}

func TestNotifyLowSalesWithoutQueue(t *testing.T) {
	a := newTestActivities(newPipelineStore(t), nil)

	_, err := a.NotifyLowSales(context.Background(), AlertInput{TenantID: "t1", Total: 500})
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))
}

func TestMarkJobStatusGoesThroughTransitionGuard(t *testing.T) {
	store := newPipelineStore(t)
	a := newTestActivities(store, nil)
	ctx := context.Background()

	job := &importjob.Job{TenantID: "t1", WorkflowID: "wf-1"}
	require.NoError(t, store.CreateJob(ctx, job))

	err := a.MarkJobStatus(ctx, StatusInput{JobID: job.ID, Status: importjob.StatusSuccess})
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	require.NoError(t, a.MarkJobStatus(ctx, StatusInput{JobID: job.ID, Status: importjob.StatusProcessing}))
	require.NoError(t, a.MarkJobStatus(ctx, StatusInput{JobID: job.ID, Status: importjob.StatusSuccess, RecordCount: 7}))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, importjob.StatusSuccess, got.Status)
	require.Equal(t, 7, got.RecordCount)
}

func TestGetDailySalesSumsVisibleRecords(t *testing.T) {
	store := newPipelineStore(t)
	a := newTestActivities(store, nil)
	ctx := context.Background()

	job := &importjob.Job{TenantID: "t1", WorkflowID: "wf-1"}
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.ReplaceRecords(ctx, job.ID, []*importjob.SalesRecord{
		{TenantID: "t1", Amount: 100, Date: time.Now()},
		{TenantID: "t1", Amount: 200, Date: time.Now()},
	})
	require.NoError(t, err)

	total, err := a.GetDailySales(ctx, "t1")
	require.NoError(t, err)
	require.InDelta(t, 300, total, 0.001)
}
