package importjob

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salesbi-dataplane/pkg/db/pagination"
	"salesbi-dataplane/pkg/errutil"
	"salesbi-dataplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()

	db := testutil.NewTestDB(t, &Job{}, &SalesRecord{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return newStoreForTest(db, node, ttl)
}

func seedJob(t *testing.T, s *Store, job *Job) *Job {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestCreateJobDefaultsToPending(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1", FileName: "sales.csv"})
	require.NotEmpty(t, job.ID)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCreateJobRejectsDuplicateWorkflowID(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-dup"})

	err := s.CreateJob(context.Background(), &Job{TenantID: "t1", WorkflowID: "wf-dup"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestCreateJobRequiresTenant(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	err := s.CreateJob(context.Background(), &Job{WorkflowID: "wf-1"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestUpdateStatusHappyPath(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})

	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusProcessing, 0, ""))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusSuccess, 42, ""))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.Equal(t, 42, got.RecordCount)
}

func TestUpdateStatusFailedRecordsErrorMessage(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusProcessing, 0, ""))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusFailed, 0, "no valid rows in batch"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "no valid rows in batch", got.ErrorMessage)
}

func TestUpdateStatusRejectsSkippedTransition(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})

	err := s.UpdateStatus(ctx, job.ID, StatusSuccess, 1, "")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestUpdateStatusTerminalIsImmutable(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusProcessing, 0, ""))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusSuccess, 5, ""))

	err := s.UpdateStatus(ctx, job.ID, StatusProcessing, 0, "")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestUpdateStatusReassertIsNoOp(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusProcessing, 0, ""))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusSuccess, 5, ""))

	// activity retry re-delivers the same terminal write
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusSuccess, 5, ""))
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	err := s.UpdateStatus(context.Background(), "nope", StatusProcessing, 0, "")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestUpdateStatusRejectsPendingTarget(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	err := s.UpdateStatus(context.Background(), job.ID, StatusPending, 0, "")
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestReplaceRecordsIsRetrySafe(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})

	batch := func() []*SalesRecord {
		return []*SalesRecord{
			{TenantID: "t1", Amount: 100.50, Date: time.Now(), Source: "POS"},
			{TenantID: "t1", Amount: 200.25, Date: time.Now(), Source: "POS"},
		}
	}

	n, err := s.ReplaceRecords(ctx, job.ID, batch())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// second attempt with the same inputs must not duplicate rows
	n, err = s.ReplaceRecords(ctx, job.ID, batch())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := s.CountRecords(ctx, job.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestListRecordsHidesTrashedJobs(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	keep := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-keep"})
	trash := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-trash"})

	_, err := s.ReplaceRecords(ctx, keep.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 10, Date: time.Now()},
	})
	require.NoError(t, err)
	_, err = s.ReplaceRecords(ctx, trash.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 20, Date: time.Now()},
	})
	require.NoError(t, err)

	// a manually-entered record owned by no job stays visible
	node := s.node
	require.NoError(t, s.db.Create(&SalesRecord{
		ID:       node.Generate().String(),
		TenantID: "t1",
		Amount:   30,
		Date:     time.Now(),
	}).Error)

	require.NoError(t, s.SoftDelete(ctx, trash.ID, "", ""))

	records, _, err := s.ListRecords(ctx, "t1", pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		if r.EtlJobID != nil {
			require.Equal(t, keep.ID, *r.EtlJobID)
		}
	}
}

func TestListRecordsCursorPagination(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := make([]*SalesRecord, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, &SalesRecord{
			TenantID: "t1",
			Amount:   float64(i + 1),
			Date:     base.Add(time.Duration(i) * time.Hour),
		})
	}
	_, err := s.ReplaceRecords(ctx, job.ID, batch)
	require.NoError(t, err)

	first, info, err := s.ListRecords(ctx, "t1", pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	second, info, err := s.ListRecords(ctx, "t1", pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.False(t, info.HasMore)

	seen := map[string]bool{}
	for _, r := range append(first, second...) {
		require.False(t, seen[r.ID], "record returned twice")
		seen[r.ID] = true
	}

	_, _, err = s.ListRecords(ctx, "t1", pagination.Pagination{Cursor: "not base64!"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestDailySalesTotalExcludesTrashAndOtherDays(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	trashed := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-2"})

	today := time.Now()
	yesterday := today.Add(-24 * time.Hour)

	_, err := s.ReplaceRecords(ctx, job.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 100, Date: today},
		{TenantID: "t1", Amount: 50, Date: yesterday},
	})
	require.NoError(t, err)
	_, err = s.ReplaceRecords(ctx, trashed.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 999, Date: today},
	})
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, trashed.ID, "", ""))

	total, err := s.DailySalesTotal(ctx, "t1", today)
	require.NoError(t, err)
	require.InDelta(t, 100, total, 0.001)
}

func TestHistoryExcludesTrashedJobs(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	trashed := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-2"})
	seedJob(t, s, &Job{TenantID: "t2", WorkflowID: "wf-3"})

	require.NoError(t, s.SoftDelete(ctx, trashed.ID, "", ""))

	jobs, err := s.History(ctx, "t1", "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "wf-1", jobs[0].WorkflowID)
}

func TestSoftDeleteOwnership(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	owner := "user-1"
	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1", UploadedByID: &owner})

	err := s.SoftDelete(ctx, job.ID, "user-2", "Mallory")
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	// empty actor is an administrative action
	require.NoError(t, s.SoftDelete(ctx, job.ID, "", ""))

	err = s.SoftDelete(ctx, job.ID, owner, "Alice")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestSoftDeleteUnknownJob(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	err := s.SoftDelete(context.Background(), "nope", "", "")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestSoftDeleteAllScopedByDepartment(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	dep := "sales"
	seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1", DepartmentID: &dep})
	seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-2"})

	n, err := s.SoftDeleteAll(ctx, "t1", dep, "user-1", "Alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	jobs, err := s.History(ctx, "t1", "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestRestoreIsIdempotent(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	require.NoError(t, s.SoftDelete(ctx, job.ID, "", ""))

	require.NoError(t, s.Restore(ctx, job.ID))
	require.NoError(t, s.Restore(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, got.Trashed())
	require.Nil(t, got.DeletedByID)
}

func TestRestoreUnknownJob(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)

	err := s.Restore(context.Background(), "nope")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestPurgeRemovesJobAndRecords(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1"})
	_, err := s.ReplaceRecords(ctx, job.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 10, Date: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, s.Purge(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	count, err := s.CountRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	// purging again is a no-op
	require.NoError(t, s.Purge(ctx, job.ID))
}

func TestListTrashReportsDaysLeft(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	job := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-1", FileName: "q1.csv"})
	require.NoError(t, s.SoftDelete(ctx, job.ID, "", ""))

	deletedTenDaysAgo := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, s.db.Model(&Job{}).Where("id = ?", job.ID).
		Update("deleted_at", deletedTenDaysAgo).Error)

	entries, err := s.ListTrash(ctx, "t1", time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "q1.csv", entries[0].FileName)
	require.Equal(t, 20, entries[0].DaysLeft)
}

func TestDaysLeftFloorsAtZero(t *testing.T) {
	now := time.Now()
	old := now.Add(-45 * 24 * time.Hour)
	require.Zero(t, DaysLeft(&old, 30*24*time.Hour, now))

	fresh := now.Add(-time.Hour)
	require.Equal(t, 30, DaysLeft(&fresh, 30*24*time.Hour, now))
}

func TestSweepExpiredPurgesOnlyPastGracePeriod(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	expired := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-old"})
	fresh := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-new"})
	active := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-active"})

	_, err := s.ReplaceRecords(ctx, expired.ID, []*SalesRecord{
		{TenantID: "t1", Amount: 10, Date: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, expired.ID, "", ""))
	require.NoError(t, s.SoftDelete(ctx, fresh.ID, "", ""))

	require.NoError(t, s.db.Model(&Job{}).Where("id = ?", expired.ID).
		Update("deleted_at", time.Now().Add(-31*24*time.Hour)).Error)

	purged, err := s.SweepExpired(ctx, "", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	got, err := s.GetJob(ctx, expired.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	count, err := s.CountRecords(ctx, expired.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	for _, id := range []string{fresh.ID, active.ID} {
		got, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}

func TestSweepExpiredScopedToTenant(t *testing.T) {
	s := newTestStore(t, 30*24*time.Hour)
	ctx := context.Background()

	a := seedJob(t, s, &Job{TenantID: "t1", WorkflowID: "wf-a"})
	b := seedJob(t, s, &Job{TenantID: "t2", WorkflowID: "wf-b"})

	old := time.Now().Add(-31 * 24 * time.Hour)
	for _, id := range []string{a.ID, b.ID} {
		require.NoError(t, s.SoftDelete(ctx, id, "", ""))
		require.NoError(t, s.db.Model(&Job{}).Where("id = ?", id).
			Update("deleted_at", old).Error)
	}

	purged, err := s.SweepExpired(ctx, "t1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	got, err := s.GetJob(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
