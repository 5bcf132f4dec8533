package schedule

import (
	"context"
	"errors"
	"fmt"

	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/errutil"
	wf "salesbi-dataplane/pkg/workflow"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// scheduleAPI is the slice of Temporal's ScheduleClient the manager uses;
// narrowed for test fakes.
type scheduleAPI interface {
	Create(ctx context.Context, options client.ScheduleOptions) (client.ScheduleHandle, error)
	GetHandle(ctx context.Context, scheduleID string) client.ScheduleHandle
}

// Manager owns the per-tenant monitoring schedules. One schedule per tenant;
// ticks overlap-skip so a stalled run never queues a backlog.
type Manager struct {
	sched scheduleAPI
	cfg   *config.Config
}

type ManagerParams struct {
	fx.In
	Engine *wf.Engine
	Config *config.Config
}

func NewManager(p ManagerParams) *Manager {
	m := &Manager{cfg: p.Config}
	if c, ok := p.Engine.Client(); ok {
		m.sched = c.ScheduleClient()
	}
	return m
}

func newManagerForTest(sched scheduleAPI, cfg *config.Config) *Manager {
	return &Manager{sched: sched, cfg: cfg}
}

type Result struct {
	ScheduleID    string `json:"scheduleId"`
	Message       string `json:"message"`
	AlreadyExists bool   `json:"alreadyExists,omitempty"`
	NotFound      bool   `json:"notFound,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
}

// CreateMonitoring registers the recurring low-sales check for a tenant.
// Creating a schedule that already exists is reported, not treated as an
// error.
func (m *Manager) CreateMonitoring(ctx context.Context, tenantID string) (*Result, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenantId is required")
	}

	scheduleID := wf.ScheduleID(tenantID)

	if m.sched == nil {
		zap.L().Warn("workflow engine unavailable, schedule not created",
			zap.String("schedule_id", scheduleID))
		return &Result{
			ScheduleID: wf.PlaceholderID("schedule"),
			Message:    fmt.Sprintf("engine unavailable, schedule %s not created", scheduleID),
			Degraded:   true,
		}, nil
	}

	_, err := m.sched.Create(ctx, client.ScheduleOptions{
		ID: scheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: m.cfg.Monitoring.Interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "check-low-sales-" + tenantID,
			Workflow:  wf.WorkflowCheckLowSales,
			Args:      []interface{}{tenantID},
			TaskQueue: m.cfg.Temporal.TaskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err != nil {
		if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
			return &Result{
				ScheduleID:    scheduleID,
				Message:       fmt.Sprintf("schedule %s already exists", scheduleID),
				AlreadyExists: true,
			}, nil
		}
		zap.L().Error("failed to create monitoring schedule",
			zap.String("schedule_id", scheduleID), zap.Error(err))
		return nil, errutil.Internal("failed to create schedule", errutil.WithErr(err))
	}

	zap.L().Info("monitoring schedule created", zap.String("schedule_id", scheduleID))
	return &Result{
		ScheduleID: scheduleID,
		Message:    fmt.Sprintf("schedule %s created successfully", scheduleID),
	}, nil
}

// DeleteMonitoring removes a tenant's schedule. A missing schedule is a soft
// failure carried in the result, never a crash.
func (m *Manager) DeleteMonitoring(ctx context.Context, tenantID string) (*Result, error) {
	if tenantID == "" {
		return nil, errutil.BadRequest("tenantId is required")
	}

	scheduleID := wf.ScheduleID(tenantID)

	if m.sched == nil {
		zap.L().Warn("workflow engine unavailable, schedule not deleted",
			zap.String("schedule_id", scheduleID))
		return &Result{
			ScheduleID: scheduleID,
			Message:    fmt.Sprintf("engine unavailable, schedule %s not deleted", scheduleID),
			Degraded:   true,
		}, nil
	}

	handle := m.sched.GetHandle(ctx, scheduleID)
	if err := handle.Delete(ctx); err != nil {
		zap.L().Warn("failed to delete monitoring schedule",
			zap.String("schedule_id", scheduleID), zap.Error(err))
		return &Result{
			ScheduleID: scheduleID,
			Message:    fmt.Sprintf("failed to delete schedule %s: %v", scheduleID, err),
			NotFound:   true,
		}, nil
	}

	zap.L().Info("monitoring schedule deleted", zap.String("schedule_id", scheduleID))
	return &Result{
		ScheduleID: scheduleID,
		Message:    fmt.Sprintf("schedule %s deleted", scheduleID),
	}, nil
}

var Module = fx.Module("schedule.module",
	fx.Provide(NewManager),
)
