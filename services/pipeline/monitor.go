package pipeline

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// CheckLowSales is the recurring health check started by the per-tenant
// monitoring schedule. It reads today's total and lets the alert activity
// decide whether the figure warrants a Telegram notification.
func CheckLowSales(ctx workflow.Context, tenantID string) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var total float64
	if err := workflow.ExecuteActivity(ctx, ActivityGetDailySales, tenantID).Get(ctx, &total); err != nil {
		return "", err
	}

	var alerted bool
	if err := workflow.ExecuteActivity(ctx, ActivityNotifyLowSales, AlertInput{
		TenantID: tenantID,
		Total:    total,
	}).Get(ctx, &alerted); err != nil {
		return "", err
	}

	if alerted {
		return fmt.Sprintf("alert sent: low sales for %s, total %.2f", tenantID, total), nil
	}
	return fmt.Sprintf("sales ok: %.2f", total), nil
}
