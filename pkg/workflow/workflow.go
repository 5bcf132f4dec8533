package workflow

const (
	// Workflow type names as registered on the worker.
	WorkflowImportSales   = "ImportSalesWorkflow"
	WorkflowCheckLowSales = "CheckLowSalesWorkflow"
)

// ScheduleID returns the per-tenant monitoring schedule identifier.
func ScheduleID(tenantID string) string {
	return "monitoring-schedule-" + tenantID
}
