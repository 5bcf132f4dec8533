package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TaskLowSalesAlert = "alert:lowsales:send"

type LowSalesPayload struct {
	TenantID  string  `json:"tenant_id"`
	Total     float64 `json:"total"`
	Threshold float64 `json:"threshold"`
}

// Message renders the operator-facing alert text.
func (p LowSalesPayload) Message() string {
	return fmt.Sprintf("⚠️ Alert: Low sales detected for %s. Total: %.2f (threshold %.2f)",
		p.TenantID, p.Total, p.Threshold)
}

func NewLowSalesTask(p LowSalesPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowSalesAlert, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(60*time.Second),
		asynq.Queue("alerts")), nil
}
