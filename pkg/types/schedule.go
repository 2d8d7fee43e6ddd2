package types

// ScheduleStatus is the lifecycle state of a cron-bound schedule.
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Schedule is a cron trigger bound to one minion.
type Schedule struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`

	MinionID   string `json:"minionID"`
	MinionName string `json:"minionName"`

	Name string `json:"name"`
	Cron string `json:"cron"`

	Prompt       string `json:"prompt"`
	ResetSession bool   `json:"resetSession"`

	Status ScheduleStatus `json:"status"`

	NextRun *float64 `json:"nextRun,omitempty"`
	LastRun *float64 `json:"lastRun,omitempty"`
	LastStatus string `json:"lastStatus,omitempty"`

	ExecutionCount int `json:"executionCount"`
	FailureCount   int `json:"failureCount"`
	MaxRetries     int `json:"maxRetries"`
	TimeoutSeconds int `json:"timeoutSeconds"`

	CreatedAt float64 `json:"createdAt"`
	UpdatedAt float64 `json:"updatedAt"`
}

// ExecutionStatus is the outcome of one schedule fire.
type ExecutionStatus string

const (
	ExecutionQueued  ExecutionStatus = "queued"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionTimeout ExecutionStatus = "timeout"
	ExecutionRetry   ExecutionStatus = "retry"
)

// ScheduleExecution is an append-only record of one schedule fire,
// written to schedule_history.jsonl.
type ScheduleExecution struct {
	ExecutionID   string          `json:"executionID"`
	ScheduleID    string          `json:"scheduleID"`
	ScheduledTime float64         `json:"scheduledTime"`
	ActualFire    float64         `json:"actualFire"`
	Status        ExecutionStatus `json:"status"`
	MinionState   string          `json:"minionState,omitempty"`
	Error         *string         `json:"error,omitempty"`
	RetryNumber   int             `json:"retryNumber"`
	QueueID       *string         `json:"queueID,omitempty"`
}
