package temporal

import (
	"time"

	"github.com/stanstork/formvault-api/internal/scheduler"
)

// TaskQueueName is the Temporal task queue carrying batch engine tasks.
const TaskQueueName = "FORMVAULT_TASKS"

// TaskWorkflowIDPrefix prefixes the workflow ID of every scheduled task.
const TaskWorkflowIDPrefix = "formvault-task-"

// TaskWorkflowName is the registered name of workflows.TaskWorkflow.
const TaskWorkflowName = "TaskWorkflow"

// DefaultActivityTimeout bounds a single task attempt.
const DefaultActivityTimeout = 5 * time.Minute

// TaskParams is the input of one task workflow. Retry settings travel with
// the task so that replays see the values it was started with.
type TaskParams struct {
	Task        scheduler.Task
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}
