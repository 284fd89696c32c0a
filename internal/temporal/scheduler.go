package temporal

import (
	"context"
	"fmt"
	"time"

	tc "go.temporal.io/sdk/client"

	"github.com/stanstork/formvault-api/internal/scheduler"
)

// Scheduler starts one workflow per task. The workflow ID is derived from
// the task ID, so scheduling a task that is already running is a no-op.
type Scheduler struct {
	client      tc.Client
	taskQueue   string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

type SchedulerConfig struct {
	TaskQueue   string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func NewScheduler(c tc.Client, cfg SchedulerConfig) *Scheduler {
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = TaskQueueName
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Minute
	}
	return &Scheduler{
		client:      c,
		taskQueue:   cfg.TaskQueue,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
}

func (s *Scheduler) Schedule(ctx context.Context, task scheduler.Task, delay time.Duration) error {
	opts := tc.StartWorkflowOptions{
		ID:         TaskWorkflowIDPrefix + task.ID(),
		TaskQueue:  s.taskQueue,
		StartDelay: delay,
	}
	params := TaskParams{
		Task:        task,
		MaxAttempts: s.maxAttempts,
		BaseDelay:   s.baseDelay,
		MaxDelay:    s.maxDelay,
	}
	if _, err := s.client.ExecuteWorkflow(ctx, opts, TaskWorkflowName, params); err != nil {
		return fmt.Errorf("start workflow for %s: %w", task, err)
	}
	return nil
}
