package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/stanstork/formvault-api/internal/scheduler"
)

type Activities struct {
	Dispatcher *scheduler.Dispatcher
}

// RunTaskActivity executes one attempt of task. Errors are retried by the
// workflow's retry policy.
func (a *Activities) RunTaskActivity(ctx context.Context, task scheduler.Task) error {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)
	logger.Debug("Running task", "task", task.ID(), "attempt", info.Attempt)

	if err := a.Dispatcher.Run(ctx, task); err != nil {
		logger.Warn("Task attempt failed", "task", task.ID(), "attempt", info.Attempt, "error", err)
		return err
	}
	return nil
}

// FailTaskActivity runs the exhaustion handler of task's kind.
func (a *Activities) FailTaskActivity(ctx context.Context, task scheduler.Task, reason string) error {
	logger := activity.GetLogger(ctx)
	logger.Error("Task exhausted its retries", "task", task.ID(), "reason", reason)
	return a.Dispatcher.Exhausted(ctx, task, reason)
}
