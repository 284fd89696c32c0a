package workflows

import (
	"errors"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stanstork/formvault-api/internal/temporal"
	"github.com/stanstork/formvault-api/internal/temporal/activities"
)

// TaskWorkflow runs a single scheduled task. Attempts are retried with
// exponential backoff; once the policy gives up, the task's exhaustion
// handler runs and the workflow fails.
func TaskWorkflow(ctx workflow.Context, params temporal.TaskParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    params.BaseDelay,
			BackoffCoefficient: 2.0,
			MaximumInterval:    params.MaxDelay,
			MaximumAttempts:    int32(params.MaxAttempts),
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Debug("Starting task workflow", "task", params.Task.ID())

	// The implementation lives on the worker; this is only a proxy.
	var a *activities.Activities

	err := workflow.ExecuteActivity(ctx, a.RunTaskActivity, params.Task).Get(ctx, nil)
	if err == nil {
		return nil
	}

	reason := failureReason(err)
	logger.Error("Task failed after all attempts.", "task", params.Task.ID(), "error", reason)

	failCtx, _ := workflow.NewDisconnectedContext(ctx)
	failCtx = workflow.WithActivityOptions(failCtx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	if ferr := workflow.ExecuteActivity(failCtx, a.FailTaskActivity, params.Task, reason).Get(failCtx, nil); ferr != nil {
		logger.Error("Exhaustion handler failed.", "task", params.Task.ID(), "error", ferr)
	}
	return err
}

// failureReason extracts the handler's own message from an activity error.
func failureReason(err error) string {
	var appErr *sdktemporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
