package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

// claimedTask is a row of vault.scheduled_tasks owned by this worker.
type claimedTask struct {
	ID          int64
	Task        scheduler.Task
	Attempts    int
	MaxAttempts int
}

type taskStore interface {
	// Claim leases the next due task, or a running task whose lease expired.
	// It returns nil when nothing is due.
	Claim(ctx context.Context, lease time.Duration) (*claimedTask, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, delay time.Duration, reason string) error
	Fail(ctx context.Context, id int64, reason string) error
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Queue is the durable task table. It implements scheduler.Scheduler for
// producers and taskStore for the Worker.
type Queue struct {
	db          *sql.DB
	maxAttempts int
}

func NewQueue(db *sql.DB, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{db: db, maxAttempts: maxAttempts}
}

// Schedule inserts task to run after delay. A task with the same ID that is
// still pending absorbs the insert.
func (q *Queue) Schedule(ctx context.Context, task scheduler.Task, delay time.Duration) error {
	const query = `
		INSERT INTO vault.scheduled_tasks (dedupe_key, kind, key, seq, run_at, max_attempts, status)
		VALUES ($1, $2, $3, $4, NOW() + make_interval(secs => $5), $6, 'pending')
		ON CONFLICT (dedupe_key) WHERE status = 'pending' DO NOTHING
	`
	_, err := q.db.ExecContext(ctx, query,
		task.ID(), task.Kind, task.Key, task.Seq, delay.Seconds(), q.maxAttempts,
	)
	if err != nil {
		return errors.Wrapf(err, "schedule %s", task)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*claimedTask, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var c claimedTask
	query := `
		SELECT id, kind, key, seq, attempts, max_attempts
		FROM vault.scheduled_tasks
		WHERE (status = 'pending' AND run_at <= NOW())
		   OR (status = 'running' AND claimed_at < NOW() - make_interval(secs => $1))
		ORDER BY run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`
	err = tx.QueryRowContext(ctx, query, lease.Seconds()).Scan(
		&c.ID, &c.Task.Kind, &c.Task.Key, &c.Task.Seq, &c.Attempts, &c.MaxAttempts,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch next due task")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE vault.scheduled_tasks
		SET status = 'running', claimed_at = NOW(), attempts = attempts + 1
		WHERE id = $1
	`, c.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark task %d running", c.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	c.Attempts++
	return &c, nil
}

func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE vault.scheduled_tasks
		SET status = 'done', last_error = NULL, finished_at = NOW()
		WHERE id = $1
	`, id)
	return errors.Wrapf(err, "failed to complete task %d", id)
}

func (q *Queue) Retry(ctx context.Context, id int64, delay time.Duration, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE vault.scheduled_tasks
		SET status = 'pending', claimed_at = NULL, last_error = $2,
		    run_at = NOW() + make_interval(secs => $3)
		WHERE id = $1
	`, id, reason, delay.Seconds())
	return errors.Wrapf(err, "failed to reschedule task %d", id)
}

func (q *Queue) Fail(ctx context.Context, id int64, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE vault.scheduled_tasks
		SET status = 'failed', last_error = $2, finished_at = NOW()
		WHERE id = $1
	`, id, reason)
	return errors.Wrapf(err, "failed to mark task %d failed", id)
}

// Purge deletes finished tasks older than olderThan.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM vault.scheduled_tasks
		WHERE status IN ('done', 'failed')
		  AND finished_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge finished tasks")
	}
	return res.RowsAffected()
}
