// Package worker polls the durable task table and runs due tasks through a
// scheduler.Dispatcher. Any number of workers may poll the same table; rows
// are claimed with SKIP LOCKED and leased, so a crashed worker's task is
// picked up again once its lease runs out.
package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

// Sweeper removes expired rows from an auxiliary table.
type Sweeper interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type WorkerConfig struct {
	Queue        taskStore
	Dispatcher   *scheduler.Dispatcher
	PollInterval time.Duration
	// Lease bounds how long a claimed task may run before another worker
	// may reclaim it.
	Lease     time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retention is how long finished task rows are kept.
	Retention     time.Duration
	SweepInterval time.Duration
	Sweepers      []Sweeper
}

type Worker struct {
	cfg    WorkerConfig
	logger zerolog.Logger
}

func NewWorker(cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Worker{cfg: cfg, logger: logger.With().Str("component", "worker").Logger()}
}

func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Strs("kinds", w.cfg.Dispatcher.Kinds()).Msg("worker started, polling for tasks")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				w.logger.Error().Err(err).Msg("error processing tasks")
			}
		case <-sweep.C:
			w.sweep(ctx)
		}
	}
}

// Drain runs due tasks until none is left. It returns how many ran.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ran, err := w.processNext(ctx)
		if err != nil || !ran {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}

// processNext claims and runs one task. Task failures are recorded on the
// row; only queue errors are returned.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	c, err := w.cfg.Queue.Claim(ctx, w.cfg.Lease)
	if err != nil {
		return false, errors.Wrap(err, "claim task")
	}
	if c == nil {
		return false, nil
	}
	log := w.logger.With().Str("task", c.Task.ID()).Int("attempt", c.Attempts).Logger()

	// A reclaimed task may already have used its budget before its worker died.
	if c.Attempts > c.MaxAttempts {
		return true, w.exhaust(ctx, c, "lease expired after final attempt")
	}

	start := time.Now()
	runErr := w.cfg.Dispatcher.Run(ctx, c.Task)
	if runErr == nil {
		log.Debug().Dur("elapsed", time.Since(start)).Msg("task done")
		return true, errors.Wrapf(w.cfg.Queue.Complete(ctx, c.ID), "complete %s", c.Task)
	}

	reason := runErr.Error()
	if c.Attempts >= c.MaxAttempts {
		log.Error().Err(runErr).Msg("task failed, no attempts left")
		return true, w.exhaust(ctx, c, reason)
	}
	delay := scheduler.Backoff(w.cfg.BaseDelay, c.Attempts-1, w.cfg.MaxDelay)
	log.Warn().Err(runErr).Dur("retry_in", delay).Msg("task failed, will retry")
	return true, errors.Wrapf(w.cfg.Queue.Retry(ctx, c.ID, delay, reason), "retry %s", c.Task)
}

func (w *Worker) exhaust(ctx context.Context, c *claimedTask, reason string) error {
	if err := w.cfg.Queue.Fail(ctx, c.ID, reason); err != nil {
		return errors.Wrapf(err, "fail %s", c.Task)
	}
	if err := w.cfg.Dispatcher.Exhausted(ctx, c.Task, reason); err != nil {
		w.logger.Error().Err(err).Str("task", c.Task.ID()).Msg("exhaustion handler failed")
	}
	return nil
}

func (w *Worker) sweep(ctx context.Context) {
	if n, err := w.cfg.Queue.Purge(ctx, w.cfg.Retention); err != nil {
		w.logger.Error().Err(err).Msg("failed to purge finished tasks")
	} else if n > 0 {
		w.logger.Debug().Int64("rows", n).Msg("purged finished tasks")
	}
	for _, s := range w.cfg.Sweepers {
		if n, err := s.PurgeExpired(ctx); err != nil {
			w.logger.Error().Err(err).Msg("failed to purge expired state")
		} else if n > 0 {
			w.logger.Debug().Int64("rows", n).Msg("purged expired state")
		}
	}
}
