// Package legacy copies rows from the pre-migration submissions table into
// the entries table. It runs as the same chain of single-batch steps as an
// export, keyed on the legacy primary key.
package legacy

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/jobstore"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

const (
	KindStep = "legacy.step"

	stateKey = "migration:legacy"
	lockKey  = "migration:legacy:lock"
	taskKey  = "legacy"
)

var (
	ErrMigrationRunning    = errors.New("legacy migration is already running")
	ErrMigrationNotStarted = errors.New("legacy migration has not been started")
)

type Config struct {
	BatchSize    int
	MinBatchSize int
	MaxBatchSize int
	StateTTL     time.Duration
	LockTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 100
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

func (c Config) clampBatch(n int) int {
	if n <= 0 {
		n = c.BatchSize
	}
	return int(math.Max(float64(c.MinBatchSize), math.Min(float64(c.MaxBatchSize), float64(n))))
}

type Notifier interface {
	NotifyMigrationCompleted(ctx context.Context, migrated, skipped int64) error
}

type Processor struct {
	cfg       Config
	store     jobstore.Store
	repo      repository.LegacyRepository
	scheduler scheduler.Scheduler
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(
	cfg Config,
	store jobstore.Store,
	repo repository.LegacyRepository,
	sched scheduler.Scheduler,
	notifier Notifier,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		cfg:       cfg.withDefaults(),
		store:     store,
		repo:      repo,
		scheduler: sched,
		notifier:  notifier,
		logger:    logger.With().Str("component", "legacy_migration").Logger(),
		now:       time.Now,
	}
}

func (p *Processor) Register(d *scheduler.Dispatcher) {
	d.Handle(KindStep, func(ctx context.Context, t scheduler.Task) error {
		return p.step(ctx, int(t.Seq))
	}, p.exhausted)
}

func (p *Processor) load(ctx context.Context) (*models.MigrationState, error) {
	var state models.MigrationState
	if err := p.store.Get(ctx, stateKey, &state); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, ErrMigrationNotStarted
		}
		return nil, errors.Wrap(err, "load migration state")
	}
	return &state, nil
}

func (p *Processor) save(ctx context.Context, state *models.MigrationState) error {
	state.UpdatedAt = p.now()
	return errors.Wrap(p.store.Set(ctx, stateKey, state, p.cfg.StateTTL), "save migration state")
}

func (p *Processor) schedule(ctx context.Context, state *models.MigrationState) error {
	task := scheduler.Task{Kind: KindStep, Key: taskKey, Seq: int64(state.Batches + 1)}
	return p.scheduler.Schedule(ctx, task, scheduler.Now)
}

// Trigger starts the migration, or resumes it from the last migrated id when
// an earlier run finished or failed. It only records state and schedules the
// first step.
func (p *Processor) Trigger(ctx context.Context, batchSize int) (*models.MigrationProgress, error) {
	prev, err := p.load(ctx)
	if err != nil && !errors.Is(err, ErrMigrationNotStarted) {
		return nil, err
	}
	if prev != nil && prev.Status == models.MigrationStatusRunning {
		return nil, ErrMigrationRunning
	}

	acquired, err := p.store.SetNX(ctx, lockKey, p.now().Unix(), p.cfg.LockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "acquire migration lock")
	}
	if !acquired {
		return nil, ErrMigrationRunning
	}
	defer func() {
		if err := p.store.Delete(ctx, lockKey); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release migration lock")
		}
	}()

	total, maxID, err := p.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}

	state := &models.MigrationState{
		Status:    models.MigrationStatusRunning,
		MaxID:     maxID,
		Total:     total,
		BatchSize: p.cfg.clampBatch(batchSize),
		StartedAt: p.now(),
	}
	if prev != nil {
		state.LastID = prev.LastID
		state.Scanned = prev.Scanned
		state.Migrated = prev.Migrated
		state.Skipped = prev.Skipped
		state.Batches = prev.Batches
	}
	state.BaseScanned = state.Scanned

	log := p.logger.With().Int64("last_id", state.LastID).Int64("total", total).Logger()
	if state.LastID >= maxID {
		finished := p.now()
		state.Status = models.MigrationStatusComplete
		state.FinishedAt = &finished
		if err := p.save(ctx, state); err != nil {
			return nil, err
		}
		log.Info().Msg("legacy migration has nothing to do")
		return p.progress(state), nil
	}

	if err := p.save(ctx, state); err != nil {
		return nil, err
	}
	if err := p.schedule(ctx, state); err != nil {
		return nil, errors.Wrap(err, "schedule first migration batch")
	}
	log.Info().Int("batch_size", state.BatchSize).Msg("legacy migration started")
	return p.progress(state), nil
}

// Step migrates one batch.
func (p *Processor) Step(ctx context.Context) error {
	return p.step(ctx, 0)
}

// step migrates the batch after LastID. seq is the batch number the task was
// scheduled for; any other number means the batch was already migrated.
func (p *Processor) step(ctx context.Context, seq int) error {
	state, err := p.load(ctx)
	if errors.Is(err, ErrMigrationNotStarted) {
		p.logger.Info().Msg("migration step skipped: no state")
		return nil
	}
	if err != nil {
		return err
	}
	if state.Status != models.MigrationStatusRunning {
		return nil
	}
	if seq > 0 && seq == state.Batches {
		// Migrated already, but its successor may never have been enqueued.
		p.logger.Debug().Int("task_batch", seq).Msg("batch already migrated, re-issuing next step")
		return p.schedule(ctx, state)
	}
	if seq > 0 && seq != state.Batches+1 {
		p.logger.Debug().Int("task_batch", seq).Int("batches", state.Batches).Msg("migration step skipped: batch already migrated")
		return nil
	}
	log := p.logger.With().Int64("last_id", state.LastID).Int("batch", state.Batches+1).Logger()

	rows, err := p.repo.FetchBatch(ctx, state.LastID, state.BatchSize)
	if err != nil {
		return err
	}

	entries := make([]models.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := Transform(row)
		if err != nil {
			log.Warn().Err(err).Int64("legacy_id", row.ID).Msg("skipping malformed legacy entry")
			state.Skipped++
			continue
		}
		entries = append(entries, e)
	}
	inserted, err := p.repo.InsertMigrated(ctx, entries)
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		state.LastID = rows[len(rows)-1].ID
	}
	state.Scanned += int64(len(rows))
	state.Migrated += inserted
	state.Batches++

	// A short batch is the last one. Reaching the id that was highest at
	// trigger time also ends the run without an extra empty fetch.
	if len(rows) < state.BatchSize || state.LastID >= state.MaxID {
		return p.complete(ctx, state)
	}
	if err := p.save(ctx, state); err != nil {
		return err
	}
	log.Debug().Int("rows", len(rows)).Int64("inserted", inserted).Int64("migrated", state.Migrated).Msg("migration batch done")
	return p.schedule(ctx, state)
}

func (p *Processor) complete(ctx context.Context, state *models.MigrationState) error {
	finished := p.now()
	state.Status = models.MigrationStatusComplete
	state.FinishedAt = &finished
	if err := p.save(ctx, state); err != nil {
		return err
	}
	p.logger.Info().
		Int64("migrated", state.Migrated).
		Int64("skipped", state.Skipped).
		Int("batches", state.Batches).
		Dur("elapsed", finished.Sub(state.StartedAt)).
		Msg("legacy migration complete")
	if p.notifier != nil {
		if err := p.notifier.NotifyMigrationCompleted(ctx, state.Migrated, state.Skipped); err != nil {
			p.logger.Error().Err(err).Msg("failed to send migration notification")
		}
	}
	return nil
}

func (p *Processor) exhausted(ctx context.Context, task scheduler.Task, reason string) error {
	state, err := p.load(ctx)
	if errors.Is(err, ErrMigrationNotStarted) {
		return nil
	}
	if err != nil {
		return err
	}
	if state.Status != models.MigrationStatusRunning {
		return nil
	}
	finished := p.now()
	state.Status = models.MigrationStatusFailed
	state.Error = reason
	state.FinishedAt = &finished
	p.logger.Error().Str("task", task.ID()).Str("reason", reason).Int64("last_id", state.LastID).Msg("legacy migration failed")
	return p.save(ctx, state)
}

// Progress reports the persisted migration state.
func (p *Processor) Progress(ctx context.Context) (*models.MigrationProgress, error) {
	state, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.progress(state), nil
}

func (p *Processor) progress(state *models.MigrationState) *models.MigrationProgress {
	out := &models.MigrationProgress{
		Status:   state.Status,
		LastID:   state.LastID,
		Total:    state.Total,
		Scanned:  state.Scanned,
		Migrated: state.Migrated,
		Skipped:  state.Skipped,
		Complete: state.Status == models.MigrationStatusComplete,
		Error:    state.Error,
	}
	if out.Complete {
		out.ProgressPercent = 100
		return out
	}
	if state.Total > 0 {
		v := math.Round(float64(state.Scanned)/float64(state.Total)*10000) / 100
		out.ProgressPercent = math.Min(100, v)
	}
	if state.Status == models.MigrationStatusRunning {
		done := state.Scanned - state.BaseScanned
		elapsed := p.now().Sub(state.StartedAt).Seconds()
		if done > 0 && elapsed > 0 && state.Total > state.Scanned {
			remaining := int64(math.Ceil(float64(state.Total-state.Scanned) / (float64(done) / elapsed)))
			out.ETASeconds = &remaining
		}
	}
	return out
}
