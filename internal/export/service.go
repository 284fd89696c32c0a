// Package export turns large entry selections into CSV/XLSX files through a
// chain of short, independently scheduled batch steps.
//
// A job is started by Start, advanced one keyset page at a time by Step, and
// merged by Finalize. Every step reloads the persisted descriptor, so a
// duplicate or late invocation is harmless, and deleting the descriptor
// cancels the chain.
package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/jobstore"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

const (
	KindStep     = "export.step"
	KindFinalize = "export.finalize"
)

type Config struct {
	// Dir holds partial and final files. It must not be served statically.
	Dir string
	// BaseURL prefixes the download URL reported for complete jobs.
	BaseURL         string
	BatchSize       int
	MinBatchSize    int
	MaxBatchSize    int
	InlineThreshold int64
	JobTTL          time.Duration
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 100
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.MaxBatchSize
	}
	if c.InlineThreshold < 0 {
		c.InlineThreshold = 0
	}
	if c.JobTTL <= 0 {
		c.JobTTL = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// clampBatch bounds a requested batch size so each step stays short.
func (c Config) clampBatch(n int) int {
	if n <= 0 {
		n = c.BatchSize
	}
	if n < c.MinBatchSize {
		return c.MinBatchSize
	}
	if n > c.MaxBatchSize {
		return c.MaxBatchSize
	}
	return n
}

// Notifier is told about job outcomes. It may be nil.
type Notifier interface {
	NotifyExportCompleted(ctx context.Context, jobID string, rows int64, fileURL string) error
	NotifyExportFailed(ctx context.Context, jobID, reason string) error
}

type Service struct {
	cfg       Config
	store     jobstore.Store
	entries   repository.EntryRepository
	scheduler scheduler.Scheduler
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(
	cfg Config,
	store jobstore.Store,
	entries repository.EntryRepository,
	sched scheduler.Scheduler,
	notifier Notifier,
	logger zerolog.Logger,
) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("export directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		entries:   entries,
		scheduler: sched,
		notifier:  notifier,
		logger:    logger.With().Str("component", "export").Logger(),
		now:       time.Now,
	}, nil
}

// Register binds the step and finalize task kinds to d.
func (s *Service) Register(d *scheduler.Dispatcher) {
	d.Handle(KindStep, func(ctx context.Context, t scheduler.Task) error {
		return s.step(ctx, t.Key, int(t.Seq))
	}, s.stepExhausted)
	d.Handle(KindFinalize, func(ctx context.Context, t scheduler.Task) error {
		return s.Finalize(ctx, t.Key)
	}, s.finalizeExhausted)
}

func jobKey(jobID string) string {
	return "export:job:" + jobID
}

func lockKey(sel models.Selector) string {
	return "export:lock:" + sel.Fingerprint()
}

func validateJobID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

func (s *Service) load(ctx context.Context, jobID string) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := s.store.Get(ctx, jobKey(jobID), &job); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *Service) save(ctx context.Context, job *models.ExportJob) error {
	job.UpdatedAt = s.now()
	if err := s.store.Set(ctx, jobKey(job.ID), job, s.cfg.JobTTL); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// transition moves job to next, refusing backward moves out of terminal states.
func transition(job *models.ExportJob, next models.JobStatus) error {
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", job.ID, job.Status, next)
	}
	job.Status = next
	return nil
}

func (s *Service) fileURL(jobID string) string {
	return fmt.Sprintf("%s/api/exports/%s/download", s.cfg.BaseURL, jobID)
}

func (s *Service) scheduleStep(ctx context.Context, job *models.ExportJob) error {
	return s.scheduler.Schedule(ctx, scheduler.Task{Kind: KindStep, Key: job.ID, Seq: int64(job.Page)}, scheduler.Now)
}

func (s *Service) scheduleFinalize(ctx context.Context, job *models.ExportJob) error {
	return s.scheduler.Schedule(ctx, scheduler.Task{Kind: KindFinalize, Key: job.ID}, scheduler.Now)
}
