package export

import (
	"context"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

// Progress reports the state of a job. It never mutates the descriptor.
func (s *Service) Progress(ctx context.Context, jobID string) (*models.ExportProgress, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}

	p := &models.ExportProgress{
		JobID:           job.ID,
		Status:          job.Status,
		ProgressPercent: percent(job.Processed, job.Total),
		Total:           job.Total,
		Processed:       job.Processed,
		Error:           job.Error,
	}
	switch job.Status {
	case models.JobStatusComplete:
		p.ProgressPercent = 100
		p.FileURL = job.FileURL
	case models.JobStatusInProgress:
		p.ETASeconds = eta(job.Processed, job.Total, s.now().Sub(job.StartedAt).Seconds())
	}
	return p, nil
}

// percent is processed/total as a percentage with two decimals, clamped to
// [0, 100].
func percent(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(processed) / float64(total) * 100
	v = math.Round(v*100) / 100
	return math.Max(0, math.Min(100, v))
}

// eta extrapolates the remaining seconds from the observed rate. It returns
// nil until at least one row is processed.
func eta(processed, total int64, elapsedSeconds float64) *int64 {
	if processed <= 0 || elapsedSeconds <= 0 || total <= processed {
		return nil
	}
	rate := float64(processed) / elapsedSeconds
	remaining := int64(math.Ceil(float64(total-processed) / rate))
	return &remaining
}

// Download is an open, complete export artifact. The caller closes File.
type Download struct {
	File        *os.File
	Size        int64
	Filename    string
	ContentType string
}

// Open returns the final artifact of a complete job.
func (s *Service) Open(ctx context.Context, jobID string) (*Download, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusComplete {
		return nil, ErrJobNotComplete
	}

	f, err := os.Open(job.FilePath)
	if os.IsNotExist(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "open export file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat export file")
	}
	finished := job.StartedAt
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	return &Download{
		File:        f,
		Size:        info.Size(),
		Filename:    downloadName(job.Selector, job.Format, finished),
		ContentType: job.Format.ContentType(),
	}, nil
}

// Delete removes a job's files and descriptor. Deleting an in-flight job
// cancels its chain: the next step finds no descriptor and stops. Deleting an
// unknown job succeeds.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	job, err := s.load(ctx, jobID)
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return err
	}

	if err := s.store.Delete(ctx, jobKey(jobID)); err != nil {
		return errors.Wrap(err, "delete job descriptor")
	}
	if job != nil && !job.Status.IsTerminal() {
		if err := s.store.Delete(ctx, lockKey(job.Selector)); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to release initiation lock")
		}
	}

	for _, format := range []models.ExportFormat{models.ExportFormatCSV, models.ExportFormatXLSX} {
		if err := removeIfExists(FinalPath(s.cfg.Dir, jobID, format)); err != nil {
			return errors.Wrap(err, "remove export file")
		}
	}
	if err := removePartials(s.cfg.Dir, jobID); err != nil {
		return errors.Wrap(err, "remove partial files")
	}

	s.logger.Info().Str("job_id", jobID).Bool("existed", job != nil).Msg("export deleted")
	return nil
}

// stepExhausted fails a job whose step ran out of retries.
func (s *Service) stepExhausted(ctx context.Context, task scheduler.Task, reason string) error {
	log := s.logger.With().Str("job_id", task.Key).Str("task", task.ID()).Logger()

	job, err := s.load(ctx, task.Key)
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := transition(job, models.JobStatusFailed); err != nil {
		return err
	}
	finished := s.now()
	job.Error = reason
	job.FinishedAt = &finished
	if err := s.save(ctx, job); err != nil {
		return err
	}
	if err := removePartials(s.cfg.Dir, job.ID); err != nil {
		log.Warn().Err(err).Msg("failed to remove partials of failed job")
	}
	if err := s.store.Delete(ctx, lockKey(job.Selector)); err != nil {
		log.Warn().Err(err).Msg("failed to release initiation lock")
	}

	log.Error().Str("reason", reason).Int("page", job.Page).Msg("export failed")
	if s.notifier != nil {
		if err := s.notifier.NotifyExportFailed(ctx, job.ID, reason); err != nil {
			log.Error().Err(err).Msg("failed to send failure notification")
		}
	}
	return nil
}

// finalizeExhausted leaves the job in progress: its partials are intact and
// another finalize can still complete it.
func (s *Service) finalizeExhausted(ctx context.Context, task scheduler.Task, reason string) error {
	s.logger.Error().
		Str("job_id", task.Key).
		Str("reason", reason).
		Msg("finalize exhausted retries, job left in progress")
	return nil
}
