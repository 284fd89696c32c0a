package export

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/formvault-api/internal/models"
)

// Step processes exactly one keyset page of a job and then either schedules
// the next page or the finalizer. A missing descriptor means the job was
// cancelled or expired, and a terminal one means a stale duplicate: both end
// the chain quietly. Returned errors are retried by the scheduler.
func (s *Service) Step(ctx context.Context, jobID string) error {
	return s.step(ctx, jobID, 0)
}

// step runs Step for the page a task was scheduled for; page 0 skips the
// check. A task for the page just before the descriptor's was processed but
// may have failed to enqueue its successor, so the successor is issued again
// (schedulers collapse it if it is already pending). Older tasks are ignored.
func (s *Service) step(ctx context.Context, jobID string, page int) error {
	log := s.logger.With().Str("job_id", jobID).Logger()

	job, err := s.load(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		log.Info().Msg("export step skipped: job no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.Debug().Str("status", string(job.Status)).Msg("export step skipped: job already finished")
		return nil
	}
	if page > 0 && page == job.Page-1 {
		log.Debug().Int("task_page", page).Msg("page already processed, re-issuing successor")
		return s.scheduleSuccessor(ctx, job)
	}
	if page > 0 && page != job.Page {
		log.Debug().Int("task_page", page).Int("job_page", job.Page).Msg("export step skipped: page already processed")
		return nil
	}
	if job.Status == models.JobStatusQueued {
		if err := transition(job, models.JobStatusInProgress); err != nil {
			return err
		}
		if err := s.save(ctx, job); err != nil {
			return err
		}
	}

	batch, err := s.entries.FetchBatch(ctx, job.Selector, job.Cursor, job.UpperBound, job.BatchSize)
	if err != nil {
		return errors.Wrapf(err, "fetch page %d", job.Page)
	}
	n := len(batch.Entries)
	if n == 0 {
		log.Debug().Int("page", job.Page).Msg("empty page, finalizing")
		return s.scheduleFinalize(ctx, job)
	}
	if batch.LastID <= job.Cursor {
		return errors.Errorf("cursor did not advance past %d on page %d", job.Cursor, job.Page)
	}

	// The header is frozen by the first page only, even when it came out empty.
	if job.Page == 1 {
		job.Header = DeriveHeader(batch.Entries[0], job.Selector.Exclude)
	}
	path, err := WritePartial(s.cfg.Dir, job.ID, job.Page, job.Header, batch.Entries)
	if err != nil {
		return err
	}

	// A delete may have landed while the page was being written.
	if _, err := s.load(ctx, jobID); errors.Is(err, ErrJobNotFound) {
		log.Info().Msg("export cancelled during step, discarding page")
		if rmErr := removeIfExists(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove orphaned partial")
		}
		return nil
	}

	job.Cursor = batch.LastID
	job.Processed += int64(n)
	job.Page++
	if job.Processed > job.Total {
		log.Warn().Int64("processed", job.Processed).Int64("total", job.Total).Msg("processed exceeds counted total")
		job.Total = job.Processed
	}
	if err := s.save(ctx, job); err != nil {
		return err
	}

	log.Debug().
		Int("page", job.Page-1).
		Int("rows", n).
		Int64("processed", job.Processed).
		Int64("total", job.Total).
		Msg("export page written")

	if n < job.BatchSize || job.Processed >= job.Total {
		return s.scheduleFinalize(ctx, job)
	}
	return s.scheduleStep(ctx, job)
}

// scheduleSuccessor re-issues whatever follows the last processed page. When
// the row budget is spent that is the finalizer; otherwise it is the step for
// the current page, which finalizes on its own if the page comes back empty.
func (s *Service) scheduleSuccessor(ctx context.Context, job *models.ExportJob) error {
	if job.Processed >= job.Total {
		return s.scheduleFinalize(ctx, job)
	}
	return s.scheduleStep(ctx, job)
}
