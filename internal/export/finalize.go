package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/stanstork/formvault-api/internal/models"
)

// Finalize merges the partial files of a job, in page order, into the final
// artifact and marks the job complete. Only the first partial contributes its
// header line. Partials are removed once the merged file is in place, so a
// retried finalize that finds none keeps the existing artifact.
func (s *Service) Finalize(ctx context.Context, jobID string) error {
	log := s.logger.With().Str("job_id", jobID).Logger()

	job, err := s.load(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		log.Warn().Msg("finalize skipped: job no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		log.Debug().Str("status", string(job.Status)).Msg("finalize skipped: job already finished")
		return nil
	}

	partials, err := listPartials(s.cfg.Dir, job.ID)
	if err != nil {
		return errors.Wrap(err, "list partials")
	}
	final := FinalPath(s.cfg.Dir, job.ID, job.Format)

	_, statErr := os.Stat(final)
	alreadyMerged := statErr == nil && len(partials) == 0
	var rows int64
	if alreadyMerged {
		rows = job.Processed
	} else {
		rows, err = s.merge(job, partials, final)
		if err != nil {
			return err
		}
		if rows != job.Processed {
			log.Warn().Int64("rows", rows).Int64("processed", job.Processed).Msg("merged row count differs from processed count")
		}
		for _, p := range partials {
			if err := removeIfExists(p.Path); err != nil {
				log.Warn().Err(err).Str("path", p.Path).Msg("failed to remove partial")
			}
		}
	}

	if _, err := s.load(ctx, jobID); errors.Is(err, ErrJobNotFound) {
		log.Info().Msg("export cancelled during finalize, discarding file")
		_ = removeIfExists(final)
		return nil
	}

	if err := transition(job, models.JobStatusComplete); err != nil {
		return err
	}
	finished := s.now()
	job.FilePath = final
	job.FileURL = s.fileURL(job.ID)
	job.FinishedAt = &finished
	if err := s.save(ctx, job); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, lockKey(job.Selector)); err != nil {
		log.Warn().Err(err).Msg("failed to release initiation lock")
	}

	log.Info().
		Int64("rows", job.Processed).
		Int("pages", len(partials)).
		Dur("elapsed", finished.Sub(job.StartedAt)).
		Msg("export complete")

	if s.notifier != nil {
		if err := s.notifier.NotifyExportCompleted(ctx, job.ID, job.Processed, job.FileURL); err != nil {
			log.Error().Err(err).Msg("failed to send completion notification")
		}
	}
	return nil
}

// merge concatenates partials into a staged file and renames it onto final.
// It returns the number of data rows written.
func (s *Service) merge(job *models.ExportJob, partials []partialFile, final string) (int64, error) {
	tmp, err := os.CreateTemp(s.cfg.Dir, filepath.Base(final)+".*.tmp")
	if err != nil {
		return 0, errors.Wrap(err, "create final file")
	}
	defer os.Remove(tmp.Name())

	rows, err := mergeInto(tmp, job, partials)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return 0, errors.Wrap(err, "publish final file")
	}
	return rows, nil
}

func mergeInto(out io.Writer, job *models.ExportJob, partials []partialFile) (int64, error) {
	sink, err := newSink(job.Format, out)
	if err != nil {
		return 0, err
	}
	if len(partials) == 0 {
		// Nothing matched by the time the chain ran; the file still carries a header.
		header := job.Header
		if len(header) == 0 {
			header = DeriveHeader(models.Entry{}, job.Selector.Exclude)
		}
		if err := sink.WriteRow(header); err != nil {
			return 0, err
		}
		return 0, sink.Close()
	}

	var rows int64
	for i, p := range partials {
		n, err := copyPartial(sink, p.Path, i == 0)
		if err != nil {
			return 0, errors.Wrapf(err, "merge page %d", p.Page)
		}
		rows += n
	}
	return rows, sink.Close()
}

// copyPartial streams one partial into sink, keeping its header line only
// when withHeader is set.
func copyPartial(sink rowSink, path string, withHeader bool) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var rows int64
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		if first {
			first = false
			if !withHeader {
				continue
			}
			if err := sink.WriteRow(record); err != nil {
				return rows, err
			}
			continue
		}
		if err := sink.WriteRow(record); err != nil {
			return rows, err
		}
		rows++
	}
}
