package export

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stanstork/formvault-api/internal/models"
)

type StartRequest struct {
	Selector  models.Selector
	Format    models.ExportFormat
	BatchSize int
}

// StartResult describes how an export was started. Exactly one of JobID and
// Inline is set.
type StartResult struct {
	JobID  string
	Total  int64
	Inline *InlineExport
}

// Start validates the request and counts the matching population. Small
// populations are returned as an inline export without creating a job;
// larger ones get a queued job descriptor and a first step task. Start never
// waits for batch work.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	sel := req.Selector.Normalize()
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	format := req.Format
	if format == "" {
		format = models.ExportFormatCSV
	}

	exists, err := s.entries.FormExists(ctx, sel.FormID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve form")
	}
	if !exists {
		return nil, fmt.Errorf("%w: form %d does not exist", ErrInvalidSelector, sel.FormID)
	}

	total, maxID, err := s.entries.CountMatching(ctx, sel)
	if err != nil {
		return nil, errors.Wrap(err, "count matching entries")
	}
	if total == 0 {
		return nil, ErrNoMatchingRows
	}

	if total < s.cfg.InlineThreshold {
		s.logger.Debug().Int64("form_id", sel.FormID).Int64("total", total).Msg("serving export inline")
		return &StartResult{
			Total: total,
			Inline: &InlineExport{
				Filename:    downloadName(sel, format, s.now()),
				ContentType: format.ContentType(),
				Total:       total,
				svc:         s,
				sel:         sel,
				format:      format,
				upperID:     maxID,
			},
		}, nil
	}

	acquired, err := s.store.SetNX(ctx, lockKey(sel), s.now().Unix(), s.cfg.LockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "acquire initiation lock")
	}
	if !acquired {
		return nil, ErrExportInProgress
	}

	now := s.now()
	job := &models.ExportJob{
		ID:         uuid.NewString(),
		Status:     models.JobStatusQueued,
		Selector:   sel,
		Format:     format,
		Total:      total,
		Processed:  0,
		Cursor:     models.CursorStart,
		UpperBound: maxID,
		BatchSize:  s.cfg.clampBatch(req.BatchSize),
		Page:       1,
		StartedAt:  now,
	}
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	if err := s.scheduleStep(ctx, job); err != nil {
		if delErr := s.store.Delete(ctx, jobKey(job.ID)); delErr != nil {
			s.logger.Error().Err(delErr).Str("job_id", job.ID).Msg("failed to discard unscheduled job")
		}
		return nil, errors.Wrap(err, "schedule first batch")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int64("form_id", sel.FormID).
		Int64("total", total).
		Int("batch_size", job.BatchSize).
		Msg("export job queued")
	return &StartResult{JobID: job.ID, Total: total}, nil
}

// InlineExport streams a small export straight to the caller.
type InlineExport struct {
	Filename    string
	ContentType string
	Total       int64

	svc     *Service
	sel     models.Selector
	format  models.ExportFormat
	upperID int64
}

// WriteTo walks the selection in keyset pages and writes every row to w.
func (x *InlineExport) WriteTo(ctx context.Context, w io.Writer) error {
	sink, err := newSink(x.format, w)
	if err != nil {
		return err
	}
	var (
		header []string
		cursor = models.CursorStart
		limit  = x.svc.cfg.MaxBatchSize
	)
	for {
		batch, err := x.svc.entries.FetchBatch(ctx, x.sel, cursor, x.upperID, limit)
		if err != nil {
			return errors.Wrapf(err, "fetch inline batch after %d", cursor)
		}
		if len(batch.Entries) == 0 {
			break
		}
		if header == nil {
			header = DeriveHeader(batch.Entries[0], x.sel.Exclude)
			if err := sink.WriteRow(header); err != nil {
				return err
			}
		}
		for _, e := range batch.Entries {
			if err := sink.WriteRow(Row(e, header)); err != nil {
				return err
			}
		}
		cursor = batch.LastID
		if len(batch.Entries) < limit {
			break
		}
	}
	return sink.Close()
}
