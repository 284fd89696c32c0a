// Package sheetsync pushes single entries to an external spreadsheet
// endpoint. Failed pushes are retried with exponential backoff, tracked on
// the entry's sync record, until the attempt budget is spent.
package sheetsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

const KindPush = "sheetsync.push"

var ErrNotConfigured = errors.New("spreadsheet sync endpoint is not configured")

type Config struct {
	Endpoint    string
	Token       string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Row is the body posted to the spreadsheet endpoint.
type Row struct {
	EntryID   int64         `json:"entry_id"`
	FormID    int64         `json:"form_id"`
	Status    string        `json:"status"`
	Identity  string        `json:"identity,omitempty"`
	SourceURL string        `json:"source_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Fields    models.Fields `json:"fields"`
}

// Notifier is told when an entry gives up syncing. It may be nil.
type Notifier interface {
	NotifySyncFailed(ctx context.Context, entryID int64, reason string) error
}

type Syncer struct {
	cfg       Config
	client    *http.Client
	entries   repository.EntryRepository
	syncs     repository.SyncRepository
	scheduler scheduler.Scheduler
	notifier  Notifier
	logger    zerolog.Logger
}

func NewSyncer(
	cfg Config,
	entries repository.EntryRepository,
	syncs repository.SyncRepository,
	sched scheduler.Scheduler,
	notifier Notifier,
	logger zerolog.Logger,
) *Syncer {
	cfg = cfg.withDefaults()
	return &Syncer{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		entries:   entries,
		syncs:     syncs,
		scheduler: sched,
		notifier:  notifier,
		logger:    logger.With().Str("component", "sheetsync").Logger(),
	}
}

func (s *Syncer) Register(d *scheduler.Dispatcher) {
	d.Handle(KindPush, s.push, s.exhausted)
}

// Enqueue schedules an immediate push of entryID and returns its sync record.
func (s *Syncer) Enqueue(ctx context.Context, entryID int64) (models.EntrySync, error) {
	if s.cfg.Endpoint == "" {
		return models.EntrySync{}, ErrNotConfigured
	}
	if _, err := s.entries.GetEntry(ctx, entryID); err != nil {
		return models.EntrySync{}, err
	}
	record, err := s.syncs.Get(ctx, entryID)
	if err != nil {
		return record, err
	}
	task := scheduler.Task{Kind: KindPush, Key: strconv.FormatInt(entryID, 10), Seq: int64(record.RetryCount)}
	if err := s.scheduler.Schedule(ctx, task, scheduler.Now); err != nil {
		return record, errors.Wrap(err, "schedule sync")
	}
	return record, nil
}

// push handles one attempt. Failed sends are recorded and rescheduled here
// with the record's own backoff. An error is returned only when that
// bookkeeping itself fails, so the scheduler retries the attempt instead of
// the retry being lost.
func (s *Syncer) push(ctx context.Context, task scheduler.Task) error {
	entryID, err := strconv.ParseInt(task.Key, 10, 64)
	if err != nil {
		s.logger.Error().Str("task", task.ID()).Msg("dropping sync task with malformed key")
		return nil
	}
	log := s.logger.With().Int64("entry_id", entryID).Int64("attempt", task.Seq+1).Logger()

	entry, err := s.entries.GetEntry(ctx, entryID)
	if errors.Is(err, repository.ErrEntryNotFound) {
		log.Warn().Msg("entry vanished before sync")
		if err := s.syncs.MarkFailed(ctx, entryID, "entry not found"); err != nil {
			log.Error().Err(err).Msg("failed to mark sync failed")
		}
		return nil
	}
	if err == nil {
		err = s.send(ctx, entry)
	}
	if err == nil {
		if err := s.syncs.MarkSynced(ctx, entryID); err != nil {
			log.Error().Err(err).Msg("entry pushed but sync record not updated")
		}
		log.Debug().Msg("entry synced")
		return nil
	}

	reason := err.Error()
	count, markErr := s.syncs.MarkRetry(ctx, entryID, reason)
	if markErr != nil {
		log.Error().Err(markErr).Str("reason", reason).Msg("failed to record sync retry")
		return errors.Wrapf(markErr, "record sync retry for entry %d", entryID)
	}
	if count >= s.cfg.MaxAttempts {
		if err := s.syncs.MarkFailed(ctx, entryID, reason); err != nil {
			log.Error().Err(err).Msg("failed to mark sync failed")
		}
		log.Error().Int("retry_count", count).Str("reason", reason).Msg("giving up on entry sync")
		if s.notifier != nil {
			if err := s.notifier.NotifySyncFailed(ctx, entryID, reason); err != nil {
				log.Error().Err(err).Msg("failed to send sync failure notification")
			}
		}
		return nil
	}

	delay := scheduler.Backoff(s.cfg.BaseDelay, count, s.cfg.MaxDelay)
	next := scheduler.Task{Kind: KindPush, Key: task.Key, Seq: int64(count)}
	if err := s.scheduler.Schedule(ctx, next, delay); err != nil {
		log.Error().Err(err).Msg("failed to reschedule sync")
		return errors.Wrapf(err, "reschedule sync for entry %d", entryID)
	}
	log.Warn().Int("retry_count", count).Dur("delay", delay).Str("reason", reason).Msg("entry sync failed, retrying")
	return nil
}

// exhausted runs when the scheduler gives up on a push whose bookkeeping kept
// failing. The record is closed as failed so it does not stay pending.
func (s *Syncer) exhausted(ctx context.Context, task scheduler.Task, reason string) error {
	entryID, err := strconv.ParseInt(task.Key, 10, 64)
	if err != nil {
		return nil
	}
	s.logger.Error().Int64("entry_id", entryID).Str("reason", reason).Msg("sync task exhausted")
	if err := s.syncs.MarkFailed(ctx, entryID, reason); err != nil {
		return errors.Wrapf(err, "mark sync failed for entry %d", entryID)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySyncFailed(ctx, entryID, reason); err != nil {
			s.logger.Error().Err(err).Int64("entry_id", entryID).Msg("failed to send sync failure notification")
		}
	}
	return nil
}

func (s *Syncer) send(ctx context.Context, e models.Entry) error {
	body, err := json.Marshal(Row{
		EntryID:   e.ID,
		FormID:    e.FormID,
		Status:    e.Status,
		Identity:  e.Identity,
		SourceURL: e.SourceURL,
		CreatedAt: e.CreatedAt.UTC(),
		Fields:    e.Fields.Flatten(),
	})
	if err != nil {
		return errors.Wrap(err, "encode row")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
