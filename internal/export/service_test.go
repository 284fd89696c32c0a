package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/jobstore"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testForm int64 = 7

type harness struct {
	svc      *Service
	store    *jobstore.MemoryStore
	sched    *scheduler.Memory
	disp     *scheduler.Dispatcher
	entries  *fakeEntries
	notifier *fakeNotifier
	dir      string
}

func newHarness(t *testing.T, rows int, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:    jobstore.NewMemoryStore(),
		sched:    scheduler.NewMemory(),
		disp:     scheduler.NewDispatcher(),
		entries:  newFakeEntries(testForm, rows),
		notifier: &fakeNotifier{},
		dir:      t.TempDir(),
	}
	cfg.Dir = h.dir
	cfg.BaseURL = "https://admin.example.org"
	svc, err := NewService(cfg, h.store, h.entries, h.sched, h.notifier, zerolog.Nop())
	require.NoError(t, err)
	svc.Register(h.disp)
	h.svc = svc
	return h
}

func (h *harness) start(t *testing.T, format models.ExportFormat, batch int) string {
	t.Helper()
	res, err := h.svc.Start(context.Background(), StartRequest{
		Selector:  models.Selector{FormID: testForm},
		Format:    format,
		BatchSize: batch,
	})
	require.NoError(t, err)
	require.Nil(t, res.Inline)
	require.NotEmpty(t, res.JobID)
	return res.JobID
}

func (h *harness) job(t *testing.T, id string) *models.ExportJob {
	t.Helper()
	job, err := h.svc.load(context.Background(), id)
	require.NoError(t, err)
	return job
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportRunsChainToCompletion(t *testing.T) {
	h := newHarness(t, 12345, Config{})
	ctx := context.Background()

	id := h.start(t, models.ExportFormatCSV, 5000)
	job := h.job(t, id)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, int64(12345), job.Total)
	assert.Equal(t, int64(12345), job.UpperBound)

	ran, err := h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	var steps, finals int
	for _, s := range h.sched.History() {
		switch s.Task.Kind {
		case KindStep:
			steps++
		case KindFinalize:
			finals++
		}
	}
	assert.Equal(t, 3, steps)
	assert.Equal(t, 1, finals)
	assert.Equal(t, 4, ran)

	job = h.job(t, id)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, int64(12345), job.Processed)
	assert.Equal(t, 4, job.Page)
	assert.Equal(t, int64(12345), job.Cursor)
	assert.Equal(t, "https://admin.example.org/api/exports/"+id+"/download", job.FileURL)
	require.NotNil(t, job.FinishedAt)

	records := readCSV(t, FinalPath(h.dir, id, models.ExportFormatCSV))
	require.Len(t, records, 12346)
	assert.Equal(t, []string{"id", "form_id", "status", "source_url", "created_at", "name", "email"}, records[0])
	for i, rec := range records[1:] {
		require.Equal(t, strconv.Itoa(i+1), rec[0], "row %d out of order", i)
	}

	partials, err := listPartials(h.dir, id)
	require.NoError(t, err)
	assert.Empty(t, partials)

	require.Len(t, h.notifier.completed, 1)
	assert.Equal(t, int64(12345), h.notifier.completed[0].rows)
}

func TestExportExactMultipleFinalizesWithoutEmptyRoundTrip(t *testing.T) {
	h := newHarness(t, 1000, Config{})
	id := h.start(t, models.ExportFormatCSV, 500)

	_, err := h.sched.Drain(context.Background(), h.disp)
	require.NoError(t, err)

	assert.Equal(t, 2, h.entries.fetches)
	job := h.job(t, id)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Len(t, readCSV(t, job.FilePath), 1001)
}

func TestStartRejectsEmptySelection(t *testing.T) {
	h := newHarness(t, 0, Config{})
	_, err := h.svc.Start(context.Background(), StartRequest{Selector: models.Selector{FormID: testForm}})
	assert.ErrorIs(t, err, ErrNoMatchingRows)
	assert.Empty(t, h.sched.History())
	assert.Equal(t, 0, h.store.Len())

	files, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStartValidatesSelector(t *testing.T) {
	h := newHarness(t, 10, Config{})
	ctx := context.Background()

	_, err := h.svc.Start(ctx, StartRequest{Selector: models.Selector{}})
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = h.svc.Start(ctx, StartRequest{Selector: models.Selector{FormID: 999}})
	assert.ErrorIs(t, err, ErrInvalidSelector)

	from := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, err = h.svc.Start(ctx, StartRequest{Selector: models.Selector{FormID: testForm, From: &from, To: &to}})
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestStartRejectsConcurrentIdenticalExport(t *testing.T) {
	h := newHarness(t, 300, Config{})
	h.start(t, models.ExportFormatCSV, 100)

	_, err := h.svc.Start(context.Background(), StartRequest{Selector: models.Selector{FormID: testForm}, BatchSize: 100})
	assert.ErrorIs(t, err, ErrExportInProgress)
}

func TestStartServesSmallSelectionInline(t *testing.T) {
	h := newHarness(t, 40, Config{InlineThreshold: 50})
	ctx := context.Background()

	res, err := h.svc.Start(ctx, StartRequest{
		Selector: models.Selector{FormID: testForm, Exclude: []string{"email", "source_url"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Inline)
	assert.Empty(t, res.JobID)
	assert.Equal(t, int64(40), res.Total)
	assert.Contains(t, res.Inline.Filename, "form-7-entries-")
	assert.Equal(t, ".csv", filepath.Ext(res.Inline.Filename))

	var buf bytes.Buffer
	require.NoError(t, res.Inline.WriteTo(ctx, &buf))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 41)
	assert.Equal(t, []string{"id", "form_id", "status", "created_at", "name"}, records[0])

	assert.Empty(t, h.sched.History())
	assert.Equal(t, 0, h.store.Len())
}

func TestStepIgnoresStaleAndDuplicateTasks(t *testing.T) {
	h := newHarness(t, 250, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)

	require.NoError(t, h.disp.Run(ctx, scheduler.Task{Kind: KindStep, Key: id, Seq: 1}))
	after := h.job(t, id)
	assert.Equal(t, 2, after.Page)
	assert.Equal(t, int64(100), after.Processed)

	// Redelivery of page 1 must not advance the job again.
	require.NoError(t, h.disp.Run(ctx, scheduler.Task{Kind: KindStep, Key: id, Seq: 1}))
	again := h.job(t, id)
	assert.Equal(t, after.Cursor, again.Cursor)
	assert.Equal(t, after.Processed, again.Processed)

	_, err := h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)
	job := h.job(t, id)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Len(t, readCSV(t, job.FilePath), 251)

	// Late tasks after completion are no-ops.
	require.NoError(t, h.svc.Step(ctx, id))
	require.NoError(t, h.svc.Finalize(ctx, id))
	assert.Len(t, h.notifier.completed, 1)
}

func TestStepRetryRewritesSamePage(t *testing.T) {
	h := newHarness(t, 150, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)

	h.entries.fetchErr = errors.New("connection reset")
	_, _, err := h.sched.RunNext(ctx, h.disp)
	require.Error(t, err)
	assert.Equal(t, 1, h.job(t, id).Page)

	h.entries.fetchErr = nil
	require.NoError(t, h.svc.Step(ctx, id))
	_, err = h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	job := h.job(t, id)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Len(t, readCSV(t, job.FilePath), 151)
}

func TestExportResumesOnFreshServiceAfterInterruption(t *testing.T) {
	h := newHarness(t, 450, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)

	_, _, err := h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)
	_, _, err = h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)

	// A new process picks up the same store, directory and queue.
	restarted, err := NewService(Config{Dir: h.dir}, h.store, h.entries, h.sched, h.notifier, zerolog.Nop())
	require.NoError(t, err)
	disp := scheduler.NewDispatcher()
	restarted.Register(disp)

	_, err = h.sched.Drain(ctx, disp)
	require.NoError(t, err)

	job := h.job(t, id)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	records := readCSV(t, job.FilePath)
	require.Len(t, records, 451)
	assert.Equal(t, "450", records[450][0])
}

func TestRowsAddedAfterStartAreNotExported(t *testing.T) {
	h := newHarness(t, 200, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)

	h.entries.add(testForm, 75)
	_, err := h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	job := h.job(t, id)
	assert.Equal(t, int64(200), job.Processed)
	assert.Equal(t, int64(200), job.Total)
	assert.Len(t, readCSV(t, job.FilePath), 201)
}

func TestDeleteCancelsInFlightJob(t *testing.T) {
	h := newHarness(t, 500, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)

	_, _, err := h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)
	require.NoError(t, h.svc.Delete(ctx, id))

	_, err = h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	_, err = h.svc.Progress(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	files, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, h.notifier.completed)
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := newHarness(t, 120, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)
	_, err := h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(ctx, id))
	require.NoError(t, h.svc.Delete(ctx, id))
	require.NoError(t, h.svc.Delete(ctx, uuid.NewString()))
	assert.ErrorIs(t, h.svc.Delete(ctx, "../etc/passwd"), ErrInvalidJobID)

	_, err = os.Stat(FinalPath(h.dir, id, models.ExportFormatCSV))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenRequiresCompleteJob(t *testing.T) {
	h := newHarness(t, 150, Config{})
	ctx := context.Background()

	_, err := h.svc.Open(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidJobID)
	_, err = h.svc.Open(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrJobNotFound)

	id := h.start(t, models.ExportFormatCSV, 100)
	_, err = h.svc.Open(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotComplete)

	_, err = h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	dl, err := h.svc.Open(ctx, id)
	require.NoError(t, err)
	defer dl.File.Close()
	assert.Equal(t, "text/csv; charset=utf-8", dl.ContentType)
	assert.Positive(t, dl.Size)
	assert.Contains(t, dl.Filename, "form-7-entries-")
}

func TestProgressReporting(t *testing.T) {
	h := newHarness(t, 300, Config{})
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	h.svc.now = func() time.Time { return clock }

	id := h.start(t, models.ExportFormatCSV, 100)
	p, err := h.svc.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, p.Status)
	assert.Equal(t, float64(0), p.ProgressPercent)
	assert.Nil(t, p.ETASeconds)

	clock = start.Add(10 * time.Second)
	_, _, err = h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)

	p, err = h.svc.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, p.Status)
	assert.Equal(t, 33.33, p.ProgressPercent)
	require.NotNil(t, p.ETASeconds)
	assert.Equal(t, int64(20), *p.ETASeconds)

	_, err = h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)
	p, err = h.svc.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(100), p.ProgressPercent)
	assert.NotEmpty(t, p.FileURL)
}

func TestPercentClamps(t *testing.T) {
	assert.Equal(t, float64(0), percent(5, 0))
	assert.Equal(t, float64(100), percent(12, 10))
	assert.Equal(t, 99.99, percent(9999, 10000))
}

func TestStepExhaustionFailsJob(t *testing.T) {
	h := newHarness(t, 300, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatCSV, 100)
	_, _, err := h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)

	task := scheduler.Task{Kind: KindStep, Key: id, Seq: 2}
	require.NoError(t, h.disp.Exhausted(ctx, task, "fetch page 2: timeout"))

	job := h.job(t, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "fetch page 2: timeout", job.Error)
	require.Len(t, h.notifier.failed, 1)

	partials, err := listPartials(h.dir, id)
	require.NoError(t, err)
	assert.Empty(t, partials)

	// The remaining task sees a terminal job and stops.
	_, err = h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, h.job(t, id).Status)
}

func TestFinalizeMergesPagesNumerically(t *testing.T) {
	h := newHarness(t, 0, Config{})
	id := uuid.NewString()
	header := []string{"id"}
	for page := 1; page <= 11; page++ {
		entry := models.Entry{ID: int64(page)}
		_, err := WritePartial(h.dir, id, page, header, []models.Entry{entry})
		require.NoError(t, err)
	}

	partials, err := listPartials(h.dir, id)
	require.NoError(t, err)
	require.Len(t, partials, 11)
	for i, p := range partials {
		assert.Equal(t, i+1, p.Page)
	}

	var buf bytes.Buffer
	job := &models.ExportJob{ID: id, Format: models.ExportFormatCSV, Header: header}
	rows, err := mergeInto(&buf, job, partials)
	require.NoError(t, err)
	assert.Equal(t, int64(11), rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 12)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "2", records[2][0])
	assert.Equal(t, "10", records[10][0])
	assert.Equal(t, "11", records[11][0])
}

func TestExportWritesWorkbook(t *testing.T) {
	h := newHarness(t, 230, Config{})
	ctx := context.Background()
	id := h.start(t, models.ExportFormatXLSX, 100)

	_, err := h.sched.Drain(ctx, h.disp)
	require.NoError(t, err)

	job := h.job(t, id)
	require.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, ".xlsx", filepath.Ext(job.FilePath))

	f, err := excelize.OpenFile(job.FilePath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 231)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "230", rows[230][0])
}

func TestStepRetryReissuesLostSuccessor(t *testing.T) {
	cases := []struct {
		name     string
		rows     int
		failOn   int
		failedAt string
	}{
		// Schedule calls: 1 = first step, 2 = step for page 2, 3 = page 3 or finalize.
		{name: "next page", rows: 300, failOn: 2, failedAt: KindStep},
		{name: "finalizer", rows: 200, failOn: 3, failedAt: KindFinalize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tc.rows, Config{})
			flaky := &flakyScheduler{Memory: h.sched, failOn: tc.failOn}
			svc, err := NewService(Config{Dir: h.dir}, h.store, h.entries, flaky, h.notifier, zerolog.Nop())
			require.NoError(t, err)
			disp := scheduler.NewDispatcher()
			svc.Register(disp)

			res, err := svc.Start(ctx, StartRequest{Selector: models.Selector{FormID: testForm}, BatchSize: 100})
			require.NoError(t, err)

			var failed scheduler.Task
			for {
				task, ok, err := h.sched.RunNext(ctx, disp)
				require.True(t, ok, "chain ended without the enqueue failure")
				if err != nil {
					failed = task
					break
				}
			}
			assert.Equal(t, KindStep, failed.Kind)
			assert.Empty(t, h.sched.Pending())
			stuck := h.job(t, res.JobID)
			assert.Equal(t, int(failed.Seq)+1, stuck.Page)

			// The scheduler retries the task that failed to enqueue its successor.
			require.NoError(t, disp.Run(ctx, failed))
			pending := h.sched.Pending()
			require.Len(t, pending, 1)
			assert.Equal(t, tc.failedAt, pending[0].Task.Kind)

			_, err = h.sched.Drain(ctx, disp)
			require.NoError(t, err)
			job := h.job(t, res.JobID)
			assert.Equal(t, models.JobStatusComplete, job.Status)
			assert.Equal(t, int64(tc.rows), job.Processed)
			assert.Len(t, readCSV(t, job.FilePath), tc.rows+1)
		})
	}
}

func TestHeaderIsFrozenByFirstPageEvenWhenEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, Config{})
	h.entries.add(testForm, 200)
	for i := 0; i < 100; i++ {
		h.entries.entries[i].Fields = nil
	}

	res, err := h.svc.Start(ctx, StartRequest{
		Selector:  models.Selector{FormID: testForm, Exclude: DefaultColumns},
		BatchSize: 100,
	})
	require.NoError(t, err)
	id := res.JobID

	_, _, err = h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)
	assert.Empty(t, h.job(t, id).Header)

	_, _, err = h.sched.RunNext(ctx, h.disp)
	require.NoError(t, err)
	job := h.job(t, id)
	assert.Equal(t, 3, job.Page)
	assert.Empty(t, job.Header, "later pages must not replace the first page's header")
}
