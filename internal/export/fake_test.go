package export

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/scheduler"
)

// flakyScheduler fails the failOn-th Schedule call (1-based) and forwards
// every other call to the memory queue.
type flakyScheduler struct {
	*scheduler.Memory
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyScheduler) Schedule(ctx context.Context, task scheduler.Task, delay time.Duration) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("enqueue %s: connection refused", task.ID())
	}
	return f.Memory.Schedule(ctx, task, delay)
}

type fakeEntries struct {
	mu       sync.Mutex
	forms    map[int64]bool
	entries  []models.Entry
	fetchErr error
	fetches  int
}

func newFakeEntries(formID int64, n int) *fakeEntries {
	f := &fakeEntries{forms: map[int64]bool{formID: true}}
	f.add(formID, n)
	return f
}

func (f *fakeEntries) add(formID int64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms[formID] = true
	next := int64(1)
	if len(f.entries) > 0 {
		next = f.entries[len(f.entries)-1].ID + 1
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := next + int64(i)
		f.entries = append(f.entries, models.Entry{
			ID:        id,
			FormID:    formID,
			Status:    "publish",
			SourceURL: "https://example.org/contact",
			Fields: models.Fields{
				{Name: "name", Value: fmt.Sprintf("Person %d", id)},
				{Name: "email", Value: fmt.Sprintf("person%d@example.org", id)},
			},
			CreatedAt: base.Add(time.Duration(id) * time.Minute),
		})
	}
}

func (f *fakeEntries) matches(sel models.Selector, e models.Entry) bool {
	if e.FormID != sel.FormID {
		return false
	}
	if sel.Status != "" && e.Status != sel.Status {
		return false
	}
	if sel.From != nil && e.CreatedAt.Before(*sel.From) {
		return false
	}
	if sel.To != nil && e.CreatedAt.After(*sel.To) {
		return false
	}
	return true
}

func (f *fakeEntries) FormExists(_ context.Context, formID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[formID], nil
}

func (f *fakeEntries) CountMatching(_ context.Context, sel models.Selector) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total, maxID int64
	for _, e := range f.entries {
		if f.matches(sel, e) {
			total++
			if e.ID > maxID {
				maxID = e.ID
			}
		}
	}
	return total, maxID, nil
}

func (f *fakeEntries) FetchBatch(_ context.Context, sel models.Selector, afterID, upperID int64, limit int) (repository.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return repository.Batch{}, f.fetchErr
	}
	sorted := append([]models.Entry(nil), f.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	batch := repository.Batch{LastID: afterID}
	for _, e := range sorted {
		if len(batch.Entries) == limit {
			break
		}
		if e.ID <= afterID || (upperID > 0 && e.ID > upperID) || !f.matches(sel, e) {
			continue
		}
		batch.Entries = append(batch.Entries, e)
		batch.LastID = e.ID
	}
	return batch, nil
}

func (f *fakeEntries) GetEntry(_ context.Context, entryID int64) (models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return models.Entry{}, repository.ErrEntryNotFound
}

type notice struct {
	jobID  string
	rows   int64
	reason string
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []notice
	failed    []notice
}

func (n *fakeNotifier) NotifyExportCompleted(_ context.Context, jobID string, rows int64, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, notice{jobID: jobID, rows: rows})
	return nil
}

func (n *fakeNotifier) NotifyExportFailed(_ context.Context, jobID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, notice{jobID: jobID, reason: reason})
	return nil
}
