// Package scheduler models work as discrete single-shot tasks. A task that
// finds more work left re-enqueues its successor instead of looping, so the
// same step functions run under a cron-polled table, Temporal, or an
// in-process queue.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Task identifies one unit of work. Kind selects the handler, Key is the
// namespace the handler works on (a job ID, an entry ID) and Seq
// distinguishes successive tasks of the same chain so duplicates of one tick
// can be collapsed by the queue.
type Task struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	Seq  int64  `json:"seq"`
}

// ID is a stable identifier usable as a dedupe key or workflow ID.
func (t Task) ID() string {
	return fmt.Sprintf("%s:%s:%d", t.Kind, t.Key, t.Seq)
}

func (t Task) String() string {
	return t.ID()
}

type Scheduler interface {
	// Schedule enqueues task to run no earlier than delay from now.
	Schedule(ctx context.Context, task Task, delay time.Duration) error
}

// Now is the delay for "as soon as possible".
const Now time.Duration = 0
