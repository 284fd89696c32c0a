package scheduler

import (
	"context"
	"sync"
	"time"
)

// Scheduled is a task recorded by the memory scheduler.
type Scheduled struct {
	Task  Task
	Delay time.Duration
}

// Memory is an in-process queue. Tasks run only when Drain or RunNext is
// called, which makes chains deterministic in tests and gives a tight
// in-process loop when no external scheduler exists.
type Memory struct {
	mu      sync.Mutex
	pending []Scheduled
	history []Scheduled
	seen    map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// Schedule enqueues task. A task whose ID is already pending is dropped.
func (m *Memory) Schedule(_ context.Context, task Task, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[task.ID()]; dup {
		return nil
	}
	m.seen[task.ID()] = struct{}{}
	s := Scheduled{Task: task, Delay: delay}
	m.pending = append(m.pending, s)
	m.history = append(m.history, s)
	return nil
}

// Pending returns a copy of the queued tasks.
func (m *Memory) Pending() []Scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Scheduled(nil), m.pending...)
}

// History returns every task ever scheduled, in order.
func (m *Memory) History() []Scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Scheduled(nil), m.history...)
}

// Pop removes and returns the oldest pending task.
func (m *Memory) Pop() (Scheduled, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return Scheduled{}, false
	}
	next := m.pending[0]
	m.pending = m.pending[1:]
	delete(m.seen, next.Task.ID())
	return next, true
}

// RunNext pops one task and runs it through d.
func (m *Memory) RunNext(ctx context.Context, d *Dispatcher) (Task, bool, error) {
	next, ok := m.Pop()
	if !ok {
		return Task{}, false, nil
	}
	return next.Task, true, d.Run(ctx, next.Task)
}

// Drain runs tasks until the queue is empty or a task fails. It returns how
// many tasks ran. Delays are not honoured.
func (m *Memory) Drain(ctx context.Context, d *Dispatcher) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, ok, err := m.RunNext(ctx, d)
		if !ok {
			return n, nil
		}
		n++
		if err != nil {
			return n, err
		}
	}
}
