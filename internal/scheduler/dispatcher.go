package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// RunFunc executes one task. A returned error asks the queue to retry the
// task under its own retry policy.
type RunFunc func(ctx context.Context, task Task) error

// ExhaustedFunc is called once the queue gives up on a task.
type ExhaustedFunc func(ctx context.Context, task Task, reason string) error

type handler struct {
	run       RunFunc
	exhausted ExhaustedFunc
}

// Dispatcher routes tasks to the handler registered for their kind.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]handler)}
}

// Handle registers run (and optionally exhausted) for kind.
func (d *Dispatcher) Handle(kind string, run RunFunc, exhausted ExhaustedFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler{run: run, exhausted: exhausted}
}

func (d *Dispatcher) lookup(kind string) (handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

func (d *Dispatcher) Run(ctx context.Context, task Task) error {
	h, ok := d.lookup(task.Kind)
	if !ok {
		return fmt.Errorf("no handler registered for task kind %q", task.Kind)
	}
	return h.run(ctx, task)
}

func (d *Dispatcher) Exhausted(ctx context.Context, task Task, reason string) error {
	h, ok := d.lookup(task.Kind)
	if !ok {
		return fmt.Errorf("no handler registered for task kind %q", task.Kind)
	}
	if h.exhausted == nil {
		return nil
	}
	return h.exhausted(ctx, task, reason)
}

// Kinds lists the registered task kinds.
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]string, 0, len(d.handlers))
	for kind := range d.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
