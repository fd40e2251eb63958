package service

import (
	"context"
	"log"
	"sync"
)

// writer runs background tasks one at a time, in the order they were queued.
// Enqueue never blocks, so it may be called while holding the cache lock;
// that is what keeps persisted snapshots in the same order as cache updates.
type writer struct {
	logger *log.Logger

	mu     sync.Mutex
	queue  []func(context.Context)
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newWriter(logger *log.Logger) *writer {
	w := &writer{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue schedules task. It reports false once the writer is closed.
func (w *writer) enqueue(task func(context.Context)) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, task)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// enqueueResult schedules task and returns a channel carrying its error.
// If the writer is closed the task runs inline.
func (w *writer) enqueueResult(task func(context.Context) error) <-chan error {
	result := make(chan error, 1)
	run := func(ctx context.Context) {
		result <- task(ctx)
	}
	if !w.enqueue(run) {
		run(context.Background())
	}
	return result
}

// flush waits until every task queued before the call has run.
func (w *writer) flush(ctx context.Context) error {
	done := w.enqueueResult(func(context.Context) error { return nil })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close runs what is queued, then stops the goroutine.
func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.stopped
}

func (w *writer) run() {
	defer close(w.stopped)
	ctx := context.Background()

	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				closed := w.closed
				w.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.runTask(ctx, task)
		}
	}
}

func (w *writer) runTask(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Printf("WARNING: background write panicked: %v", r)
		}
	}()
	task(ctx)
}

// inflight counts detached goroutines so tests and shutdown can wait for them.
type inflight struct {
	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		for _, ch := range f.waiters {
			close(ch)
		}
		f.waiters = nil
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
