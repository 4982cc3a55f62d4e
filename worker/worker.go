// Package worker runs a task periodically on a dedicated goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrdg/loopcore/logging"
)

// ErrAlreadyRunning is returned by Start when the worker has not been
// stopped since the previous Start.
var ErrAlreadyRunning = errors.New("worker: already running")

// Observer receives task statistics.
type Observer interface {
	TaskRan(name string, d time.Duration)
	TaskPanicked(name string)
}

type nopObserver struct{}

func (nopObserver) TaskRan(string, time.Duration) {}
func (nopObserver) TaskPanicked(string)           {}

// Worker owns one background goroutine per Start/Stop cycle. The goroutine
// calls the task, sleeps for the configured interval and repeats until Stop.
type Worker struct {
	name     string
	log      *slog.Logger
	observer Observer

	sleep   atomic.Int64 // nanoseconds
	running atomic.Bool

	mu     sync.Mutex // serializes Start and Stop
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithName names the worker in logs and metrics.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithLogger sets the logger used to report task panics.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithObserver reports task statistics to o.
func WithObserver(o Observer) Option {
	return func(w *Worker) { w.observer = o }
}

// New returns a stopped worker that sleeps for interval between runs.
func New(interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		name:     "worker",
		log:      slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logging.Module(w.log, "worker").With("worker", w.name)
	w.sleep.Store(int64(interval))
	return w
}

// Start launches the goroutine running task. The first run happens
// immediately.
func (w *Worker) Start(task func()) error {
	if task == nil {
		return fmt.Errorf("worker %s: nil task", w.name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		if w.running.Load() {
			return ErrAlreadyRunning
		}
		// The previous loop ended on its own after a panic.
		w.join()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.running.Store(true)

	go w.loop(ctx, task, done)
	return nil
}

// Stop ends the loop and waits for the goroutine to exit. No task run starts
// after Stop returns. Stop is idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}
	w.running.Store(false)
	w.join()
}

func (w *Worker) join() {
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
}

// Close stops the worker. It implements io.Closer.
func (w *Worker) Close() error {
	w.Stop()
	return nil
}

// SetSleep changes the interval. The loop picks it up on its next
// iteration, so the change may take up to one old interval to apply.
func (w *Worker) SetSleep(d time.Duration) {
	w.sleep.Store(int64(d))
}

// Sleep returns the current interval.
func (w *Worker) Sleep() time.Duration {
	return time.Duration(w.sleep.Load())
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

func (w *Worker) loop(ctx context.Context, task func(), done chan struct{}) {
	defer close(done)
	defer w.running.Store(false)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for w.running.Load() {
		if !w.run(task) {
			return
		}
		timer.Reset(w.Sleep())
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// run calls task once and reports whether it returned normally.
func (w *Worker) run(task func()) (ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.observer.TaskPanicked(w.name)
			w.log.Error("task panicked, worker loop stopped", "panic", r)
			ok = false
		}
	}()
	task()
	w.observer.TaskRan(w.name, time.Since(start))
	return true
}
