package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/processor"
)

// Scheduler multiplexes asynchronous processor tasks over a fixed pool of
// worker goroutines. Scheduling is cooperative: a task runs until its poll
// returns, and resumption is edge-triggered through link wakers, so an idle
// graph burns no CPU.
type Scheduler struct {
	workers int
	logger  *slog.Logger
	metrics *metric.Metrics

	runq  chan *Task
	tasks []*Task

	live     atomic.Int64
	idleOnce sync.Once
	idleCh   chan struct{}

	quit chan struct{}
	wg   sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMetrics wires the scheduler into a metrics registry.
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(s *Scheduler) {
		if reg != nil {
			s.metrics = reg.CoreMetrics()
		}
	}
}

// NewScheduler creates a scheduler. Tasks are added before Start.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		workers: runtime.NumCPU(),
		logger:  logger,
		idleCh:  make(chan struct{}),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the scheduler's core metrics, or nil when not wired.
func (s *Scheduler) Metrics() *metric.Metrics { return s.metrics }

// Add registers an asynchronous processor as a task. ins and outs follow
// the processor's declared port order; closers are closed when the task
// faults (its input source queues, so upstream observes Closed too).
// Must be called before Start.
func (s *Scheduler) Add(proc processor.Async, ins []link.Puller, outs []link.Pusher, closers []func()) *Task {
	t := &Task{
		name:  proc.Name(),
		proc:  proc,
		sched: s,
	}
	t.ec = &execContext{task: t, ins: ins, outs: outs, closers: closers}
	t.state.Store(taskIdle)
	s.tasks = append(s.tasks, t)
	return t
}

// Start launches the worker pool and gives every task an initial poll.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Scheduler", "Start", "start")
	}
	s.started = true

	// Each task occupies at most one run queue slot, so this never blocks.
	s.runq = make(chan *Task, len(s.tasks)+1)
	s.live.Store(int64(len(s.tasks)))
	if s.metrics != nil {
		s.metrics.TasksLive.Set(float64(len(s.tasks)))
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	for _, t := range s.tasks {
		t.Wake()
	}

	s.logger.Info("scheduler started", "workers", s.workers, "tasks", len(s.tasks))
	return nil
}

// WaitIdle blocks until every task has terminated or the timeout elapses.
func (s *Scheduler) WaitIdle(timeout time.Duration) error {
	if s.live.Load() == 0 {
		return nil
	}
	select {
	case <-s.idleCh:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrDrainTimeout, "Scheduler", "WaitIdle",
			"wait for task termination")
	}
}

// Stop shuts down the worker pool. Tasks still live simply stop being
// polled; the graph drains their queues afterwards.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started || s.stopped {
		return
	}
	s.stopped = true
	close(s.quit)
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "tasks_live", s.live.Load())
}

// LiveTasks returns the number of tasks that have not terminated.
func (s *Scheduler) LiveTasks() int {
	return int(s.live.Load())
}

func (s *Scheduler) enqueue(t *Task) {
	select {
	case s.runq <- t:
	case <-s.quit:
		// Shutting down; the task stays queued-in-name-only and the
		// graph's drain pass handles what it left behind.
	}
}

func (s *Scheduler) taskFinished(t *Task) {
	if s.live.Add(-1) == 0 {
		s.idleOnce.Do(func() { close(s.idleCh) })
	}
	if s.metrics != nil {
		s.metrics.TasksLive.Set(float64(s.live.Load()))
	}
	s.logger.Debug("task terminated", "task", t.name)
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case t := <-s.runq:
			s.runTask(t)
		}
	}
}

func (s *Scheduler) runTask(t *Task) {
	if s.metrics != nil {
		s.metrics.WorkersBusy.Inc()
		defer s.metrics.WorkersBusy.Dec()
	}

	t.state.Store(taskRunning)
	status := t.safePoll()

	if status == processor.PollDone {
		t.state.Store(taskDone)
		s.taskFinished(t)
		return
	}

	// Pending: park, unless a wake arrived while we were polling.
	for {
		if t.state.CompareAndSwap(taskRunning, taskIdle) {
			return
		}
		if t.state.CompareAndSwap(taskRunningWake, taskQueued) {
			s.enqueue(t)
			return
		}
	}
}
