package engine

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/processor"
)

// Task states. Wakes are collapsed through this state machine so a task is
// never queued twice and a wake arriving mid-poll is not lost.
const (
	taskIdle int32 = iota
	taskQueued
	taskRunning
	taskRunningWake
	taskDone
)

// Task drives one asynchronous processor. At most one worker polls a task
// at a time; the processor therefore never sees concurrent Poll calls and
// its internal state needs no locking.
type Task struct {
	name  string
	proc  processor.Async
	sched *Scheduler
	state atomic.Int32
	ec    *execContext
}

// Name returns the task's processor name.
func (t *Task) Name() string { return t.name }

// Wake schedules the task for another poll. Safe to call from any
// goroutine, including from inside the task's own poll; duplicate wakes
// collapse.
func (t *Task) Wake() {
	for {
		switch t.state.Load() {
		case taskIdle:
			if t.state.CompareAndSwap(taskIdle, taskQueued) {
				t.sched.enqueue(t)
				return
			}
		case taskRunning:
			if t.state.CompareAndSwap(taskRunning, taskRunningWake) {
				return
			}
		default: // queued, runningWake, done: a poll is already owed
			return
		}
	}
}

// fail closes everything the task touches so neighbors observe Closed
// instead of hanging. Used after a fault; also the final step of Done.
func (t *Task) fail() {
	t.ec.closeAll()
}

// safePoll runs one poll with fault isolation. A panic in the processor is
// contained: the task is marked failed, its links close, and neighbors see
// Closed. Invariant violations are not contained; they re-panic and abort
// the process, since link state can no longer be trusted.
func (t *Task) safePoll() (status processor.PollStatus) {
	defer func() {
		if r := recover(); r != nil {
			if inv, ok := r.(*link.InvariantError); ok {
				panic(inv)
			}
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			t.sched.logger.Error("processor fault, isolating task",
				"task", t.name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(buf[:n]))
			if m := t.sched.metrics; m != nil {
				m.RecordFault(t.name)
			}
			t.fail()
			status = processor.PollDone
		}
	}()

	start := time.Now()
	status = t.proc.Poll(t.ec)
	if m := t.sched.metrics; m != nil {
		m.RecordPoll(t.name, time.Since(start))
	}
	return status
}

// execContext is the engine's ExecContext implementation. Built once per
// task at graph construction; the slices never change afterwards.
type execContext struct {
	task    *Task
	ins     []link.Puller
	outs    []link.Pusher
	closers []func() // output pushers plus input source queues
}

var _ processor.ExecContext = (*execContext)(nil)

func (ec *execContext) In(i int) link.Puller  { return ec.ins[i] }
func (ec *execContext) NumIn() int            { return len(ec.ins) }
func (ec *execContext) Out(i int) link.Pusher { return ec.outs[i] }
func (ec *execContext) NumOut() int           { return len(ec.outs) }

func (ec *execContext) Waker() link.Waker {
	return ec.task.Wake
}

func (ec *execContext) Drop(reason string) {
	if m := ec.task.sched.metrics; m != nil {
		m.RecordDrop(ec.task.name, reason)
	}
}

func (ec *execContext) closeAll() {
	for _, out := range ec.outs {
		out.Close()
	}
	for _, c := range ec.closers {
		c()
	}
}
