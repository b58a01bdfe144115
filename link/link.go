// Package link implements the bounded handoff between two processors.
//
// A link owns a fixed-capacity FIFO queue with exactly one producer and
// exactly one consumer, which may run on different worker threads. Both
// operations are non-blocking: a full queue reports Full to the producer
// (backpressure) and an empty queue reports Empty to the consumer. Waiters
// register a Waker and are notified edge-triggered when the state they care
// about changes; there is no polling.
//
// Closing a link is drain-then-terminal: packets already queued remain
// pullable, and TryPull reports Closed only once the queue is empty.
package link

import (
	"fmt"
	"sync"

	"github.com/c360/routekit/packet"
)

// Waker resumes a suspended task. Wakers must be idempotent and cheap; the
// scheduler collapses duplicate wakes. A registered Waker is invoked at most
// once and never while the link's lock is held.
type Waker func()

// PushResult is the outcome of a non-blocking push.
type PushResult int

const (
	// PushAccepted means the packet was enqueued and ownership transferred.
	PushAccepted PushResult = iota
	// PushFull means the queue is at capacity; the caller still owns the
	// packet and must hold it, not drop it.
	PushFull
	// PushClosed means the consumer side is gone; the caller should drop
	// the packet with accounting.
	PushClosed
)

// PullResult is the outcome of a non-blocking pull.
type PullResult int

const (
	// PullOK means a packet was dequeued and ownership transferred.
	PullOK PullResult = iota
	// PullEmpty means upstream has not produced yet.
	PullEmpty
	// PullClosed is terminal: upstream will never produce again.
	PullClosed
)

// Puller is the consumer end of a link, or of an inline chain of
// synchronous processors that bottoms out at a link.
type Puller interface {
	// TryPull requests the next packet. Ownership transfers on PullOK.
	TryPull() (*packet.Packet, PullResult)
	// WakeOnData parks w until a pull could make progress. If data is
	// already available (or the source is closed) w fires immediately.
	WakeOnData(w Waker)
}

// Pusher is the producer end of a link.
type Pusher interface {
	// TryPush offers a packet. Ownership transfers on PushAccepted.
	TryPush(p *packet.Packet) PushResult
	// WakeOnSpace parks w until a push could make progress.
	WakeOnSpace(w Waker)
	// Close marks the link terminal; queued packets stay pullable.
	Close()
}

// InvariantError reports a violated link or port contract, such as a second
// producer binding to a link. Continuing after one risks packet corruption,
// so the scheduler deliberately does not recover from it.
type InvariantError struct {
	Link   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("link %s: invariant violation: %s", e.Link, e.Detail)
}

// Queue is the bounded single-producer single-consumer ring behind a link.
// The graph builder owns both ends and hands the producer a Pusher and the
// consumer a Puller; no public queue handle escapes to processors.
type Queue struct {
	name string

	mu       sync.Mutex
	items    []*packet.Packet
	capacity int
	head     int // next write position
	tail     int // next read position
	size     int
	closed   bool

	dataWaker  Waker // consumer parked waiting for data
	spaceWaker Waker // producer parked waiting for space

	producerBound bool
	consumerBound bool

	onDepth func(depth, capacity int) // optional gauge hook
}

var (
	_ Puller = (*Queue)(nil)
	_ Pusher = (*Queue)(nil)
)

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		name:     name,
		items:    make([]*packet.Packet, capacity),
		capacity: capacity,
	}
}

// Name returns the link's name, used for metrics and logs.
func (q *Queue) Name() string { return q.name }

// Capacity returns the fixed queue capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Depth returns the current number of queued packets.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// SetDepthHook installs a callback invoked (outside the lock) after every
// depth change. Used to feed the queue depth gauge.
func (q *Queue) SetDepthHook(hook func(depth, capacity int)) {
	q.mu.Lock()
	q.onDepth = hook
	q.mu.Unlock()
}

// BindProducer marks the single producer end as taken. A second bind is an
// invariant violation and panics.
func (q *Queue) BindProducer(owner string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.producerBound {
		panic(&InvariantError{Link: q.name, Detail: "second producer bound by " + owner})
	}
	q.producerBound = true
}

// BindConsumer marks the single consumer end as taken. A second bind is an
// invariant violation and panics.
func (q *Queue) BindConsumer(owner string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumerBound {
		panic(&InvariantError{Link: q.name, Detail: "second consumer bound by " + owner})
	}
	q.consumerBound = true
}

// TryPush enqueues p if there is space. On success any parked consumer is
// woken.
func (q *Queue) TryPush(p *packet.Packet) PushResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return PushClosed
	}
	if q.size == q.capacity {
		q.mu.Unlock()
		return PushFull
	}

	q.items[q.head] = p
	q.head = (q.head + 1) % q.capacity
	q.size++

	w := q.dataWaker
	q.dataWaker = nil
	depth, hook := q.size, q.onDepth
	q.mu.Unlock()

	if hook != nil {
		hook(depth, q.capacity)
	}
	if w != nil {
		w()
	}
	return PushAccepted
}

// TryPull dequeues the oldest packet. On success any parked producer is
// woken. Closed is reported only after the queue has drained.
func (q *Queue) TryPull() (*packet.Packet, PullResult) {
	q.mu.Lock()
	if q.size == 0 {
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, PullClosed
		}
		return nil, PullEmpty
	}

	p := q.items[q.tail]
	q.items[q.tail] = nil // release for GC
	q.tail = (q.tail + 1) % q.capacity
	q.size--

	w := q.spaceWaker
	q.spaceWaker = nil
	depth, hook := q.size, q.onDepth
	q.mu.Unlock()

	if hook != nil {
		hook(depth, q.capacity)
	}
	if w != nil {
		w()
	}
	return p, PullOK
}

// WakeOnData parks w until data arrives or the link closes. If either is
// already true, w fires immediately so the caller cannot miss the edge it
// raced with.
func (q *Queue) WakeOnData(w Waker) {
	q.mu.Lock()
	if q.size > 0 || q.closed {
		q.mu.Unlock()
		w()
		return
	}
	q.dataWaker = w
	q.mu.Unlock()
}

// WakeOnSpace parks w until space frees or the link closes. Fires
// immediately if either is already true.
func (q *Queue) WakeOnSpace(w Waker) {
	q.mu.Lock()
	if q.size < q.capacity || q.closed {
		q.mu.Unlock()
		w()
		return
	}
	q.spaceWaker = w
	q.mu.Unlock()
}

// Close marks the link terminal and wakes both sides. Queued packets remain
// pullable; TryPull reports Closed once they are gone. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dw, sw := q.dataWaker, q.spaceWaker
	q.dataWaker, q.spaceWaker = nil, nil
	q.mu.Unlock()

	if dw != nil {
		dw()
	}
	if sw != nil {
		sw()
	}
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain closes the link and discards anything still queued, returning the
// number of packets thrown away so the caller can account for the drops.
// Used only at graph teardown.
func (q *Queue) Drain() int {
	q.mu.Lock()
	q.closed = true
	dropped := q.size
	for i := 0; i < q.size; i++ {
		q.items[(q.tail+i)%q.capacity] = nil
	}
	q.size = 0
	q.head, q.tail = 0, 0
	dw, sw := q.dataWaker, q.spaceWaker
	q.dataWaker, q.spaceWaker = nil, nil
	hook := q.onDepth
	q.mu.Unlock()

	if hook != nil {
		hook(0, q.capacity)
	}
	if dw != nil {
		dw()
	}
	if sw != nil {
		sw()
	}
	return dropped
}
