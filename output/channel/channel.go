// Package channel provides an in-process egress adapter. The graph pushes
// packets into a bounded outbox; external goroutines take them out with
// Receive. A consumer that stops receiving backpressures the graph through
// the full outbox.
package channel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// DefaultOutboxCapacity bounds delivered-but-unreceived packets.
const DefaultOutboxCapacity = 64

// Sink delivers graph output to an external consumer.
type Sink struct {
	name   string
	outbox *link.Queue

	held      *packet.Packet
	delivered atomic.Uint64
}

var _ processor.Async = (*Sink)(nil)
var _ processor.Stopper = (*Sink)(nil)

// New creates a channel sink. capacity <= 0 selects the default.
func New(name string, capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	s := &Sink{name: name, outbox: link.NewQueue(name+".outbox", capacity)}
	s.outbox.BindProducer(name)
	return s
}

// Name implements processor.Processor.
func (s *Sink) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Sink) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemPacket),
	}
}

// TryReceive takes the next delivered packet without blocking.
func (s *Sink) TryReceive() (*packet.Packet, link.PullResult) {
	return s.outbox.TryPull()
}

// Receive blocks until a packet is available, the stream ends
// (errors.ErrLinkClosed), or ctx is done.
func (s *Sink) Receive(ctx context.Context) (*packet.Packet, error) {
	for {
		p, res := s.outbox.TryPull()
		switch res {
		case link.PullOK:
			return p, nil
		case link.PullClosed:
			return nil, errors.ErrLinkClosed
		}

		data := make(chan struct{})
		s.outbox.WakeOnData(func() { close(data) })
		select {
		case <-data:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Delivered returns the number of packets the graph has handed over so far.
func (s *Sink) Delivered() uint64 { return s.delivered.Load() }

// Stop implements processor.Stopper. The outbox stays pullable so a
// consumer can drain what already arrived.
func (s *Sink) Stop(time.Duration) error {
	s.outbox.Close()
	return nil
}

// Poll implements processor.Async, moving packets graph to outbox.
func (s *Sink) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if s.held != nil {
			switch s.outbox.TryPush(s.held) {
			case link.PushFull:
				// Consumer has not caught up; resume when it takes one.
				s.outbox.WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("sink stopped")
			case link.PushAccepted:
				s.delivered.Add(1)
			}
			s.held = nil
		}

		p, res := ec.In(0).TryPull()
		switch res {
		case link.PullEmpty:
			ec.In(0).WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			s.outbox.Close()
			return processor.PollDone
		}

		s.held = p
	}
}
