// Package channel provides an in-process ingress adapter. External
// goroutines hand packets to the router through Submit; the adapter owns a
// bounded mailbox so graph backpressure is visible to the producer as a
// Full result (or as blocking, with SubmitWait).
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

// DefaultMailboxCapacity bounds submissions not yet accepted by the graph.
const DefaultMailboxCapacity = 64

// Source injects externally produced packets into a graph.
type Source struct {
	name    string
	mailbox *link.Queue

	pending  *packet.Packet
	accepted atomic.Uint64
}

var _ processor.Async = (*Source)(nil)
var _ processor.Stopper = (*Source)(nil)

// New creates a channel source. capacity <= 0 selects the default.
func New(name string, capacity int) *Source {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	s := &Source{name: name, mailbox: link.NewQueue(name+".mailbox", capacity)}
	s.mailbox.BindConsumer(name)
	return s
}

// Name implements processor.Processor.
func (s *Source) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Source) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.OutputPort("out", processor.ElemPacket),
	}
}

// Submit offers a packet to the graph without blocking. PushFull means the
// graph has not kept up and the caller still owns the packet; PushClosed
// means the source was stopped.
func (s *Source) Submit(p *packet.Packet) link.PushResult {
	res := s.mailbox.TryPush(p)
	if res == link.PushAccepted {
		s.accepted.Add(1)
	}
	return res
}

// SubmitWait blocks until the packet is accepted, the source closes, or ctx
// is done.
func (s *Source) SubmitWait(ctx context.Context, p *packet.Packet) error {
	for {
		switch s.Submit(p) {
		case link.PushAccepted:
			return nil
		case link.PushClosed:
			return errors.ErrLinkClosed
		}

		space := make(chan struct{})
		s.mailbox.WakeOnSpace(func() { close(space) })
		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends the stream: already-submitted packets still flow, then the
// graph observes closure downstream.
func (s *Source) Close() { s.mailbox.Close() }

// Stop implements processor.Stopper.
func (s *Source) Stop(time.Duration) error {
	s.Close()
	return nil
}

// Accepted returns the number of packets accepted so far.
func (s *Source) Accepted() uint64 { return s.accepted.Load() }

// Poll implements processor.Async, moving packets mailbox to graph.
func (s *Source) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if s.pending != nil {
			switch ec.Out(0).TryPush(s.pending) {
			case link.PushFull:
				ec.Out(0).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			s.pending = nil
		}

		p, res := s.mailbox.TryPull()
		switch res {
		case link.PullEmpty:
			s.mailbox.WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			ec.Out(0).Close()
			return processor.PollDone
		}

		s.pending = p
	}
}
