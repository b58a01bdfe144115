// Package blackhole provides a sink that discards everything it receives.
// Every declared output port in a graph must be connected, so unwanted
// branches terminate in a blackhole to make the discard explicit.
package blackhole

import (
	"sync/atomic"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/processor"
)

// Sink discards packets, keeping count.
type Sink struct {
	name      string
	elem      string
	discarded atomic.Uint64
}

var _ processor.Async = (*Sink)(nil)

// New creates a blackhole accepting opaque packets.
func New(name string) *Sink {
	return NewElem(name, processor.ElemPacket)
}

// NewElem creates a blackhole whose input carries the given element type.
func NewElem(name, elem string) *Sink {
	return &Sink{name: name, elem: elem}
}

// Name implements processor.Processor.
func (s *Sink) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Sink) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", s.elem),
	}
}

// Discarded returns the number of packets swallowed so far.
func (s *Sink) Discarded() uint64 { return s.discarded.Load() }

// Poll implements processor.Async.
func (s *Sink) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		_, res := ec.In(0).TryPull()
		switch res {
		case link.PullEmpty:
			ec.In(0).WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			return processor.PollDone
		}
		s.discarded.Add(1)
		ec.Drop("blackhole")
	}
}
