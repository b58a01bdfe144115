// Package fork provides an asynchronous processor that duplicates every
// packet to all of its output ports. Delivery is in ascending port order;
// when one output is full the fork suspends with the undelivered copies
// held, so a slow branch backpressures the whole fan-out rather than
// losing packets.
package fork

import (
	"fmt"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Processor duplicates packets across N outputs.
type Processor struct {
	name  string
	ports []processor.PortSpec

	// copies awaiting delivery for the current packet, nil once delivered
	pending []*packet.Packet
}

var _ processor.Async = (*Processor)(nil)

// New creates a fork with n output ports named out0..out{n-1}.
func New(name string, n int) (*Processor, error) {
	if n < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Fork", "New",
			"output count must be at least 1")
	}
	ports := []processor.PortSpec{processor.InputPort("in", processor.ElemPacket)}
	for i := 0; i < n; i++ {
		ports = append(ports, processor.OutputPort(fmt.Sprintf("out%d", i), processor.ElemPacket))
	}
	return &Processor{name: name, ports: ports, pending: make([]*packet.Packet, n)}, nil
}

// Name implements processor.Processor.
func (f *Processor) Name() string { return f.name }

// Ports implements processor.Processor.
func (f *Processor) Ports() []processor.PortSpec { return f.ports }

// Poll implements processor.Async.
func (f *Processor) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if f.inFlight() {
			if !f.flush(ec) {
				return processor.PollPending
			}
		}

		p, res := ec.In(0).TryPull()
		switch res {
		case link.PullEmpty:
			ec.In(0).WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			for i := 0; i < ec.NumOut(); i++ {
				ec.Out(i).Close()
			}
			return processor.PollDone
		}

		// The last copy reuses the pulled packet; earlier ones are deep
		// clones so branches cannot see each other's mutations.
		last := len(f.pending) - 1
		for i := 0; i < last; i++ {
			f.pending[i] = p.Clone()
		}
		f.pending[last] = p
	}
}

func (f *Processor) inFlight() bool {
	for _, p := range f.pending {
		if p != nil {
			return true
		}
	}
	return false
}

// flush attempts delivery of all held copies; returns false after
// registering a waker when some output is still full.
func (f *Processor) flush(ec processor.ExecContext) bool {
	for i, p := range f.pending {
		if p == nil {
			continue
		}
		switch ec.Out(i).TryPush(p) {
		case link.PushFull:
			ec.Out(i).WakeOnSpace(ec.Waker())
			return false
		case link.PushClosed:
			// This branch is gone; the others still get their copies.
			ec.Drop("output closed")
		case link.PushAccepted:
		}
		f.pending[i] = nil
	}
	return true
}
