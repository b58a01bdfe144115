// Package join provides an asynchronous processor that merges N inputs
// into one output. Inputs are polled round-robin, resuming after the last
// input that produced, so a busy input cannot starve the others. No
// ordering is promised across inputs; per-input FIFO order is preserved.
package join

import (
	"fmt"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Processor merges N inputs into one output.
type Processor struct {
	name  string
	ports []processor.PortSpec

	next    int // round-robin cursor
	dead    []bool
	pending *packet.Packet
}

var _ processor.Async = (*Processor)(nil)

// New creates a join with n input ports named in0..in{n-1}.
func New(name string, n int) (*Processor, error) {
	if n < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Join", "New",
			"input count must be at least 1")
	}
	ports := make([]processor.PortSpec, 0, n+1)
	for i := 0; i < n; i++ {
		ports = append(ports, processor.InputPort(fmt.Sprintf("in%d", i), processor.ElemPacket))
	}
	ports = append(ports, processor.OutputPort("out", processor.ElemPacket))
	return &Processor{name: name, ports: ports, dead: make([]bool, n)}, nil
}

// Name implements processor.Processor.
func (j *Processor) Name() string { return j.name }

// Ports implements processor.Processor.
func (j *Processor) Ports() []processor.PortSpec { return j.ports }

// Poll implements processor.Async.
func (j *Processor) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if j.pending != nil {
			switch ec.Out(0).TryPush(j.pending) {
			case link.PushFull:
				ec.Out(0).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			j.pending = nil
		}

		p, ok, done := j.pullAny(ec)
		if done {
			ec.Out(0).Close()
			return processor.PollDone
		}
		if !ok {
			// Everything live is empty; wake on any of them.
			for i := range j.dead {
				if !j.dead[i] {
					ec.In(i).WakeOnData(ec.Waker())
				}
			}
			return processor.PollPending
		}

		j.pending = p
	}
}

// pullAny sweeps the live inputs once, starting after the last producer.
// done reports that every input has closed.
func (j *Processor) pullAny(ec processor.ExecContext) (p *packet.Packet, ok, done bool) {
	n := len(j.dead)
	for off := 0; off < n; off++ {
		i := (j.next + off) % n
		if j.dead[i] {
			continue
		}
		pkt, res := ec.In(i).TryPull()
		switch res {
		case link.PullOK:
			j.next = (i + 1) % n
			return pkt, true, false
		case link.PullClosed:
			j.dead[i] = true
		case link.PullEmpty:
		}
	}

	for _, d := range j.dead {
		if !d {
			return nil, false, false
		}
	}
	return nil, false, true
}
