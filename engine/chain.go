package engine

import (
	"fmt"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// FaultFunc reports an isolated synchronous-processor fault to the graph.
type FaultFunc func(processorName string, err error)

// chainPuller executes a synchronous Transformer inline as part of its
// consumer's pull cascade. Pulling recurses into src (which may itself be a
// chainPuller) until a packet is produced, upstream reports Empty, or the
// chain reaches Closed.
//
// A chainPuller belongs to exactly one consuming task and is never shared
// across threads, so it needs no locking.
type chainPuller struct {
	proc    processor.Transformer
	src     link.Puller
	pending []*packet.Packet // outputs beyond the first from one Transform
	failed  bool
	onFault FaultFunc
}

var _ link.Puller = (*chainPuller)(nil)

// NewTransformPuller wraps a Transformer around an upstream puller. The
// graph builder composes these for every inline sync edge.
func NewTransformPuller(proc processor.Transformer, src link.Puller, onFault FaultFunc) link.Puller {
	return &chainPuller{proc: proc, src: src, onFault: onFault}
}

func (c *chainPuller) TryPull() (*packet.Packet, link.PullResult) {
	if len(c.pending) > 0 {
		p := c.pending[0]
		c.pending = c.pending[1:]
		return p, link.PullOK
	}
	if c.failed {
		return nil, link.PullClosed
	}

	for {
		in, res := c.src.TryPull()
		if res != link.PullOK {
			return nil, res
		}

		outs, err := c.transform(in)
		if err != nil {
			// Fault is isolated to this processor: report it, then
			// behave as closed so the consumer propagates closure.
			c.failed = true
			if c.onFault != nil {
				c.onFault(c.proc.Name(), err)
			}
			return nil, link.PullClosed
		}
		if len(outs) == 0 {
			// Dropped by the transformer; demand recurses upstream.
			continue
		}

		if len(outs) > 1 {
			c.pending = append(c.pending, outs[1:]...)
		}
		return outs[0], link.PullOK
	}
}

func (c *chainPuller) WakeOnData(w link.Waker) {
	if len(c.pending) > 0 || c.failed {
		w()
		return
	}
	c.src.WakeOnData(w)
}

// transform contains a panic from the transformer so a fault in one sync
// processor cannot take down the task driving the cascade. Invariant
// violations stay fatal.
func (c *chainPuller) transform(p *packet.Packet) (outs []*packet.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			if inv, ok := r.(*link.InvariantError); ok {
				panic(inv)
			}
			outs = nil
			err = fmt.Errorf("transform panic: %v", r)
		}
	}()
	return c.proc.Transform(p)
}
