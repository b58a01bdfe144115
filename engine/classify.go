package engine

import (
	"fmt"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// classifyDriver adapts a synchronous Classifier into a schedulable task.
//
// A classifier's outputs may be consumed by different tasks on different
// threads, so unlike a Transformer it cannot run inline in any single
// consumer's pull cascade: the driver pulls the classifier's input itself
// and pushes each packet onto the queue of the chosen output port.
//
// When the chosen output is Full the driver holds the packet and suspends
// until that queue frees space; relative order within each output is
// preserved and nothing is dropped.
type classifyDriver struct {
	proc        processor.Classifier
	pending     *packet.Packet
	pendingPort int
}

var _ processor.Async = (*classifyDriver)(nil)

// NewClassifyDriver wraps a Classifier for scheduling. The graph builder
// installs one per classifier node.
func NewClassifyDriver(proc processor.Classifier) processor.Async {
	return &classifyDriver{proc: proc}
}

func (d *classifyDriver) Name() string { return d.proc.Name() }

func (d *classifyDriver) Ports() []processor.PortSpec { return d.proc.Ports() }

func (d *classifyDriver) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if d.pending != nil {
			switch ec.Out(d.pendingPort).TryPush(d.pending) {
			case link.PushFull:
				ec.Out(d.pendingPort).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				// Downstream is gone for this branch only.
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			d.pending = nil
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

		port, err := d.classify(p)
		if err != nil {
			// Fault isolation: this packet is lost, the classifier is
			// finished, closure propagates.
			ec.Drop("classifier fault")
			panic(fmt.Errorf("classifier %s: %w", d.proc.Name(), err))
		}
		if port < 0 || port >= ec.NumOut() {
			ec.Drop("classifier fault")
			panic(fmt.Errorf("classifier %s: port %d out of range", d.proc.Name(), port))
		}

		d.pending = p
		d.pendingPort = port
	}
}

// classify contains a panic in the classifier so the driver can surface it
// as an ordinary fault.
func (d *classifyDriver) classify(p *packet.Packet) (port int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if inv, ok := r.(*link.InvariantError); ok {
				panic(inv)
			}
			err = fmt.Errorf("classify panic: %v", r)
		}
	}()
	return d.proc.Classify(p)
}
