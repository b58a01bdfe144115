// Package processor defines the contracts a unit of packet processing must
// satisfy to run inside a router graph.
//
// A processor is either synchronous or asynchronous. Synchronous processors
// (Transformer, Classifier) never run as independent tasks: they execute
// inline on the pulling task's thread as part of its pull cascade, and must
// not block. Asynchronous processors (Async) are schedulable poll units that
// pull from upstream, process, push downstream, and suspend by registering a
// waker when a pull reports Empty or a push reports Full.
package processor

import (
	"context"
	"time"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
)

// Direction marks a port as input or output.
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Element type tags carried by ports. Links are type-checked at graph
// construction time: an output port may only feed an input port with the
// same tag.
const (
	ElemPacket   = "packet"   // opaque payload bytes
	ElemEthernet = "ethernet" // payload starts with an Ethernet II header
	ElemIPv4     = "ipv4"     // payload starts with an IPv4 header
)

// PortSpec describes a typed attachment point on a processor. Port order in
// the Ports() slice is the port index used when connecting and when pulling;
// multi-input processors document their pull order across indices.
type PortSpec struct {
	Name        string
	Direction   Direction
	Elem        string
	Description string
}

// InputPort is a convenience constructor for an input PortSpec.
func InputPort(name, elem string) PortSpec {
	return PortSpec{Name: name, Direction: DirectionInput, Elem: elem}
}

// OutputPort is a convenience constructor for an output PortSpec.
func OutputPort(name, elem string) PortSpec {
	return PortSpec{Name: name, Direction: DirectionOutput, Elem: elem}
}

// Processor is the common contract: a stable name and a fixed set of typed
// ports. Ports must not change after the processor is added to a graph.
type Processor interface {
	Name() string
	Ports() []PortSpec
}

// Transformer is a synchronous processor with one input and one output.
// Transform consumes the packet it is given and returns zero, one, or more
// output packets. Returning zero packets drops the input (the pull cascade
// recurses upstream for more); returning N packets yields N sequential pulls
// downstream before upstream is consulted again. Transform must not block.
type Transformer interface {
	Processor
	Transform(p *packet.Packet) ([]*packet.Packet, error)
}

// Classifier is a synchronous processor with one input and N outputs.
// Classify consumes nothing: it inspects the packet and returns the index of
// the output port that should carry it. Classify must not block.
type Classifier interface {
	Processor
	Classify(p *packet.Packet) (int, error)
}

// PollStatus is what an asynchronous processor's Poll returns.
type PollStatus int

const (
	// PollPending means the processor cannot make progress and has
	// registered a waker; the scheduler parks the task until it fires.
	PollPending PollStatus = iota
	// PollDone means the processor is terminal: it observed Closed (or
	// failed) and has closed its own output links.
	PollDone
)

// ExecContext is the runtime surface the engine hands an asynchronous
// processor on every poll. Input and output indices follow the order of the
// processor's declared ports (inputs counted separately from outputs).
type ExecContext interface {
	// In returns the puller for input port i. Pulling cascades inline
	// through any chain of synchronous processors feeding the port.
	In(i int) link.Puller
	// NumIn returns the number of input ports.
	NumIn() int
	// Out returns the pusher for output port i.
	Out(i int) link.Pusher
	// NumOut returns the number of output ports.
	NumOut() int
	// Waker returns the waker that reschedules this task. Register it
	// with a link (or an external event source) before returning
	// PollPending.
	Waker() link.Waker
	// Drop accounts a packet the processor had to discard, by reason.
	Drop(reason string)
}

// Async is a schedulable processor. Poll runs until it cannot make forward
// progress; it must register the context's waker before returning
// PollPending, and must close its output links before returning PollDone.
// Poll is never invoked concurrently for one instance.
type Async interface {
	Processor
	Poll(ec ExecContext) PollStatus
}

// Lifecycle hooks, all optional. The graph calls Initialize on build,
// Start when the graph starts (adapters open sockets and spawn their I/O
// goroutines here), and Stop at teardown in ingress-to-egress order.
type (
	// Initializer is implemented by processors needing one-time setup.
	Initializer interface {
		Initialize() error
	}
	// Starter is implemented by processors that own external resources.
	Starter interface {
		Start(ctx context.Context) error
	}
	// Stopper is implemented by processors that must release resources.
	// Stop must cause the processor's task to observe closure promptly.
	Stopper interface {
		Stop(timeout time.Duration) error
	}
)
