// Package counter provides a transformer that counts and forwards packets.
// The count is readable concurrently, which makes the processor useful both
// as a lightweight tap in production graphs and as an observation point in
// tests.
package counter

import (
	"sync/atomic"

	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Processor counts packets and forwards them unchanged.
type Processor struct {
	name    string
	elem    string
	packets atomic.Uint64
	bytes   atomic.Uint64
}

var _ processor.Transformer = (*Processor)(nil)

// New creates a counter carrying opaque packets.
func New(name string) *Processor {
	return NewElem(name, processor.ElemPacket)
}

// NewElem creates a counter whose ports carry the given element type, so it
// can sit on ethernet or ipv4 edges without erasing the type.
func NewElem(name, elem string) *Processor {
	return &Processor{name: name, elem: elem}
}

// Name implements processor.Processor.
func (c *Processor) Name() string { return c.name }

// Ports implements processor.Processor.
func (c *Processor) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", c.elem),
		processor.OutputPort("out", c.elem),
	}
}

// Transform implements processor.Transformer.
func (c *Processor) Transform(p *packet.Packet) ([]*packet.Packet, error) {
	c.packets.Add(1)
	c.bytes.Add(uint64(p.Len()))
	return []*packet.Packet{p}, nil
}

// Packets returns the number of packets seen so far.
func (c *Processor) Packets() uint64 { return c.packets.Load() }

// Bytes returns the total payload bytes seen so far.
func (c *Processor) Bytes() uint64 { return c.bytes.Load() }
