// Package passthrough provides a transformer that forwards packets
// unchanged. Useful as a structural placeholder in a topology and as the
// simplest possible inline stage in tests.
package passthrough

import (
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Processor forwards every packet as-is.
type Processor struct {
	name string
	out  []*packet.Packet // reused single-element slice
}

var _ processor.Transformer = (*Processor)(nil)

// New creates a passthrough transformer.
func New(name string) *Processor {
	return &Processor{name: name, out: make([]*packet.Packet, 1)}
}

// Name implements processor.Processor.
func (p *Processor) Name() string { return p.name }

// Ports implements processor.Processor.
func (p *Processor) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemPacket),
		processor.OutputPort("out", processor.ElemPacket),
	}
}

// Transform implements processor.Transformer.
func (p *Processor) Transform(pkt *packet.Packet) ([]*packet.Packet, error) {
	p.out[0] = pkt
	return p.out, nil
}
