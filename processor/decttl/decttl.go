// Package decttl provides a transformer that decrements the IPv4 TTL,
// dropping packets whose TTL has expired. The header checksum is updated
// incrementally, so the rest of the packet is never touched.
package decttl

import (
	"sync/atomic"

	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Processor decrements TTL on IPv4 packets.
type Processor struct {
	name      string
	expired   atomic.Uint64
	malformed atomic.Uint64
}

var _ processor.Transformer = (*Processor)(nil)

// New creates a TTL-decrementing transformer.
func New(name string) *Processor {
	return &Processor{name: name}
}

// Name implements processor.Processor.
func (d *Processor) Name() string { return d.name }

// Ports implements processor.Processor.
func (d *Processor) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemIPv4),
		processor.OutputPort("out", processor.ElemIPv4),
	}
}

// Transform implements processor.Transformer. Packets with TTL <= 1 and
// packets that do not parse as IPv4 are dropped (zero outputs).
func (d *Processor) Transform(p *packet.Packet) ([]*packet.Packet, error) {
	h, err := packet.IPv4(p)
	if err != nil {
		d.malformed.Add(1)
		return nil, nil
	}
	ttl := h.TTL()
	if ttl <= 1 {
		d.expired.Add(1)
		return nil, nil
	}
	h.SetTTL(ttl - 1)
	return []*packet.Packet{p}, nil
}

// Expired returns the number of packets dropped for TTL expiry.
func (d *Processor) Expired() uint64 { return d.expired.Load() }

// Malformed returns the number of packets dropped for failed IPv4 parsing.
func (d *Processor) Malformed() uint64 { return d.malformed.Load() }
