// Package packet defines the data unit that flows through a router graph.
//
// A Packet is owned by exactly one processor or in-flight link at any
// instant; ownership transfers on every push and pull. Processors that need
// to retain or duplicate a packet must Clone it. Payload bytes are treated
// as immutable by convention; stages that rewrite headers do so on packets
// they own exclusively.
package packet

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Meta carries ingress metadata and mutable annotation slots used by
// classification stages. Annotations are string keyed and string valued;
// richer state belongs inside the owning processor, not on the packet.
type Meta struct {
	// TraceID identifies the packet across the graph for logging.
	TraceID string

	// IngressTime is when the ingress processor created the packet.
	IngressTime time.Time

	// IngressPort identifies the device or adapter port of origin.
	IngressPort string

	annotations map[string]string
}

// Packet is a raw payload plus metadata.
type Packet struct {
	Data []byte
	Meta Meta
}

// Option configures packet construction.
type Option func(*Packet)

// WithIngressPort records the originating device or adapter port.
func WithIngressPort(port string) Option {
	return func(p *Packet) {
		p.Meta.IngressPort = port
	}
}

// WithIngressTime overrides the ingress timestamp. Useful for replay
// and testing; defaults to time.Now().
func WithIngressTime(t time.Time) Option {
	return func(p *Packet) {
		p.Meta.IngressTime = t
	}
}

// New creates a packet owning data. The caller must not retain data.
func New(data []byte, opts ...Option) *Packet {
	p := &Packet{
		Data: data,
		Meta: Meta{
			TraceID:     uuid.NewString(),
			IngressTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Annotation returns the annotation stored under key, if any.
func (p *Packet) Annotation(key string) (string, bool) {
	v, ok := p.Meta.annotations[key]
	return v, ok
}

// SetAnnotation stores an annotation on the packet. Only the current owner
// may annotate.
func (p *Packet) SetAnnotation(key, value string) {
	if p.Meta.annotations == nil {
		p.Meta.annotations = make(map[string]string, 4)
	}
	p.Meta.annotations[key] = value
}

// Annotations returns a copy of all annotations.
func (p *Packet) Annotations() map[string]string {
	if p.Meta.annotations == nil {
		return nil
	}
	return maps.Clone(p.Meta.annotations)
}

// Clone returns a deep copy with a fresh trace id. Fan-out stages use Clone
// so each branch owns its packet exclusively.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		Data: append([]byte(nil), p.Data...),
		Meta: Meta{
			TraceID:     uuid.NewString(),
			IngressTime: p.Meta.IngressTime,
			IngressPort: p.Meta.IngressPort,
		},
	}
	if p.Meta.annotations != nil {
		c.Meta.annotations = maps.Clone(p.Meta.annotations)
	}
	return c
}

// Len returns the payload length in bytes.
func (p *Packet) Len() int {
	return len(p.Data)
}
