// Package ratelimit provides an asynchronous processor that forwards
// packets at a bounded rate using a token bucket. When no token is
// available the packet is held and the task suspends on a timer, so rate
// limiting exerts backpressure upstream instead of dropping.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Config configures a rate limiter.
type Config struct {
	// PacketsPerSecond is the sustained forwarding rate.
	PacketsPerSecond float64 `json:"packets_per_second" yaml:"packets_per_second"`
	// Burst is the token bucket size; defaults to 1.
	Burst int `json:"burst" yaml:"burst"`
	// Elem is the element type both ports advertise; defaults to opaque
	// packets. The limiter forwards packets unchanged, so any element
	// type passes through.
	Elem string `json:"elem" yaml:"elem"`
}

// Processor forwards packets at a bounded rate.
type Processor struct {
	name    string
	elem    string
	limiter *rate.Limiter

	pending *packet.Packet
	readyAt time.Time
}

var _ processor.Async = (*Processor)(nil)

// New creates a rate limiter.
func New(name string, cfg Config) (*Processor, error) {
	if cfg.PacketsPerSecond <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "RateLimit", "New",
			"packets_per_second must be positive")
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	elem := cfg.Elem
	if elem == "" {
		elem = processor.ElemPacket
	}
	return &Processor{
		name:    name,
		elem:    elem,
		limiter: rate.NewLimiter(rate.Limit(cfg.PacketsPerSecond), burst),
	}, nil
}

// Name implements processor.Processor.
func (r *Processor) Name() string { return r.name }

// Ports implements processor.Processor.
func (r *Processor) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", r.elem),
		processor.OutputPort("out", r.elem),
	}
}

// Poll implements processor.Async.
func (r *Processor) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if r.pending != nil {
			// A token was already reserved for this packet; wait out the
			// reservation, then deliver.
			if d := time.Until(r.readyAt); d > 0 {
				time.AfterFunc(d, ec.Waker())
				return processor.PollPending
			}
			switch ec.Out(0).TryPush(r.pending) {
			case link.PushFull:
				ec.Out(0).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			r.pending = nil
		}

		p, res := ec.In(0).TryPull()
		switch res {
		case link.PullEmpty:
			ec.In(0).WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			ec.Out(0).Close()
			return processor.PollDone
		}

		rsv := r.limiter.Reserve()
		r.pending = p
		r.readyAt = time.Now().Add(rsv.Delay())
	}
}
