// Package udp provides a UDP egress adapter: each packet leaving the graph
// is sent as one datagram to a fixed target address.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/pkg/retry"
	"github.com/c360/routekit/processor"
)

// Config holds configuration for the UDP sink.
type Config struct {
	// Target is the destination address, host:port.
	Target string `json:"target" yaml:"target"`
	// Elem is the element type the input port accepts; defaults to opaque
	// packets. Set it to terminate a typed pipeline.
	Elem string `json:"elem" yaml:"elem"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Target == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "UDPSink", "Validate",
			"target address required")
	}
	if _, _, err := net.SplitHostPort(c.Target); err != nil {
		return errors.WrapInvalid(err, "UDPSink", "Validate", "target address parsing")
	}
	return nil
}

// Sink sends packets as UDP datagrams.
type Sink struct {
	name    string
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics

	retryConfig retry.Config

	lifecycleMu sync.Mutex
	conn        *net.UDPConn
	sent        atomic.Uint64
	sendErrors  atomic.Uint64
}

var (
	_ processor.Async   = (*Sink)(nil)
	_ processor.Starter = (*Sink)(nil)
	_ processor.Stopper = (*Sink)(nil)
)

// Deps holds runtime dependencies for the UDP sink.
type Deps struct {
	Name            string
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates a UDP sink. The socket is opened in Start.
func New(deps Deps) (*Sink, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		name:        deps.Name,
		config:      deps.Config,
		logger:      logger.With("component", deps.Name, "target", deps.Config.Target),
		retryConfig: retry.Quick(),
	}
	if deps.MetricsRegistry != nil {
		s.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return s, nil
}

// Name implements processor.Processor.
func (s *Sink) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Sink) Ports() []processor.PortSpec {
	elem := s.config.Elem
	if elem == "" {
		elem = processor.ElemPacket
	}
	return []processor.PortSpec{
		processor.InputPort("in", elem),
	}
}

// Start connects the socket.
func (s *Sink) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.conn != nil {
		return nil
	}

	dial := func() error {
		addr, err := net.ResolveUDPAddr("udp", s.config.Target)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("resolve %s: %w", s.config.Target, err))
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.config.Target, err)
		}
		s.conn = conn
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, dial); err != nil {
		return errors.WrapTransient(err, "UDPSink", "Start", "socket dialing")
	}

	s.logger.Info("udp sink started")
	return nil
}

// Stop closes the socket.
func (s *Sink) Stop(time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

// Sent returns the number of datagrams written so far.
func (s *Sink) Sent() uint64 { return s.sent.Load() }

// Poll implements processor.Async. UDP writes do not block meaningfully, so
// sending happens inline; a failed write drops the packet with accounting
// rather than stalling the graph.
func (s *Sink) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		p, res := ec.In(0).TryPull()
		switch res {
		case link.PullEmpty:
			ec.In(0).WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			return processor.PollDone
		}

		if _, err := s.conn.Write(p.Data); err != nil {
			s.sendErrors.Add(1)
			ec.Drop("send failed")
			s.logger.Warn("udp write failed", "error", err)
			continue
		}
		s.sent.Add(1)
		if s.metrics != nil {
			s.metrics.RecordEgress(s.name)
		}
	}
}
