// Package udp provides a UDP ingress adapter. A reader goroutine owns the
// socket and feeds a bounded mailbox; the adapter's task moves packets from
// the mailbox into the graph. UDP cannot be backpressured, so a full
// mailbox drops the datagram and counts it.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/pkg/retry"
	"github.com/c360/routekit/processor"
)

const (
	// DefaultMailboxCapacity bounds datagrams not yet accepted by the graph.
	DefaultMailboxCapacity = 1024
	// maxDatagram covers any UDP payload.
	maxDatagram = 65536
	// readDeadline bounds how long a blocked read delays shutdown.
	readDeadline     = 100 * time.Millisecond
	socketBufferSize = 2 * 1024 * 1024
)

// Config holds configuration for the UDP source.
type Config struct {
	// Listen is the bind address, host:port.
	Listen string `json:"listen" yaml:"listen"`
	// MailboxCapacity bounds buffered datagrams; defaults when zero.
	MailboxCapacity int `json:"mailbox_capacity" yaml:"mailbox_capacity"`
	// Elem is the element type the output port advertises; defaults to
	// opaque packets. Set it when the wire format is known so typed
	// processors can connect downstream.
	Elem string `json:"elem" yaml:"elem"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "UDPSource", "Validate",
			"listen address required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.WrapInvalid(err, "UDPSource", "Validate", "listen address parsing")
	}
	return nil
}

// sourceMetrics holds the adapter's prometheus collectors.
type sourceMetrics struct {
	received prometheus.Counter
	bytes    prometheus.Counter
	dropped  prometheus.Counter
	errors   prometheus.Counter
}

func newSourceMetrics(registry *metric.MetricsRegistry, name string) *sourceMetrics {
	if registry == nil {
		return nil
	}
	m := &sourceMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routekit", Subsystem: "udp",
			Name: "datagrams_received_total", Help: "Total UDP datagrams received",
			ConstLabels: prometheus.Labels{"source": name},
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routekit", Subsystem: "udp",
			Name: "bytes_received_total", Help: "Total bytes received from UDP",
			ConstLabels: prometheus.Labels{"source": name},
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routekit", Subsystem: "udp",
			Name: "datagrams_dropped_total", Help: "Datagrams dropped because the mailbox was full",
			ConstLabels: prometheus.Labels{"source": name},
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routekit", Subsystem: "udp",
			Name: "socket_errors_total", Help: "Socket read errors encountered",
			ConstLabels: prometheus.Labels{"source": name},
		}),
	}
	_ = registry.Register(name, "datagrams_received", m.received)
	_ = registry.Register(name, "bytes_received", m.bytes)
	_ = registry.Register(name, "datagrams_dropped", m.dropped)
	_ = registry.Register(name, "socket_errors", m.errors)
	return m
}

// Source receives UDP datagrams and injects them as packets.
type Source struct {
	name   string
	config Config
	logger *slog.Logger

	mailbox *link.Queue
	pending *packet.Packet

	retryConfig retry.Config

	lifecycleMu sync.Mutex
	running     atomic.Bool
	conn        *net.UDPConn
	shutdown    chan struct{}
	done        chan struct{}

	dropped atomic.Uint64
	metrics *sourceMetrics
}

var (
	_ processor.Async   = (*Source)(nil)
	_ processor.Starter = (*Source)(nil)
	_ processor.Stopper = (*Source)(nil)
)

// Deps holds runtime dependencies for the UDP source.
type Deps struct {
	Name            string
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates a UDP source. The socket is opened in Start, not here.
func New(deps Deps) (*Source, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	capacity := deps.Config.MailboxCapacity
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		name:        deps.Name,
		config:      deps.Config,
		logger:      logger.With("component", deps.Name, "listen", deps.Config.Listen),
		mailbox:     link.NewQueue(deps.Name+".mailbox", capacity),
		retryConfig: retry.DefaultConfig(),
		metrics:     newSourceMetrics(deps.MetricsRegistry, deps.Name),
	}
	s.mailbox.BindConsumer(deps.Name)
	return s, nil
}

// Name implements processor.Processor.
func (s *Source) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Source) Ports() []processor.PortSpec {
	elem := s.config.Elem
	if elem == "" {
		elem = processor.ElemPacket
	}
	return []processor.PortSpec{
		processor.OutputPort("out", elem),
	}
}

// Start binds the socket and launches the reader goroutine.
func (s *Source) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, s.retryConfig, s.bindSocket); err != nil {
		return errors.WrapTransient(err, "UDPSource", "Start", "socket binding")
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.readLoop(ctx)

	s.logger.Info("udp source started")
	return nil
}

func (s *Source) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.config.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		// Some systems cap the buffer; reads still work.
		s.logger.Warn("could not grow udp read buffer", "error", err)
	}
	s.conn = conn
	return nil
}

// Stop closes the socket and the mailbox. Datagrams already in the mailbox
// still flow into the graph before closure propagates.
func (s *Source) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)
	_ = s.conn.Close()

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("reader still running after %v", timeout),
			"UDPSource", "Stop", "reader shutdown")
	}
	return nil
}

// Dropped returns the number of datagrams lost to a full mailbox.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

func (s *Source) readLoop(ctx context.Context) {
	defer close(s.done)
	defer s.mailbox.Close()

	buf := make([]byte, maxDatagram)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !s.running.Load() {
				return
			}
			if s.metrics != nil {
				s.metrics.errors.Inc()
			}
			s.logger.Warn("udp read failed", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		p := packet.New(data, packet.WithIngressPort(s.name))

		if s.mailbox.TryPush(p) != link.PushAccepted {
			s.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.received.Inc()
			s.metrics.bytes.Add(float64(n))
		}
	}
}

// Poll implements processor.Async, moving packets mailbox to graph.
func (s *Source) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if s.pending != nil {
			switch ec.Out(0).TryPush(s.pending) {
			case link.PushFull:
				ec.Out(0).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			s.pending = nil
		}

		p, res := s.mailbox.TryPull()
		switch res {
		case link.PullEmpty:
			s.mailbox.WakeOnData(ec.Waker())
			return processor.PollPending
		case link.PullClosed:
			ec.Out(0).Close()
			return processor.PollDone
		}

		s.pending = p
	}
}
