// Package natsio provides a NATS egress adapter: each packet leaving the
// graph is published to a subject. The subject can be fixed or taken from a
// packet annotation, which lets a classifier upstream choose the
// destination.
package natsio

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/processor"
)

// Config holds configuration for the NATS sink.
type Config struct {
	// Subject is the destination subject.
	Subject string `json:"subject" yaml:"subject"`
	// SubjectAnnotation, when set, names a packet annotation whose value
	// overrides Subject per packet.
	SubjectAnnotation string `json:"subject_annotation" yaml:"subject_annotation"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Subject == "" && c.SubjectAnnotation == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSSink", "Validate",
			"subject or subject_annotation required")
	}
	return nil
}

// Sink publishes packets to NATS.
type Sink struct {
	name    string
	config  Config
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metric.Metrics

	published atomic.Uint64
}

var (
	_ processor.Async   = (*Sink)(nil)
	_ processor.Starter = (*Sink)(nil)
)

// Deps holds runtime dependencies for the NATS sink.
type Deps struct {
	Name            string
	Config          Config
	Conn            *nats.Conn
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates a NATS sink.
func New(deps Deps) (*Sink, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSSink", "New",
			"NATS connection required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		name:   deps.Name,
		config: deps.Config,
		conn:   deps.Conn,
		logger: logger.With("component", deps.Name, "subject", deps.Config.Subject),
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
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemPacket),
	}
}

// Start verifies the connection is usable.
func (s *Sink) Start(context.Context) error {
	if !s.conn.IsConnected() && !s.conn.IsReconnecting() {
		return errors.WrapTransient(errors.ErrConnectionLost, "NATSSink", "Start",
			"connection check")
	}
	return nil
}

// Published returns the number of packets published so far.
func (s *Sink) Published() uint64 { return s.published.Load() }

// Poll implements processor.Async. Publish buffers internally in the NATS
// client, so it never blocks the worker; a publish error drops the packet
// with accounting.
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

		subject := s.config.Subject
		if s.config.SubjectAnnotation != "" {
			if v, ok := p.Annotation(s.config.SubjectAnnotation); ok && v != "" {
				subject = v
			}
		}
		if subject == "" {
			ec.Drop("no subject")
			continue
		}

		if err := s.conn.Publish(subject, p.Data); err != nil {
			ec.Drop("publish failed")
			s.logger.Warn("nats publish failed", "subject", subject, "error", err)
			continue
		}
		s.published.Add(1)
		if s.metrics != nil {
			s.metrics.RecordEgress(s.name)
		}
	}
}
