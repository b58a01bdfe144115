// Package natsio provides a NATS ingress adapter: messages arriving on a
// subject become packets. Like UDP, NATS core delivery cannot be
// backpressured, so a full mailbox drops the message and counts it.
package natsio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// DefaultMailboxCapacity bounds messages not yet accepted by the graph.
const DefaultMailboxCapacity = 1024

// Config holds configuration for the NATS source.
type Config struct {
	// Subject is the NATS subject to subscribe to; wildcards allowed.
	Subject string `json:"subject" yaml:"subject"`
	// QueueGroup optionally spreads messages across subscribers.
	QueueGroup string `json:"queue_group" yaml:"queue_group"`
	// MailboxCapacity bounds buffered messages; defaults when zero.
	MailboxCapacity int `json:"mailbox_capacity" yaml:"mailbox_capacity"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSSource", "Validate",
			"subject required")
	}
	return nil
}

// Source subscribes to a NATS subject and injects messages as packets.
type Source struct {
	name   string
	config Config
	conn   *nats.Conn
	logger *slog.Logger

	mailbox *link.Queue
	pending *packet.Packet

	lifecycleMu sync.Mutex
	sub         *nats.Subscription

	received atomic.Uint64
	dropped  atomic.Uint64
	metrics  *metric.Metrics
}

var (
	_ processor.Async   = (*Source)(nil)
	_ processor.Starter = (*Source)(nil)
	_ processor.Stopper = (*Source)(nil)
)

// Deps holds runtime dependencies for the NATS source.
type Deps struct {
	Name            string
	Config          Config
	Conn            *nats.Conn
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates a NATS source. The subscription is made in Start.
func New(deps Deps) (*Source, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSSource", "New",
			"NATS connection required")
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
		name:    deps.Name,
		config:  deps.Config,
		conn:    deps.Conn,
		logger:  logger.With("component", deps.Name, "subject", deps.Config.Subject),
		mailbox: link.NewQueue(deps.Name+".mailbox", capacity),
	}
	s.mailbox.BindConsumer(deps.Name)
	if deps.MetricsRegistry != nil {
		s.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return s, nil
}

// Name implements processor.Processor.
func (s *Source) Name() string { return s.name }

// Ports implements processor.Processor.
func (s *Source) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.OutputPort("out", processor.ElemPacket),
	}
}

// Start subscribes to the configured subject.
func (s *Source) Start(context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sub != nil {
		return nil
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.config.QueueGroup != "" {
		sub, err = s.conn.QueueSubscribe(s.config.Subject, s.config.QueueGroup, s.handleMessage)
	} else {
		sub, err = s.conn.Subscribe(s.config.Subject, s.handleMessage)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSSource", "Start", "subscribe")
	}
	s.sub = sub

	s.logger.Info("nats source started")
	return nil
}

// Stop unsubscribes and closes the mailbox; buffered messages still flow.
func (s *Source) Stop(time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "error", err)
		}
		s.sub = nil
	}
	s.mailbox.Close()
	return nil
}

// Dropped returns the number of messages lost to a full mailbox.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

func (s *Source) handleMessage(msg *nats.Msg) {
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	p := packet.New(data, packet.WithIngressPort(s.name))
	p.SetAnnotation("nats.subject", msg.Subject)

	if s.mailbox.TryPush(p) != link.PushAccepted {
		s.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.RecordDrop(s.name, "mailbox full")
		}
		return
	}
	s.received.Add(1)
	if s.metrics != nil {
		s.metrics.RecordIngress(s.name)
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
