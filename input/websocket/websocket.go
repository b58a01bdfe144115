// Package websocket provides a WebSocket ingress adapter. It runs a small
// HTTP server that upgrades connections and turns every binary message into
// a packet. Multiple clients may be connected at once; all of them feed the
// same bounded mailbox.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	rkerrors "github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

const (
	// DefaultMailboxCapacity bounds messages not yet accepted by the graph.
	DefaultMailboxCapacity = 1024
	// DefaultMaxMessageSize caps a single WebSocket message.
	DefaultMaxMessageSize = 1 << 20

	shutdownGrace = 2 * time.Second
)

// Config holds configuration for the WebSocket source.
type Config struct {
	// Listen is the HTTP bind address, host:port.
	Listen string `json:"listen" yaml:"listen"`
	// Path is the endpoint clients connect to; defaults to "/".
	Path string `json:"path" yaml:"path"`
	// MaxMessageSize caps a message in bytes; defaults when zero.
	MaxMessageSize int64 `json:"max_message_size" yaml:"max_message_size"`
	// MailboxCapacity bounds buffered messages; defaults when zero.
	MailboxCapacity int `json:"mailbox_capacity" yaml:"mailbox_capacity"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return rkerrors.WrapInvalid(rkerrors.ErrInvalidConfig, "WebSocketSource", "Validate",
			"listen address required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return rkerrors.WrapInvalid(err, "WebSocketSource", "Validate", "listen address parsing")
	}
	return nil
}

// Source accepts WebSocket connections and injects messages as packets.
type Source struct {
	name   string
	config Config
	logger *slog.Logger

	mailbox *link.Queue
	pending *packet.Packet

	upgrader websocket.Upgrader

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	connWG      sync.WaitGroup

	clients  atomic.Int64
	received atomic.Uint64
	dropped  atomic.Uint64
	metrics  *metric.Metrics
}

var (
	_ processor.Async   = (*Source)(nil)
	_ processor.Starter = (*Source)(nil)
	_ processor.Stopper = (*Source)(nil)
)

// Deps holds runtime dependencies for the WebSocket source.
type Deps struct {
	Name            string
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// New creates a WebSocket source. The server starts listening in Start.
func New(deps Deps) (*Source, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	capacity := cfg.MailboxCapacity
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		name:    deps.Name,
		config:  cfg,
		logger:  logger.With("component", deps.Name, "listen", cfg.Listen),
		mailbox: link.NewQueue(deps.Name+".mailbox", capacity),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
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

// Clients returns the number of currently connected clients.
func (s *Source) Clients() int { return int(s.clients.Load()) }

// Dropped returns the number of messages lost to a full mailbox.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Start binds the listener and serves upgrades in the background.
func (s *Source) Start(context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return rkerrors.WrapTransient(err, "WebSocketSource", "Start", "listener binding")
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server failed", "error", err)
		}
	}()

	s.logger.Info("websocket source started", "path", s.config.Path)
	return nil
}

// Stop shuts the server down, waits for connection readers, and closes the
// mailbox so closure propagates into the graph.
func (s *Source) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), min(timeout, shutdownGrace))
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil

	waitDone := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(timeout):
		err = rkerrors.WrapTransient(rkerrors.ErrDrainTimeout, "WebSocketSource", "Stop",
			"wait for connection readers")
	}

	s.mailbox.Close()
	return err
}

// Addr returns the bound listen address, useful when Listen used port 0.
func (s *Source) Addr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Source) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.connWG.Add(1)
	s.clients.Add(1)
	go func() {
		defer s.connWG.Done()
		defer s.clients.Add(-1)
		defer conn.Close()
		s.readLoop(conn)
	}()
}

func (s *Source) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(s.config.MaxMessageSize)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		p := packet.New(data, packet.WithIngressPort(s.name))
		if s.mailbox.TryPush(p) != link.PushAccepted {
			s.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.RecordDrop(s.name, "mailbox full")
			}
			continue
		}
		s.received.Add(1)
		if s.metrics != nil {
			s.metrics.RecordIngress(s.name)
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
