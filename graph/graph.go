package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/routekit/engine"
	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/processor"
)

// State tracks graph lifecycle transitions.
type State int

// Graph lifecycle states
const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// graph status gauge values
const (
	statusStopped  = 0
	statusStarting = 1
	statusRunning  = 2
	statusStopping = 3
	statusFailed   = 4
)

// Graph is a validated, runnable topology. Obtain one from Builder.Build;
// the zero value is not usable.
//
// Lifecycle is Initialize, Start, Stop. Initialize runs one-time setup
// hooks, Start opens external resources and launches the scheduler, Stop
// drains and tears down. Stop after Start is required for clean resource
// release even when every task has already terminated on its own.
type Graph struct {
	name    string
	logger  *slog.Logger
	sched   *engine.Scheduler
	metrics *metric.Metrics

	nodes []*node
	edges []*edge

	// sources-first; Stop walks it forwards so ingress closes before the
	// processors downstream of it.
	stopOrder []NodeID

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Name returns the graph's configured name.
func (g *Graph) Name() string { return g.name }

// State returns the current lifecycle state.
func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Processor returns the processor registered under id. Useful for reaching
// adapter endpoints (Submit/Receive) after building from config.
func (g *Graph) Processor(id NodeID) processor.Processor {
	if int(id) < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id].proc
}

// Initialize runs one-time setup on every processor that wants it. Must be
// called before Start.
func (g *Graph) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Graph", "Initialize",
			"lifecycle check in state "+g.state.String())
	}

	for _, n := range g.nodes {
		init, ok := n.proc.(processor.Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(); err != nil {
			g.state = StateFailed
			return errors.Wrap(err, "Graph", "Initialize", "initialize "+n.name())
		}
	}

	g.state = StateInitialized
	g.logger.Info("graph initialized", "processors", len(g.nodes), "links", len(g.edges))
	return nil
}

// Start opens external resources and launches the scheduler. Egress-side
// processors start before ingress-side ones so a packet accepted at ingress
// always has a live path out.
func (g *Graph) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateInitialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Graph", "Start",
			"lifecycle check in state "+g.state.String())
	}
	g.setStatus(statusStarting)

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	for i := len(g.stopOrder) - 1; i >= 0; i-- {
		n := g.nodes[g.stopOrder[i]]
		starter, ok := n.proc.(processor.Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			g.state = StateFailed
			g.setStatus(statusFailed)
			cancel()
			return errors.Wrap(err, "Graph", "Start", "start "+n.name())
		}
	}

	if err := g.sched.Start(ctx); err != nil {
		g.state = StateFailed
		g.setStatus(statusFailed)
		cancel()
		return errors.Wrap(err, "Graph", "Start", "start scheduler")
	}

	g.state = StateStarted
	g.setStatus(statusRunning)
	g.logger.Info("graph started")
	return nil
}

// Stop shuts the graph down: ingress processors first so no new packets
// enter, then a bounded drain while tasks run the backlog out, then the
// scheduler, then disposal of whatever the drain window did not cover.
// Packets discarded at teardown are accounted as drops.
func (g *Graph) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateStarted:
	case StateStopped:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Graph", "Stop",
			"lifecycle check in state "+g.state.String())
	}
	g.setStatus(statusStopping)

	deadline := time.Now().Add(timeout)

	var firstErr error
	for _, id := range g.stopOrder {
		n := g.nodes[id]
		stopper, ok := n.proc.(processor.Stopper)
		if !ok {
			continue
		}
		remaining := max(time.Until(deadline), 0)
		if err := stopper.Stop(remaining); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Graph", "Stop", "stop "+n.name())
		}
	}

	// With ingress closed, closure propagates downstream; give in-flight
	// packets the rest of the window to reach egress.
	if err := g.sched.WaitIdle(max(time.Until(deadline), 0)); err != nil {
		g.logger.Warn("drain window elapsed with tasks live",
			"tasks_live", g.sched.LiveTasks())
		if firstErr == nil {
			firstErr = err
		}
	}

	if g.cancel != nil {
		g.cancel()
	}
	g.sched.Stop()

	dropped := 0
	for _, e := range g.edges {
		if e.queue != nil {
			n := e.queue.Drain()
			if n > 0 && g.metrics != nil {
				g.metrics.RecordDrops(g.nodes[e.from].name(), "teardown", n)
			}
			dropped += n
		}
	}

	g.state = StateStopped
	g.setStatus(statusStopped)
	g.logger.Info("graph stopped", "drained_packets", dropped)
	return firstErr
}

// setStatus feeds the status gauge; callers hold g.mu.
func (g *Graph) setStatus(status int) {
	if g.metrics != nil {
		g.metrics.RecordGraphStatus(g.name, status)
	}
}
