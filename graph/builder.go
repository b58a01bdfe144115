// Package graph composes processors and links into a runnable router.
//
// The builder is the only way to wire a topology: it owns every processor
// and link, addresses processors by stable id, and rejects invalid wiring
// (double-used ports, direction errors, element-type mismatches, unconnected
// ports, synchronous cycles) at construction time rather than at runtime.
//
// Queues exist at task boundaries: an edge leaving an asynchronous
// processor or a classifier carries a bounded queue, while an edge leaving
// a transformer is inline, executed as part of the downstream task's pull
// cascade.
package graph

import (
	"fmt"
	"log/slog"

	"github.com/c360/routekit/engine"
	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/link"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/processor"
)

// DefaultQueueCapacity bounds in-flight packets on a link when no explicit
// capacity is configured.
const DefaultQueueCapacity = 10

// NodeID addresses a processor within its graph.
type NodeID int

type nodeKind int

const (
	kindAsync nodeKind = iota
	kindTransformer
	kindClassifier
)

type node struct {
	id   NodeID
	proc processor.Processor
	kind nodeKind

	inSpecs  []processor.PortSpec
	outSpecs []processor.PortSpec

	// edge index per port, -1 while unconnected
	inEdges  []int
	outEdges []int
}

func (n *node) name() string { return n.proc.Name() }

type edge struct {
	from     NodeID
	fromPort int // output index on from
	to       NodeID
	toPort   int // input index on to

	capacity    int
	explicitCap bool

	queued bool
	queue  *link.Queue
}

// Builder accumulates processors and connections, then validates and
// produces a Graph.
type Builder struct {
	name    string
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	workers int
	defCap  int

	nodes []*node
	edges []*edge
	err   error // first registration error, reported by Build
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the structured logger for the graph and its scheduler.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics wires the graph into a metrics registry.
func WithMetrics(reg *metric.MetricsRegistry) BuilderOption {
	return func(b *Builder) { b.metrics = reg }
}

// WithWorkers sets the scheduler worker pool size.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) { b.workers = n }
}

// WithDefaultCapacity overrides DefaultQueueCapacity for this graph.
func WithDefaultCapacity(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.defCap = n
		}
	}
}

// ConnectOption configures a single connection.
type ConnectOption func(*edge)

// WithCapacity sets the queue capacity for this link. Only valid on edges
// that carry a queue (producer is asynchronous or a classifier).
func WithCapacity(n int) ConnectOption {
	return func(e *edge) {
		e.capacity = n
		e.explicitCap = true
	}
}

// NewBuilder creates a builder for a named graph.
func NewBuilder(name string, opts ...BuilderOption) *Builder {
	b := &Builder{
		name:   name,
		logger: slog.Default(),
		defCap: DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers a processor and returns its id. The processor must
// implement exactly one of Async, Transformer, or Classifier.
func (b *Builder) Add(proc processor.Processor) NodeID {
	id := NodeID(len(b.nodes))
	n := &node{id: id, proc: proc}

	switch proc.(type) {
	case processor.Async:
		n.kind = kindAsync
	case processor.Classifier:
		n.kind = kindClassifier
	case processor.Transformer:
		n.kind = kindTransformer
	default:
		b.fail(errors.WrapInvalid(
			fmt.Errorf("processor %s implements no execution contract", proc.Name()),
			"Builder", "Add", "processor kind detection"))
	}

	for _, spec := range proc.Ports() {
		switch spec.Direction {
		case processor.DirectionInput:
			n.inSpecs = append(n.inSpecs, spec)
			n.inEdges = append(n.inEdges, -1)
		case processor.DirectionOutput:
			n.outSpecs = append(n.outSpecs, spec)
			n.outEdges = append(n.outEdges, -1)
		default:
			b.fail(errors.WrapInvalid(
				fmt.Errorf("port %s on %s has direction %q", spec.Name, proc.Name(), spec.Direction),
				"Builder", "Add", "port direction check"))
		}
	}

	if n.kind == kindTransformer && (len(n.inSpecs) != 1 || len(n.outSpecs) != 1) {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("transformer %s declares %d inputs and %d outputs, need 1 and 1",
				proc.Name(), len(n.inSpecs), len(n.outSpecs)),
			"Builder", "Add", "transformer port check"))
	}
	if n.kind == kindClassifier && len(n.inSpecs) != 1 {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("classifier %s declares %d inputs, need 1", proc.Name(), len(n.inSpecs)),
			"Builder", "Add", "classifier port check"))
	}

	b.nodes = append(b.nodes, n)
	return id
}

// Connect links an output port to an input port, addressed by port name.
func (b *Builder) Connect(from NodeID, fromPort string, to NodeID, toPort string, opts ...ConnectOption) {
	fn, err := b.node(from)
	if err != nil {
		b.fail(err)
		return
	}
	tn, err := b.node(to)
	if err != nil {
		b.fail(err)
		return
	}

	fp, fspec, err := findPort(fn.outSpecs, fromPort)
	if err != nil {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("%w: output %q on %s", errors.ErrUnknownPort, fromPort, fn.name()),
			"Builder", "Connect", "output port lookup"))
		return
	}
	tp, tspec, err := findPort(tn.inSpecs, toPort)
	if err != nil {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("%w: input %q on %s", errors.ErrUnknownPort, toPort, tn.name()),
			"Builder", "Connect", "input port lookup"))
		return
	}

	if fn.outEdges[fp] != -1 {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("%w: output %s.%s", errors.ErrPortInUse, fn.name(), fromPort),
			"Builder", "Connect", "output port use check"))
		return
	}
	if tn.inEdges[tp] != -1 {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("%w: input %s.%s", errors.ErrPortInUse, tn.name(), toPort),
			"Builder", "Connect", "input port use check"))
		return
	}
	if fspec.Elem != tspec.Elem {
		b.fail(errors.WrapInvalid(
			fmt.Errorf("%w: %s.%s carries %q, %s.%s expects %q",
				errors.ErrTypeMismatch, fn.name(), fromPort, fspec.Elem, tn.name(), toPort, tspec.Elem),
			"Builder", "Connect", "element type check"))
		return
	}

	e := &edge{from: from, fromPort: fp, to: to, toPort: tp}
	for _, opt := range opts {
		opt(e)
	}

	idx := len(b.edges)
	b.edges = append(b.edges, e)
	fn.outEdges[fp] = idx
	tn.inEdges[tp] = idx
}

// Build validates the topology, places queues, assembles the pull cascades,
// and returns a runnable Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyGraph, "Builder", "Build", "topology check")
	}

	// Every declared port must be connected; deliberate dropping needs an
	// explicit sink processor.
	for _, n := range b.nodes {
		for i, e := range n.inEdges {
			if e == -1 {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: input %s.%s", errors.ErrPortUnconnected, n.name(), n.inSpecs[i].Name),
					"Builder", "Build", "connectivity check")
			}
		}
		for i, e := range n.outEdges {
			if e == -1 {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: output %s.%s", errors.ErrPortUnconnected, n.name(), n.outSpecs[i].Name),
					"Builder", "Build", "connectivity check")
			}
		}
	}

	// Queue placement: a queue sits wherever the producer runs as a task.
	for _, e := range b.edges {
		producer := b.nodes[e.from]
		e.queued = producer.kind == kindAsync || producer.kind == kindClassifier
		if !e.queued && e.explicitCap {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s.%s -> %s.%s", errors.ErrInlineCapacity,
					producer.name(), producer.outSpecs[e.fromPort].Name,
					b.nodes[e.to].name(), b.nodes[e.to].inSpecs[e.toPort].Name),
				"Builder", "Build", "capacity placement check")
		}
		if e.queued {
			cap := b.defCap
			if e.explicitCap {
				cap = e.capacity
			}
			name := fmt.Sprintf("%s.%s->%s.%s",
				producer.name(), producer.outSpecs[e.fromPort].Name,
				b.nodes[e.to].name(), b.nodes[e.to].inSpecs[e.toPort].Name)
			e.queue = link.NewQueue(name, cap)
		}
	}

	// A cycle made only of inline edges would recurse forever during a
	// pull; feedback loops must pass through at least one queue.
	if err := b.checkInlineCycles(); err != nil {
		return nil, err
	}

	return b.assemble()
}

func (b *Builder) node(id NodeID) (*node, error) {
	if int(id) < 0 || int(id) >= len(b.nodes) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: id %d", errors.ErrUnknownProcessor, id),
			"Builder", "Connect", "processor lookup")
	}
	return b.nodes[id], nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func findPort(specs []processor.PortSpec, name string) (int, processor.PortSpec, error) {
	for i, s := range specs {
		if s.Name == name {
			return i, s, nil
		}
	}
	return -1, processor.PortSpec{}, errors.ErrUnknownPort
}

// checkInlineCycles runs a DFS over inline edges only.
func (b *Builder) checkInlineCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make([]int, len(b.nodes))

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		state[id] = inStack
		n := b.nodes[id]
		for _, ei := range n.outEdges {
			e := b.edges[ei]
			if e.queued {
				continue
			}
			switch state[e.to] {
			case inStack:
				return errors.WrapInvalid(
					fmt.Errorf("synchronous cycle through %s", b.nodes[e.to].name()),
					"Builder", "Build", "cycle check")
			case unvisited:
				if err := visit(e.to); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for id := range b.nodes {
		if state[id] == unvisited {
			if err := visit(NodeID(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// assemble builds pull cascades, tasks, and the scheduler.
func (b *Builder) assemble() (*Graph, error) {
	sched := engine.NewScheduler(b.logger,
		engine.WithWorkers(b.workers),
		engine.WithMetrics(b.metrics),
	)

	g := &Graph{
		name:    b.name,
		logger:  b.logger.With("graph", b.name),
		sched:   sched,
		nodes:   b.nodes,
		edges:   b.edges,
		metrics: sched.Metrics(),
	}

	onFault := func(name string, err error) {
		g.logger.Error("processor fault, closing its links", "processor", name, "error", err)
		if g.metrics != nil {
			g.metrics.RecordFault(name)
		}
	}

	// resolvePuller returns the consumer-side puller for an edge together
	// with the queue(s) the cascade bottoms out in, for fault closing.
	var resolvePuller func(ei int) (link.Puller, []func())
	resolvePuller = func(ei int) (link.Puller, []func()) {
		e := b.edges[ei]
		if e.queued {
			e.queue.BindConsumer(b.nodes[e.to].name())
			return e.queue, []func(){e.queue.Close}
		}
		producer := b.nodes[e.from]
		src, closers := resolvePuller(producer.inEdges[0])
		t := producer.proc.(processor.Transformer)
		return engine.NewTransformPuller(t, src, onFault), closers
	}

	for _, n := range b.nodes {
		var async processor.Async
		switch n.kind {
		case kindAsync:
			async = n.proc.(processor.Async)
		case kindClassifier:
			async = engine.NewClassifyDriver(n.proc.(processor.Classifier))
		case kindTransformer:
			continue // runs inline in its consumer's cascade
		}

		var (
			ins     []link.Puller
			outs    []link.Pusher
			closers []func()
		)
		for _, ei := range n.inEdges {
			p, cs := resolvePuller(ei)
			ins = append(ins, p)
			closers = append(closers, cs...)
		}
		for _, ei := range n.outEdges {
			q := b.edges[ei].queue
			q.BindProducer(n.name())
			if g.metrics != nil {
				name := q.Name()
				g.metrics.RecordQueueDepth(name, 0, q.Capacity())
				q.SetDepthHook(func(depth, capacity int) {
					g.metrics.RecordQueueDepth(name, depth, capacity)
				})
			}
			outs = append(outs, q)
		}

		sched.Add(async, ins, outs, closers)
	}

	g.stopOrder = b.topoOrder()
	return g, nil
}

// topoOrder returns node ids sources-first (Kahn over all edges). Nodes on
// feedback cycles come last in insertion order.
func (b *Builder) topoOrder() []NodeID {
	indeg := make([]int, len(b.nodes))
	for _, e := range b.edges {
		indeg[e.to]++
	}

	var order []NodeID
	var ready []NodeID
	for id := range b.nodes {
		if indeg[id] == 0 {
			ready = append(ready, NodeID(id))
		}
	}
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, ei := range b.nodes[id].outEdges {
			e := b.edges[ei]
			indeg[e.to]--
			if indeg[e.to] == 0 {
				ready = append(ready, e.to)
			}
		}
	}

	if len(order) < len(b.nodes) {
		seen := make(map[NodeID]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for id := range b.nodes {
			if !seen[NodeID(id)] {
				order = append(order, NodeID(id))
			}
		}
	}
	return order
}
