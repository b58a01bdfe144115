package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// testTransformer applies fn to every packet.
type testTransformer struct {
	name string
	fn   func(*packet.Packet) ([]*packet.Packet, error)
}

func (t *testTransformer) Name() string { return t.name }

func (t *testTransformer) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemPacket),
		processor.OutputPort("out", processor.ElemPacket),
	}
}

func (t *testTransformer) Transform(p *packet.Packet) ([]*packet.Packet, error) {
	return t.fn(p)
}

func identity(name string) *testTransformer {
	return &testTransformer{name: name, fn: func(p *packet.Packet) ([]*packet.Packet, error) {
		return []*packet.Packet{p}, nil
	}}
}

func feed(t *testing.T, q *link.Queue, payloads ...string) []*packet.Packet {
	t.Helper()
	pkts := make([]*packet.Packet, len(payloads))
	for i, s := range payloads {
		pkts[i] = packet.New([]byte(s))
		require.Equal(t, link.PushAccepted, q.TryPush(pkts[i]))
	}
	return pkts
}

func TestChainPullerPassesThrough(t *testing.T) {
	src := link.NewQueue("src", 8)
	chain := NewTransformPuller(identity("id"), src, nil)

	pkts := feed(t, src, "a", "b", "c")
	for i := range pkts {
		got, res := chain.TryPull()
		require.Equal(t, link.PullOK, res)
		assert.Same(t, pkts[i], got)
	}

	_, res := chain.TryPull()
	assert.Equal(t, link.PullEmpty, res)
}

func TestChainPullerZeroOutputsRecursesUpstream(t *testing.T) {
	src := link.NewQueue("src", 8)
	dropOdd := &testTransformer{name: "drop-odd", fn: func(p *packet.Packet) ([]*packet.Packet, error) {
		if len(p.Data)%2 == 1 {
			return nil, nil
		}
		return []*packet.Packet{p}, nil
	}}
	chain := NewTransformPuller(dropOdd, src, nil)

	feed(t, src, "x", "keep", "y", "also", "z")

	// One pull skips over dropped packets in a single call; nothing is
	// fabricated for them.
	got, res := chain.TryPull()
	require.Equal(t, link.PullOK, res)
	assert.Equal(t, "keep", string(got.Data))

	got, res = chain.TryPull()
	require.Equal(t, link.PullOK, res)
	assert.Equal(t, "also", string(got.Data))

	_, res = chain.TryPull()
	assert.Equal(t, link.PullEmpty, res, "trailing dropped packet yields Empty, not a packet")
}

func TestChainPullerMultiOutputsServeSequentially(t *testing.T) {
	src := link.NewQueue("src", 8)
	duplicate := &testTransformer{name: "dup", fn: func(p *packet.Packet) ([]*packet.Packet, error) {
		clone := p.Clone()
		return []*packet.Packet{p, clone, clone.Clone()}, nil
	}}
	chain := NewTransformPuller(duplicate, src, nil)

	feed(t, src, "only")

	// Three sequential pulls succeed before upstream is consulted again.
	for i := 0; i < 3; i++ {
		got, res := chain.TryPull()
		require.Equal(t, link.PullOK, res, "pull %d", i)
		assert.Equal(t, "only", string(got.Data))
	}
	_, res := chain.TryPull()
	assert.Equal(t, link.PullEmpty, res)
}

func TestChainPullerNestedChains(t *testing.T) {
	src := link.NewQueue("src", 8)
	inner := NewTransformPuller(identity("inner"), src, nil)
	outer := NewTransformPuller(identity("outer"), inner, nil)

	pkts := feed(t, src, "1", "2")
	for i := range pkts {
		got, res := outer.TryPull()
		require.Equal(t, link.PullOK, res)
		assert.Same(t, pkts[i], got)
	}
}

func TestChainPullerClosedPropagates(t *testing.T) {
	src := link.NewQueue("src", 8)
	chain := NewTransformPuller(identity("id"), src, nil)

	feed(t, src, "last")
	src.Close()

	_, res := chain.TryPull()
	require.Equal(t, link.PullOK, res, "queued packet drains before closure")
	_, res = chain.TryPull()
	assert.Equal(t, link.PullClosed, res)
}

func TestChainPullerErrorIsolatesProcessor(t *testing.T) {
	src := link.NewQueue("src", 8)
	boom := errors.New("boom")
	failing := &testTransformer{name: "failing", fn: func(*packet.Packet) ([]*packet.Packet, error) {
		return nil, boom
	}}

	var faultName string
	var faultErr error
	chain := NewTransformPuller(failing, src, func(name string, err error) {
		faultName, faultErr = name, err
	})

	feed(t, src, "a", "b")

	_, res := chain.TryPull()
	assert.Equal(t, link.PullClosed, res, "a failed transformer reads as closed")
	assert.Equal(t, "failing", faultName)
	assert.ErrorIs(t, faultErr, boom)

	// Terminal from now on, even though upstream still has data.
	_, res = chain.TryPull()
	assert.Equal(t, link.PullClosed, res)
}

func TestChainPullerPanicBecomesFault(t *testing.T) {
	src := link.NewQueue("src", 8)
	panicking := &testTransformer{name: "panicking", fn: func(*packet.Packet) ([]*packet.Packet, error) {
		panic("transform exploded")
	}}

	var faultErr error
	chain := NewTransformPuller(panicking, src, func(_ string, err error) { faultErr = err })

	feed(t, src, "a")

	_, res := chain.TryPull()
	assert.Equal(t, link.PullClosed, res)
	require.Error(t, faultErr)
	assert.Contains(t, faultErr.Error(), "transform exploded")
}

func TestChainPullerInvariantViolationNotContained(t *testing.T) {
	src := link.NewQueue("src", 8)
	violating := &testTransformer{name: "violating", fn: func(*packet.Packet) ([]*packet.Packet, error) {
		panic(&link.InvariantError{Link: "src", Detail: "test violation"})
	}}
	chain := NewTransformPuller(violating, src, nil)

	feed(t, src, "a")

	defer func() {
		r := recover()
		require.NotNil(t, r, "invariant violations must escape the chain")
		_, ok := r.(*link.InvariantError)
		assert.True(t, ok, "panic value must stay *InvariantError, got %T", r)
	}()
	_, _ = chain.TryPull()
}

func TestChainPullerWakeDelegation(t *testing.T) {
	src := link.NewQueue("src", 2)
	chain := NewTransformPuller(identity("id"), src, nil)

	fired := 0
	chain.WakeOnData(func() { fired++ })
	assert.Zero(t, fired)

	feed(t, src, "a")
	assert.Equal(t, 1, fired, "upstream data must fire through the chain")
}

func TestChainPullerWakeImmediateWithPending(t *testing.T) {
	src := link.NewQueue("src", 8)
	duplicate := &testTransformer{name: "dup", fn: func(p *packet.Packet) ([]*packet.Packet, error) {
		return []*packet.Packet{p, p.Clone()}, nil
	}}
	chain := NewTransformPuller(duplicate, src, nil)

	feed(t, src, "a")
	_, res := chain.TryPull()
	require.Equal(t, link.PullOK, res)

	// A second output is pending inside the chain; the consumer must not
	// be parked on the (now empty) upstream queue.
	fired := 0
	chain.WakeOnData(func() { fired++ })
	assert.Equal(t, 1, fired)
}

func BenchmarkChainPullerDepth4(b *testing.B) {
	src := link.NewQueue("src", 1)
	var puller link.Puller = src
	for i := 0; i < 4; i++ {
		puller = NewTransformPuller(identity(fmt.Sprintf("t%d", i)), puller, nil)
	}
	p := packet.New([]byte("bench"))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src.TryPush(p)
		_, _ = puller.TryPull()
	}
}
