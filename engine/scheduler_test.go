package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// mover is the minimal asynchronous processor: one in, one out.
type mover struct {
	name    string
	pending *packet.Packet
}

func (m *mover) Name() string { return m.name }

func (m *mover) Ports() []processor.PortSpec {
	return []processor.PortSpec{
		processor.InputPort("in", processor.ElemPacket),
		processor.OutputPort("out", processor.ElemPacket),
	}
}

func (m *mover) Poll(ec processor.ExecContext) processor.PollStatus {
	for {
		if m.pending != nil {
			switch ec.Out(0).TryPush(m.pending) {
			case link.PushFull:
				ec.Out(0).WakeOnSpace(ec.Waker())
				return processor.PollPending
			case link.PushClosed:
				ec.Drop("output closed")
			case link.PushAccepted:
			}
			m.pending = nil
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
		m.pending = p
	}
}

// panicker blows up on its first poll.
type panicker struct{ mover }

func (p *panicker) Poll(processor.ExecContext) processor.PollStatus {
	panic("poll exploded")
}

func testLogger() *slog.Logger { return slog.Default() }

func TestSchedulerMovesPacketsThroughPipeline(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(2))

	in := link.NewQueue("in", 16)
	mid := link.NewQueue("mid", 16)
	out := link.NewQueue("out", 16)
	sched.Add(&mover{name: "first"}, []link.Puller{in}, []link.Pusher{mid}, []func(){in.Close})
	sched.Add(&mover{name: "second"}, []link.Puller{mid}, []link.Pusher{out}, []func(){mid.Close})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	sent := make([]*packet.Packet, 5)
	for i := range sent {
		sent[i] = packet.New([]byte{byte(i)})
		require.Equal(t, link.PushAccepted, in.TryPush(sent[i]))
	}
	in.Close()

	// Closure cascades through both movers once the packets are through.
	require.Eventually(t, func() bool { return sched.LiveTasks() == 0 },
		time.Second, time.Millisecond)
	require.NoError(t, sched.WaitIdle(time.Second))

	for i := range sent {
		got, res := out.TryPull()
		require.Equal(t, link.PullOK, res)
		assert.Same(t, sent[i], got, "order across the pipeline is FIFO")
	}
	_, res := out.TryPull()
	assert.Equal(t, link.PullClosed, res)
}

func TestSchedulerBackpressureSuspendsProducer(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(1))

	in := link.NewQueue("in", 16)
	out := link.NewQueue("out", 2)
	sched.Add(&mover{name: "only"}, []link.Puller{in}, []link.Pusher{out}, []func(){in.Close})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	for i := 0; i < 5; i++ {
		require.Equal(t, link.PushAccepted, in.TryPush(packet.New([]byte{byte(i)})))
	}

	// Capacity 2 downstream plus one held in the mover: the rest stay
	// upstream until the consumer pulls.
	require.Eventually(t, func() bool { return in.Depth() == 2 },
		time.Second, time.Millisecond)
	assert.Equal(t, 2, out.Depth())

	_, res := out.TryPull()
	require.Equal(t, link.PullOK, res)
	require.Eventually(t, func() bool { return in.Depth() == 1 },
		time.Second, time.Millisecond, "one pull admits exactly one more packet")
	assert.Equal(t, 2, out.Depth())
}

func TestSchedulerFaultIsolation(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(2))

	// Faulty branch.
	badIn := link.NewQueue("bad-in", 4)
	badOut := link.NewQueue("bad-out", 4)
	sched.Add(&panicker{mover{name: "bad"}}, []link.Puller{badIn}, []link.Pusher{badOut}, []func(){badIn.Close})

	// Healthy branch keeps flowing.
	goodIn := link.NewQueue("good-in", 4)
	goodOut := link.NewQueue("good-out", 4)
	sched.Add(&mover{name: "good"}, []link.Puller{goodIn}, []link.Pusher{goodOut}, []func(){goodIn.Close})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// The fault closes the bad branch's links so neighbors observe Closed.
	require.Eventually(t, func() bool {
		_, res := badOut.TryPull()
		return res == link.PullClosed
	}, time.Second, time.Millisecond)
	assert.True(t, badIn.Closed(), "input source closes so upstream unblocks")

	p := packet.New([]byte("still alive"))
	require.Equal(t, link.PushAccepted, goodIn.TryPush(p))
	require.Eventually(t, func() bool {
		got, res := goodOut.TryPull()
		return res == link.PullOK && got == p
	}, time.Second, time.Millisecond, "unrelated branch is unaffected by the fault")
}

func TestSchedulerWaitIdleTimeout(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(1))

	in := link.NewQueue("in", 4)
	out := link.NewQueue("out", 4)
	sched.Add(&mover{name: "waiting"}, []link.Puller{in}, []link.Pusher{out}, []func(){in.Close})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// The task never terminates: upstream stays open and empty.
	err := sched.WaitIdle(20 * time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, sched.LiveTasks())
}

func TestSchedulerDoubleStartRejected(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(1))
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	assert.Error(t, sched.Start(context.Background()))
}

func TestTaskWakeCollapses(t *testing.T) {
	sched := NewScheduler(testLogger(), WithWorkers(1))
	in := link.NewQueue("in", 4)
	out := link.NewQueue("out", 4)
	task := sched.Add(&mover{name: "collapse"}, []link.Puller{in}, []link.Pusher{out}, []func(){in.Close})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// A storm of wakes must never queue the task more than once at a
	// time; the run queue has a slot per task plus one, so overflow would
	// deadlock the lone worker here.
	for i := 0; i < 1000; i++ {
		task.Wake()
	}
	require.Equal(t, link.PushAccepted, in.TryPush(packet.New([]byte("w"))))
	require.Eventually(t, func() bool {
		_, res := out.TryPull()
		return res == link.PullOK
	}, time.Second, time.Millisecond)
}
