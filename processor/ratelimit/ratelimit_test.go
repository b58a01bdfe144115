package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/processor"
	"github.com/c360/routekit/testutil"
)

func TestNewValidatesRate(t *testing.T) {
	for _, pps := range []float64{0, -1} {
		_, err := New("rl", Config{PacketsPerSecond: pps})
		assert.Error(t, err, "rate %v", pps)
	}
}

func TestPollForwardsWithinBurst(t *testing.T) {
	r, err := New("rl", Config{PacketsPerSecond: 1, Burst: 3})
	require.NoError(t, err)
	ec := testutil.NewExec(1, 1, 8, 8)

	ec.Feed(0, testutil.Payloads("a", "b", "c")...)
	assert.Equal(t, processor.PollPending, r.Poll(ec))

	// All three fit in the initial burst with no delay.
	assert.Len(t, ec.DrainOut(0), 3)
}

func TestPollHoldsWhenBucketEmpty(t *testing.T) {
	r, err := New("rl", Config{PacketsPerSecond: 0.1, Burst: 1})
	require.NoError(t, err)
	ec := testutil.NewExec(1, 1, 8, 8)

	ec.Feed(0, testutil.Payloads("now", "later")...)
	assert.Equal(t, processor.PollPending, r.Poll(ec))

	// The first packet rides the initial token; the second waits on the
	// bucket, held by the processor rather than dropped.
	assert.Len(t, ec.DrainOut(0), 1)
	assert.Equal(t, 0, ec.Ins[0].Depth())

	// Repolling before the reservation matures delivers nothing and arms
	// a timer wake instead of spinning.
	assert.Equal(t, processor.PollPending, r.Poll(ec))
	assert.Empty(t, ec.DrainOut(0))
}

func TestPollDeliversHeldPacketWhenReady(t *testing.T) {
	r, err := New("rl", Config{PacketsPerSecond: 50, Burst: 1})
	require.NoError(t, err)
	ec := testutil.NewExec(1, 1, 8, 8)

	ec.Feed(0, testutil.Payloads("now", "soon")...)
	r.Poll(ec)
	require.Len(t, ec.DrainOut(0), 1)

	// 50 pps means the held packet matures within tens of milliseconds.
	require.Eventually(t, func() bool {
		r.Poll(ec)
		return len(ec.DrainOut(0)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollClosureCascades(t *testing.T) {
	r, err := New("rl", Config{PacketsPerSecond: 100, Burst: 10})
	require.NoError(t, err)
	ec := testutil.NewExec(1, 1, 8, 8)

	ec.Feed(0, testutil.Payloads("last")...)
	ec.Ins[0].Close()

	assert.Equal(t, processor.PollDone, r.Poll(ec))
	assert.Len(t, ec.DrainOut(0), 1)
	_, res := ec.Outs[0].TryPull()
	assert.Equal(t, link.PullClosed, res)
}
