package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/processor"
	"github.com/c360/routekit/testutil"
)

func TestNewRejectsZeroInputs(t *testing.T) {
	_, err := New("j", 0)
	assert.Error(t, err)
}

func TestJoinMergesAllInputs(t *testing.T) {
	j, err := New("j", 3)
	require.NoError(t, err)
	ec := testutil.NewExec(3, 1, 16, 16)

	ec.Feed(0, testutil.Payloads("a1", "a2")...)
	ec.Feed(1, testutil.Payloads("b1")...)
	ec.Feed(2, testutil.Payloads("c1")...)

	assert.Equal(t, processor.PollPending, j.Poll(ec))

	got := ec.DrainOut(0)
	require.Len(t, got, 4)

	var payloads []string
	for _, p := range got {
		payloads = append(payloads, string(p.Data))
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "b1", "c1"}, payloads)
	assert.Less(t, indexOf(payloads, "a1"), indexOf(payloads, "a2"),
		"per-input order is preserved")
}

func TestJoinRoundRobinAvoidsStarvation(t *testing.T) {
	j, err := New("j", 2)
	require.NoError(t, err)
	ec := testutil.NewExec(2, 1, 16, 16)

	ec.Feed(0, testutil.Payloads("busy1", "busy2", "busy3")...)
	ec.Feed(1, testutil.Payloads("quiet")...)
	j.Poll(ec)

	got := ec.DrainOut(0)
	require.Len(t, got, 4)
	// The cursor moves after every pull, so the quiet input is served
	// before the busy one is exhausted.
	assert.Equal(t, "quiet", string(got[1].Data))
}

func TestJoinSuspendsOnFullOutput(t *testing.T) {
	j, err := New("j", 2)
	require.NoError(t, err)
	ec := testutil.NewExec(2, 1, 2, 1)

	ec.Feed(0, testutil.Payloads("one")...)
	ec.Feed(1, testutil.Payloads("two")...)

	assert.Equal(t, processor.PollPending, j.Poll(ec))
	assert.Len(t, ec.DrainOut(0), 1)
	assert.Equal(t, processor.PollPending, j.Poll(ec))
	assert.Len(t, ec.DrainOut(0), 1)
}

func TestJoinClosesOutputWhenAllInputsClose(t *testing.T) {
	j, err := New("j", 2)
	require.NoError(t, err)
	ec := testutil.NewExec(2, 1, 16, 16)

	ec.Feed(0, testutil.Payloads("last")...)
	ec.Ins[0].Close()
	ec.Ins[1].Close()

	assert.Equal(t, processor.PollDone, j.Poll(ec))
	assert.Len(t, ec.DrainOut(0), 1)
	_, res := ec.Outs[0].TryPull()
	assert.Equal(t, link.PullClosed, res)
}

func TestJoinOneClosedInputKeepsMerging(t *testing.T) {
	j, err := New("j", 2)
	require.NoError(t, err)
	ec := testutil.NewExec(2, 1, 16, 16)

	ec.Ins[0].Close()
	ec.Feed(1, testutil.Payloads("still flowing")...)

	assert.Equal(t, processor.PollPending, j.Poll(ec))
	got := ec.DrainOut(0)
	require.Len(t, got, 1)
	assert.Equal(t, "still flowing", string(got[0].Data))
}

func indexOf(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
