package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inchannel "github.com/c360/routekit/input/channel"
	"github.com/c360/routekit/link"
	outchannel "github.com/c360/routekit/output/channel"
	"github.com/c360/routekit/registry"
	"github.com/c360/routekit/testutil"
)

func builtinRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, registry.RegisterBuiltins(r))
	return r
}

func TestBuildGraphFromConfig(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
graph:
  name: config-built
  workers: 2
processors:
  - name: ingress
    kind: channel_source
    config:
      capacity: 8
  - name: cls
    kind: tag_classify
    config:
      key: tag
      values: [keep]
  - name: drop
    kind: blackhole
  - name: egress
    kind: channel_sink
    config:
      capacity: 8
links:
  - from: ingress.out
    to: cls.in
  - from: cls.keep
    to: egress.in
    capacity: 16
  - from: cls.other
    to: drop.in
`))
	require.NoError(t, err)

	g, ids, err := BuildGraph(cfg, builtinRegistry(t), registry.Deps{})
	require.NoError(t, err)
	require.Len(t, ids, 4)

	// The id map reaches the adapter endpoints behind the built graph.
	src, ok := g.Processor(ids["ingress"]).(*inchannel.Source)
	require.True(t, ok)
	sink, ok := g.Processor(ids["egress"]).(*outchannel.Sink)
	require.True(t, ok)

	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop(time.Second)

	require.Equal(t, link.PushAccepted, src.Submit(testutil.Tagged("keep")))
	require.Equal(t, link.PushAccepted, src.Submit(testutil.Tagged("toss")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sink.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got.Data))
}

func TestBuildGraphUnknownKind(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{
		"graph": {"name": "g"},
		"processors": [{"name": "x", "kind": "no_such_kind"}],
		"links": []
	}`))
	require.NoError(t, err)

	_, _, err = BuildGraph(cfg, builtinRegistry(t), registry.Deps{})
	assert.Error(t, err)
}

func TestBuildGraphBadTopology(t *testing.T) {
	// Parses cleanly but fails graph validation: the sink input is never
	// connected.
	cfg, err := ParseJSON([]byte(`{
		"graph": {"name": "g"},
		"processors": [
			{"name": "src", "kind": "channel_source"},
			{"name": "dst", "kind": "channel_sink"}
		],
		"links": []
	}`))
	require.NoError(t, err)

	_, _, err = BuildGraph(cfg, builtinRegistry(t), registry.Deps{})
	assert.Error(t, err)
}

func TestBuildGraphAppliesDefaultCapacity(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{
		"graph": {"name": "g", "default_capacity": 2},
		"processors": [
			{"name": "src", "kind": "channel_source", "config": {"capacity": 1}},
			{"name": "dst", "kind": "channel_sink", "config": {"capacity": 1}}
		],
		"links": [{"from": "src.out", "to": "dst.in"}]
	}`))
	require.NoError(t, err)

	g, ids, err := BuildGraph(cfg, builtinRegistry(t), registry.Deps{})
	require.NoError(t, err)

	src := g.Processor(ids["src"]).(*inchannel.Source)
	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))
	defer g.Stop(time.Second)

	// mailbox 1 + source hold 1 + link 2 + sink hold 1 + outbox 1.
	accepted := 0
	require.Eventually(t, func() bool {
		for src.Submit(testutil.Payloads("p")[0]) == link.PushAccepted {
			accepted++
		}
		return accepted == 6
	}, time.Second, time.Millisecond)
}
