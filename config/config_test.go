package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/errors"
)

const validYAML = `
graph:
  name: edge-router
  workers: 4
  default_capacity: 32
processors:
  - name: ingress
    kind: channel_source
    config:
      capacity: 16
  - name: cls
    kind: tag_classify
    config:
      key: tag
      values: [a, b]
  - name: drop
    kind: blackhole
  - name: egress
    kind: channel_sink
links:
  - from: ingress.out
    to: cls.in
  - from: cls.a
    to: egress.in
    capacity: 64
  - from: cls.b
    to: drop.in
  - from: cls.other
    to: drop.in
`

func TestParseYAML(t *testing.T) {
	cfg, err := ParseYAML([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "edge-router", cfg.Graph.Name)
	assert.Equal(t, 4, cfg.Graph.Workers)
	assert.Equal(t, 32, cfg.Graph.DefaultCapacity)
	require.Len(t, cfg.Processors, 4)
	assert.Equal(t, "tag_classify", cfg.Processors[1].Kind)
	require.Len(t, cfg.Links, 4)
	assert.Equal(t, 64, cfg.Links[1].Capacity)
}

func TestParseJSON(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{
		"graph": {"name": "minimal"},
		"processors": [
			{"name": "src", "kind": "channel_source"},
			{"name": "dst", "kind": "channel_sink"}
		],
		"links": [{"from": "src.out", "to": "dst.in"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "minimal", cfg.Graph.Name)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing graph name", `{"graph": {}, "processors": [{"name": "a", "kind": "k"}], "links": []}`},
		{"no processors", `{"graph": {"name": "g"}, "processors": [], "links": []}`},
		{"unknown top-level key", `{"graph": {"name": "g"}, "processors": [{"name": "a", "kind": "k"}], "links": [], "extra": 1}`},
		{"endpoint without port", `{"graph": {"name": "g"}, "processors": [{"name": "a", "kind": "k"}], "links": [{"from": "a", "to": "a.in"}]}`},
		{"zero capacity", `{"graph": {"name": "g"}, "processors": [{"name": "a", "kind": "k"}], "links": [{"from": "a.out", "to": "a.in", "capacity": 0}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseRejectsDuplicateProcessorName(t *testing.T) {
	_, err := ParseJSON([]byte(`{
		"graph": {"name": "g"},
		"processors": [
			{"name": "twin", "kind": "passthrough"},
			{"name": "twin", "kind": "passthrough"}
		],
		"links": []
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate processor name")
}

func TestParseRejectsUnknownLinkEndpoint(t *testing.T) {
	_, err := ParseJSON([]byte(`{
		"graph": {"name": "g"},
		"processors": [{"name": "src", "kind": "channel_source"}],
		"links": [{"from": "src.out", "to": "ghost.in"}]
	}`))
	assert.ErrorIs(t, err, errors.ErrUnknownProcessor)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := ParseYAML([]byte("graph: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEndpointSplitsAtLastDot(t *testing.T) {
	proc, port, err := endpoint("stage.two.out")
	require.NoError(t, err)
	assert.Equal(t, "stage.two", proc)
	assert.Equal(t, "out", port)

	for _, bad := range []string{"noport", ".in", "proc."} {
		_, _, err := endpoint(bad)
		assert.Error(t, err, "endpoint %q", bad)
	}
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "router.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(validYAML), 0o600))
	cfg, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "edge-router", cfg.Graph.Name)

	jsonPath := filepath.Join(dir, "router.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"graph": {"name": "from-json"},
		"processors": [{"name": "src", "kind": "channel_source"}],
		"links": []
	}`), 0o600))
	cfg, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "from-json", cfg.Graph.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
