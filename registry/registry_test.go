package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/processor"
	"github.com/c360/routekit/processor/passthrough"
)

func passthroughFactory(name string, _ json.RawMessage, _ Deps) (processor.Processor, error) {
	return passthrough.New(name), nil
}

func TestRegisterRejectsDuplicateKind(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", passthroughFactory))

	err := r.Register("echo", passthroughFactory)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterRejectsEmptyKindAndNilFactory(t *testing.T) {
	r := New()
	assert.Error(t, r.Register("", passthroughFactory))
	assert.Error(t, r.Register("echo", nil))
}

func TestCreateUnknownKind(t *testing.T) {
	_, err := New().Create("nope", "n", nil, Deps{})
	assert.ErrorIs(t, err, errors.ErrUnknownProcessor)
}

func TestCreateBuiltins(t *testing.T) {
	r := New()
	require.NoError(t, RegisterBuiltins(r))

	cases := []struct {
		kind string
		raw  string
	}{
		{"passthrough", ""},
		{"counter", ""},
		{"dec_ttl", ""},
		{"tag_classify", `{"key":"tag","values":["a","b"]}`},
		{"rate_limit", `{"packets_per_second":100}`},
		{"fork", `{"outputs":3}`},
		{"join", `{"inputs":2}`},
		{"channel_source", `{"capacity":8}`},
		{"channel_sink", `{"capacity":8}`},
		{"blackhole", ""},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			var raw json.RawMessage
			if tc.raw != "" {
				raw = json.RawMessage(tc.raw)
			}
			p, err := r.Create(tc.kind, "instance", raw, Deps{})
			require.NoError(t, err)
			assert.Equal(t, "instance", p.Name())
			assert.NotEmpty(t, p.Ports())
		})
	}
}

func TestCreateBuiltinRejectsBadConfig(t *testing.T) {
	r := New()
	require.NoError(t, RegisterBuiltins(r))

	// tag_classify needs a key; fork needs at least one output.
	_, err := r.Create("tag_classify", "cls", json.RawMessage(`{"values":["a"]}`), Deps{})
	assert.Error(t, err)
	_, err = r.Create("fork", "f", json.RawMessage(`{"outputs":0}`), Deps{})
	assert.Error(t, err)
	_, err = r.Create("rate_limit", "rl", json.RawMessage(`not json`), Deps{})
	assert.Error(t, err)
}

func TestKindsSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("zeta", passthroughFactory))
	require.NoError(t, r.Register("alpha", passthroughFactory))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Kinds())
}
