package tagclassify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/testutil"
)

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing key", Config{Values: []string{"a"}}},
		{"no values", Config{Key: "tag"}},
		{"duplicate value", Config{Key: "tag", Values: []string{"a", "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("cls", tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestPortsFollowConfiguredValues(t *testing.T) {
	c, err := New("cls", Config{Key: "tag", Values: []string{"red", "blue"}})
	require.NoError(t, err)

	ports := c.Ports()
	require.Len(t, ports, 4)
	assert.Equal(t, "in", ports[0].Name)
	assert.Equal(t, "red", ports[1].Name)
	assert.Equal(t, "blue", ports[2].Name)
	assert.Equal(t, "other", ports[3].Name)
}

func TestClassifyRoutesByAnnotation(t *testing.T) {
	c, err := New("cls", Config{Key: "tag", Values: []string{"red", "blue"}})
	require.NoError(t, err)

	cases := []struct {
		pkt  *packet.Packet
		port int
	}{
		{testutil.Tagged("red"), 0},
		{testutil.Tagged("blue"), 1},
		// unmatched values and missing annotations both land on "other"
		{testutil.Tagged("green"), 2},
		{packet.New([]byte("no annotation")), 2},
	}
	for _, tc := range cases {
		port, err := c.Classify(tc.pkt)
		require.NoError(t, err)
		assert.Equal(t, tc.port, port)
	}
}
