package natsio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/processor"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"fixed subject", Config{Subject: "packets.out"}, true},
		{"annotation subject", Config{SubjectAnnotation: "nats.subject"}, true},
		{"both", Config{Subject: "packets.out", SubjectAnnotation: "nats.subject"}, true},
		{"neither", Config{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsInvalid(err))
			}
		})
	}
}

func TestNewRequiresConnection(t *testing.T) {
	_, err := New(Deps{Name: "sink", Config: Config{Subject: "packets.out"}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Deps{Name: "sink"})
	assert.Error(t, err)
}

func TestSinkDeclaresSingleInput(t *testing.T) {
	s := &Sink{name: "sink"}
	ports := s.Ports()
	require.Len(t, ports, 1)
	assert.Equal(t, "in", ports[0].Name)
	assert.Equal(t, processor.DirectionInput, ports[0].Direction)
}
