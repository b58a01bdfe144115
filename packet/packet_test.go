package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsMetadata(t *testing.T) {
	before := time.Now()
	p := New([]byte("payload"), WithIngressPort("eth0"))

	assert.NotEmpty(t, p.Meta.TraceID)
	assert.Equal(t, "eth0", p.Meta.IngressPort)
	assert.False(t, p.Meta.IngressTime.Before(before))
	assert.Equal(t, 7, p.Len())
}

func TestAnnotations(t *testing.T) {
	p := New(nil)

	_, ok := p.Annotation("tag")
	assert.False(t, ok)
	assert.Nil(t, p.Annotations())

	p.SetAnnotation("tag", "red")
	v, ok := p.Annotation("tag")
	require.True(t, ok)
	assert.Equal(t, "red", v)

	// Annotations() hands out a copy, not the live map.
	snap := p.Annotations()
	snap["tag"] = "mutated"
	v, _ = p.Annotation("tag")
	assert.Equal(t, "red", v)
}

func TestCloneIsIndependent(t *testing.T) {
	p := New([]byte("shared"), WithIngressPort("eth0"))
	p.SetAnnotation("tag", "orig")

	c := p.Clone()
	assert.NotEqual(t, p.Meta.TraceID, c.Meta.TraceID, "clones get a fresh trace id")
	assert.Equal(t, p.Meta.IngressPort, c.Meta.IngressPort)

	c.Data[0] = 'X'
	c.SetAnnotation("tag", "branch")
	assert.Equal(t, "shared", string(p.Data))
	v, _ := p.Annotation("tag")
	assert.Equal(t, "orig", v)
}
