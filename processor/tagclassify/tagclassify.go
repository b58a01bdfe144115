// Package tagclassify provides a classifier that routes packets on the
// value of a metadata annotation. Each configured value gets its own output
// port; packets whose annotation is missing or matches nothing go to the
// trailing "other" port.
package tagclassify

import (
	"fmt"

	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Config configures a tag classifier.
type Config struct {
	// Key is the annotation to inspect.
	Key string `json:"key" yaml:"key"`
	// Values lists the routed annotation values; output port i carries
	// packets whose annotation equals Values[i].
	Values []string `json:"values" yaml:"values"`
}

// Processor routes packets by annotation value.
type Processor struct {
	name   string
	key    string
	ports  []processor.PortSpec
	routes map[string]int
	other  int
}

var _ processor.Classifier = (*Processor)(nil)

// New creates a tag classifier. The output ports are named after the
// configured values, in order, followed by "other".
func New(name string, cfg Config) (*Processor, error) {
	if cfg.Key == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TagClassify", "New",
			"annotation key required")
	}
	if len(cfg.Values) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TagClassify", "New",
			"at least one routed value required")
	}

	ports := []processor.PortSpec{processor.InputPort("in", processor.ElemPacket)}
	routes := make(map[string]int, len(cfg.Values))
	for i, v := range cfg.Values {
		if _, dup := routes[v]; dup {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TagClassify", "New",
				fmt.Sprintf("duplicate routed value %q", v))
		}
		routes[v] = i
		ports = append(ports, processor.OutputPort(v, processor.ElemPacket))
	}
	ports = append(ports, processor.OutputPort("other", processor.ElemPacket))

	return &Processor{
		name:   name,
		key:    cfg.Key,
		ports:  ports,
		routes: routes,
		other:  len(cfg.Values),
	}, nil
}

// Name implements processor.Processor.
func (t *Processor) Name() string { return t.name }

// Ports implements processor.Processor.
func (t *Processor) Ports() []processor.PortSpec { return t.ports }

// Classify implements processor.Classifier.
func (t *Processor) Classify(p *packet.Packet) (int, error) {
	v, ok := p.Annotation(t.key)
	if !ok {
		return t.other, nil
	}
	if port, ok := t.routes[v]; ok {
		return port, nil
	}
	return t.other, nil
}
