package registry

import (
	"encoding/json"

	"github.com/c360/routekit/errors"
	channelin "github.com/c360/routekit/input/channel"
	natsin "github.com/c360/routekit/input/natsio"
	udpin "github.com/c360/routekit/input/udp"
	wsin "github.com/c360/routekit/input/websocket"
	"github.com/c360/routekit/output/blackhole"
	channelout "github.com/c360/routekit/output/channel"
	natsout "github.com/c360/routekit/output/natsio"
	udpout "github.com/c360/routekit/output/udp"
	"github.com/c360/routekit/processor"
	"github.com/c360/routekit/processor/counter"
	"github.com/c360/routekit/processor/decttl"
	"github.com/c360/routekit/processor/fork"
	"github.com/c360/routekit/processor/join"
	"github.com/c360/routekit/processor/passthrough"
	"github.com/c360/routekit/processor/ratelimit"
	"github.com/c360/routekit/processor/tagclassify"
)

// elemConfig is shared by kinds whose only option is the port element type.
type elemConfig struct {
	Elem string `json:"elem"`
}

// fanConfig is shared by fork and join.
type fanConfig struct {
	Outputs int `json:"outputs"`
	Inputs  int `json:"inputs"`
}

// capacityConfig is shared by the channel adapters.
type capacityConfig struct {
	Capacity int `json:"capacity"`
}

func decode(raw json.RawMessage, into any, kind string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.WrapInvalid(err, "Registry", "RegisterBuiltins", kind+" config unmarshal")
	}
	return nil
}

// RegisterBuiltins registers every processor and adapter kind this module
// ships. Deployments embedding the router add their own kinds afterwards.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Factory{
		"passthrough": func(name string, _ json.RawMessage, _ Deps) (processor.Processor, error) {
			return passthrough.New(name), nil
		},

		"counter": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg elemConfig
			if err := decode(raw, &cfg, "counter"); err != nil {
				return nil, err
			}
			if cfg.Elem == "" {
				return counter.New(name), nil
			}
			return counter.NewElem(name, cfg.Elem), nil
		},

		"dec_ttl": func(name string, _ json.RawMessage, _ Deps) (processor.Processor, error) {
			return decttl.New(name), nil
		},

		"tag_classify": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg tagclassify.Config
			if err := decode(raw, &cfg, "tag_classify"); err != nil {
				return nil, err
			}
			return tagclassify.New(name, cfg)
		},

		"rate_limit": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg ratelimit.Config
			if err := decode(raw, &cfg, "rate_limit"); err != nil {
				return nil, err
			}
			return ratelimit.New(name, cfg)
		},

		"fork": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg fanConfig
			if err := decode(raw, &cfg, "fork"); err != nil {
				return nil, err
			}
			return fork.New(name, cfg.Outputs)
		},

		"join": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg fanConfig
			if err := decode(raw, &cfg, "join"); err != nil {
				return nil, err
			}
			return join.New(name, cfg.Inputs)
		},

		"channel_source": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg capacityConfig
			if err := decode(raw, &cfg, "channel_source"); err != nil {
				return nil, err
			}
			return channelin.New(name, cfg.Capacity), nil
		},

		"channel_sink": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg capacityConfig
			if err := decode(raw, &cfg, "channel_sink"); err != nil {
				return nil, err
			}
			return channelout.New(name, cfg.Capacity), nil
		},

		"udp_source": func(name string, raw json.RawMessage, deps Deps) (processor.Processor, error) {
			var cfg udpin.Config
			if err := decode(raw, &cfg, "udp_source"); err != nil {
				return nil, err
			}
			return udpin.New(udpin.Deps{
				Name: name, Config: cfg,
				Logger: deps.Logger, MetricsRegistry: deps.MetricsRegistry,
			})
		},

		"udp_sink": func(name string, raw json.RawMessage, deps Deps) (processor.Processor, error) {
			var cfg udpout.Config
			if err := decode(raw, &cfg, "udp_sink"); err != nil {
				return nil, err
			}
			return udpout.New(udpout.Deps{
				Name: name, Config: cfg,
				Logger: deps.Logger, MetricsRegistry: deps.MetricsRegistry,
			})
		},

		"nats_source": func(name string, raw json.RawMessage, deps Deps) (processor.Processor, error) {
			var cfg natsin.Config
			if err := decode(raw, &cfg, "nats_source"); err != nil {
				return nil, err
			}
			return natsin.New(natsin.Deps{
				Name: name, Config: cfg, Conn: deps.NATSConn,
				Logger: deps.Logger, MetricsRegistry: deps.MetricsRegistry,
			})
		},

		"nats_sink": func(name string, raw json.RawMessage, deps Deps) (processor.Processor, error) {
			var cfg natsout.Config
			if err := decode(raw, &cfg, "nats_sink"); err != nil {
				return nil, err
			}
			return natsout.New(natsout.Deps{
				Name: name, Config: cfg, Conn: deps.NATSConn,
				Logger: deps.Logger, MetricsRegistry: deps.MetricsRegistry,
			})
		},

		"websocket_source": func(name string, raw json.RawMessage, deps Deps) (processor.Processor, error) {
			var cfg wsin.Config
			if err := decode(raw, &cfg, "websocket_source"); err != nil {
				return nil, err
			}
			return wsin.New(wsin.Deps{
				Name: name, Config: cfg,
				Logger: deps.Logger, MetricsRegistry: deps.MetricsRegistry,
			})
		},

		"blackhole": func(name string, raw json.RawMessage, _ Deps) (processor.Processor, error) {
			var cfg elemConfig
			if err := decode(raw, &cfg, "blackhole"); err != nil {
				return nil, err
			}
			if cfg.Elem == "" {
				return blackhole.New(name), nil
			}
			return blackhole.NewElem(name, cfg.Elem), nil
		},
	}

	for kind, factory := range builtins {
		if err := r.Register(kind, factory); err != nil {
			return err
		}
	}
	return nil
}
