package config

import (
	"github.com/c360/routekit/errors"
	"github.com/c360/routekit/graph"
	"github.com/c360/routekit/registry"
)

// BuildGraph instantiates every processor through the registry and wires
// the described topology. The returned map resolves processor names to
// node ids, so callers can reach adapter endpoints after the build.
func BuildGraph(cfg *Config, reg *registry.Registry, deps registry.Deps) (*graph.Graph, map[string]graph.NodeID, error) {
	opts := []graph.BuilderOption{
		graph.WithLogger(deps.GetLogger()),
	}
	if deps.MetricsRegistry != nil {
		opts = append(opts, graph.WithMetrics(deps.MetricsRegistry))
	}
	if cfg.Graph.Workers > 0 {
		opts = append(opts, graph.WithWorkers(cfg.Graph.Workers))
	}
	if cfg.Graph.DefaultCapacity > 0 {
		opts = append(opts, graph.WithDefaultCapacity(cfg.Graph.DefaultCapacity))
	}

	b := graph.NewBuilder(cfg.Graph.Name, opts...)

	ids := make(map[string]graph.NodeID, len(cfg.Processors))
	for _, pc := range cfg.Processors {
		raw, err := pc.rawConfig()
		if err != nil {
			return nil, nil, err
		}
		proc, err := reg.Create(pc.Kind, pc.Name, raw, deps)
		if err != nil {
			return nil, nil, errors.Wrap(err, "Config", "BuildGraph", "create "+pc.Name)
		}
		ids[pc.Name] = b.Add(proc)
	}

	for _, lc := range cfg.Links {
		fromProc, fromPort, err := endpoint(lc.From)
		if err != nil {
			return nil, nil, err
		}
		toProc, toPort, err := endpoint(lc.To)
		if err != nil {
			return nil, nil, err
		}

		var connOpts []graph.ConnectOption
		if lc.Capacity > 0 {
			connOpts = append(connOpts, graph.WithCapacity(lc.Capacity))
		}
		b.Connect(ids[fromProc], fromPort, ids[toProc], toPort, connOpts...)
	}

	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, ids, nil
}
