// Package routekit is a pull-based dataflow packet router. A router is a
// directed graph of processors connected by bounded links; packets enter
// through ingress adapters, flow through transformation and classification
// stages, and leave through egress adapters, with backpressure propagating
// from the slowest consumer all the way back to the ingress.
//
// # Architecture
//
// The module is organized around a small set of layers:
//
//   - packet: the unit of data moving through a graph, with metadata
//     annotations and protocol header views
//   - link: the bounded single-producer single-consumer queue connecting
//     stages, with non-blocking TryPush/TryPull and edge-triggered wakes
//   - processor: the processor contracts (Transformer, Classifier, Async)
//     and typed port declarations
//   - engine: the cooperative scheduler running asynchronous processors
//     over a fixed worker pool, and the drivers that run synchronous
//     processors inline inside their consumer's pull cascade
//   - graph: the construction API that validates topology, places queues,
//     and manages the start/stop lifecycle
//   - config and registry: file-driven graph construction for the
//     routekit command
//
// Synchronous processors never get their own goroutine: a chain of
// transformers fused to an asynchronous consumer executes entirely within
// that consumer's poll, so demand flows backward through the graph and no
// intermediate buffering exists where none was asked for.
//
// # Fault model
//
// A panic or error in one processor closes that processor's links and
// removes its task from the scheduler; neighbors observe ordinary closure
// and the rest of the graph keeps running. Violations of queue usage
// contracts are not contained, they crash the process.
//
// Deployments that embed the router use the graph package directly;
// standalone deployments describe the topology in YAML or JSON and run
// cmd/routekit.
package routekit
