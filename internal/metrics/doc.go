// Package metrics exposes Prometheus collectors for pipeline runs.
//
// A Collector owns its own registry so tests and multiple servers never
// collide on the global default registry. Collector implements
// pipeline.Observer; Handler serves the registry for /metrics.
package metrics
