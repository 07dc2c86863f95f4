// Package metrics provides Prometheus metrics collection and exposition
// for corestate: commit/prepare latency, mempool occupancy, execution
// cache hit rate, and the state-tree GC's deletion/backlog gauges,
// alongside an HTTP /metrics endpoint and health/readiness handlers.
//
// All metrics are registered at package init via prometheus.MustRegister,
// the same "global package-level var block + init()" shape the teacher
// uses, so every package can record a metric without threading a
// registry handle through constructors.
package metrics
