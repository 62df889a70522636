// Package metric provides the Prometheus metrics infrastructure for the
// pipeline: a registry carrying core node, link, and telemetry bus metrics,
// a registrar interface for component-specific collectors, and an HTTP
// server exposing the scrape endpoint.
//
// Components follow the nil-registry pattern: constructors accept a
// *MetricsRegistry and return a nil metrics struct when it is nil, and
// every Record method on a nil struct is a no-op. Metrics never change
// behavior, only visibility.
package metric
