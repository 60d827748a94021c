// Package monitor polls print commands on a router session and exposes the
// results over HTTP: numeric attributes as Prometheus gauges on /metrics and
// the raw rows as JSON on /snapshot.
package monitor
