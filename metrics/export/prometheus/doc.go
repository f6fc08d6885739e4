// Package prometheus renders the engine counters in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts an [authcore.Engine] and exposes an
// http.Handler for a /metrics mount. Counter names are prefixed
// authcore_*_total.
package prometheus
