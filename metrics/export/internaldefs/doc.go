// Package internaldefs holds the metric name definitions shared by the
// exporter implementations.
//
// Counter definitions live here so the Prometheus and OTel exporters emit
// identical names. A change in this package affects both surfaces at once.
package internaldefs
