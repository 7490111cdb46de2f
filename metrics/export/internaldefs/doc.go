// Package internaldefs holds the metric name and bucket definitions
// shared by the exporter implementations. Both the Prometheus and the
// OTel exporter read from here so a rename changes every exporter at
// once.
//
// The package performs no I/O and imports nothing beyond the engine's
// metric ids.
package internaldefs
