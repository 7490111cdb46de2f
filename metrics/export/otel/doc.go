// Package otel binds authcore engine metrics to OpenTelemetry. It
// registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per histogram bucket; a single callback reads
// one engine snapshot per collection cycle.
//
// Callers own the MeterProvider and supply the Meter; the exporter
// never mutates engine state.
package otel
