// Package otel registers auth core metrics with an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter and each latency histogram a
// set of cumulative bucket gauges plus a count gauge. One callback reads the
// engine snapshot per collection. The caller owns the MeterProvider.
package otel
