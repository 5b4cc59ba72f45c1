// Package otel binds engine counters to OpenTelemetry observable instruments.
//
// Each counter becomes an Int64ObservableCounter. The latency histogram is
// published as one cumulative gauge per bucket plus count and sum gauges,
// because observable instruments cannot report histogram points. A single
// registered callback reads the engine snapshot per collection cycle; the
// caller owns the MeterProvider.
package otel
