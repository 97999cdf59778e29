// Package testdoubles provides test doubles (spies) for the datastore
// observability interfaces:
//   - ContextualLoggerSpy: captures structured logging calls with context
//   - MetricsCollectorSpy: captures metrics recording calls for verification
//   - TracingCollectorSpy: captures spans started and finished by the store
//
// These test doubles enable testing of observability instrumentation without
// requiring actual telemetry backends.
package testdoubles
