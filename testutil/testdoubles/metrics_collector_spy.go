package testdoubles

import (
	"context"
	"sync"
	"time"

	"github.com/rohankhera/dicom-server/datastore"
)

// MetricsCollectorSpy is a MetricsCollector implementation that captures
// metrics calls for testing. It also implements the context-aware interface
// so it exercises the store's preferred recording path.
type MetricsCollectorSpy struct {
	durationRecords []SpyDurationRecord
	counterRecords  []SpyCounterRecord
	valueRecords    []SpyValueRecord
	mu              sync.Mutex
}

// SpyDurationRecord represents a recorded duration metric call.
type SpyDurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// SpyCounterRecord represents a recorded counter increment call.
type SpyCounterRecord struct {
	Metric string
	Labels map[string]string
}

// SpyValueRecord represents a recorded value metric call.
type SpyValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

// NewMetricsCollectorSpy creates a new MetricsCollectorSpy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

// RecordDuration implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = append(s.durationRecords, SpyDurationRecord{
		Metric:   metric,
		Duration: duration,
		Labels:   copyLabels(labels),
	})
}

// RecordDurationContext implements the ContextualMetricsCollector interface.
func (s *MetricsCollectorSpy) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	s.RecordDuration(metric, duration, labels)
}

// IncrementCounter implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterRecords = append(s.counterRecords, SpyCounterRecord{
		Metric: metric,
		Labels: copyLabels(labels),
	})
}

// IncrementCounterContext implements the ContextualMetricsCollector interface.
func (s *MetricsCollectorSpy) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	s.IncrementCounter(metric, labels)
}

// RecordValue implements the MetricsCollector interface.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.valueRecords = append(s.valueRecords, SpyValueRecord{
		Metric: metric,
		Value:  value,
		Labels: copyLabels(labels),
	})
}

// RecordValueContext implements the ContextualMetricsCollector interface.
func (s *MetricsCollectorSpy) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	s.RecordValue(metric, value, labels)
}

// copyLabels makes a copy of labels to avoid external modifications.
func copyLabels(labels map[string]string) map[string]string {
	labelsCopy := make(map[string]string, len(labels))
	for k, v := range labels {
		labelsCopy[k] = v
	}
	return labelsCopy
}

// GetDurationRecords returns a copy of all captured duration records.
func (s *MetricsCollectorSpy) GetDurationRecords() []SpyDurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyDurationRecord(nil), s.durationRecords...)
}

// GetCounterRecords returns a copy of all captured counter records.
func (s *MetricsCollectorSpy) GetCounterRecords() []SpyCounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyCounterRecord(nil), s.counterRecords...)
}

// Reset clears all captured metric records.
func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = s.durationRecords[:0]
	s.counterRecords = s.counterRecords[:0]
	s.valueRecords = s.valueRecords[:0]
}

// HasDurationRecord checks if there's a duration record with the specified metric name.
func (s *MetricsCollectorSpy) HasDurationRecord(metric string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.durationRecords {
		if record.Metric == metric {
			return true
		}
	}

	return false
}

// HasCounterRecord checks if there's a counter record with the specified metric name.
func (s *MetricsCollectorSpy) HasCounterRecord(metric string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.counterRecords {
		if record.Metric == metric {
			return true
		}
	}

	return false
}

// MetricRecordMatcher provides a fluent interface for checking metric records.
type MetricRecordMatcher struct {
	found  bool
	labels map[string]string
}

// HasDurationRecordForMetric starts a fluent chain to check a duration record.
func (s *MetricsCollectorSpy) HasDurationRecordForMetric(metric string) *MetricRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.durationRecords {
		if record.Metric == metric {
			return &MetricRecordMatcher{found: true, labels: record.Labels}
		}
	}

	return &MetricRecordMatcher{}
}

// HasCounterRecordForMetric starts a fluent chain to check a counter record.
func (s *MetricsCollectorSpy) HasCounterRecordForMetric(metric string) *MetricRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.counterRecords {
		if record.Metric == metric {
			return &MetricRecordMatcher{found: true, labels: record.Labels}
		}
	}

	return &MetricRecordMatcher{}
}

// WithOperation checks if the record has the specified operation label.
func (m *MetricRecordMatcher) WithOperation(operation string) *MetricRecordMatcher {
	return m.WithLabel("operation", operation)
}

// WithStatus checks if the record has the specified status label.
func (m *MetricRecordMatcher) WithStatus(status string) *MetricRecordMatcher {
	return m.WithLabel("status", status)
}

// WithErrorType checks if the record has the specified error_type label.
func (m *MetricRecordMatcher) WithErrorType(errorType string) *MetricRecordMatcher {
	return m.WithLabel("error_type", errorType)
}

// WithLabel checks if the record has the specified label with the given value.
func (m *MetricRecordMatcher) WithLabel(key, value string) *MetricRecordMatcher {
	if !m.found {
		return m
	}

	if labelValue, exists := m.labels[key]; !exists || labelValue != value {
		m.found = false
	}

	return m
}

// Assert returns true if all conditions in the fluent chain were met.
func (m *MetricRecordMatcher) Assert() bool {
	return m.found
}

// Compile-time checks to ensure MetricsCollectorSpy implements both collector interfaces.
var _ datastore.MetricsCollector = (*MetricsCollectorSpy)(nil)
var _ datastore.ContextualMetricsCollector = (*MetricsCollectorSpy)(nil)
