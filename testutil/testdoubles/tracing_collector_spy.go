package testdoubles

import (
	"context"
	"sync"

	"github.com/rohankhera/dicom-server/datastore"
)

// SpySpanContext implements datastore.SpanContext for testing tracing functionality.
type SpySpanContext struct {
	status     string
	attributes map[string]string
	mu         sync.Mutex
}

// SetStatus implements the SpanContext interface for testing.
func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// AddAttribute implements the SpanContext interface for testing.
func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	c.attributes[key] = value
}

// GetStatus returns the current status of the span for testing.
func (c *SpySpanContext) GetStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// GetAttributes returns a copy of all attributes for testing.
func (c *SpySpanContext) GetAttributes() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copyLabels(c.attributes)
}

// TracingCollectorSpy is a TracingCollector implementation that captures
// tracing calls for testing.
type TracingCollectorSpy struct {
	spanRecords []SpySpanRecord
	mu          sync.Mutex
}

// SpySpanRecord represents a recorded span operation for testing.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	EndAttributes   map[string]string
	SpanContext     *SpySpanContext
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

// StartSpan implements the TracingCollector interface for testing.
func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, datastore.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spanCtx := &SpySpanContext{
		attributes: make(map[string]string),
	}

	s.spanRecords = append(s.spanRecords, SpySpanRecord{
		Name:            name,
		StartAttributes: copyLabels(attrs),
		SpanContext:     spanCtx,
	})

	return ctx, spanCtx
}

// FinishSpan implements the TracingCollector interface for testing.
func (s *TracingCollectorSpy) FinishSpan(spanCtx datastore.SpanContext, status string, attrs map[string]string) {
	if spanCtx == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	testSpanCtx, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	for i := range s.spanRecords {
		if s.spanRecords[i].SpanContext == testSpanCtx {
			s.spanRecords[i].Status = status
			s.spanRecords[i].EndAttributes = copyLabels(attrs)
			break
		}
	}
}

// GetSpanRecordCount returns the number of captured span records.
func (s *TracingCollectorSpy) GetSpanRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.spanRecords)
}

// GetSpanRecords returns a copy of all captured span records.
func (s *TracingCollectorSpy) GetSpanRecords() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpySpanRecord(nil), s.spanRecords...)
}

// Reset clears all captured span records.
func (s *TracingCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spanRecords = s.spanRecords[:0]
}

// HasSpanRecord checks if there's a span record with the specified name.
func (s *TracingCollectorSpy) HasSpanRecord(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.spanRecords {
		if record.Name == name {
			return true
		}
	}

	return false
}

// SpanRecordMatcher provides a fluent interface for checking span records.
type SpanRecordMatcher struct {
	found  bool
	record *SpySpanRecord
}

// HasSpanRecordForName starts a fluent chain to check a span record.
func (s *TracingCollectorSpy) HasSpanRecordForName(name string) *SpanRecordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.spanRecords {
		if s.spanRecords[i].Name == name {
			return &SpanRecordMatcher{found: true, record: &s.spanRecords[i]}
		}
	}

	return &SpanRecordMatcher{}
}

// WithStatus checks if the span record has the specified status.
func (m *SpanRecordMatcher) WithStatus(status string) *SpanRecordMatcher {
	if !m.found || m.record == nil {
		return m
	}

	if m.record.Status != status {
		m.found = false
	}

	return m
}

// WithStartAttribute checks if the span record has the specified start attribute.
func (m *SpanRecordMatcher) WithStartAttribute(key, value string) *SpanRecordMatcher {
	if !m.found || m.record == nil {
		return m
	}

	if attrValue, exists := m.record.StartAttributes[key]; !exists || attrValue != value {
		m.found = false
	}

	return m
}

// WithEndAttribute checks if the span record has the specified end attribute.
func (m *SpanRecordMatcher) WithEndAttribute(key, value string) *SpanRecordMatcher {
	if !m.found || m.record == nil {
		return m
	}

	if attrValue, exists := m.record.EndAttributes[key]; !exists || attrValue != value {
		m.found = false
	}

	return m
}

// Assert returns true if all conditions in the fluent chain were met.
func (m *SpanRecordMatcher) Assert() bool {
	return m.found
}

// Compile-time check to ensure TracingCollectorSpy implements the TracingCollector interface.
var _ datastore.TracingCollector = (*TracingCollectorSpy)(nil)
