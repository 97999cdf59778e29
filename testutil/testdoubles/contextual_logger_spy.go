package testdoubles

import (
	"context"
	"sync"

	"github.com/rohankhera/dicom-server/datastore"
)

// ContextualLoggerSpy is a ContextualLogger implementation that captures
// contextual logging calls for testing.
type ContextualLoggerSpy struct {
	debugRecords []SpyContextualLogRecord
	infoRecords  []SpyContextualLogRecord
	warnRecords  []SpyContextualLogRecord
	errorRecords []SpyContextualLogRecord
	mu           sync.Mutex
}

// SpyContextualLogRecord represents a recorded contextual log call.
type SpyContextualLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// NewContextualLoggerSpy creates a new ContextualLoggerSpy instance.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{}
}

// DebugContext implements the ContextualLogger interface for testing.
func (s *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	s.record(&s.debugRecords, "debug", ctx, msg, args)
}

// InfoContext implements the ContextualLogger interface for testing.
func (s *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	s.record(&s.infoRecords, "info", ctx, msg, args)
}

// WarnContext implements the ContextualLogger interface for testing.
func (s *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	s.record(&s.warnRecords, "warn", ctx, msg, args)
}

// ErrorContext implements the ContextualLogger interface for testing.
func (s *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.record(&s.errorRecords, "error", ctx, msg, args)
}

func (s *ContextualLoggerSpy) record(dst *[]SpyContextualLogRecord, level string, ctx context.Context, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	*dst = append(*dst, SpyContextualLogRecord{
		Level:   level,
		Message: msg,
		Args:    args,
		Context: ctx,
	})
}

// Reset clears all recorded log calls.
func (s *ContextualLoggerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.debugRecords = s.debugRecords[:0]
	s.infoRecords = s.infoRecords[:0]
	s.warnRecords = s.warnRecords[:0]
	s.errorRecords = s.errorRecords[:0]
}

// GetDebugRecords returns a copy of all debug log records.
func (s *ContextualLoggerSpy) GetDebugRecords() []SpyContextualLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyContextualLogRecord(nil), s.debugRecords...)
}

// GetInfoRecords returns a copy of all info log records.
func (s *ContextualLoggerSpy) GetInfoRecords() []SpyContextualLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyContextualLogRecord(nil), s.infoRecords...)
}

// GetErrorRecords returns a copy of all error log records.
func (s *ContextualLoggerSpy) GetErrorRecords() []SpyContextualLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyContextualLogRecord(nil), s.errorRecords...)
}

// GetTotalRecordCount returns the total number of log records across all levels.
func (s *ContextualLoggerSpy) GetTotalRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.debugRecords) + len(s.infoRecords) + len(s.warnRecords) + len(s.errorRecords)
}

// HasDebugLog checks if a debug log with the specified message exists.
func (s *ContextualLoggerSpy) HasDebugLog(message string) bool {
	return s.hasLog(&s.debugRecords, message)
}

// HasInfoLog checks if an info log with the specified message exists.
func (s *ContextualLoggerSpy) HasInfoLog(message string) bool {
	return s.hasLog(&s.infoRecords, message)
}

// HasErrorLog checks if an error log with the specified message exists.
func (s *ContextualLoggerSpy) HasErrorLog(message string) bool {
	return s.hasLog(&s.errorRecords, message)
}

func (s *ContextualLoggerSpy) hasLog(records *[]SpyContextualLogRecord, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range *records {
		if record.Message == message {
			return true
		}
	}

	return false
}

// Compile-time check to ensure ContextualLoggerSpy implements the ContextualLogger interface.
var _ datastore.ContextualLogger = (*ContextualLoggerSpy)(nil)
