package postgresengine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rohankhera/dicom-server/datastore"
)

// logQueryWithDuration logs SQL queries with execution time at debug level.
// The contextual logger is preferred when both loggers are configured.
func (s *Store) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action,
			logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	case s.logger != nil:
		s.logger.Debug(logMsgSQLExecuted+action,
			logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (s *Store) logOperation(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// logOperationContext logs operational information at info level with context correlation.
func (s *Store) logOperationContext(ctx context.Context, msg string, args ...any) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.InfoContext(ctx, msg, args...)
	case s.logger != nil:
		s.logger.Info(msg, args...)
	}
}

// logWarn logs non-critical issues at warn level if a logger is configured.
func (s *Store) logWarn(msg string, err error) {
	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.WarnContext(context.Background(), msg, logAttrError, err.Error())
	case s.logger != nil:
		s.logger.Warn(msg, logAttrError, err.Error())
	}
}

// logError logs error information at error level if a logger is configured.
func (s *Store) logError(msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.ErrorContext(context.Background(), msg, allArgs...)
	case s.logger != nil:
		s.logger.Error(msg, allArgs...)
	}
}

// logErrorContext logs error information at error level with context correlation.
func (s *Store) logErrorContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	switch {
	case s.contextualLogger != nil:
		s.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	case s.logger != nil:
		s.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// startSpan starts a tracing span for a store operation if the tracing collector is configured.
func (s *Store) startSpan(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (context.Context, datastore.SpanContext) {
	if s.tracingCollector == nil {
		return ctx, nil
	}

	spanAttrs := map[string]string{spanAttrOperation: operation}
	for key, value := range attrs {
		spanAttrs[key] = value
	}

	return s.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
}

// finishSpan finishes a tracing span if the tracing collector is configured.
func (s *Store) finishSpan(span datastore.SpanContext, status string, attrs map[string]string) {
	if s.tracingCollector != nil && span != nil {
		s.tracingCollector.FinishSpan(span, status, attrs)
	}
}

// recordDurationMetrics records the duration of an operation if the metrics
// collector is configured, using the context-aware method when available.
func (s *Store) recordDurationMetrics(
	ctx context.Context,
	duration time.Duration,
	operation string,
	status string,
) {
	if s.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          status,
	}

	if contextual, ok := s.metricsCollector.(datastore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
		return
	}

	s.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
}

// recordCounterMetrics increments a counter if the metrics collector is
// configured, using the context-aware method when available.
func (s *Store) recordCounterMetrics(ctx context.Context, metric string, labels map[string]string) {
	if s.metricsCollector == nil {
		return
	}

	if contextual, ok := s.metricsCollector.(datastore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	s.metricsCollector.IncrementCounter(metric, labels)
}

// observeOperation finishes the span and records metrics for one store
// operation, mapping the returned error kind to an outcome status.
func (s *Store) observeOperation(
	ctx context.Context,
	span datastore.SpanContext,
	operation string,
	duration time.Duration,
	err error,
) {
	status := statusSuccess
	counterMetric := ""

	switch {
	case err == nil:

	case errors.Is(err, datastore.ErrAlreadyExists),
		errors.Is(err, datastore.ErrExceedsMaxAllowedCount):
		status = statusConflict
		counterMetric = metricConflicts

	case errors.Is(err, datastore.ErrSchemaUpgradeRequired):
		status = statusUnsupported
		counterMetric = metricUpgradeRequired

	default:
		status = statusError
		counterMetric = metricErrors
	}

	s.recordDurationMetrics(ctx, duration, operation, status)

	if counterMetric != "" {
		s.recordCounterMetrics(ctx, counterMetric, map[string]string{
			spanAttrOperation: operation,
			spanAttrErrorType: errorTypeFor(err),
		})
	}

	spanAttrs := map[string]string{}
	if err != nil {
		spanAttrs[spanAttrErrorType] = errorTypeFor(err)
	}

	s.finishSpan(span, status, spanAttrs)

	if err != nil {
		s.logErrorContext(ctx, logMsgOperationFailed+operation, err)
	}
}

// errorTypeFor maps a classified error to a stable label for metrics and spans.
func errorTypeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, datastore.ErrExceedsMaxAllowedCount):
		return "exceeds_max_allowed_count"
	case errors.Is(err, datastore.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, datastore.ErrSchemaUpgradeRequired):
		return "schema_upgrade_required"
	default:
		return "data_store_failure"
	}
}
