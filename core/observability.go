package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	operationSucceeded = "success"
	operationRejected  = "rejected"
	operationFailed    = "failure"
)

// operationRecord is the outcome of one service operation as it is logged
// and counted.
type operationRecord struct {
	name     string
	status   string
	duration time.Duration
	err      error
	fields   map[string]any
}

func newOperationRecord(operation string, startedAt time.Time, err error, fields map[string]any) operationRecord {
	name := normalizeOperation(operation)
	if name == "" {
		name = "unknown"
	}
	return operationRecord{
		name:     name,
		status:   operationStatus(err),
		duration: time.Since(startedAt),
		err:      err,
		fields:   cloneFields(fields),
	}
}

// operationStatus separates requests the caller got wrong from faults of
// the service or the platform.
func operationStatus(err error) string {
	if err == nil {
		return operationSucceeded
	}
	switch KindOf(err) {
	case ErrorKindValidation, ErrorKindConflict, ErrorKindNotFound, ErrorKindExpired, ErrorKindCancelled:
		return operationRejected
	default:
		return operationFailed
	}
}

func (r operationRecord) logFields() map[string]any {
	out := cloneFields(r.fields)
	out["event_type"] = r.name
	out["status"] = r.status
	out["duration_ms"] = r.duration.Milliseconds()
	if r.err == nil {
		return RedactSensitiveMap(out)
	}
	out["error"] = RedactString(r.err.Error())
	out["error_kind"] = string(KindOf(r.err))

	var rich *goerrors.Error
	if !goerrors.As(r.err, &rich) || rich == nil {
		return RedactSensitiveMap(out)
	}
	out["error_category"] = rich.Category.String()
	out["error_text_code"] = rich.TextCode
	out["error_severity"] = rich.Severity.String()
	if len(rich.Metadata) > 0 {
		out["error_metadata"] = RedactSensitiveMap(rich.Metadata)
		for _, key := range []string{"request_id", "trace_id"} {
			if _, set := out[key]; !set {
				if value := stringField(rich.Metadata[key]); value != "" {
					out[key] = value
				}
			}
		}
	}
	return RedactSensitiveMap(out)
}

func (r operationRecord) tags() map[string]string {
	tags := map[string]string{"operation": r.name, "status": r.status}
	if r.err != nil {
		tags["error_kind"] = string(KindOf(r.err))
	}
	return tags
}

func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	record := newOperationRecord(operation, startedAt, err, fields)
	tags := record.tags()
	s.recordCounter(ctx, OperationCounterName(record.name), 1, tags)
	s.recordHistogram(ctx, OperationDurationName(record.name), float64(record.duration.Milliseconds()), tags)

	switch record.status {
	case operationSucceeded:
		s.logInfo(ctx, record.name+" succeeded", record.logFields())
	case operationRejected:
		s.logWarn(ctx, record.name+" rejected", record.logFields())
	default:
		s.logError(ctx, record.name+" failed", record.logFields())
	}
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	if s != nil {
		logWithLevel(ctx, s.logger, "info", message, fields)
	}
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	if s != nil {
		logWithLevel(ctx, s.logger, "warn", message, fields)
	}
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	if s != nil {
		logWithLevel(ctx, s.logger, "error", message, fields)
	}
}

// logWithLevel hands fields to a FieldsLogger when the logger is one and
// always appends them as sorted key/value args.
func logWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s != nil && s.metricsRecorder != nil {
		s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
	}
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s != nil && s.metricsRecorder != nil {
		s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
	}
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(operation)))
}

func stringField(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
