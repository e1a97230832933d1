package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	ComponentHTTPGateway      = "http_gateway"
	ComponentLoginFlow        = "qr_login_flow"
	ComponentRefreshScheduler = "session_refresh_scheduler"
	ComponentBindingService   = "binding_service"
	ComponentKeyManager       = "key_manager"
)

type NopTelemetrySink struct{}

func (NopTelemetrySink) Record(context.Context, TelemetryEvent) {}

// LoggerTelemetrySink writes events to a glog logger after redaction.
type LoggerTelemetrySink struct {
	Logger Logger
}

func NewLoggerTelemetrySink(logger Logger) LoggerTelemetrySink {
	return LoggerTelemetrySink{Logger: logger}
}

func (s LoggerTelemetrySink) Record(ctx context.Context, event TelemetryEvent) {
	fields := telemetryFields(event)
	level := "debug"
	if event.ErrorKind != ErrorKindNone {
		level = "warn"
	}
	logWithLevel(ctx, s.Logger, level, "telemetry "+event.Component+"."+event.Operation, fields)
}

// MetricsTelemetrySink turns events into counters tagged by component,
// operation and error kind.
type MetricsTelemetrySink struct {
	Recorder MetricsRecorder
}

func (s MetricsTelemetrySink) Record(ctx context.Context, event TelemetryEvent) {
	if s.Recorder == nil {
		return
	}
	kind := string(event.ErrorKind)
	if kind == "" {
		kind = "none"
	}
	s.Recorder.IncCounter(ctx, MetricTelemetryEvents, 1, map[string]string{
		"component":  event.Component,
		"operation":  event.Operation,
		"error_kind": kind,
	})
}

// FanoutTelemetrySink forwards each event to every configured sink.
type FanoutTelemetrySink []TelemetrySink

func (f FanoutTelemetrySink) Record(ctx context.Context, event TelemetryEvent) {
	for _, sink := range f {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}

// MemoryTelemetrySink keeps events in memory; used by tests and the status
// command.
type MemoryTelemetrySink struct {
	mu     sync.Mutex
	events []TelemetryEvent
}

func (s *MemoryTelemetrySink) Record(_ context.Context, event TelemetryEvent) {
	if s == nil {
		return
	}
	event.Metadata = RedactSensitiveMap(event.Metadata)
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *MemoryTelemetrySink) Events() []TelemetryEvent {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TelemetryEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryTelemetrySink) Filter(component string, operation string) []TelemetryEvent {
	matches := []TelemetryEvent{}
	for _, event := range s.Events() {
		if component != "" && event.Component != component {
			continue
		}
		if operation != "" && event.Operation != operation {
			continue
		}
		matches = append(matches, event)
	}
	return matches
}

// EmitTelemetry records an event with redacted metadata. A nil sink is a no-op.
func EmitTelemetry(ctx context.Context, sink TelemetrySink, component string, operation string, err error, metadata map[string]any) {
	if sink == nil {
		return
	}
	metadata = RedactSensitiveMap(metadata)
	if err != nil {
		metadata["error"] = RedactString(err.Error())
		if code := TextCode(err); code != "" {
			metadata["error_text_code"] = code
		}
	}
	sink.Record(ctx, TelemetryEvent{
		Component:  strings.TrimSpace(component),
		Operation:  normalizeOperation(operation),
		ErrorKind:  KindOf(err),
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	})
}

func telemetryFields(event TelemetryEvent) map[string]any {
	fields := RedactSensitiveMap(event.Metadata)
	fields["component"] = event.Component
	fields["operation"] = event.Operation
	if event.ErrorKind != ErrorKindNone {
		fields["error_kind"] = string(event.ErrorKind)
	}
	if !event.OccurredAt.IsZero() {
		fields["occurred_at"] = event.OccurredAt.Format(time.RFC3339Nano)
	}
	return fields
}

var (
	_ TelemetrySink = NopTelemetrySink{}
	_ TelemetrySink = LoggerTelemetrySink{}
	_ TelemetrySink = MetricsTelemetrySink{}
	_ TelemetrySink = FanoutTelemetrySink(nil)
	_ TelemetrySink = (*MemoryTelemetrySink)(nil)
)
