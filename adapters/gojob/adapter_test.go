package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-accountlink/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          JobIDRefreshSession,
		ScriptPath:     core.RefreshJobScriptPath,
		Parameters:     map[string]any{ParamPrincipal: "viewer-1", ParamBindingID: "bind-1"},
		IdempotencyKey: "refresh:bind-1:2026-10-17",
		DedupPolicy:    "drop",
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.ScriptPath != original.ScriptPath {
		t.Fatalf("expected script path %q, got %q", original.ScriptPath, roundTrip.ScriptPath)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, roundTrip.DedupPolicy)
	}
	if roundTrip.Parameters[ParamPrincipal] != "viewer-1" {
		t.Fatalf("expected parameters to survive mapping")
	}

	converted.Parameters["extra"] = true
	if _, ok := original.Parameters["extra"]; ok {
		t.Fatalf("expected parameters to be copied")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	msg := &core.JobExecutionMessage{
		JobID:      JobIDRefreshSession,
		ScriptPath: core.RefreshJobScriptPath,
		Parameters: map[string]any{ParamPrincipal: "viewer-2"},
	}
	if err := enqueueAdapter.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDRefreshSession {
		t.Fatalf("expected mapped go-job message")
	}
	if err := enqueueAdapter.Enqueue(ctx, nil); err == nil {
		t.Fatalf("expected nil message to be rejected")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.Parameters[ParamPrincipal] != "viewer-2" {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{JobID: JobIDRefreshSession, ScriptPath: core.RefreshJobScriptPath},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{Delay: time.Second, Requeue: true}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	cases := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second, 10: 5 * time.Second}
	for attempt, want := range cases {
		if got := policy.BackoffFor(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
	if got := (RetryPolicy{}).BackoffFor(3); got != 0 {
		t.Fatalf("expected zero backoff without base delay, got %s", got)
	}
}

func TestTelemetryHookRecordsWorkerEvents(t *testing.T) {
	sink := &core.MemoryTelemetrySink{}
	hook := NewTelemetryHook(sink)
	startedAt := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

	hook.OnRetry(context.Background(), worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDRefreshSession,
			Parameters:     map[string]any{ParamPrincipal: "viewer-3"},
			IdempotencyKey: "refresh:bind-3",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: startedAt,
		Duration:  250 * time.Millisecond,
	})

	events := sink.Filter(ComponentRefreshWorker, "retry")
	if len(events) != 1 {
		t.Fatalf("expected one retry event, got %d", len(events))
	}
	event := events[0]
	if event.Metadata["principal_id"] != "viewer-3" || event.Metadata["attempt"] != 2 {
		t.Fatalf("unexpected event metadata %#v", event.Metadata)
	}
	if event.Metadata["delay_ms"] != int64(5000) {
		t.Fatalf("expected delay in milliseconds, got %#v", event.Metadata["delay_ms"])
	}
	if !event.OccurredAt.Equal(startedAt) {
		t.Fatalf("expected started_at as occurrence time, got %s", event.OccurredAt)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}
