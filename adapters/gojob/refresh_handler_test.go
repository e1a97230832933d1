package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-accountlink/core"

	job "github.com/goliatone/go-job"
)

type stubRefresher struct {
	report core.RefreshReport
	err    error
	calls  []string
}

func (s *stubRefresher) RefreshPrincipal(_ context.Context, principal string) (core.RefreshReport, error) {
	s.calls = append(s.calls, principal)
	report := s.report
	report.Principal = principal
	return report, s.err
}

func refreshDelivery(principal string) *stubQueueDelivery {
	return &stubQueueDelivery{msg: &job.ExecutionMessage{
		JobID:          JobIDRefreshSession,
		ScriptPath:     core.RefreshJobScriptPath,
		Parameters:     map[string]any{ParamPrincipal: principal},
		IdempotencyKey: "refresh:" + principal,
	}}
}

func TestRefreshJobHandler_AcksSuccessfulRefresh(t *testing.T) {
	refresher := &stubRefresher{report: core.RefreshReport{Outcome: core.RefreshOutcomeSuccess}}
	handler := NewRefreshJobHandler(refresher)
	raw := refreshDelivery("viewer-1")

	report, err := handler.Handle(context.Background(), NewDeliveryAdapter(raw, DefaultRetryPolicy()))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if report.Outcome != core.RefreshOutcomeSuccess || report.Principal != "viewer-1" {
		t.Fatalf("unexpected report %+v", report)
	}
	if !raw.acked || raw.nacked {
		t.Fatalf("expected ack only, got acked=%v nacked=%v", raw.acked, raw.nacked)
	}
}

func TestRefreshJobHandler_AcksAuthExpiredWithoutRetry(t *testing.T) {
	refresher := &stubRefresher{
		report: core.RefreshReport{Outcome: core.RefreshOutcomeAuthExpired},
		err:    core.NewExpiredError(nil, core.ErrorCodeLoginExpired, "expired"),
	}
	raw := refreshDelivery("viewer-2")
	if _, err := NewRefreshJobHandler(refresher).Handle(context.Background(), NewDeliveryAdapter(raw, DefaultRetryPolicy())); err != nil {
		t.Fatalf("expected auth expiry to settle the job, got %v", err)
	}
	if !raw.acked {
		t.Fatalf("expected auth expired job to be acked")
	}
}

func TestRefreshJobHandler_RequeuesTransientFailuresWithBackoff(t *testing.T) {
	refresher := &stubRefresher{
		report: core.RefreshReport{Outcome: core.RefreshOutcomeTransient},
		err:    errors.New("platform unavailable"),
	}
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true}
	handler := NewRefreshJobHandler(refresher, WithRetryPolicy(policy))

	first := refreshDelivery("viewer-3")
	if _, err := handler.Handle(context.Background(), NewDeliveryAdapter(first, policy)); err == nil {
		t.Fatalf("expected transient error to propagate")
	}
	if !first.nacked || !first.nackOpts.Requeue || first.nackOpts.Delay != time.Second {
		t.Fatalf("expected requeue after 1s, got %+v", first.nackOpts)
	}

	second := refreshDelivery("viewer-3")
	if _, err := handler.Handle(context.Background(), NewDeliveryAdapter(second, policy)); err == nil {
		t.Fatalf("expected transient error to propagate")
	}
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on final attempt, got %+v", second.nackOpts)
	}
	if len(refresher.calls) != 2 {
		t.Fatalf("expected two refresh calls, got %v", refresher.calls)
	}
}

func TestRefreshJobHandler_AttemptCountersStayBounded(t *testing.T) {
	refresher := &stubRefresher{
		report: core.RefreshReport{Outcome: core.RefreshOutcomeTransient},
		err:    errors.New("platform unavailable"),
	}
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute}
	handler := NewRefreshJobHandler(refresher, WithRetryPolicy(policy), WithAttemptTTL(time.Hour))
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }
	ctx := context.Background()

	for _, principal := range []string{"viewer-a", "viewer-b"} {
		handler.Handle(ctx, NewDeliveryAdapter(refreshDelivery(principal), policy))
	}
	if got := handler.pendingAttempts(); got != 2 {
		t.Fatalf("expected two pending counters, got %d", got)
	}

	refresher.report = core.RefreshReport{Outcome: core.RefreshOutcomeSuccess}
	refresher.err = nil
	if _, err := handler.Handle(ctx, NewDeliveryAdapter(refreshDelivery("viewer-a"), policy)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := handler.pendingAttempts(); got != 1 {
		t.Fatalf("expected success to drop its counter, got %d", got)
	}

	handler.Forget("viewer-b")
	if got := handler.pendingAttempts(); got != 0 {
		t.Fatalf("expected forget to drop the counter, got %d", got)
	}

	refresher.report = core.RefreshReport{Outcome: core.RefreshOutcomeTransient}
	refresher.err = errors.New("platform unavailable")
	handler.Handle(ctx, NewDeliveryAdapter(refreshDelivery("viewer-c"), policy))
	now = now.Add(2 * time.Hour)
	late := refreshDelivery("viewer-d")
	handler.Handle(ctx, NewDeliveryAdapter(late, policy))
	if got := handler.pendingAttempts(); got != 1 {
		t.Fatalf("expected the idle counter to be pruned, got %d", got)
	}
}

func TestRefreshJobHandler_NewIdempotencyKeyRestartsCount(t *testing.T) {
	refresher := &stubRefresher{
		report: core.RefreshReport{Outcome: core.RefreshOutcomeTransient},
		err:    errors.New("platform unavailable"),
	}
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true}
	handler := NewRefreshJobHandler(refresher, WithRetryPolicy(policy))
	ctx := context.Background()

	first := refreshDelivery("viewer-5")
	first.msg.IdempotencyKey = "refresh:bind-5:2026-10-16"
	handler.Handle(ctx, NewDeliveryAdapter(first, policy))

	next := refreshDelivery("viewer-5")
	next.msg.IdempotencyKey = "refresh:bind-5:2026-10-17"
	handler.Handle(ctx, NewDeliveryAdapter(next, policy))
	if !next.nackOpts.Requeue || next.nackOpts.DeadLetter || next.nackOpts.Delay != time.Second {
		t.Fatalf("expected a fresh first attempt for the new key, got %+v", next.nackOpts)
	}
	if got := handler.pendingAttempts(); got != 1 {
		t.Fatalf("expected one counter per principal, got %d", got)
	}
}

func TestRefreshJobHandler_DeadLettersMalformedJobs(t *testing.T) {
	refresher := &stubRefresher{}
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRefreshSession, Parameters: map[string]any{}}}
	if _, err := NewRefreshJobHandler(refresher).Handle(context.Background(), NewDeliveryAdapter(raw, DefaultRetryPolicy())); err != nil {
		t.Fatalf("expected malformed job to be settled, got %v", err)
	}
	if !raw.nacked || !raw.nackOpts.DeadLetter || raw.nackOpts.Requeue {
		t.Fatalf("expected dead letter, got %+v", raw.nackOpts)
	}
	if len(refresher.calls) != 0 {
		t.Fatalf("expected refresher to be skipped, got %v", refresher.calls)
	}
}

func TestRefreshJobHandler_ProcessNext(t *testing.T) {
	refresher := &stubRefresher{report: core.RefreshReport{Outcome: core.RefreshOutcomeSuccess}}
	raw := refreshDelivery("viewer-4")
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{delivery: raw}, DefaultRetryPolicy())

	report, err := NewRefreshJobHandler(refresher).ProcessNext(context.Background(), dequeuer)
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if report.Principal != "viewer-4" || !raw.acked {
		t.Fatalf("expected processed and acked job, got %+v acked=%v", report, raw.acked)
	}
}

func TestPrincipalFromMessage(t *testing.T) {
	if _, err := PrincipalFromMessage(nil); err == nil {
		t.Fatalf("expected nil message error")
	}
	if _, err := PrincipalFromMessage(&core.JobExecutionMessage{JobID: "other", Parameters: map[string]any{ParamPrincipal: "p"}}); err == nil {
		t.Fatalf("expected unexpected job error")
	}
	principal, err := PrincipalFromMessage(&core.JobExecutionMessage{JobID: JobIDRefreshSession, Parameters: map[string]any{ParamPrincipal: " p "}})
	if err != nil || principal != "p" {
		t.Fatalf("expected trimmed principal, got %q %v", principal, err)
	}
}
