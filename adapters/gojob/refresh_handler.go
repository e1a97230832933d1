package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-accountlink/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ParamPrincipal = "principal_id"
	ParamBindingID = "binding_id"
)

type SessionRefresher interface {
	RefreshPrincipal(ctx context.Context, principal string) (core.RefreshReport, error)
}

type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

// RefreshJobHandler consumes refresh jobs produced by the scheduler. Jobs are
// acked unless the refresh failed transiently. Attempts are tracked per
// principal for the current idempotency key only; entries are dropped when a
// job settles and pruned once idle for longer than the attempt TTL.
type RefreshJobHandler struct {
	refresher  SessionRefresher
	policy     RetryPolicy
	logger     core.Logger
	attemptTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]attemptEntry
}

type attemptEntry struct {
	key   string
	count int
	seen  time.Time
}

// DefaultAttemptTTL bounds how long an unsettled retry counter is kept.
const DefaultAttemptTTL = 24 * time.Hour

type RefreshJobOption func(*RefreshJobHandler)

func WithRetryPolicy(policy RetryPolicy) RefreshJobOption {
	return func(h *RefreshJobHandler) {
		h.policy = policy
	}
}

// WithAttemptTTL sets how long an idle retry counter survives.
func WithAttemptTTL(ttl time.Duration) RefreshJobOption {
	return func(h *RefreshJobHandler) {
		if ttl > 0 {
			h.attemptTTL = ttl
		}
	}
}

func WithLogger(logger core.Logger) RefreshJobOption {
	return func(h *RefreshJobHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewRefreshJobHandler(refresher SessionRefresher, opts ...RefreshJobOption) *RefreshJobHandler {
	h := &RefreshJobHandler{
		refresher: refresher,
		policy:    DefaultRetryPolicy(),
		logger:     glog.Nop(),
		attemptTTL: DefaultAttemptTTL,
		now:        time.Now,
		attempts:   map[string]attemptEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// PrincipalFromMessage extracts the principal parameter of a refresh job.
func PrincipalFromMessage(msg *core.JobExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("gojob: execution message is required")
	}
	if msg.JobID != JobIDRefreshSession && msg.ScriptPath != JobIDRefreshSession {
		return "", fmt.Errorf("gojob: unexpected job %q", msg.JobID)
	}
	principal, _ := msg.Parameters[ParamPrincipal].(string)
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return "", fmt.Errorf("gojob: refresh job is missing %s", ParamPrincipal)
	}
	return principal, nil
}

// Handle runs one refresh job and settles the delivery.
func (h *RefreshJobHandler) Handle(ctx context.Context, delivery core.JobDelivery) (core.RefreshReport, error) {
	if h == nil || h.refresher == nil {
		return core.RefreshReport{}, fmt.Errorf("gojob: session refresher is not configured")
	}
	if delivery == nil {
		return core.RefreshReport{}, fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	principal, err := PrincipalFromMessage(msg)
	if err != nil {
		h.logger.Warn("dropping malformed refresh job", "error", err)
		return core.RefreshReport{}, h.nack(ctx, delivery, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}, 0)
	}

	attempt := h.nextAttempt(principal, attemptKey(msg))

	report, refreshErr := h.refresher.RefreshPrincipal(ctx, principal)
	if refreshErr == nil || !retryable(report, refreshErr) {
		h.Forget(principal)
		if refreshErr != nil {
			h.logger.Info("refresh job settled without retry",
				"principal_id", principal,
				"outcome", string(report.Outcome),
				"error", core.RedactString(refreshErr.Error()),
			)
		}
		return report, delivery.Ack(ctx)
	}

	opts := core.JobNackOptions{
		Delay:   h.policy.BackoffFor(attempt),
		Requeue: true,
		Reason:  core.RedactString(refreshErr.Error()),
	}
	if h.policy.MaxAttempts > 0 && attempt >= h.policy.MaxAttempts {
		h.Forget(principal)
	}
	h.logger.Warn("refresh job failed; requeueing",
		"principal_id", principal,
		"attempt", attempt,
		"delay", opts.Delay.String(),
	)
	if err := h.nack(ctx, delivery, opts, attempt); err != nil {
		return report, err
	}
	return report, refreshErr
}

// ProcessNext dequeues a single job and handles it.
func (h *RefreshJobHandler) ProcessNext(ctx context.Context, dequeuer core.JobDequeuer) (core.RefreshReport, error) {
	if dequeuer == nil {
		return core.RefreshReport{}, fmt.Errorf("gojob: dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return core.RefreshReport{}, err
	}
	if delivery == nil {
		return core.RefreshReport{}, nil
	}
	return h.Handle(ctx, delivery)
}

func (h *RefreshJobHandler) nack(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) error {
	if nacker, ok := delivery.(attemptNacker); ok {
		return nacker.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, h.policy.NormalizeAttempt(opts, attempt))
}

func (h *RefreshJobHandler) nextAttempt(principal string, key string) int {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, entry := range h.attempts {
		if now.Sub(entry.seen) > h.attemptTTL {
			delete(h.attempts, name)
		}
	}
	entry := h.attempts[principal]
	if entry.key != key {
		entry = attemptEntry{key: key}
	}
	entry.count++
	entry.seen = now
	h.attempts[principal] = entry
	return entry.count
}

// Forget drops the retry counter of principal, e.g. after it was unbound.
func (h *RefreshJobHandler) Forget(principal string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	delete(h.attempts, strings.TrimSpace(principal))
	h.mu.Unlock()
}

func (h *RefreshJobHandler) pendingAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attempts)
}

func retryable(report core.RefreshReport, err error) bool {
	switch report.Outcome {
	case core.RefreshOutcomeTransient:
		return true
	case core.RefreshOutcomeSuccess, core.RefreshOutcomeAuthExpired, core.RefreshOutcomeDisabled, core.RefreshOutcomeInFlight:
		return false
	}
	switch core.KindOf(err) {
	case core.ErrorKindNetwork, core.ErrorKindAPI, core.ErrorKindInternal:
		return true
	}
	return false
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	principal, _ := msg.Parameters[ParamPrincipal].(string)
	return "refresh:" + strings.TrimSpace(principal)
}
