package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRefreshLockTTL = 2 * time.Minute

	RefreshJobScriptPath = "accountlink/refresh_session"
)

type RefreshOutcome string

const (
	RefreshOutcomeSuccess     RefreshOutcome = "success"
	RefreshOutcomeAuthExpired RefreshOutcome = "auth_expired"
	RefreshOutcomeTransient   RefreshOutcome = "transient_error"
	RefreshOutcomeDisabled    RefreshOutcome = "disabled"
	RefreshOutcomeInFlight    RefreshOutcome = "in_flight"
	RefreshOutcomeEnqueued    RefreshOutcome = "enqueued"
)

type RefreshReport struct {
	Principal string
	BindingID string
	Outcome   RefreshOutcome
	Err       error
}

// RefreshScheduler periodically renews the platform session of every active
// binding. At most one refresh per binding runs at a time.
type RefreshScheduler struct {
	service *Service

	mu       sync.Mutex
	disabled map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func newRefreshScheduler(service *Service) *RefreshScheduler {
	return &RefreshScheduler{
		service:  service,
		disabled: map[string]time.Time{},
	}
}

// Start launches the periodic loop. It is a no-op when refresh is disabled
// in config and fails if the loop is already running.
func (r *RefreshScheduler) Start(ctx context.Context) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("core: refresh scheduler is not configured")
	}
	cfg := r.service.config.Refresh
	if !cfg.Enabled {
		return nil
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("core: refresh scheduler already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(loopCtx, cfg.Interval, cfg.RunOnStart, done)
	return nil
}

func (r *RefreshScheduler) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *RefreshScheduler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *RefreshScheduler) loop(ctx context.Context, interval time.Duration, runOnStart bool, done chan struct{}) {
	defer close(done)
	if runOnStart {
		r.tick(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *RefreshScheduler) tick(ctx context.Context) {
	var (
		reports []RefreshReport
		err     error
	)
	if r.service.jobEnqueuer != nil {
		reports, err = r.EnqueueAll(ctx)
	} else {
		reports, err = r.RunOnce(ctx)
	}
	if err != nil {
		r.service.logError(ctx, "refresh tick failed", map[string]any{"error": RedactString(err.Error())})
		return
	}
	counts := map[string]any{}
	for _, report := range reports {
		key := "outcome_" + string(report.Outcome)
		current, _ := counts[key].(int)
		counts[key] = current + 1
	}
	counts["bindings"] = len(reports)
	r.service.logInfo(ctx, "refresh tick completed", counts)
}

// RunOnce refreshes every active binding synchronously.
func (r *RefreshScheduler) RunOnce(ctx context.Context) ([]RefreshReport, error) {
	bindings, err := r.service.ListActiveBindings(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]RefreshReport, 0, len(bindings))
	for _, binding := range bindings {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		reports = append(reports, r.refreshBinding(ctx, binding))
	}
	return reports, nil
}

// EnqueueAll hands one refresh job per active binding to the job queue.
func (r *RefreshScheduler) EnqueueAll(ctx context.Context) ([]RefreshReport, error) {
	if r.service.jobEnqueuer == nil {
		return nil, fmt.Errorf("core: job enqueuer is not configured")
	}
	bindings, err := r.service.ListActiveBindings(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]RefreshReport, 0, len(bindings))
	for _, binding := range bindings {
		report := RefreshReport{Principal: binding.Principal, BindingID: binding.ID, Outcome: RefreshOutcomeEnqueued}
		if r.isDisabled(binding) {
			report.Outcome = RefreshOutcomeDisabled
			reports = append(reports, report)
			continue
		}
		msg := &JobExecutionMessage{
			JobID:      RefreshJobScriptPath,
			ScriptPath: RefreshJobScriptPath,
			Parameters: map[string]any{
				"principal_id": binding.Principal,
				"binding_id":   binding.ID,
			},
			IdempotencyKey: "refresh:" + binding.ID + ":" + r.service.now().Format("2006-01-02"),
			DedupPolicy:    "drop",
		}
		if err := r.service.jobEnqueuer.Enqueue(ctx, msg); err != nil {
			report.Outcome = RefreshOutcomeTransient
			report.Err = r.service.mapError(err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// RefreshPrincipal refreshes the binding of one principal, bypassing the
// schedule. Used by health checks and job handlers.
func (r *RefreshScheduler) RefreshPrincipal(ctx context.Context, principal string) (RefreshReport, error) {
	principal, err := normalizePrincipal(principal)
	if err != nil {
		return RefreshReport{}, r.service.mapError(err)
	}
	binding, err := r.service.activeBinding(ctx, principal)
	if err != nil {
		return RefreshReport{Principal: principal}, err
	}
	report := r.refreshBinding(ctx, binding)
	return report, report.Err
}

// Disabled reports whether refresh is suspended for principal's binding.
func (r *RefreshScheduler) Disabled(ctx context.Context, principal string) bool {
	binding, found, err := r.service.bindingStore.GetByPrincipal(ctx, strings.TrimSpace(principal))
	if err != nil || !found {
		return false
	}
	return r.isDisabled(binding)
}

func (r *RefreshScheduler) refreshBinding(ctx context.Context, binding Binding) (report RefreshReport) {
	startedAt := time.Now().UTC()
	report = RefreshReport{Principal: binding.Principal, BindingID: binding.ID}
	defer func() {
		fields := map[string]any{
			"principal_id": binding.Principal,
			"binding_id":   binding.ID,
			"outcome":      string(report.Outcome),
		}
		EmitTelemetry(ctx, r.service.telemetry, ComponentRefreshScheduler, "refresh", report.Err, fields)
		r.service.observeOperation(ctx, startedAt, "refresh_session", report.Err, fields)
	}()

	if r.isDisabled(binding) {
		report.Outcome = RefreshOutcomeDisabled
		return report
	}

	lockTTL := r.service.config.Refresh.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultRefreshLockTTL
	}
	handle, err := r.service.bindingLocker.Acquire(ctx, "refresh:"+binding.ID, lockTTL)
	if err != nil {
		report.Outcome = RefreshOutcomeInFlight
		report.Err = r.service.mapError(err)
		return report
	}
	defer func() {
		_ = handle.Unlock(context.WithoutCancel(ctx))
	}()

	if r.service.platform == nil {
		report.Outcome = RefreshOutcomeTransient
		report.Err = r.service.mapError(fmt.Errorf("core: platform is not configured"))
		return report
	}

	bundle, err := r.service.credentialCodec.Open(ctx, binding.Sealed)
	if err != nil {
		report.Outcome = RefreshOutcomeAuthExpired
		report.Err = r.service.mapError(wrapCryptoError(err, "core: stored credentials are unreadable"))
		r.disable(binding)
		return report
	}
	if strings.TrimSpace(bundle.CSRFToken) == "" {
		report.Outcome = RefreshOutcomeAuthExpired
		report.Err = r.service.mapError(NewValidationError(ErrorCodeInvalidCredentials, "core: anti-forgery token is missing"))
		r.disable(binding)
		return report
	}

	fresh, err := r.service.platform.RefreshSession(ctx, bundle)
	if err != nil {
		mapped := r.service.mapError(err)
		report.Err = mapped
		if isAuthExpired(mapped) {
			report.Outcome = RefreshOutcomeAuthExpired
			r.disable(binding)
			return report
		}
		report.Outcome = RefreshOutcomeTransient
		return report
	}

	merged := mergeBundles(bundle, fresh)
	if _, err := r.service.UpdateCredentials(ctx, binding.Principal, merged); err != nil {
		report.Outcome = RefreshOutcomeTransient
		report.Err = err
		return report
	}
	report.Outcome = RefreshOutcomeSuccess
	return report
}

// isDisabled clears the flag once the binding has been logged in again
// after it was disabled.
func (r *RefreshScheduler) isDisabled(binding Binding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	disabledAt, ok := r.disabled[binding.ID]
	if !ok {
		return false
	}
	if binding.LastLoginAt.After(disabledAt) {
		delete(r.disabled, binding.ID)
		return false
	}
	return true
}

func (r *RefreshScheduler) disable(binding Binding) {
	r.mu.Lock()
	r.disabled[binding.ID] = r.service.now()
	r.mu.Unlock()
	r.service.logWarn(context.Background(), "session refresh disabled until next login", map[string]any{
		"principal_id": binding.Principal,
		"binding_id":   binding.ID,
	})
}

func isAuthExpired(err error) bool {
	switch TextCode(err) {
	case ErrorCodeLoginExpired, ErrorCodeCSRFMismatch, ErrorCodeTokenConsumed, ErrorCodeInvalidCredentials:
		return true
	}
	switch KindOf(err) {
	case ErrorKindExpired, ErrorKindCrypto:
		return true
	default:
		return false
	}
}

// mergeBundles keeps previous secrets the platform did not rotate.
func mergeBundles(previous CredentialBundle, fresh CredentialBundle) CredentialBundle {
	merged := previous
	for _, name := range CredentialNames {
		if value := strings.TrimSpace(fresh.Get(name)); value != "" {
			merged.Set(name, value)
		}
	}
	return merged
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type MemoryBindingLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryBindingLocker() *MemoryBindingLocker {
	return &MemoryBindingLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryBindingLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: binding locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, NewConflictError(ErrRefreshInFlight, ErrorCodeRefreshInFlight, "core: refresh already in flight", map[string]any{
			"lock_key": key,
		})
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryBindingLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}
