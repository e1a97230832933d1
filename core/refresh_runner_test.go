package core

import (
	"context"
	stderrors "errors"
	"testing"
	"time"
)

func TestRefreshScheduler_SuccessUpdatesCredentials(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform(testAccount(100))
	platform.refreshed = CredentialBundle{SessionToken: "sess-new", CSRFToken: "csrf-new"}
	svc, store := newTestService(t, WithPlatform(platform))

	if _, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("old")); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	reports, err := svc.Scheduler().RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(reports) != 1 || reports[0].Outcome != RefreshOutcomeSuccess {
		t.Fatalf("expected one success report, got %+v", reports)
	}

	stored := store.All()[0]
	if stored.LastRefreshAt == nil {
		t.Fatalf("expected last_refresh_at to be set")
	}
	opened, err := svc.credentialCodec.Open(ctx, stored.Sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := CredentialBundle{
		SessionToken:    "sess-new",
		CSRFToken:       "csrf-new",
		AccountIDToken:  "uid-old",
		AccountChecksum: "sum-old",
	}
	if opened != want {
		t.Fatalf("expected rotated secrets merged with kept ones")
	}
}

func TestRefreshScheduler_AuthExpiredDisablesUntilFreshLogin(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform(testAccount(100))
	platform.refreshErr = NewExpiredError(ErrLoginExpired, ErrorCodeLoginExpired, "platform: not logged in")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	svc, _ := newTestService(t, WithPlatform(platform), WithClock(func() time.Time { return clock }))
	scheduler := svc.Scheduler()

	if _, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("a")); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	report, err := scheduler.RefreshPrincipal(ctx, "p1")
	if err == nil || report.Outcome != RefreshOutcomeAuthExpired {
		t.Fatalf("expected auth expired, got %+v (%v)", report, err)
	}
	if !scheduler.Disabled(ctx, "p1") {
		t.Fatalf("expected refresh to be disabled")
	}

	clock = now.Add(time.Hour)
	report, _ = scheduler.RefreshPrincipal(ctx, "p1")
	if report.Outcome != RefreshOutcomeDisabled {
		t.Fatalf("expected disabled outcome, got %s", report.Outcome)
	}
	if _, _, refreshes := platform.calls(); refreshes != 1 {
		t.Fatalf("expected no refresh call while disabled, got %d", refreshes)
	}

	platform.mu.Lock()
	platform.refreshErr = nil
	platform.refreshed = completeBundle("b")
	platform.mu.Unlock()
	clock = now.Add(2 * time.Hour)
	if _, err := svc.relogin(ctx, "p1", testAccount(100), completeBundle("c")); err != nil {
		t.Fatalf("relogin: %v", err)
	}
	if scheduler.Disabled(ctx, "p1") {
		t.Fatalf("expected fresh login to re-enable refresh")
	}
	report, err = scheduler.RefreshPrincipal(ctx, "p1")
	if err != nil || report.Outcome != RefreshOutcomeSuccess {
		t.Fatalf("expected success after relogin, got %+v (%v)", report, err)
	}
}

func TestRefreshScheduler_TransientErrorKeepsRefreshEnabled(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform(testAccount(100))
	platform.refreshErr = NewNetworkError(stderrors.New("timeout"), "gateway exhausted", nil)
	svc, _ := newTestService(t, WithPlatform(platform))

	if _, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("a")); err != nil {
		t.Fatalf("create binding: %v", err)
	}
	report, _ := svc.Scheduler().RefreshPrincipal(ctx, "p1")
	if report.Outcome != RefreshOutcomeTransient {
		t.Fatalf("expected transient outcome, got %s", report.Outcome)
	}
	if svc.Scheduler().Disabled(ctx, "p1") {
		t.Fatalf("expected transient failure to keep refresh enabled")
	}
}

func TestRefreshScheduler_CSRFMismatchCountsAsAuthExpired(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform(testAccount(100))
	platform.refreshErr = NewAPIError(ErrorCodeCSRFMismatch, "platform: csrf mismatch", nil)
	svc, _ := newTestService(t, WithPlatform(platform))

	if _, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("a")); err != nil {
		t.Fatalf("create binding: %v", err)
	}
	report, _ := svc.Scheduler().RefreshPrincipal(ctx, "p1")
	if report.Outcome != RefreshOutcomeAuthExpired {
		t.Fatalf("expected auth expired for csrf mismatch, got %s", report.Outcome)
	}
}

func TestRefreshScheduler_OneRefreshPerBindingInFlight(t *testing.T) {
	ctx := context.Background()
	platform := newFakePlatform(testAccount(100))
	platform.refreshed = completeBundle("b")
	platform.refreshGate = make(chan struct{})
	svc, _ := newTestService(t, WithPlatform(platform))

	if _, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("a")); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	firstDone := make(chan RefreshReport, 1)
	go func() {
		report, _ := svc.Scheduler().RefreshPrincipal(ctx, "p1")
		firstDone <- report
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, refreshes := platform.calls(); refreshes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected first refresh to start")
		}
		time.Sleep(time.Millisecond)
	}

	second, err := svc.Scheduler().RefreshPrincipal(ctx, "p1")
	if second.Outcome != RefreshOutcomeInFlight || !HasTextCode(err, ErrorCodeRefreshInFlight) {
		t.Fatalf("expected in-flight rejection, got %+v (%v)", second, err)
	}

	close(platform.refreshGate)
	select {
	case report := <-firstDone:
		if report.Outcome != RefreshOutcomeSuccess {
			t.Fatalf("expected first refresh to succeed, got %+v", report)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first refresh did not finish")
	}
	if _, _, refreshes := platform.calls(); refreshes != 1 {
		t.Fatalf("expected exactly one platform refresh, got %d", refreshes)
	}
}

func TestRefreshScheduler_EnqueuesJobsWhenQueueConfigured(t *testing.T) {
	ctx := context.Background()
	enqueuer := &captureEnqueuer{}
	svc, _ := newTestService(t, WithPlatform(newFakePlatform(testAccount(100))), WithJobEnqueuer(enqueuer))

	binding, err := svc.CreateBinding(ctx, "p1", testAccount(100), completeBundle("a"))
	if err != nil {
		t.Fatalf("create binding: %v", err)
	}
	reports, err := svc.Scheduler().EnqueueAll(ctx)
	if err != nil {
		t.Fatalf("enqueue all: %v", err)
	}
	if len(reports) != 1 || reports[0].Outcome != RefreshOutcomeEnqueued {
		t.Fatalf("expected enqueued report, got %+v", reports)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one job, got %d", len(enqueuer.messages))
	}
	msg := enqueuer.messages[0]
	if msg.ScriptPath != RefreshJobScriptPath || msg.Parameters["principal_id"] != "p1" || msg.Parameters["binding_id"] != binding.ID {
		t.Fatalf("unexpected job message %+v", msg)
	}
}

func TestRefreshScheduler_StartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.Enabled = true
	cfg.Refresh.Interval = time.Hour
	cfg.Refresh.RunOnStart = true
	platform := newFakePlatform(testAccount(100))
	platform.refreshed = completeBundle("b")
	svc, err := NewService(cfg,
		WithCredentialCipher(prefixCipher{}),
		WithPlatform(platform),
		WithTelemetrySink(&MemoryTelemetrySink{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.CreateBinding(context.Background(), "p1", testAccount(100), completeBundle("a")); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	scheduler := svc.Scheduler()
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, refreshes := platform.calls(); refreshes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected run-on-start refresh")
		}
		time.Sleep(time.Millisecond)
	}
	scheduler.Stop()
	if scheduler.Running() {
		t.Fatalf("expected scheduler to stop")
	}
}

func TestMemoryBindingLocker_ReleasesOnUnlock(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryBindingLocker()
	handle, err := locker.Acquire(ctx, "refresh:b1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "refresh:b1", time.Minute); err == nil {
		t.Fatalf("expected lock to be held")
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Acquire(ctx, "refresh:b1", time.Minute); err != nil {
		t.Fatalf("expected lock to be free after unlock: %v", err)
	}
}
