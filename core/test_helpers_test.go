package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

var testSealPrefix = []byte("sealed:")

// prefixCipher is a reversible stand-in for an AEAD cipher.
type prefixCipher struct{}

func (prefixCipher) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	out := append([]byte(nil), testSealPrefix...)
	for i := len(plaintext) - 1; i >= 0; i-- {
		out = append(out, plaintext[i])
	}
	return out, nil
}

func (prefixCipher) Open(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testSealPrefix) {
		return nil, NewCryptoError(ErrIntegrityFailure, "test cipher: integrity failure")
	}
	body := ciphertext[len(testSealPrefix):]
	out := make([]byte, 0, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		out = append(out, body[i])
	}
	return out, nil
}

type stubKeyAdministrator struct {
	mu          sync.Mutex
	fingerprint string
	verifyErr   error
	rotations   int
}

func (k *stubKeyAdministrator) Fingerprint() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fingerprint
}

func (k *stubKeyAdministrator) VerifyIntegrity(context.Context) error {
	return k.verifyErr
}

func (k *stubKeyAdministrator) Regenerate(context.Context) (KeyRotation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotations++
	previous := k.fingerprint
	k.fingerprint = fmt.Sprintf("fp-%d", k.rotations)
	return KeyRotation{PreviousFingerprint: previous, CurrentFingerprint: k.fingerprint, RotatedAt: time.Now().UTC()}, nil
}

type scriptedPoll struct {
	outcome PollOutcome
	err     error
}

// fakeLoginSession replays a fixed poll script. A poll past the end of the
// script blocks until its context is cancelled.
type fakeLoginSession struct {
	platform *fakePlatform
	index    int
}

func (s *fakeLoginSession) GenerateChallenge(ctx context.Context) (QRSession, error) {
	p := s.platform
	p.mu.Lock()
	p.generateCalls++
	if p.blockGenerate {
		p.mu.Unlock()
		<-ctx.Done()
		return QRSession{}, NewNetworkError(ctx.Err(), "qr_generate request failed", nil)
	}
	defer p.mu.Unlock()
	if p.generateErr != nil {
		return QRSession{}, p.generateErr
	}
	return QRSession{ChallengeKey: "qr-key", URL: "https://passport.example/qr?key=qr-key", TTL: p.challengeTTL}, nil
}

func (s *fakeLoginSession) Poll(ctx context.Context, _ QRSession) (PollResult, error) {
	p := s.platform
	p.mu.Lock()
	p.pollCalls++
	if s.index >= len(p.polls) {
		p.mu.Unlock()
		<-ctx.Done()
		return PollResult{}, ctx.Err()
	}
	step := p.polls[s.index]
	s.index++
	p.mu.Unlock()
	if step.err != nil {
		return PollResult{}, step.err
	}
	return PollResult{Outcome: step.outcome}, nil
}

func (s *fakeLoginSession) HarvestCredentials(context.Context, PollResult) (CredentialBundle, error) {
	s.platform.mu.Lock()
	defer s.platform.mu.Unlock()
	return s.platform.harvest, nil
}

func (s *fakeLoginSession) FetchAccount(context.Context, CredentialBundle) (ExternalAccount, error) {
	s.platform.mu.Lock()
	defer s.platform.mu.Unlock()
	return s.platform.account, nil
}

type fakePlatform struct {
	mu            sync.Mutex
	polls         []scriptedPoll
	generateErr   error
	blockGenerate bool
	challengeTTL  time.Duration
	harvest       CredentialBundle
	account       ExternalAccount
	probeErr      error
	refreshErr    error
	refreshed     CredentialBundle
	refreshCalls  int
	generateCalls int
	pollCalls     int
	refreshGate   chan struct{}
}

func newFakePlatform(account ExternalAccount, polls ...PollOutcome) *fakePlatform {
	platform := &fakePlatform{
		account:      account,
		harvest:      completeBundle("login"),
		challengeTTL: time.Minute,
	}
	for _, outcome := range polls {
		platform.polls = append(platform.polls, scriptedPoll{outcome: outcome})
	}
	return platform
}

func (p *fakePlatform) NewLoginSession() LoginSession {
	return &fakeLoginSession{platform: p}
}

func (p *fakePlatform) ProbeSession(context.Context, CredentialBundle) (ExternalAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.probeErr != nil {
		return ExternalAccount{}, p.probeErr
	}
	return p.account, nil
}

func (p *fakePlatform) RefreshSession(ctx context.Context, bundle CredentialBundle) (CredentialBundle, error) {
	p.mu.Lock()
	p.refreshCalls++
	gate := p.refreshGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return CredentialBundle{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshErr != nil {
		return CredentialBundle{}, p.refreshErr
	}
	return p.refreshed, nil
}

func (p *fakePlatform) calls() (generate int, poll int, refresh int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls, p.pollCalls, p.refreshCalls
}

type captureEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *captureEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

func completeBundle(seed string) CredentialBundle {
	return CredentialBundle{
		SessionToken:    "sess-" + seed,
		CSRFToken:       "csrf-" + seed,
		AccountIDToken:  "uid-" + seed,
		AccountChecksum: "sum-" + seed,
	}
}

func testAccount(id int64) ExternalAccount {
	return ExternalAccount{ExternalID: id, DisplayName: fmt.Sprintf("user-%d", id), Level: 3}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Login.PollInterval = time.Millisecond
	cfg.Refresh.Enabled = false
	return cfg
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryBindingStore) {
	t.Helper()
	store := NewMemoryBindingStore()
	base := []Option{
		WithBindingStore(store),
		WithCredentialCipher(prefixCipher{}),
		WithTelemetrySink(&MemoryTelemetrySink{}),
	}
	svc, err := NewService(testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func waitAttempt(t *testing.T, attempt *LoginAttempt) LoginOutcome {
	t.Helper()
	select {
	case <-attempt.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("login attempt did not finish")
	}
	outcome, finished := attempt.Outcome()
	if !finished {
		t.Fatalf("expected finished outcome")
	}
	return outcome
}

func containsSecret(value string, bundle CredentialBundle) bool {
	for _, name := range CredentialNames {
		secret := bundle.Get(name)
		if secret != "" && strings.Contains(value, secret) {
			return true
		}
	}
	return false
}
