package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// CredentialCipher seals and opens opaque secrets with authenticated encryption.
type CredentialCipher interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type KeyRotation struct {
	PreviousFingerprint string
	CurrentFingerprint  string
	RotatedAt           time.Time
}

// KeyAdministrator exposes the administrative key lifecycle operations.
type KeyAdministrator interface {
	Fingerprint() string
	VerifyIntegrity(ctx context.Context) error
	Regenerate(ctx context.Context) (KeyRotation, error)
}

// Platform is the subset of the external video platform protocol needed to
// log in, probe and refresh a session.
type Platform interface {
	NewLoginSession() LoginSession
	ProbeSession(ctx context.Context, bundle CredentialBundle) (ExternalAccount, error)
	RefreshSession(ctx context.Context, bundle CredentialBundle) (CredentialBundle, error)
}

// LoginSession is owned by exactly one login attempt. Implementations keep
// their own cookie state so concurrent attempts never share secrets.
type LoginSession interface {
	GenerateChallenge(ctx context.Context) (QRSession, error)
	Poll(ctx context.Context, session QRSession) (PollResult, error)
	HarvestCredentials(ctx context.Context, result PollResult) (CredentialBundle, error)
	FetchAccount(ctx context.Context, bundle CredentialBundle) (ExternalAccount, error)
}

type PollResult struct {
	Outcome     PollOutcome
	Code        int
	Message     string
	RedirectURL string
}

type BindingStore interface {
	GetByPrincipal(ctx context.Context, principal string) (Binding, bool, error)
	GetByExternalID(ctx context.Context, externalID int64) (Binding, bool, error)
	// Put upserts the active binding owned by binding.Principal.
	Put(ctx context.Context, binding Binding) (Binding, error)
	// Delete soft-deletes the active binding and reports whether one existed.
	Delete(ctx context.Context, principal string) (bool, error)
	ListActive(ctx context.Context) ([]Binding, error)
}

type TelemetryEvent struct {
	Component  string
	Operation  string
	ErrorKind  ErrorKind
	Metadata   map[string]any
	OccurredAt time.Time
}

type TelemetrySink interface {
	Record(ctx context.Context, event TelemetryEvent)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type BindingLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type LoginCallbacks struct {
	OnChallengeReady func(session QRSession)
	OnStatusChanged  func(state LoginState)
	OnSuccess        func(binding Binding)
	OnError          func(err error)
}

// AccountLinkService is the collaborator surface consumed by callers of the
// binding core.
type AccountLinkService interface {
	StartLogin(ctx context.Context, principal string, callbacks LoginCallbacks) (*LoginAttempt, error)
	CreateBinding(ctx context.Context, principal string, account ExternalAccount, bundle CredentialBundle) (Binding, error)
	UpdateCredentials(ctx context.Context, principal string, bundle CredentialBundle) (Binding, error)
	Unbind(ctx context.Context, principal string) error
	RefreshStatus(ctx context.Context, principal string) (RefreshStatusResult, error)
	CheckBindingStatus(ctx context.Context, principal string) (BindingStatus, error)
	GetExternalAccountSnapshot(ctx context.Context, principal string) (*ExternalAccount, error)
	VerifyKeyIntegrity(ctx context.Context) error
	RegenerateKey(ctx context.Context) (KeyRotation, error)
}
