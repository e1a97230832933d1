package accountlink

import "github.com/goliatone/go-accountlink/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Platform = core.Platform
type BindingStore = core.BindingStore
type BindingLocker = core.BindingLocker
type CredentialCipher = core.CredentialCipher
type KeyAdministrator = core.KeyAdministrator
type JobEnqueuer = core.JobEnqueuer
type TelemetrySink = core.TelemetrySink

type Binding = core.Binding
type ExternalAccount = core.ExternalAccount
type CredentialBundle = core.CredentialBundle
type LoginCallbacks = core.LoginCallbacks
type LoginAttempt = core.LoginAttempt
type RefreshReport = core.RefreshReport

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithBindingStore      = core.WithBindingStore
	WithCredentialCipher  = core.WithCredentialCipher
	WithCredentialCodec   = core.WithCredentialCodec
	WithKeyAdministrator  = core.WithKeyAdministrator
	WithPlatform          = core.WithPlatform
	WithTelemetrySink     = core.WithTelemetrySink
	WithBindingLocker     = core.WithBindingLocker
	WithJobEnqueuer       = core.WithJobEnqueuer
	WithClock             = core.WithClock
	WithIDGenerator       = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
