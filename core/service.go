package core

import (
	"context"
	"errors"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	bindingStore      BindingStore
	cipher            CredentialCipher
	credentialCodec   CredentialCodec
	keyAdministrator  KeyAdministrator
	platform          Platform
	telemetry         TelemetrySink
	bindingLocker     BindingLocker
	jobEnqueuer       JobEnqueuer
	clock             func() time.Time
	idGenerator       func() string

	// mu serializes binding mutations so uniqueness checks and writes are atomic.
	mu sync.Mutex

	loginMu  sync.Mutex
	attempts map[string]*LoginAttempt

	scheduler *RefreshScheduler
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	BindingStore      BindingStore
	CredentialCipher  CredentialCipher
	CredentialCodec   CredentialCodec
	KeyAdministrator  KeyAdministrator
	Platform          Platform
	TelemetrySink     TelemetrySink
	BindingLocker     BindingLocker
	JobEnqueuer       JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("accountlink", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("accountlink"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.bindingLocker == nil {
		builder.bindingLocker = NewMemoryBindingLocker()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.telemetry == nil {
		builder.telemetry = NewLoggerTelemetrySink(logger)
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.bindingStore == nil && builder.repositoryFactory != nil {
		if factory, ok := builder.repositoryFactory.(BindingStoreFactory); ok {
			store, buildErr := factory.BuildBindingStore(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			builder.bindingStore = store
		} else if store, ok := builder.repositoryFactory.(BindingStore); ok {
			builder.bindingStore = store
		}
	}
	if builder.bindingStore == nil {
		builder.bindingStore = NewMemoryBindingStore()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = NewCipherCredentialCodec(builder.cipher)
	}

	service := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		bindingStore:      builder.bindingStore,
		cipher:            builder.cipher,
		credentialCodec:   builder.credentialCodec,
		keyAdministrator:  builder.keyAdministrator,
		platform:          builder.platform,
		telemetry:         builder.telemetry,
		bindingLocker:     builder.bindingLocker,
		jobEnqueuer:       builder.jobEnqueuer,
		clock:             builder.clock,
		idGenerator:       builder.idGenerator,
		attempts:          map[string]*LoginAttempt{},
	}
	service.scheduler = newRefreshScheduler(service)
	return service, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Scheduler() *RefreshScheduler {
	if s == nil {
		return nil
	}
	return s.scheduler
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		BindingStore:      s.bindingStore,
		CredentialCipher:  s.cipher,
		CredentialCodec:   s.credentialCodec,
		KeyAdministrator:  s.keyAdministrator,
		Platform:          s.platform,
		TelemetrySink:     s.telemetry,
		BindingLocker:     s.bindingLocker,
		JobEnqueuer:       s.jobEnqueuer,
	}
}

// CreateBinding persists a new binding for principal. It fails with
// ALREADY_BOUND, ACCOUNT_OCCUPIED or INVALID_CREDENTIALS, in that order.
func (s *Service) CreateBinding(
	ctx context.Context,
	principal string,
	account ExternalAccount,
	bundle CredentialBundle,
) (binding Binding, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"principal_id":        principal,
		"external_id":         account.ExternalID,
		"credentials_present": bundle.Present(),
	}
	defer func() {
		if binding.ID != "" {
			fields["binding_id"] = binding.ID
		}
		s.observeOperation(ctx, startedAt, "create_binding", err, fields)
	}()

	principal, err = normalizePrincipal(principal)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	if err := account.Validate(); err != nil {
		return Binding{}, s.mapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.bindingStore.GetByPrincipal(ctx, principal)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	if found && existing.Active {
		return Binding{}, s.mapError(NewConflictError(ErrAlreadyBound, ErrorCodeAlreadyBound, "core: principal already has an active binding", map[string]any{
			"principal_id": principal,
		}))
	}
	owner, found, err := s.bindingStore.GetByExternalID(ctx, account.ExternalID)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	if found && owner.Active && owner.Principal != principal {
		return Binding{}, s.mapError(NewConflictError(ErrAccountOccupied, ErrorCodeAccountOccupied, "core: external account is bound to another principal", map[string]any{
			"external_id": account.ExternalID,
		}))
	}
	if err := bundle.Validate(); err != nil {
		return Binding{}, s.mapError(err)
	}

	sealed, err := s.credentialCodec.Seal(ctx, bundle)
	if err != nil {
		return Binding{}, s.cryptoFailure(ctx, "create_binding", err)
	}

	now := s.now()
	binding = Binding{
		ID:          s.newID(),
		Principal:   principal,
		Account:     account,
		Sealed:      sealed,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLoginAt: now,
		Active:      true,
	}
	stored, err := s.bindingStore.Put(ctx, binding)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	return stored, nil
}

// UpdateCredentials re-seals the bundle of an active binding, as done after
// a successful session refresh.
func (s *Service) UpdateCredentials(ctx context.Context, principal string, bundle CredentialBundle) (binding Binding, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"principal_id":        principal,
		"credentials_present": bundle.Present(),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "update_credentials", err, fields)
	}()

	principal, err = normalizePrincipal(principal)
	if err != nil {
		return Binding{}, s.mapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.activeBinding(ctx, principal)
	if err != nil {
		return Binding{}, err
	}
	if err := bundle.Validate(); err != nil {
		return Binding{}, s.mapError(err)
	}
	sealed, err := s.credentialCodec.Seal(ctx, bundle)
	if err != nil {
		return Binding{}, s.cryptoFailure(ctx, "update_credentials", err)
	}

	now := s.now()
	existing.Sealed = sealed
	existing.UpdatedAt = now
	existing.LastRefreshAt = &now
	stored, err := s.bindingStore.Put(ctx, existing)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	fields["binding_id"] = stored.ID
	return stored, nil
}

// relogin replaces credentials and account snapshot after a fresh QR login
// for the account the principal already holds.
func (s *Service) relogin(ctx context.Context, principal string, account ExternalAccount, bundle CredentialBundle) (binding Binding, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"principal_id": principal,
		"external_id":  account.ExternalID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "relogin", err, fields)
	}()

	if err := bundle.Validate(); err != nil {
		return Binding{}, s.mapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.activeBinding(ctx, principal)
	if err != nil {
		return Binding{}, err
	}
	sealed, err := s.credentialCodec.Seal(ctx, bundle)
	if err != nil {
		return Binding{}, s.cryptoFailure(ctx, "relogin", err)
	}
	now := s.now()
	existing.Account = account
	existing.Sealed = sealed
	existing.UpdatedAt = now
	existing.LastLoginAt = now
	stored, err := s.bindingStore.Put(ctx, existing)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	return stored, nil
}

// Unbind soft-deletes the principal's binding. Repeated calls succeed.
func (s *Service) Unbind(ctx context.Context, principal string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"principal_id": principal}
	defer func() {
		s.observeOperation(ctx, startedAt, "unbind", err, fields)
	}()

	principal, err = normalizePrincipal(principal)
	if err != nil {
		return s.mapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.bindingStore.Delete(ctx, principal)
	if err != nil {
		return s.mapError(err)
	}
	fields["removed"] = removed
	return nil
}

// RefreshStatus probes the platform with the stored credentials. Platform
// outcomes are reported in the result; only local failures are returned as
// errors.
func (s *Service) RefreshStatus(ctx context.Context, principal string) (result RefreshStatusResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"principal_id": principal}
	defer func() {
		fields["session_status"] = string(result.Status)
		s.observeOperation(ctx, startedAt, "refresh_status", err, fields)
	}()

	principal, err = normalizePrincipal(principal)
	if err != nil {
		return RefreshStatusResult{}, s.mapError(err)
	}
	if s.platform == nil {
		return RefreshStatusResult{}, s.mapError(errors.New("core: platform is not configured"))
	}

	binding, err := s.activeBinding(ctx, principal)
	if err != nil {
		return RefreshStatusResult{}, err
	}
	bundle, err := s.credentialCodec.Open(ctx, binding.Sealed)
	if err != nil {
		return RefreshStatusResult{}, s.cryptoFailure(ctx, "refresh_status", err)
	}

	account, probeErr := s.platform.ProbeSession(ctx, bundle)
	if probeErr != nil {
		mapped := s.mapError(probeErr)
		EmitTelemetry(ctx, s.telemetry, ComponentBindingService, "refresh_status", mapped, map[string]any{
			"principal_id": principal,
		})
		if HasTextCode(mapped, ErrorCodeLoginExpired) {
			return RefreshStatusResult{Status: SessionStatusLoginExpired, Account: binding.Account, Err: mapped}, nil
		}
		return RefreshStatusResult{Status: SessionStatusError, Account: binding.Account, Err: mapped}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.activeBinding(ctx, principal)
	if err != nil {
		return RefreshStatusResult{}, err
	}
	if account.ExternalID == 0 {
		account.ExternalID = current.Account.ExternalID
	}
	current.Account = account
	current.UpdatedAt = s.now()
	if _, err := s.bindingStore.Put(ctx, current); err != nil {
		return RefreshStatusResult{}, s.mapError(err)
	}
	fields["external_id"] = account.ExternalID
	return RefreshStatusResult{Status: SessionStatusValid, Account: account}, nil
}

func (s *Service) CheckBindingStatus(ctx context.Context, principal string) (BindingStatus, error) {
	principal, err := normalizePrincipal(principal)
	if err != nil {
		return BindingStatusUnbound, s.mapError(err)
	}
	binding, found, err := s.bindingStore.GetByPrincipal(ctx, principal)
	if err != nil {
		return BindingStatusUnbound, s.mapError(err)
	}
	if found && binding.Active {
		return BindingStatusBound, nil
	}
	return BindingStatusUnbound, nil
}

// GetExternalAccountSnapshot returns nil without error when the principal is
// not bound.
func (s *Service) GetExternalAccountSnapshot(ctx context.Context, principal string) (*ExternalAccount, error) {
	principal, err := normalizePrincipal(principal)
	if err != nil {
		return nil, s.mapError(err)
	}
	binding, found, err := s.bindingStore.GetByPrincipal(ctx, principal)
	if err != nil {
		return nil, s.mapError(err)
	}
	if !found || !binding.Active {
		return nil, nil
	}
	account := binding.Account
	return &account, nil
}

// GetBinding returns the active binding without its sealed payload.
func (s *Service) GetBinding(ctx context.Context, principal string) (Binding, error) {
	principal, err := normalizePrincipal(principal)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	binding, err := s.activeBinding(ctx, principal)
	if err != nil {
		return Binding{}, err
	}
	binding.Sealed = SealedCredentials{}
	return binding, nil
}

func (s *Service) ListActiveBindings(ctx context.Context) ([]Binding, error) {
	bindings, err := s.bindingStore.ListActive(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return bindings, nil
}

func (s *Service) VerifyKeyIntegrity(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "verify_key_integrity", err, fields)
	}()

	if s.keyAdministrator != nil {
		fields["key_fingerprint"] = s.keyAdministrator.Fingerprint()
		if err := s.keyAdministrator.VerifyIntegrity(ctx); err != nil {
			return s.cryptoFailure(ctx, "verify_key_integrity", err)
		}
		return nil
	}
	probe := CredentialBundle{
		SessionToken:    "integrity-probe",
		CSRFToken:       "integrity-probe",
		AccountIDToken:  "integrity-probe",
		AccountChecksum: "integrity-probe",
	}
	sealed, err := s.credentialCodec.Seal(ctx, probe)
	if err != nil {
		return s.cryptoFailure(ctx, "verify_key_integrity", err)
	}
	opened, err := s.credentialCodec.Open(ctx, sealed)
	if err != nil {
		return s.cryptoFailure(ctx, "verify_key_integrity", err)
	}
	if opened != probe {
		return s.cryptoFailure(ctx, "verify_key_integrity", ErrIntegrityFailure)
	}
	return nil
}

// RegenerateKey replaces the encryption key. Credentials sealed under the
// previous key can no longer be opened; affected principals must log in again.
func (s *Service) RegenerateKey(ctx context.Context) (rotation KeyRotation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "regenerate_key", err, fields)
	}()

	if s.keyAdministrator == nil {
		return KeyRotation{}, s.mapError(NewCryptoError(ErrKeyUnavailable, "core: key administrator is not configured"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rotation, err = s.keyAdministrator.Regenerate(ctx)
	if err != nil {
		return KeyRotation{}, s.cryptoFailure(ctx, "regenerate_key", err)
	}
	fields["previous_fingerprint"] = rotation.PreviousFingerprint
	fields["current_fingerprint"] = rotation.CurrentFingerprint

	if active, listErr := s.bindingStore.ListActive(ctx); listErr == nil && len(active) > 0 {
		fields["unreadable_bindings"] = len(active)
		s.logWarn(ctx, "encryption key regenerated; existing sealed credentials are no longer readable", fields)
	}
	EmitTelemetry(ctx, s.telemetry, ComponentKeyManager, "regenerate", nil, map[string]any{
		"previous_fingerprint": rotation.PreviousFingerprint,
		"current_fingerprint":  rotation.CurrentFingerprint,
	})
	return rotation, nil
}

func (s *Service) activeBinding(ctx context.Context, principal string) (Binding, error) {
	binding, found, err := s.bindingStore.GetByPrincipal(ctx, principal)
	if err != nil {
		return Binding{}, s.mapError(err)
	}
	if !found || !binding.Active {
		return Binding{}, s.mapError(NewNotBoundError(principal))
	}
	return binding, nil
}

func (s *Service) cryptoFailure(ctx context.Context, operation string, err error) error {
	mapped := s.mapError(wrapCryptoError(err, "core: credential cipher failure"))
	EmitTelemetry(ctx, s.telemetry, ComponentBindingService, operation, mapped, nil)
	return mapped
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) newID() string {
	if s.idGenerator != nil {
		if id := s.idGenerator(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
