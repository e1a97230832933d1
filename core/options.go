package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// BindingStoreFactory builds a BindingStore from a persistence client.
type BindingStoreFactory interface {
	BuildBindingStore(persistenceClient any) (BindingStore, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithBindingStore(store BindingStore) Option {
	return func(b *serviceBuilder) {
		b.bindingStore = store
	}
}

func WithCredentialCipher(cipher CredentialCipher) Option {
	return func(b *serviceBuilder) {
		b.cipher = cipher
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *serviceBuilder) {
		b.credentialCodec = codec
	}
}

func WithKeyAdministrator(admin KeyAdministrator) Option {
	return func(b *serviceBuilder) {
		b.keyAdministrator = admin
	}
}

func WithPlatform(platform Platform) Option {
	return func(b *serviceBuilder) {
		b.platform = platform
	}
}

func WithTelemetrySink(sink TelemetrySink) Option {
	return func(b *serviceBuilder) {
		b.telemetry = sink
	}
}

func WithBindingLocker(locker BindingLocker) Option {
	return func(b *serviceBuilder) {
		b.bindingLocker = locker
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("accountlink", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		bindingLocker:   NewMemoryBindingLocker(),
		clock:           func() time.Time { return time.Now().UTC() },
		idGenerator:     func() string { return uuid.NewString() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticRawConfigLoader serves a fixed raw map, typically decoded from a
// config file by the caller.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ConfigMap renders cfg as the nested key layout the config loaders read,
// zero values included.
func ConfigMap(cfg Config) map[string]any {
	return configToLayerMap(cfg, true)
}

// configToLayerMap drops zero values unless includeZero is set. Boolean flags
// are carried whenever the layer names a service, since false is meaningful
// for them.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	explicit := includeZero || strings.TrimSpace(cfg.ServiceName) != ""
	if explicit {
		layer["service_name"] = cfg.ServiceName
	}

	platform := map[string]any{}
	putString(platform, "passport_base_url", cfg.Platform.PassportBaseURL, includeZero)
	putString(platform, "api_base_url", cfg.Platform.APIBaseURL, includeZero)
	putString(platform, "user_agent", cfg.Platform.UserAgent, includeZero)
	putString(platform, "referer", cfg.Platform.Referer, includeZero)
	putString(platform, "cookie_domain", cfg.Platform.CookieDomain, includeZero)
	putSection(layer, "platform", platform)

	gateway := map[string]any{}
	putInt(gateway, "max_attempts", cfg.Gateway.MaxAttempts, includeZero)
	putDuration(gateway, "base_delay", cfg.Gateway.BaseDelay, includeZero)
	putDuration(gateway, "timeout", cfg.Gateway.Timeout, includeZero)
	putSection(layer, "gateway", gateway)

	login := map[string]any{}
	putDuration(login, "poll_interval", cfg.Login.PollInterval, includeZero)
	putDuration(login, "challenge_ttl", cfg.Login.ChallengeTTL, includeZero)
	putInt(login, "min_harvested_secrets", cfg.Login.MinHarvestedSecrets, includeZero)
	putSection(layer, "login", login)

	refresh := map[string]any{}
	if explicit || cfg.Refresh.Enabled {
		refresh["enabled"] = cfg.Refresh.Enabled
	}
	if explicit || cfg.Refresh.RunOnStart {
		refresh["run_on_start"] = cfg.Refresh.RunOnStart
	}
	putDuration(refresh, "interval", cfg.Refresh.Interval, includeZero)
	putDuration(refresh, "session_validity", cfg.Refresh.SessionValidity, includeZero)
	putDuration(refresh, "lock_ttl", cfg.Refresh.LockTTL, includeZero)
	putSection(layer, "refresh", refresh)

	keys := map[string]any{}
	putString(keys, "path", cfg.Keys.Path, includeZero)
	putString(keys, "algorithm", cfg.Keys.Algorithm, includeZero)
	putSection(layer, "keys", keys)
	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}

func putString(section map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		section[key] = value
	}
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putDuration(section map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}
