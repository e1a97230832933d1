package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	accountlink "github.com/goliatone/go-accountlink"
	"github.com/goliatone/go-accountlink/adapters/gocommand"
	"github.com/goliatone/go-accountlink/adapters/gologger"
	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/migrations"
	"github.com/goliatone/go-accountlink/security"
	sqlstore "github.com/goliatone/go-accountlink/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	storage storageConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.storage.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.storage.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.storage.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.storage.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.storage.PingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "accountlinkd"
}

// runtime holds every collaborator of one binary invocation.
type runtime struct {
	config  core.Config
	logger  core.Logger
	client  *persistence.Client
	keys    *security.KeyManager
	service *accountlink.Service
	facade  *accountlink.Facade
	bus     *gocommand.Bus
}

func newRuntime(ctx context.Context, file fileConfig, logOutput io.Writer) (*runtime, error) {
	provider, err := gologger.NewProvider(gologger.ProviderOptions{
		Level:  file.Log.Level,
		JSON:   file.Log.JSON,
		Writer: logOutput,
	})
	if err != nil {
		return nil, err
	}
	_, logger := gologger.Resolve("accountlinkd", provider, nil)

	cfg := file.Accountlink
	rt := &runtime{config: cfg, logger: logger}
	if err := rt.openStorage(ctx, file.Storage); err != nil {
		return nil, err
	}

	telemetry := core.NewLoggerTelemetrySink(logger)
	keys, err := security.NewKeyManager(cfg.Keys.Path,
		security.WithKeyLogger(logger),
		security.WithKeyTelemetry(telemetry),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.keys = keys
	cipher, err := security.NewAEADCipher(keys, security.WithAlgorithm(cfg.Keys.Algorithm))
	if err != nil {
		rt.Close()
		return nil, err
	}

	platform, err := accountlink.PlatformFromConfig(cfg, gologger.Named(provider, "gateway"), telemetry)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var factoryOpts []sqlstore.FactoryOption
	if file.Storage.Cache {
		cacheConfig := repositorycache.DefaultConfig()
		if file.Storage.CacheTTL > 0 {
			cacheConfig.TTL = file.Storage.CacheTTL
		}
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("binding cache: %w", err)
		}
		factoryOpts = append(factoryOpts,
			sqlstore.WithCacheService(cacheService),
			sqlstore.WithCacheLogger(gologger.Named(provider, "store")),
		)
	}

	service, err := accountlink.NewService(cfg,
		accountlink.WithLoggerProvider(provider),
		accountlink.WithPersistenceClient(rt.client),
		accountlink.WithRepositoryFactory(sqlstore.NewRepositoryFactory(factoryOpts...)),
		accountlink.WithCredentialCipher(cipher),
		accountlink.WithKeyAdministrator(keys),
		accountlink.WithPlatform(platform),
		accountlink.WithTelemetrySink(telemetry),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = service

	facade, err := accountlink.NewFacade(service)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.facade = facade
	rt.bus = gocommand.NewBus(nil)
	if err := gocommand.RegisterFacade(rt.bus, facade); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openStorage(ctx context.Context, storage storageConfig) error {
	dialectName, err := migrations.DialectForDriver(storage.Driver)
	if err != nil {
		return err
	}
	var dialect schema.Dialect
	switch dialectName {
	case migrations.DialectSQLite:
		dialect = sqlitedialect.New()
	default:
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(storage.Driver, storage.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", storage.Driver, err)
	}
	if dialectName == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{storage: storage}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("persistence client: %w", err)
	}
	if _, err := migrations.Apply(ctx, client, dialectName); err != nil {
		_ = client.Close()
		return err
	}
	rt.client = client
	return nil
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.service != nil {
		rt.service.Scheduler().Stop()
	}
	if rt.client != nil {
		_ = rt.client.Close()
	}
}
