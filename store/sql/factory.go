package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-accountlink/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithCacheService wraps the binding store in a CachedBindingStore.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

// WithCacheLogger sets the logger the cached binding store reports
// invalidation failures to.
func WithCacheLogger(logger core.Logger) FactoryOption {
	return func(f *RepositoryFactory) {
		f.logger = logger
	}
}

type RepositoryFactory struct {
	db     *bun.DB
	cache  repositorycache.CacheService
	logger core.Logger

	bindingStore *BindingStore
	cachedStore  *CachedBindingStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildBindingStore(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildBindingStore(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildBindingStore resolves a bun DB from persistenceClient and returns the
// binding store, cached when a cache service was configured.
func (f *RepositoryFactory) BuildBindingStore(persistenceClient any) (core.BindingStore, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.bindingStore == nil {
		store, err := NewBindingStore(f.db)
		if err != nil {
			return nil, err
		}
		f.bindingStore = store
	}
	if f.cache == nil {
		return f.bindingStore, nil
	}
	if f.cachedStore == nil {
		cached, err := NewCachedBindingStore(f.bindingStore, f.cache)
		if err != nil {
			return nil, err
		}
		f.cachedStore = cached.WithLogger(f.logger)
	}
	return f.cachedStore, nil
}

func (f *RepositoryFactory) BindingStore() *BindingStore {
	if f == nil {
		return nil
	}
	return f.bindingStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
