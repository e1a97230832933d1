package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-accountlink/core"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const bindingCacheKeyPrefix = "accountlink::binding::v1"

// CachedBindingStore serves principal lookups from a read-through cache and
// invalidates the principal entry on every write. A failed invalidation never
// fails a committed write; it is logged and the entry expires by TTL.
type CachedBindingStore struct {
	base   core.BindingStore
	cache  repositorycache.CacheService
	logger core.Logger
}

type cachedLookup struct {
	Binding core.Binding
	Found   bool
}

func NewCachedBindingStore(base core.BindingStore, cacheService repositorycache.CacheService) (*CachedBindingStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base binding store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: binding cache service is required")
	}
	return &CachedBindingStore{base: base, cache: cacheService, logger: glog.Nop()}, nil
}

// WithLogger sets the logger used for invalidation failures.
func (s *CachedBindingStore) WithLogger(logger core.Logger) *CachedBindingStore {
	if s != nil && logger != nil {
		s.logger = logger
	}
	return s
}

// BindingCacheKey returns accountlink::binding::v1::principal::<principal>
// with the principal URL-path escaped.
func BindingCacheKey(principal string) (string, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return "", core.NewValidationError(core.ErrorCodeBadInput, "sqlstore: principal is required for cache key")
	}
	return strings.Join([]string{bindingCacheKeyPrefix, "principal", url.PathEscape(principal)}, "::"), nil
}

func (s *CachedBindingStore) GetByPrincipal(ctx context.Context, principal string) (core.Binding, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: cached binding store is not configured")
	}
	principal = strings.TrimSpace(principal)
	cacheKey, err := BindingCacheKey(principal)
	if err != nil {
		return core.Binding{}, false, err
	}
	lookup, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedLookup, error) {
		binding, found, fetchErr := s.base.GetByPrincipal(ctx, principal)
		if fetchErr != nil {
			return cachedLookup{}, fetchErr
		}
		return cachedLookup{Binding: binding.Clone(), Found: found}, nil
	})
	if err != nil {
		return core.Binding{}, false, err
	}
	return lookup.Binding.Clone(), lookup.Found, nil
}

func (s *CachedBindingStore) GetByExternalID(ctx context.Context, externalID int64) (core.Binding, bool, error) {
	if s == nil || s.base == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: cached binding store is not configured")
	}
	return s.base.GetByExternalID(ctx, externalID)
}

func (s *CachedBindingStore) Put(ctx context.Context, binding core.Binding) (core.Binding, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Binding{}, fmt.Errorf("sqlstore: cached binding store is not configured")
	}
	stored, err := s.base.Put(ctx, binding)
	if err != nil {
		return core.Binding{}, err
	}
	s.invalidate(ctx, "put", stored.Principal)
	return stored, nil
}

func (s *CachedBindingStore) Delete(ctx context.Context, principal string) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached binding store is not configured")
	}
	deleted, err := s.base.Delete(ctx, principal)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, "delete", principal)
	return deleted, nil
}

func (s *CachedBindingStore) ListActive(ctx context.Context) ([]core.Binding, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached binding store is not configured")
	}
	return s.base.ListActive(ctx)
}

func (s *CachedBindingStore) invalidate(ctx context.Context, operation string, principal string) {
	cacheKey, err := BindingCacheKey(principal)
	if err == nil {
		err = s.cache.Delete(ctx, cacheKey)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("binding cache invalidation failed",
			"operation", operation,
			"principal_id", principal,
			"error", err,
		)
	}
}
