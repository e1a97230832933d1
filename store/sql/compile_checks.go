package sqlstore

import "github.com/goliatone/go-accountlink/core"

var (
	_ core.BindingStore        = (*BindingStore)(nil)
	_ core.BindingStore        = (*CachedBindingStore)(nil)
	_ core.BindingStoreFactory = (*RepositoryFactory)(nil)
)
