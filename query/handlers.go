package query

import (
	"context"
	"time"

	"github.com/goliatone/go-accountlink/core"
)

type BindingReader interface {
	CheckBindingStatus(ctx context.Context, principal string) (core.BindingStatus, error)
	GetExternalAccountSnapshot(ctx context.Context, principal string) (*core.ExternalAccount, error)
	GetBinding(ctx context.Context, principal string) (core.Binding, error)
	ListActiveBindings(ctx context.Context) ([]core.Binding, error)
}

type SessionStatusReader interface {
	RefreshStatus(ctx context.Context, principal string) (core.RefreshStatusResult, error)
}

// BindingSummary is the public projection of a binding; sealed credentials
// never leave the service.
type BindingSummary struct {
	ID            string
	Principal     string
	Account       core.ExternalAccount
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   time.Time
	LastRefreshAt *time.Time
}

func SummarizeBinding(binding core.Binding) BindingSummary {
	summary := BindingSummary{
		ID:          binding.ID,
		Principal:   binding.Principal,
		Account:     binding.Account,
		CreatedAt:   binding.CreatedAt,
		UpdatedAt:   binding.UpdatedAt,
		LastLoginAt: binding.LastLoginAt,
	}
	if binding.LastRefreshAt != nil {
		value := *binding.LastRefreshAt
		summary.LastRefreshAt = &value
	}
	return summary
}

type CheckBindingStatusQuery struct {
	reader BindingReader
}

func NewCheckBindingStatusQuery(reader BindingReader) *CheckBindingStatusQuery {
	return &CheckBindingStatusQuery{reader: reader}
}

func (q *CheckBindingStatusQuery) Query(ctx context.Context, msg CheckBindingStatusMessage) (core.BindingStatus, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: binding reader is required")
	}
	return q.reader.CheckBindingStatus(ctx, msg.Principal)
}

type ExternalAccountSnapshotQuery struct {
	reader BindingReader
}

func NewExternalAccountSnapshotQuery(reader BindingReader) *ExternalAccountSnapshotQuery {
	return &ExternalAccountSnapshotQuery{reader: reader}
}

// Query returns nil without error when the principal has no active binding.
func (q *ExternalAccountSnapshotQuery) Query(ctx context.Context, msg ExternalAccountSnapshotMessage) (*core.ExternalAccount, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: binding reader is required")
	}
	return q.reader.GetExternalAccountSnapshot(ctx, msg.Principal)
}

type RefreshStatusQuery struct {
	reader SessionStatusReader
}

func NewRefreshStatusQuery(reader SessionStatusReader) *RefreshStatusQuery {
	return &RefreshStatusQuery{reader: reader}
}

func (q *RefreshStatusQuery) Query(ctx context.Context, msg RefreshStatusMessage) (core.RefreshStatusResult, error) {
	if q == nil || q.reader == nil {
		return core.RefreshStatusResult{}, queryDependencyError("query: session status reader is required")
	}
	return q.reader.RefreshStatus(ctx, msg.Principal)
}

type ListBindingsQuery struct {
	reader BindingReader
}

func NewListBindingsQuery(reader BindingReader) *ListBindingsQuery {
	return &ListBindingsQuery{reader: reader}
}

func (q *ListBindingsQuery) Query(ctx context.Context, msg ListBindingsMessage) ([]BindingSummary, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: binding reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	bindings, err := q.reader.ListActiveBindings(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Limit > 0 && len(bindings) > msg.Limit {
		bindings = bindings[:msg.Limit]
	}
	out := make([]BindingSummary, 0, len(bindings))
	for _, binding := range bindings {
		out = append(out, SummarizeBinding(binding))
	}
	return out, nil
}

type GetBindingQuery struct {
	reader BindingReader
}

func NewGetBindingQuery(reader BindingReader) *GetBindingQuery {
	return &GetBindingQuery{reader: reader}
}

func (q *GetBindingQuery) Query(ctx context.Context, msg GetBindingMessage) (BindingSummary, error) {
	if q == nil || q.reader == nil {
		return BindingSummary{}, queryDependencyError("query: binding reader is required")
	}
	if err := msg.Validate(); err != nil {
		return BindingSummary{}, err
	}
	binding, err := q.reader.GetBinding(ctx, msg.Principal)
	if err != nil {
		return BindingSummary{}, err
	}
	return SummarizeBinding(binding), nil
}
