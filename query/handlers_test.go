package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-accountlink/core"
)

type stubBindingReader struct {
	status   core.BindingStatus
	account  *core.ExternalAccount
	binding  core.Binding
	bindings []core.Binding
	err      error
	calls    []string
}

func (s *stubBindingReader) CheckBindingStatus(_ context.Context, principal string) (core.BindingStatus, error) {
	s.calls = append(s.calls, "status:"+principal)
	return s.status, s.err
}

func (s *stubBindingReader) GetExternalAccountSnapshot(_ context.Context, principal string) (*core.ExternalAccount, error) {
	s.calls = append(s.calls, "snapshot:"+principal)
	return s.account, s.err
}

func (s *stubBindingReader) GetBinding(_ context.Context, principal string) (core.Binding, error) {
	s.calls = append(s.calls, "get:"+principal)
	return s.binding, s.err
}

func (s *stubBindingReader) ListActiveBindings(context.Context) ([]core.Binding, error) {
	s.calls = append(s.calls, "list")
	return s.bindings, s.err
}

type stubStatusReader struct {
	result core.RefreshStatusResult
}

func (s stubStatusReader) RefreshStatus(context.Context, string) (core.RefreshStatusResult, error) {
	return s.result, nil
}

func TestCheckBindingStatusQuery_DelegatesToReader(t *testing.T) {
	reader := &stubBindingReader{status: core.BindingStatusBound}
	status, err := NewCheckBindingStatusQuery(reader).Query(context.Background(), CheckBindingStatusMessage{Principal: "viewer-1"})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != core.BindingStatusBound {
		t.Fatalf("expected bound status, got %q", status)
	}
	if len(reader.calls) != 1 || reader.calls[0] != "status:viewer-1" {
		t.Fatalf("unexpected reader calls %v", reader.calls)
	}
}

func TestExternalAccountSnapshotQuery_UnboundReturnsNil(t *testing.T) {
	reader := &stubBindingReader{}
	account, err := NewExternalAccountSnapshotQuery(reader).Query(context.Background(), ExternalAccountSnapshotMessage{Principal: "viewer-2"})
	if err != nil {
		t.Fatalf("query snapshot: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil snapshot for unbound principal, got %+v", account)
	}
}

func TestRefreshStatusQuery_ReturnsPlatformOutcome(t *testing.T) {
	reader := stubStatusReader{result: core.RefreshStatusResult{Status: core.SessionStatusLoginExpired}}
	result, err := NewRefreshStatusQuery(reader).Query(context.Background(), RefreshStatusMessage{Principal: "viewer-3"})
	if err != nil {
		t.Fatalf("query refresh status: %v", err)
	}
	if result.Status != core.SessionStatusLoginExpired {
		t.Fatalf("expected login_expired, got %q", result.Status)
	}
}

func TestListBindingsQuery_SummarizesAndLimits(t *testing.T) {
	refreshedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reader := &stubBindingReader{bindings: []core.Binding{
		{
			ID:            "bind-1",
			Principal:     "viewer-1",
			Account:       core.ExternalAccount{ExternalID: 1, DisplayName: "one"},
			Sealed:        core.SealedCredentials{SessionToken: []byte("sealed")},
			LastRefreshAt: &refreshedAt,
			Active:        true,
		},
		{ID: "bind-2", Principal: "viewer-2", Account: core.ExternalAccount{ExternalID: 2}, Active: true},
	}}

	summaries, err := NewListBindingsQuery(reader).Query(context.Background(), ListBindingsMessage{Limit: 1})
	if err != nil {
		t.Fatalf("list bindings: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	got := summaries[0]
	if got.ID != "bind-1" || got.Account.DisplayName != "one" {
		t.Fatalf("unexpected summary %+v", got)
	}
	if got.LastRefreshAt == nil || !got.LastRefreshAt.Equal(refreshedAt) {
		t.Fatalf("expected last refresh copied, got %v", got.LastRefreshAt)
	}
	if got.LastRefreshAt == &refreshedAt {
		t.Fatalf("expected last refresh pointer to be copied")
	}
}

func TestListBindingsQuery_RejectsNegativeLimit(t *testing.T) {
	reader := &stubBindingReader{}
	_, err := NewListBindingsQuery(reader).Query(context.Background(), ListBindingsMessage{Limit: -1})
	if !core.HasTextCode(err, core.ErrorCodeBadInput) {
		t.Fatalf("expected BAD_INPUT, got %v", err)
	}
	if len(reader.calls) != 0 {
		t.Fatalf("expected reader to be skipped, got %v", reader.calls)
	}
}

func TestGetBindingQuery_PropagatesNotFound(t *testing.T) {
	reader := &stubBindingReader{err: core.NewNotBoundError("viewer-4")}
	_, err := NewGetBindingQuery(reader).Query(context.Background(), GetBindingMessage{Principal: "viewer-4"})
	if core.KindOf(err) != core.ErrorKindNotFound {
		t.Fatalf("expected not found kind, got %v", err)
	}
}
