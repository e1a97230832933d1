package gocommand_test

import (
	"context"
	"testing"
	"time"

	accountlink "github.com/goliatone/go-accountlink"
	"github.com/goliatone/go-accountlink/adapters/gocommand"
	linkcommand "github.com/goliatone/go-accountlink/command"
	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/providers/bilibili"
	"github.com/goliatone/go-accountlink/providers/devkit"
	linkquery "github.com/goliatone/go-accountlink/query"
	"github.com/goliatone/go-accountlink/security"
	"github.com/goliatone/go-accountlink/transport"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"
	"github.com/spf13/afero"
)

func newBusService(t *testing.T) *accountlink.Service {
	t.Helper()
	keys, err := security.NewKeyManager("/keys/accountlink.key", security.WithFilesystem(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	cipher, err := security.NewAEADCipher(keys)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	svc, err := accountlink.NewService(accountlink.DefaultConfig(),
		accountlink.WithCredentialCipher(cipher),
		accountlink.WithKeyAdministrator(keys),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRegisterFacade_DispatchesThroughBus(t *testing.T) {
	ctx := context.Background()
	facade, err := accountlink.NewFacade(newBusService(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	bus := gocommand.NewBus(nil)
	defer bus.Close()

	if err := gocommand.RegisterFacade(bus, facade); err != nil {
		t.Fatalf("register facade: %v", err)
	}
	if bus.Len() != 13 {
		t.Fatalf("expected every command and query subscribed, got %d", bus.Len())
	}

	collector := gocmd.NewResult[core.Binding]()
	createCtx := gocmd.ContextWithResult(ctx, collector)
	if err := gocommand.Dispatch(createCtx, linkcommand.CreateBindingMessage{
		Principal: "viewer-1",
		Account:   core.ExternalAccount{ExternalID: 77, DisplayName: "bus"},
		Bundle:    core.CredentialBundle{SessionToken: "s", CSRFToken: "c", AccountIDToken: "77", AccountChecksum: "k"},
	}); err != nil {
		t.Fatalf("dispatch create binding: %v", err)
	}
	if binding, ok := collector.Load(); !ok || binding.ID == "" {
		t.Fatalf("expected created binding in result collector, got %+v", binding)
	}

	status, err := gocommand.Ask[linkquery.CheckBindingStatusMessage, core.BindingStatus](ctx, linkquery.CheckBindingStatusMessage{Principal: "viewer-1"})
	if err != nil {
		t.Fatalf("ask status: %v", err)
	}
	if status != core.BindingStatusBound {
		t.Fatalf("expected bound, got %q", status)
	}

	summary, err := gocommand.Ask[linkquery.GetBindingMessage, linkquery.BindingSummary](ctx, linkquery.GetBindingMessage{Principal: "viewer-1"})
	if err != nil {
		t.Fatalf("ask binding: %v", err)
	}
	if summary.Account.ExternalID != 77 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if err := gocommand.Dispatch(ctx, linkcommand.UnbindMessage{Principal: "viewer-1"}); err != nil {
		t.Fatalf("dispatch unbind: %v", err)
	}
	status, err = gocommand.Ask[linkquery.CheckBindingStatusMessage, core.BindingStatus](ctx, linkquery.CheckBindingStatusMessage{Principal: "viewer-1"})
	if err != nil || status != core.BindingStatusUnbound {
		t.Fatalf("expected unbound after unbind, got %q (%v)", status, err)
	}
}

func TestRegisterFacade_RequiresFacade(t *testing.T) {
	bus := gocommand.NewBus(nil)
	defer bus.Close()
	if err := gocommand.RegisterFacade(bus, nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}

func TestRegisterFacade_LoginSurvivesHandlerTimeout(t *testing.T) {
	account := core.ExternalAccount{ExternalID: 9001, DisplayName: "streamer"}
	server := devkit.NewFakePlatformServer(account)
	defer server.Close()
	server.ScriptPolls(bilibili.CodeQRNotScanned, bilibili.CodeOK)

	platform, err := bilibili.New(server.ProviderConfig(),
		bilibili.WithGateway(transport.NewGateway(server.GatewayConfig())),
	)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	keys, err := security.NewKeyManager("/keys/accountlink.key", security.WithFilesystem(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	cipher, err := security.NewAEADCipher(keys)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	cfg := accountlink.DefaultConfig()
	cfg.Login.PollInterval = 10 * time.Millisecond
	svc, err := accountlink.NewService(cfg,
		accountlink.WithCredentialCipher(cipher),
		accountlink.WithKeyAdministrator(keys),
		accountlink.WithPlatform(platform),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := accountlink.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	bus := gocommand.NewBus(nil)
	defer bus.Close()
	if err := gocommand.RegisterFacade(bus, facade, runner.WithTimeout(time.Minute)); err != nil {
		t.Fatalf("register facade: %v", err)
	}

	collector := gocmd.NewResult[*core.LoginAttempt]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := gocommand.Dispatch(ctx, linkcommand.StartLoginMessage{Principal: "viewer-9"}); err != nil {
		t.Fatalf("dispatch start login: %v", err)
	}
	attempt, ok := collector.Load()
	if !ok || attempt == nil {
		t.Fatalf("expected login attempt in result collector")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := attempt.Wait(waitCtx)
	if err != nil {
		t.Fatalf("wait login: %v", err)
	}
	if outcome.State != core.LoginStateSuccess || outcome.Err != nil {
		t.Fatalf("expected SUCCESS, got %s (%v) history=%v", outcome.State, outcome.Err, attempt.History())
	}
	if outcome.Binding.Account.ExternalID != account.ExternalID {
		t.Fatalf("expected binding for %d, got %+v", account.ExternalID, outcome.Binding.Account)
	}
}
