package bilibili

import (
	"testing"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/transport"
)

func TestPollOutcome_MapsPlatformCodes(t *testing.T) {
	cases := map[int]core.PollOutcome{
		CodeOK:               core.PollOutcomeConfirmed,
		CodeQRNotScanned:     core.PollOutcomeNotScanned,
		CodeQRScannedPending: core.PollOutcomeScannedUnconfirmed,
		CodeQRExpired:        core.PollOutcomeExpired,
	}
	for code, want := range cases {
		got, ok := pollOutcome(code)
		if !ok || got != want {
			t.Fatalf("code %d: expected %s, got %s", code, want, got)
		}
	}
	if _, ok := pollOutcome(12345); ok {
		t.Fatalf("expected unknown code to be rejected")
	}
}

func TestEnvelopeError_Taxonomy(t *testing.T) {
	cases := map[int]core.ErrorKind{
		CodeNotLoggedIn:     core.ErrorKindExpired,
		CodeCSRFMismatch:    core.ErrorKindAPI,
		CodeRefreshConsumed: core.ErrorKindAPI,
		CodeQRExpired:       core.ErrorKindExpired,
		-400:                core.ErrorKindAPI,
	}
	for code, want := range cases {
		err := envelopeError("test", transport.Envelope{Code: code, Message: "x"})
		if got := core.KindOf(err); got != want {
			t.Fatalf("code %d: expected %s, got %s", code, want, got)
		}
	}
}

func TestBackfillFromRedirect(t *testing.T) {
	bundle := core.CredentialBundle{CSRFToken: "from-cookie"}
	redirect := "https://passport.example/crossDomain?DedeUserID=42&DedeUserID__ckMd5=abc&SESSDATA=s1%2C2%2Cx&bili_jct=from-url&gourl=x"

	filled, added := backfillFromRedirect(bundle, redirect)
	if filled.CSRFToken != "from-cookie" {
		t.Fatalf("expected cookie values to win over redirect values")
	}
	if filled.SessionToken != "s1%2C2%2Cx" {
		t.Fatalf("expected session token to stay percent-encoded, got %q", filled.SessionToken)
	}
	if filled.AccountIDToken != "42" || filled.AccountChecksum != "abc" {
		t.Fatalf("expected account secrets from redirect")
	}
	if len(added) != 3 {
		t.Fatalf("expected three back-filled cookies, got %v", added)
	}

	untouched, added := backfillFromRedirect(bundle, "::not a url")
	if untouched != bundle || len(added) != 0 {
		t.Fatalf("expected invalid redirect to be ignored")
	}
}

func TestAccountIDFromBundle(t *testing.T) {
	if id, ok := AccountIDFromBundle(core.CredentialBundle{AccountIDToken: "42"}); !ok || id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if _, ok := AccountIDFromBundle(core.CredentialBundle{AccountIDToken: "abc"}); ok {
		t.Fatalf("expected non-numeric id to be rejected")
	}
}
