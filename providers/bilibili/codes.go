package bilibili

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/transport"
)

// Envelope and poll codes returned by the platform.
const (
	CodeOK               = 0
	CodeNotLoggedIn      = -101
	CodeCSRFMismatch     = -111
	CodeQRExpired        = 86038
	CodeQRScannedPending = 86090
	CodeQRNotScanned     = 86101
	CodeRefreshConsumed  = 86095
)

// Session cookie names.
const (
	CookieSessData        = "SESSDATA"
	CookieCSRF            = "bili_jct"
	CookieAccountID       = "DedeUserID"
	CookieAccountChecksum = "DedeUserID__ckMd5"
)

type cookieBinding struct {
	cookie     string
	credential string
}

var credentialCookies = []cookieBinding{
	{cookie: CookieSessData, credential: core.CredentialSessionToken},
	{cookie: CookieCSRF, credential: core.CredentialCSRFToken},
	{cookie: CookieAccountID, credential: core.CredentialAccountIDToken},
	{cookie: CookieAccountChecksum, credential: core.CredentialAccountChecksum},
}

func cookiesFromBundle(bundle core.CredentialBundle) map[string]string {
	out := make(map[string]string, len(credentialCookies))
	for _, item := range credentialCookies {
		if value := bundle.Get(item.credential); value != "" {
			out[item.cookie] = value
		}
	}
	return out
}

func bundleFromCookies(cookies map[string]string) core.CredentialBundle {
	bundle := core.CredentialBundle{}
	for _, item := range credentialCookies {
		bundle.Set(item.credential, cookies[item.cookie])
	}
	return bundle
}

// backfillFromRedirect fills secrets missing from bundle with the query
// parameters of the cross-domain redirect URL. Values are re-escaped so they
// match the percent-encoded form the platform uses in Set-Cookie.
func backfillFromRedirect(bundle core.CredentialBundle, redirectURL string) (core.CredentialBundle, map[string]string) {
	filled := map[string]string{}
	redirectURL = strings.TrimSpace(redirectURL)
	if redirectURL == "" {
		return bundle, filled
	}
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return bundle, filled
	}
	query := parsed.Query()
	for _, item := range credentialCookies {
		if bundle.Get(item.credential) != "" {
			continue
		}
		value := strings.TrimSpace(query.Get(item.cookie))
		if value == "" {
			continue
		}
		value = url.QueryEscape(value)
		bundle.Set(item.credential, value)
		filled[item.cookie] = value
	}
	return bundle, filled
}

func pollOutcome(code int) (core.PollOutcome, bool) {
	switch code {
	case CodeOK:
		return core.PollOutcomeConfirmed, true
	case CodeQRNotScanned:
		return core.PollOutcomeNotScanned, true
	case CodeQRScannedPending:
		return core.PollOutcomeScannedUnconfirmed, true
	case CodeQRExpired:
		return core.PollOutcomeExpired, true
	default:
		return "", false
	}
}

// envelopeError maps a non-zero envelope code to the error taxonomy.
func envelopeError(operation string, env transport.Envelope) error {
	metadata := map[string]any{
		"operation":     operation,
		"platform_code": env.Code,
	}
	message := fmt.Sprintf("bilibili: %s returned code %d: %s", operation, env.Code, strings.TrimSpace(env.Message))
	switch env.Code {
	case CodeNotLoggedIn:
		return core.NewExpiredError(core.ErrLoginExpired, core.ErrorCodeLoginExpired, message).WithMetadata(metadata)
	case CodeCSRFMismatch:
		return core.NewAPIError(core.ErrorCodeCSRFMismatch, message, metadata)
	case CodeRefreshConsumed:
		return core.NewAPIError(core.ErrorCodeTokenConsumed, message, metadata)
	case CodeQRExpired:
		return core.NewExpiredError(core.ErrQRExpired, core.ErrorCodeQRExpired, message).WithMetadata(metadata)
	default:
		return core.NewAPIError(core.ErrorCodeAPI, message, metadata)
	}
}
