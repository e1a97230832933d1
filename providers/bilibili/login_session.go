package bilibili

import (
	"context"
	"strings"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/transport"
)

// loginSession is one QR login attempt with its own cookie store.
type loginSession struct {
	provider *Provider
	gateway  *transport.Gateway
}

type qrGenerateData struct {
	URL       string `json:"url"`
	QRCodeKey string `json:"qrcode_key"`
}

// qrPollData leaves out the poll's refresh_token. Cookie refresh is keyed by
// the csrf token, so the bundle carries no slot for it.
type qrPollData struct {
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

func (s *loginSession) GenerateChallenge(ctx context.Context) (core.QRSession, error) {
	res, err := s.gateway.Execute(ctx, transport.Request{
		Operation: "qr_generate",
		Method:    "GET",
		URL:       s.provider.config.PassportBaseURL + PathQRGenerate,
	})
	if err != nil {
		return core.QRSession{}, err
	}
	env, err := res.Envelope()
	if err != nil {
		return core.QRSession{}, err
	}
	if !env.OK() {
		return core.QRSession{}, envelopeError("qr_generate", env)
	}
	var data qrGenerateData
	if err := env.DecodeData(&data); err != nil {
		return core.QRSession{}, err
	}
	if strings.TrimSpace(data.QRCodeKey) == "" || strings.TrimSpace(data.URL) == "" {
		return core.QRSession{}, core.NewAPIError(core.ErrorCodeAPI, "bilibili: qr generate returned no challenge", nil)
	}
	return core.QRSession{
		ChallengeKey: data.QRCodeKey,
		URL:          data.URL,
		CreatedAt:    s.provider.now(),
		TTL:          s.provider.config.ChallengeTTL,
	}, nil
}

func (s *loginSession) Poll(ctx context.Context, session core.QRSession) (core.PollResult, error) {
	if strings.TrimSpace(session.ChallengeKey) == "" {
		return core.PollResult{}, core.NewValidationError(core.ErrorCodeBadInput, "bilibili: challenge key is required")
	}
	res, err := s.gateway.Execute(ctx, transport.Request{
		Operation: "qr_poll",
		Method:    "GET",
		URL:       s.provider.config.PassportBaseURL + PathQRPoll,
		Query:     map[string]string{"qrcode_key": session.ChallengeKey},
	})
	if err != nil {
		return core.PollResult{}, err
	}
	env, err := res.Envelope()
	if err != nil {
		return core.PollResult{}, err
	}
	if !env.OK() {
		return core.PollResult{}, envelopeError("qr_poll", env)
	}
	var data qrPollData
	if err := env.DecodeData(&data); err != nil {
		return core.PollResult{}, err
	}
	outcome, known := pollOutcome(data.Code)
	if !known {
		return core.PollResult{}, core.NewAPIError(core.ErrorCodeAPI, "bilibili: unknown qr poll code", map[string]any{
			"platform_code": data.Code,
			"message":       data.Message,
		})
	}
	return core.PollResult{
		Outcome:     outcome,
		Code:        data.Code,
		Message:     data.Message,
		RedirectURL: data.URL,
	}, nil
}

// HarvestCredentials reads the session cookies the confirmed poll set and
// back-fills missing ones from the redirect URL. The bundle may be partial;
// the caller decides whether enough secrets were harvested.
func (s *loginSession) HarvestCredentials(_ context.Context, result core.PollResult) (core.CredentialBundle, error) {
	if result.Outcome != core.PollOutcomeConfirmed {
		return core.CredentialBundle{}, core.NewValidationError(core.ErrorCodeBadInput, "bilibili: credentials are only available after confirmation")
	}
	bundle := bundleFromCookies(s.gateway.Cookies().Snapshot())
	bundle, filled := backfillFromRedirect(bundle, result.RedirectURL)
	if len(filled) > 0 {
		s.gateway.Cookies().SetAll(filled)
		s.provider.logger.Debug("credentials back-filled from redirect url", "credentials_present", bundle.Present())
	}
	return bundle, nil
}

func (s *loginSession) FetchAccount(ctx context.Context, bundle core.CredentialBundle) (core.ExternalAccount, error) {
	s.gateway.Cookies().SetAll(cookiesFromBundle(bundle))
	return s.provider.fetchNav(ctx, s.gateway)
}

var _ core.LoginSession = (*loginSession)(nil)
