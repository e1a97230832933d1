package bilibili

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ProviderID      = "bilibili"
	PassportBaseURL = "https://passport.bilibili.com"
	APIBaseURL      = "https://api.bilibili.com"
	CookieDomain    = "bilibili.com"

	PathQRGenerate    = "/x/passport-login/web/qrcode/generate"
	PathQRPoll        = "/x/passport-login/web/qrcode/poll"
	PathNav           = "/x/web-interface/nav"
	PathCookieInfo    = "/x/passport-login/web/cookie/info"
	PathCookieRefresh = "/x/passport-login/web/cookie/refresh"

	defaultChallengeTTL = 180 * time.Second
)

type Config struct {
	PassportBaseURL string
	APIBaseURL      string
	ChallengeTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PassportBaseURL: PassportBaseURL,
		APIBaseURL:      APIBaseURL,
		ChallengeTTL:    defaultChallengeTTL,
	}
}

// ConfigFrom derives provider settings from the service config.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		PassportBaseURL: cfg.Platform.PassportBaseURL,
		APIBaseURL:      cfg.Platform.APIBaseURL,
		ChallengeTTL:    cfg.Login.ChallengeTTL,
	}
}

type Option func(*Provider)

func WithGateway(gateway *transport.Gateway) Option {
	return func(p *Provider) {
		if gateway != nil {
			p.gateway = gateway
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Provider speaks the platform's passport and web-interface protocol. Every
// login session and every refresh call works on a forked gateway so cookie
// state is never shared between principals.
type Provider struct {
	config  Config
	gateway *transport.Gateway
	logger  core.Logger
	now     func() time.Time
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.PassportBaseURL) == "" {
		cfg.PassportBaseURL = defaults.PassportBaseURL
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = defaults.ChallengeTTL
	}
	cfg.PassportBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PassportBaseURL), "/")
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	p := &Provider{
		config: cfg,
		logger: glog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	if p.gateway == nil {
		p.gateway = transport.NewGateway(transport.Config{CookieDomain: CookieDomain})
	}
	return p, nil
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) Config() Config {
	if p == nil {
		return Config{}
	}
	return p.config
}

func (p *Provider) NewLoginSession() core.LoginSession {
	return &loginSession{provider: p, gateway: p.gateway.Fork()}
}

// ProbeSession reports the account behind bundle, or LOGIN_EXPIRED when the
// platform no longer accepts the session.
func (p *Provider) ProbeSession(ctx context.Context, bundle core.CredentialBundle) (core.ExternalAccount, error) {
	gateway := p.gateway.Fork()
	gateway.Cookies().SetAll(cookiesFromBundle(bundle))
	return p.fetchNav(ctx, gateway)
}

// RefreshSession asks the platform whether the cookies need rotating and
// rotates them when it does. The returned bundle holds the secrets the
// platform handed back; callers merge it with the previous bundle.
func (p *Provider) RefreshSession(ctx context.Context, bundle core.CredentialBundle) (core.CredentialBundle, error) {
	if strings.TrimSpace(bundle.CSRFToken) == "" {
		return core.CredentialBundle{}, core.NewValidationError(core.ErrorCodeInvalidCredentials, "bilibili: csrf token is required for refresh")
	}
	gateway := p.gateway.Fork()
	gateway.Cookies().SetAll(cookiesFromBundle(bundle))

	info, err := p.cookieInfo(ctx, gateway, bundle.CSRFToken)
	if err != nil {
		return core.CredentialBundle{}, err
	}
	if !info.Refresh {
		p.logger.Debug("platform session does not need rotation", "timestamp", info.Timestamp)
		return bundle, nil
	}

	res, err := gateway.Execute(ctx, transport.Request{
		Operation: "cookie_refresh",
		Method:    "POST",
		URL:       p.config.PassportBaseURL + PathCookieRefresh,
		Form: map[string][]string{
			"csrf":   {bundle.CSRFToken},
			"source": {"main_web"},
		},
	})
	if err != nil {
		return core.CredentialBundle{}, err
	}
	env, err := res.Envelope()
	if err != nil {
		return core.CredentialBundle{}, err
	}
	if !env.OK() {
		return core.CredentialBundle{}, envelopeError("cookie_refresh", env)
	}
	return bundleFromCookies(gateway.Cookies().Snapshot()), nil
}

type navData struct {
	IsLogin   bool   `json:"isLogin"`
	MID       int64  `json:"mid"`
	Uname     string `json:"uname"`
	Face      string `json:"face"`
	VIPStatus int    `json:"vipStatus"`
	LevelInfo struct {
		CurrentLevel int `json:"current_level"`
	} `json:"level_info"`
}

func (p *Provider) fetchNav(ctx context.Context, gateway *transport.Gateway) (core.ExternalAccount, error) {
	res, err := gateway.Execute(ctx, transport.Request{
		Operation: "nav",
		Method:    "GET",
		URL:       p.config.APIBaseURL + PathNav,
	})
	if err != nil {
		return core.ExternalAccount{}, err
	}
	env, err := res.Envelope()
	if err != nil {
		return core.ExternalAccount{}, err
	}
	if !env.OK() {
		return core.ExternalAccount{}, envelopeError("nav", env)
	}
	var data navData
	if err := env.DecodeData(&data); err != nil {
		return core.ExternalAccount{}, err
	}
	if !data.IsLogin {
		return core.ExternalAccount{}, core.NewExpiredError(core.ErrLoginExpired, core.ErrorCodeLoginExpired, "bilibili: session is not logged in")
	}
	account := core.ExternalAccount{
		ExternalID:   data.MID,
		DisplayName:  data.Uname,
		AvatarURL:    data.Face,
		Level:        data.LevelInfo.CurrentLevel,
		IsPrivileged: data.VIPStatus == 1,
	}
	if err := account.Validate(); err != nil {
		return core.ExternalAccount{}, core.NewAPIError(core.ErrorCodeAPI, "bilibili: nav returned no account id", map[string]any{
			"is_login": data.IsLogin,
		})
	}
	return account, nil
}

type cookieInfoData struct {
	Refresh   bool  `json:"refresh"`
	Timestamp int64 `json:"timestamp"`
}

func (p *Provider) cookieInfo(ctx context.Context, gateway *transport.Gateway, csrf string) (cookieInfoData, error) {
	res, err := gateway.Execute(ctx, transport.Request{
		Operation: "cookie_info",
		Method:    "GET",
		URL:       p.config.PassportBaseURL + PathCookieInfo,
		Query:     map[string]string{"csrf": csrf},
	})
	if err != nil {
		return cookieInfoData{}, err
	}
	env, err := res.Envelope()
	if err != nil {
		return cookieInfoData{}, err
	}
	if !env.OK() {
		return cookieInfoData{}, envelopeError("cookie_info", env)
	}
	var data cookieInfoData
	if err := env.DecodeData(&data); err != nil {
		return cookieInfoData{}, err
	}
	return data, nil
}

// AccountIDFromBundle parses the numeric account id carried by the bundle.
func AccountIDFromBundle(bundle core.CredentialBundle) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(bundle.AccountIDToken), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var _ core.Platform = (*Provider)(nil)
