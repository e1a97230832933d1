package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultMaxAttempts                = 3
	defaultBaseDelay                  = time.Second
	defaultRequestTimeout             = 10 * time.Second
	defaultResponseBodyLimit    int64 = 4 << 20
	contentTypeFormURLEncoded         = "application/x-www-form-urlencoded"
	contentTypeHeader                 = "Content-Type"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Throttle gates requests per host and learns limits from the responses.
type Throttle interface {
	Allow(ctx context.Context, host string) error
	Observe(ctx context.Context, host string, status int, header http.Header) error
}

type Config struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	Timeout              time.Duration
	UserAgent            string
	Referer              string
	CookieDomain         string
	MaxResponseBodyBytes int64
}

// ConfigFrom derives the gateway settings from the service config.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		MaxAttempts:  cfg.Gateway.MaxAttempts,
		BaseDelay:    cfg.Gateway.BaseDelay,
		Timeout:      cfg.Gateway.Timeout,
		UserAgent:    cfg.Platform.UserAgent,
		Referer:      cfg.Platform.Referer,
		CookieDomain: cfg.Platform.CookieDomain,
	}
}

type Request struct {
	Operation string
	Method    string
	URL       string
	Query     map[string]string
	Form      url.Values
	Headers   map[string]string
	Body      []byte
	Timeout   time.Duration
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	Attempts   int
}

func (r Response) Envelope() (Envelope, error) {
	return DecodeEnvelope(r.Body)
}

type GatewayOption func(*Gateway)

func WithHTTPClient(client HTTPDoer) GatewayOption {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

func WithTelemetry(sink core.TelemetrySink) GatewayOption {
	return func(g *Gateway) {
		g.telemetry = sink
	}
}

func WithLogger(logger core.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithCookieStore(store *CookieStore) GatewayOption {
	return func(g *Gateway) {
		if store != nil {
			g.cookies = store
		}
	}
}

func WithThrottle(throttle Throttle) GatewayOption {
	return func(g *Gateway) {
		g.throttle = throttle
	}
}

// WithSleeper replaces the backoff wait; tests use it to observe delays.
func WithSleeper(sleep func(ctx context.Context, delay time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// Gateway executes platform requests with cookie handling and bounded
// retries. 4xx responses are terminal; 5xx, timeouts and connection errors
// are retried with a linear backoff of attempt*BaseDelay.
type Gateway struct {
	client    HTTPDoer
	config    Config
	cookies   *CookieStore
	telemetry core.TelemetrySink
	logger    core.Logger
	throttle  Throttle
	sleep     func(ctx context.Context, delay time.Duration) error
}

func NewGateway(cfg Config, opts ...GatewayOption) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.MaxResponseBodyBytes <= 0 {
		cfg.MaxResponseBodyBytes = defaultResponseBodyLimit
	}
	g := &Gateway{
		config: cfg,
		logger: glog.Nop(),
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if g.cookies == nil {
		g.cookies = NewCookieStore(cfg.CookieDomain)
	}
	return g
}

// Fork returns a gateway sharing client and config with its own empty
// cookie store.
func (g *Gateway) Fork() *Gateway {
	if g == nil {
		return nil
	}
	clone := *g
	clone.cookies = NewCookieStore(g.config.CookieDomain)
	return &clone
}

func (g *Gateway) Cookies() *CookieStore {
	if g == nil {
		return nil
	}
	return g.cookies
}

func (g *Gateway) Config() Config {
	if g == nil {
		return Config{}
	}
	return g.config
}

func (g *Gateway) Execute(ctx context.Context, req Request) (Response, error) {
	if g == nil || g.client == nil {
		return Response{}, core.NewNetworkError(nil, "transport: gateway is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	operation := strings.TrimSpace(req.Operation)
	if operation == "" {
		operation = "request"
	}
	target, err := buildURL(req)
	if err != nil {
		return Response{}, err
	}
	baseMeta := map[string]any{
		"operation": operation,
		"method":    requestMethod(req),
		"url":       core.RedactString(target.String()),
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		attempts = attempt
		res, err := g.do(ctx, req, target, operation, attempt, baseMeta)
		if err == nil {
			res.Attempts = attempt
			g.emit(ctx, operation, nil, metadataWith(baseMeta, map[string]any{
				"phase":    "final",
				"attempts": attempt,
				"status":   res.StatusCode,
			}))
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !core.IsRetryable(err) || core.HasTextCode(err, core.ErrorCodeRateLimited) {
			break
		}
		if attempt == g.config.MaxAttempts {
			break
		}
		delay := time.Duration(attempt) * g.config.BaseDelay
		g.logger.Debug("retrying platform request", "operation", operation, "attempt", attempt, "delay_ms", delay.Milliseconds())
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			lastErr = requestError(operation, sleepErr, baseMeta)
			break
		}
	}

	finalErr := lastErr
	if core.IsRetryable(lastErr) && !core.HasTextCode(lastErr, core.ErrorCodeRateLimited) && attempts == g.config.MaxAttempts {
		finalErr = exhaustedError(operation, attempts, lastErr, metadataWith(baseMeta, map[string]any{"attempts": attempts}))
	}
	g.emit(ctx, operation, finalErr, metadataWith(baseMeta, map[string]any{
		"phase":    "final",
		"attempts": attempts,
	}))
	g.logger.Warn("platform request failed",
		"operation", operation,
		"attempts", attempts,
		"error", core.RedactString(finalErr.Error()),
	)
	return Response{}, finalErr
}

func (g *Gateway) do(
	ctx context.Context,
	req Request,
	target *url.URL,
	operation string,
	attempt int,
	baseMeta map[string]any,
) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.config.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := req.Body
	if req.Form != nil {
		body = []byte(req.Form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, requestMethod(req), target.String(), bytes.NewReader(body))
	if err != nil {
		return Response{}, badRequestError("transport: create http request", err)
	}
	if g.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", g.config.UserAgent)
	}
	if g.config.Referer != "" {
		httpReq.Header.Set("Referer", g.config.Referer)
	}
	if req.Form != nil {
		httpReq.Header.Set(contentTypeHeader, contentTypeFormURLEncoded)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), value)
	}
	for _, cookie := range g.cookies.Cookies(target) {
		httpReq.AddCookie(cookie)
	}

	attemptMeta := metadataWith(baseMeta, map[string]any{"phase": "attempt", "attempt": attempt})
	if g.throttle != nil {
		if err := g.throttle.Allow(ctx, target.Host); err != nil {
			g.emit(ctx, operation, err, attemptMeta)
			return Response{}, err
		}
	}
	httpRes, err := g.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		wrapped := requestError(operation, err, attemptMeta)
		g.emit(ctx, operation, wrapped, attemptMeta)
		return Response{}, wrapped
	}
	defer httpRes.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, g.config.MaxResponseBodyBytes+1))
	if err != nil {
		wrapped := requestError(operation, err, metadataWith(attemptMeta, map[string]any{"status": httpRes.StatusCode}))
		g.emit(ctx, operation, wrapped, attemptMeta)
		return Response{}, wrapped
	}
	if int64(len(payload)) > g.config.MaxResponseBodyBytes {
		limitErr := core.NewAPIError(core.ErrorCodeAPI,
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", g.config.MaxResponseBodyBytes),
			metadataWith(attemptMeta, map[string]any{"status": httpRes.StatusCode}),
		)
		g.emit(ctx, operation, limitErr, attemptMeta)
		return Response{}, limitErr
	}

	responseURL := target
	if httpRes.Request != nil && httpRes.Request.URL != nil {
		responseURL = httpRes.Request.URL
	}
	g.cookies.SetCookies(responseURL, httpRes.Cookies())

	statusMeta := metadataWith(attemptMeta, map[string]any{"status": httpRes.StatusCode})
	if g.throttle != nil {
		if err := g.throttle.Observe(ctx, target.Host, httpRes.StatusCode, httpRes.Header); err != nil {
			g.logger.Warn("throttle state update failed", "operation", operation, "error", err.Error())
		}
	}
	if isThrottleStatus(httpRes.StatusCode) {
		limited := core.NewRateLimitedError(
			fmt.Sprintf("transport: %s throttled with status %d", operation, httpRes.StatusCode),
			0,
			statusMeta,
		)
		g.emit(ctx, operation, limited, statusMeta)
		return Response{}, limited
	}
	if httpRes.StatusCode >= http.StatusBadRequest {
		statusErr := statusError(operation, httpRes.StatusCode, statusMeta)
		g.emit(ctx, operation, statusErr, statusMeta)
		return Response{}, statusErr
	}
	g.emit(ctx, operation, nil, statusMeta)

	return Response{
		StatusCode: httpRes.StatusCode,
		Header:     httpRes.Header.Clone(),
		Body:       payload,
		URL:        responseURL.String(),
	}, nil
}

func (g *Gateway) emit(ctx context.Context, operation string, err error, metadata map[string]any) {
	core.EmitTelemetry(ctx, g.telemetry, core.ComponentHTTPGateway, operation, err, metadata)
}

// isThrottleStatus covers 429 and the 412 the platform answers when it
// intercepts a client.
func isThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusPreconditionFailed
}

func buildURL(req Request) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, badRequestError("transport: request url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, badRequestError("transport: invalid request url", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, badRequestError("transport: request url must be absolute", nil)
	}
	if len(req.Query) > 0 {
		query := parsed.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), value)
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed, nil
}

func requestMethod(req Request) string {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method != "" {
		return method
	}
	if req.Form != nil || len(req.Body) > 0 {
		return http.MethodPost
	}
	return http.MethodGet
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
