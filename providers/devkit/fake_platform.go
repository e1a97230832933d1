package devkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/providers/bilibili"
	"github.com/goliatone/go-accountlink/transport"
)

// RecordedRequest is a request seen by FakePlatformServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
}

// FakePlatformServer emulates the platform's QR login, nav and cookie
// refresh endpoints over httptest.
type FakePlatformServer struct {
	mu           sync.Mutex
	server       *httptest.Server
	account      core.ExternalAccount
	pollScript   []int
	polls        int
	issued       map[string]string
	hidden       map[string]bool
	validSession map[string]bool
	needsRefresh bool
	refreshCode  int
	rotated      map[string]string
	failures     map[string]int
	requests     []RecordedRequest
}

func NewFakePlatformServer(account core.ExternalAccount) *FakePlatformServer {
	s := &FakePlatformServer{
		account: account,
		issued: map[string]string{
			bilibili.CookieSessData:        fmt.Sprintf("sess%%2C%d%%2Cabc", account.ExternalID),
			bilibili.CookieCSRF:            "csrf-" + fmt.Sprint(account.ExternalID),
			bilibili.CookieAccountID:       fmt.Sprint(account.ExternalID),
			bilibili.CookieAccountChecksum: "ck-" + fmt.Sprint(account.ExternalID),
		},
		hidden:       map[string]bool{},
		validSession: map[string]bool{},
		failures:     map[string]int{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *FakePlatformServer) URL() string {
	return s.server.URL
}

func (s *FakePlatformServer) Close() {
	s.server.Close()
}

// ProviderConfig points a bilibili provider at the fake server.
func (s *FakePlatformServer) ProviderConfig() bilibili.Config {
	return bilibili.Config{
		PassportBaseURL: s.server.URL,
		APIBaseURL:      s.server.URL,
		ChallengeTTL:    time.Minute,
	}
}

// GatewayConfig scopes cookies to the fake server host and keeps backoff short.
func (s *FakePlatformServer) GatewayConfig() transport.Config {
	parsed, _ := url.Parse(s.server.URL)
	return transport.Config{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		Timeout:      2 * time.Second,
		CookieDomain: parsed.Hostname(),
	}
}

// ScriptPolls sets the inner poll codes returned in order; the last code
// repeats once the script is exhausted.
func (s *FakePlatformServer) ScriptPolls(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollScript = append([]int(nil), codes...)
	s.polls = 0
}

// HideCookies stops the named cookies from being sent via Set-Cookie on
// confirmation; they remain in the redirect URL.
func (s *FakePlatformServer) HideCookies(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		s.hidden[name] = true
	}
}

// IssuedBundle is the bundle a confirmed login yields.
func (s *FakePlatformServer) IssuedBundle() core.CredentialBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.CredentialBundle{
		SessionToken:    s.issued[bilibili.CookieSessData],
		CSRFToken:       s.issued[bilibili.CookieCSRF],
		AccountIDToken:  s.issued[bilibili.CookieAccountID],
		AccountChecksum: s.issued[bilibili.CookieAccountChecksum],
	}
}

// ValidateSession marks a session token as logged in without a QR login.
func (s *FakePlatformServer) ValidateSession(token string) {
	s.mu.Lock()
	s.validSession[token] = true
	s.mu.Unlock()
}

func (s *FakePlatformServer) ExpireSessions() {
	s.mu.Lock()
	s.validSession = map[string]bool{}
	s.mu.Unlock()
}

// RequireRefresh makes cookie/info ask for rotation. A zero code rotates to
// the given cookies; any other code is returned by cookie/refresh.
func (s *FakePlatformServer) RequireRefresh(code int, rotated map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needsRefresh = true
	s.refreshCode = code
	s.rotated = rotated
}

// FailNext makes the next n requests to path answer 503.
func (s *FakePlatformServer) FailNext(path string, n int) {
	s.mu.Lock()
	s.failures[path] = n
	s.mu.Unlock()
}

func (s *FakePlatformServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *FakePlatformServer) CountRequests(path string) int {
	count := 0
	for _, req := range s.Requests() {
		if req.Path == path {
			count++
		}
	}
	return count
}

func (s *FakePlatformServer) handle(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Form:   r.PostForm,
	})
	if remaining := s.failures[r.URL.Path]; remaining > 0 {
		s.failures[r.URL.Path] = remaining - 1
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case bilibili.PathQRGenerate:
		writeEnvelope(w, bilibili.CodeOK, map[string]any{
			"url":        s.server.URL + "/h5/login/scan?qrcode_key=fake-key",
			"qrcode_key": "fake-key",
		})
	case bilibili.PathQRPoll:
		s.handlePoll(w, r)
	case bilibili.PathNav:
		s.handleNav(w, r)
	case bilibili.PathCookieInfo:
		if !s.loggedIn(r) {
			writeEnvelope(w, bilibili.CodeNotLoggedIn, nil)
			return
		}
		writeEnvelope(w, bilibili.CodeOK, map[string]any{"refresh": s.needsRefresh, "timestamp": time.Now().UnixMilli()})
	case bilibili.PathCookieRefresh:
		s.handleRefresh(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *FakePlatformServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	code := bilibili.CodeQRNotScanned
	if len(s.pollScript) > 0 {
		index := s.polls
		if index >= len(s.pollScript) {
			index = len(s.pollScript) - 1
		}
		code = s.pollScript[index]
	}
	s.polls++
	data := map[string]any{"url": "", "refresh_token": "", "timestamp": 0, "code": code, "message": ""}
	if code == bilibili.CodeOK {
		query := url.Values{}
		for name, value := range s.issued {
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				decoded = value
			}
			query.Set(name, decoded)
			if !s.hidden[name] {
				http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
			}
		}
		query.Set("gourl", "https://www.bilibili.com")
		data["url"] = s.server.URL + "/crossDomain?" + query.Encode()
		data["refresh_token"] = "refresh-" + fmt.Sprint(s.account.ExternalID)
		data["timestamp"] = time.Now().UnixMilli()
		s.validSession[s.issued[bilibili.CookieSessData]] = true
	}
	writeEnvelope(w, bilibili.CodeOK, data)
}

func (s *FakePlatformServer) handleNav(w http.ResponseWriter, r *http.Request) {
	if !s.loggedIn(r) {
		writeEnvelope(w, bilibili.CodeNotLoggedIn, map[string]any{"isLogin": false})
		return
	}
	vip := 0
	if s.account.IsPrivileged {
		vip = 1
	}
	writeEnvelope(w, bilibili.CodeOK, map[string]any{
		"isLogin":    true,
		"mid":        s.account.ExternalID,
		"uname":      s.account.DisplayName,
		"face":       s.account.AvatarURL,
		"vipStatus":  vip,
		"level_info": map[string]any{"current_level": s.account.Level},
	})
}

func (s *FakePlatformServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.loggedIn(r) {
		writeEnvelope(w, bilibili.CodeNotLoggedIn, nil)
		return
	}
	csrf, _ := r.Cookie(bilibili.CookieCSRF)
	if csrf == nil || r.PostForm.Get("csrf") != csrf.Value {
		writeEnvelope(w, bilibili.CodeCSRFMismatch, nil)
		return
	}
	if s.refreshCode != bilibili.CodeOK {
		writeEnvelope(w, s.refreshCode, nil)
		return
	}
	if old, err := r.Cookie(bilibili.CookieSessData); err == nil {
		delete(s.validSession, old.Value)
	}
	for name, value := range s.rotated {
		http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
		s.issued[name] = value
	}
	s.validSession[s.issued[bilibili.CookieSessData]] = true
	s.needsRefresh = false
	writeEnvelope(w, bilibili.CodeOK, map[string]any{"status": 0, "refresh_token": "rotated"})
}

func (s *FakePlatformServer) loggedIn(r *http.Request) bool {
	cookie, err := r.Cookie(bilibili.CookieSessData)
	if err != nil {
		return false
	}
	return s.validSession[cookie.Value]
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": fmt.Sprint(code),
		"ttl":     1,
		"data":    data,
	})
}
