package transport

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// CookieStore is a name-keyed cookie jar scoped to one platform domain.
// Expired cookies are pruned lazily on read.
type CookieStore struct {
	mu      sync.RWMutex
	domain  string
	cookies map[string]*http.Cookie
	now     func() time.Time
}

func NewCookieStore(domain string) *CookieStore {
	return &CookieStore{
		domain:  normalizeDomain(domain),
		cookies: map[string]*http.Cookie{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *CookieStore) Domain() string {
	if s == nil {
		return ""
	}
	return s.domain
}

// SetCookies stores cookies received from u. Cookies for other domains are
// ignored; a negative MaxAge or past Expires deletes the cookie.
func (s *CookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if s == nil || len(cookies) == 0 {
		return
	}
	if u != nil && !s.matches(u.Hostname()) {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cookie := range cookies {
		if cookie == nil || strings.TrimSpace(cookie.Name) == "" {
			continue
		}
		if cookie.Domain != "" && !s.matches(cookie.Domain) {
			continue
		}
		stored := &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
		}
		switch {
		case cookie.MaxAge < 0:
			delete(s.cookies, cookie.Name)
			continue
		case cookie.MaxAge > 0:
			stored.Expires = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		}
		if expired(stored, now) {
			delete(s.cookies, cookie.Name)
			continue
		}
		s.cookies[cookie.Name] = stored
	}
}

// Cookies returns the live cookies to send to u.
func (s *CookieStore) Cookies(u *url.URL) []*http.Cookie {
	if s == nil {
		return nil
	}
	if u != nil && !s.matches(u.Hostname()) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	out := make([]*http.Cookie, 0, len(s.cookies))
	for _, name := range s.sortedNamesLocked() {
		cookie := s.cookies[name]
		out = append(out, &http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return out
}

func (s *CookieStore) Set(name string, value string) {
	s.SetAll(map[string]string{name: value})
}

// SetAll stores session cookies without an expiry, e.g. restored from a
// credential bundle.
func (s *CookieStore) SetAll(values map[string]string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range values {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value == "" {
			delete(s.cookies, name)
			continue
		}
		s.cookies[name] = &http.Cookie{Name: name, Value: value, Domain: s.domain, Path: "/"}
	}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cookie, ok := s.cookies[name]
	if !ok || expired(cookie, s.now()) {
		return "", false
	}
	return cookie.Value, true
}

// Snapshot returns name to value for every live cookie.
func (s *CookieStore) Snapshot() map[string]string {
	if s == nil {
		return map[string]string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	out := make(map[string]string, len(s.cookies))
	for name, cookie := range s.cookies {
		out[name] = cookie.Value
	}
	return out
}

func (s *CookieStore) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cookies = map[string]*http.Cookie{}
	s.mu.Unlock()
}

func (s *CookieStore) Len() int {
	return len(s.Snapshot())
}

func (s *CookieStore) pruneLocked() {
	now := s.now()
	for name, cookie := range s.cookies {
		if expired(cookie, now) {
			delete(s.cookies, name)
		}
	}
}

func (s *CookieStore) sortedNamesLocked() []string {
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *CookieStore) matches(host string) bool {
	if s.domain == "" {
		return true
	}
	host = normalizeDomain(host)
	return host == s.domain || strings.HasSuffix(host, "."+s.domain)
}

func expired(cookie *http.Cookie, now time.Time) bool {
	return !cookie.Expires.IsZero() && !cookie.Expires.After(now)
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

var _ http.CookieJar = (*CookieStore)(nil)
