package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/transport"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the policy remembers about one platform host.
type State struct {
	Host           string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	ThrottledUntil *time.Time
	LastStatus     int
	Strikes        int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, host string) (State, error)
	Upsert(ctx context.Context, state State) error
}

// AdaptivePolicy backs off a host after it answers 429 or 412, honouring
// Retry-After when present and doubling the pause per consecutive strike
// otherwise. It also stops calls while advertised quota is exhausted.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

func (p *AdaptivePolicy) Allow(ctx context.Context, host string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	host = normalizeHost(host)
	state, err := p.Store.Get(ctx, host)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return throttledError(host, until.Sub(now), state.LastStatus)
	}
	if state.Remaining == 0 && state.Limit > 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return throttledError(host, state.ResetAt.Sub(now), state.LastStatus)
	}
	return nil
}

func (p *AdaptivePolicy) Observe(ctx context.Context, host string, status int, header http.Header) error {
	if p == nil || p.Store == nil {
		return nil
	}
	host = normalizeHost(host)
	now := p.now()
	state, err := p.Store.Get(ctx, host)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Host: host}
	}
	state.LastStatus = status
	state.UpdatedAt = now

	if limit, ok := headerInt(header, "X-Ratelimit-Limit"); ok {
		state.Limit = limit
	}
	if remaining, ok := headerInt(header, "X-Ratelimit-Remaining"); ok {
		state.Remaining = remaining
	}
	if resetAt, ok := headerResetAt(header); ok {
		state.ResetAt = &resetAt
	}

	if status == http.StatusTooManyRequests || status == http.StatusPreconditionFailed {
		state.Strikes++
		delay, ok := retryAfter(header, now)
		if !ok {
			delay = p.backoff(state.Strikes)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Strikes = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) backoff(strikes int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}
	for i := 1; i < strikes; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return min(delay, maximum)
}

func throttledError(host string, wait time.Duration, status int) error {
	return core.NewRateLimitedError(
		fmt.Sprintf("ratelimit: host %q throttled for %s", host, wait.Round(time.Millisecond)),
		wait,
		map[string]any{"host": host, "last_status": status},
	)
}

func retryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func headerInt(header http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(header.Get(key))
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func headerResetAt(header http.Header) (time.Time, bool) {
	raw := strings.TrimSpace(header.Get("X-Ratelimit-Reset"))
	if raw == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, host string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeHost(host)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Host = normalizeHost(state.Host)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Host] = state
	return nil
}

var _ transport.Throttle = (*AdaptivePolicy)(nil)
