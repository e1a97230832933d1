package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	AlgorithmAES256GCM         = "aes-256-gcm"
	AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"
)

type PlatformConfig struct {
	PassportBaseURL string `koanf:"passport_base_url" mapstructure:"passport_base_url"`
	APIBaseURL      string `koanf:"api_base_url" mapstructure:"api_base_url"`
	UserAgent       string `koanf:"user_agent" mapstructure:"user_agent"`
	Referer         string `koanf:"referer" mapstructure:"referer"`
	CookieDomain    string `koanf:"cookie_domain" mapstructure:"cookie_domain"`
}

type GatewayConfig struct {
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	Timeout     time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type LoginConfig struct {
	PollInterval        time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	ChallengeTTL        time.Duration `koanf:"challenge_ttl" mapstructure:"challenge_ttl"`
	MinHarvestedSecrets int           `koanf:"min_harvested_secrets" mapstructure:"min_harvested_secrets"`
}

type RefreshConfig struct {
	Enabled         bool          `koanf:"enabled" mapstructure:"enabled"`
	RunOnStart      bool          `koanf:"run_on_start" mapstructure:"run_on_start"`
	Interval        time.Duration `koanf:"interval" mapstructure:"interval"`
	SessionValidity time.Duration `koanf:"session_validity" mapstructure:"session_validity"`
	LockTTL         time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
}

type KeysConfig struct {
	Path      string `koanf:"path" mapstructure:"path"`
	Algorithm string `koanf:"algorithm" mapstructure:"algorithm"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Platform    PlatformConfig `koanf:"platform" mapstructure:"platform"`
	Gateway     GatewayConfig  `koanf:"gateway" mapstructure:"gateway"`
	Login       LoginConfig    `koanf:"login" mapstructure:"login"`
	Refresh     RefreshConfig  `koanf:"refresh" mapstructure:"refresh"`
	Keys        KeysConfig     `koanf:"keys" mapstructure:"keys"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "accountlink",
		Platform: PlatformConfig{
			PassportBaseURL: "https://passport.bilibili.com",
			APIBaseURL:      "https://api.bilibili.com",
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Referer:         "https://www.bilibili.com/",
			CookieDomain:    "bilibili.com",
		},
		Gateway: GatewayConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Timeout:     10 * time.Second,
		},
		Login: LoginConfig{
			PollInterval:        3 * time.Second,
			ChallengeTTL:        180 * time.Second,
			MinHarvestedSecrets: 3,
		},
		Refresh: RefreshConfig{
			Enabled:         true,
			Interval:        25 * 24 * time.Hour,
			SessionValidity: 30 * 24 * time.Hour,
			LockTTL:         2 * time.Minute,
		},
		Keys: KeysConfig{
			Path:      "data/keys/accountlink.key",
			Algorithm: AlgorithmAES256GCM,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("core: gateway.max_attempts must be at least 1")
	}
	if c.Gateway.BaseDelay < 0 || c.Gateway.Timeout < 0 {
		return fmt.Errorf("core: gateway delays must not be negative")
	}
	if c.Login.PollInterval <= 0 {
		return fmt.Errorf("core: login.poll_interval must be positive")
	}
	if c.Login.MinHarvestedSecrets < 1 || c.Login.MinHarvestedSecrets > len(CredentialNames) {
		return fmt.Errorf("core: login.min_harvested_secrets must be between 1 and %d", len(CredentialNames))
	}
	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return fmt.Errorf("core: refresh.interval must be positive when refresh is enabled")
	}
	if c.Refresh.SessionValidity > 0 && c.Refresh.Interval >= c.Refresh.SessionValidity {
		return fmt.Errorf("core: refresh.interval must be shorter than refresh.session_validity")
	}
	switch strings.ToLower(strings.TrimSpace(c.Keys.Algorithm)) {
	case "", AlgorithmAES256GCM, AlgorithmXChaCha20Poly1305:
	default:
		return fmt.Errorf("core: keys.algorithm %q is not supported", c.Keys.Algorithm)
	}
	return nil
}
