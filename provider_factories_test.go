package accountlink

import (
	"testing"
	"time"

	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-accountlink/providers/bilibili"
)

func TestBilibiliProviderDefaults(t *testing.T) {
	provider, err := BilibiliProvider(bilibili.Config{})
	if err != nil {
		t.Fatalf("factory error: %v", err)
	}
	if provider.ID() != bilibili.ProviderID {
		t.Fatalf("expected %q, got %q", bilibili.ProviderID, provider.ID())
	}
	cfg := provider.Config()
	if cfg.PassportBaseURL != bilibili.PassportBaseURL || cfg.APIBaseURL != bilibili.APIBaseURL {
		t.Fatalf("expected default base urls, got %+v", cfg)
	}
}

func TestPlatformFromConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Platform.PassportBaseURL = "http://127.0.0.1:9000/"
	cfg.Platform.APIBaseURL = " http://127.0.0.1:9001 "
	cfg.Login.ChallengeTTL = 90 * time.Second

	provider, err := PlatformFromConfig(cfg, nil, &core.MemoryTelemetrySink{})
	if err != nil {
		t.Fatalf("platform from config: %v", err)
	}
	got := provider.Config()
	if got.PassportBaseURL != "http://127.0.0.1:9000" {
		t.Fatalf("expected trimmed passport url, got %q", got.PassportBaseURL)
	}
	if got.APIBaseURL != "http://127.0.0.1:9001" {
		t.Fatalf("expected trimmed api url, got %q", got.APIBaseURL)
	}
	if got.ChallengeTTL != 90*time.Second {
		t.Fatalf("expected challenge ttl from config, got %s", got.ChallengeTTL)
	}
}
