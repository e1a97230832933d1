package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/adapters/gologger"
	"github.com/goliatone/go-accountlink/core"
	"github.com/goliatone/go-config/config"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk layout. Durations are written as strings such
// as "3s" or "600h"; values may reference ${ENV} variables or @file:// paths.
type fileConfig struct {
	Accountlink core.Config   `koanf:"accountlink"`
	Storage     storageConfig `koanf:"storage"`
	Log         logConfig     `koanf:"log"`
}

type storageConfig struct {
	Driver      string        `koanf:"driver"`
	DSN         string        `koanf:"dsn"`
	Cache       bool          `koanf:"cache"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
	Debug       bool          `koanf:"debug"`
}

type logConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Accountlink: core.DefaultConfig(),
		Storage: storageConfig{
			Driver:      "sqlite3",
			DSN:         "file:accountlink.db?_foreign_keys=on",
			Cache:       true,
			CacheTTL:    5 * time.Minute,
			PingTimeout: 5 * time.Second,
		},
		Log: logConfig{Level: "info"},
	}
}

func (c fileConfig) Validate() error {
	if err := c.Accountlink.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		return fmt.Errorf("storage.driver is required")
	}
	if c.Storage.CacheTTL < 0 || c.Storage.PingTimeout < 0 {
		return fmt.Errorf("storage durations must not be negative")
	}
	_, err := gologger.ParseLevel(c.Log.Level)
	return err
}

// loadFileConfig layers the file at path over the defaults. An empty path
// yields the defaults; a named file that is missing is an error. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func loadFileConfig(ctx context.Context, path string) (fileConfig, error) {
	path = strings.TrimSpace(path)
	container := config.New(defaultFileConfig()).
		WithConfigPath("").
		WithStrictDecode(true)
	if path != "" {
		container.WithProvider(config.FileProvider[fileConfig](path))
	}
	if err := container.Load(ctx); err != nil {
		if path == "" {
			return fileConfig{}, fmt.Errorf("load default config: %w", err)
		}
		return fileConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return container.Raw(), nil
}

// writeEffectiveConfig prints cfg as YAML in the layout loadFileConfig
// reads back. Passwords in the storage DSN are masked.
func writeEffectiveConfig(w io.Writer, cfg fileConfig) error {
	doc := map[string]any{
		"accountlink": printableValues(core.ConfigMap(cfg.Accountlink)),
		"storage": map[string]any{
			"driver":       cfg.Storage.Driver,
			"dsn":          redactDSN(cfg.Storage.DSN),
			"cache":        cfg.Storage.Cache,
			"cache_ttl":    cfg.Storage.CacheTTL.String(),
			"ping_timeout": cfg.Storage.PingTimeout.String(),
			"debug":        cfg.Storage.Debug,
		},
		"log": map[string]any{
			"level": cfg.Log.Level,
			"json":  cfg.Log.JSON,
		},
	}
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return encoder.Close()
}

func printableValues(section map[string]any) map[string]any {
	out := make(map[string]any, len(section))
	for key, value := range section {
		switch typed := value.(type) {
		case map[string]any:
			out[key] = printableValues(typed)
		case time.Duration:
			out[key] = typed.String()
		default:
			out[key] = value
		}
	}
	return out
}

func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return dsn
	}
	return parsed.Redacted()
}
