// Package config loads DevMentor settings from a .env file and environment
// variables. Environment variables (DEVMENTOR_*) always win over .env values,
// which in turn win over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Gemini  GeminiConfig
	Auth    AuthConfig
	Retry   RetryConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type AuthConfig struct {
	// Tokens maps bearer tokens to owner ids, parsed from
	// DEVMENTOR_AUTH_TOKENS ("token=owner,token2=owner2").
	Tokens map[string]string
	// ServiceKey guards the internal service-to-service endpoint.
	// Empty disables that surface.
	ServiceKey string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			Timeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			Tokens: map[string]string{},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "devmentor-data"
		}
	}
	return filepath.Join(dir, "devmentor")
}

// Load reads a .env file from the working directory (if present) and then
// applies DEVMENTOR_* environment overrides. The Gemini API key is the only
// required setting.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env file: %v. Continuing with environment only.\n", err)
	}
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set it via environment variable DEVMENTOR_GEMINI_API_KEY")
	}
	return cfg, nil
}

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kTokenMap
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "DEVMENTOR_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "DEVMENTOR_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "DEVMENTOR_GEMINI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
	},
	{
		env: "DEVMENTOR_GEMINI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
	},
	{
		env: "DEVMENTOR_GEMINI_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Gemini.Timeout = v.(time.Duration) },
	},
	{
		env: "DEVMENTOR_AUTH_TOKENS", typ: kTokenMap,
		apply: func(cfg *Config, v any) { cfg.Auth.Tokens = v.(map[string]string) },
	},
	{
		env: "DEVMENTOR_SERVICE_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.ServiceKey = v.(string) },
	},
	{
		env: "DEVMENTOR_RETRY_MAX_ATTEMPTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
	},
	{
		env: "DEVMENTOR_RETRY_BASE_DELAY", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Retry.BaseDelay = v.(time.Duration) },
	},
	{
		env: "DEVMENTOR_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kTokenMap:
			if m, err := parseTokenMap(raw); err == nil {
				s.apply(cfg, m)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse token map from env var %s: %v. Using default value.\n", s.env, err)
			}
		}
	}
}

func parseTokenMap(raw string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, ok := strings.Cut(pair, "=")
		if !ok || token == "" || owner == "" {
			return nil, fmt.Errorf("invalid token entry %q, want token=owner", pair)
		}
		m[token] = owner
	}
	return m, nil
}
