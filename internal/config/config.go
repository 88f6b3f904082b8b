// Package config reads the service configuration from the environment, with
// an optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"reviewpulse/internal/cache"
	"reviewpulse/internal/llm"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type TTLs struct {
	AppInfo  time.Duration
	Reviews  time.Duration
	Analysis time.Duration
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Port     string
	Env      string
	LogLevel string

	AdminAPIKey    string
	RequestTimeout time.Duration

	Redis        Redis
	CacheBackend string // redis | memory
	CachePrefix  string
	TTL          TTLs

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string // fallback when a request carries no key

	AndroidScraperURL string
	ITunesBaseURL     string
	AndroidAppID      string // used when a request names no app
	IOSAppID          string
}

var defaults = map[string]any{
	"port":                    "8080",
	"env":                     EnvDevelopment,
	"log_level":               "info",
	"redis_enabled":           false,
	"redis_addr":              "127.0.0.1:6379",
	"redis_password":          "",
	"redis_db":                0,
	"cache_backend":           "redis",
	"cache_prefix":            "",
	"admin_api_key":           "",
	"llm_base_url":            "https://api.openai.com",
	"llm_model":               "gpt-4o-mini",
	"llm_api_key":             "",
	"android_scraper_url":     "http://127.0.0.1:3100",
	"itunes_base_url":         "https://itunes.apple.com",
	"app_android_id":          "",
	"app_ios_id":              "",
	"request_timeout_seconds": 120,
	"cache_ttl_app_info":      3600,
	"cache_ttl_reviews":       1800,
	"cache_ttl_analysis":      86400,
}

// Load reads .env (if present) into the process environment and builds the
// configuration from it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	return v
}

// FromViper builds the configuration from v and validates it.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:     strings.TrimSpace(v.GetString("port")),
		Env:      strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		LogLevel: v.GetString("log_level"),

		AdminAPIKey:    v.GetString("admin_api_key"),
		RequestTimeout: seconds(v.GetInt("request_timeout_seconds")),

		Redis: Redis{
			Enabled:  v.GetBool("redis_enabled"),
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		CacheBackend: strings.ToLower(v.GetString("cache_backend")),
		CachePrefix:  v.GetString("cache_prefix"),
		TTL: TTLs{
			AppInfo:  seconds(v.GetInt("cache_ttl_app_info")),
			Reviews:  seconds(v.GetInt("cache_ttl_reviews")),
			Analysis: seconds(v.GetInt("cache_ttl_analysis")),
		},

		LLMBaseURL: v.GetString("llm_base_url"),
		LLMModel:   v.GetString("llm_model"),
		LLMAPIKey:  v.GetString("llm_api_key"),

		AndroidScraperURL: v.GetString("android_scraper_url"),
		ITunesBaseURL:     v.GetString("itunes_base_url"),
		AndroidAppID:      v.GetString("app_android_id"),
		IOSAppID:          v.GetString("app_ios_id"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c Config) Validate() error {
	var errs []error

	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Port))
	}
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("ENV must be development, production or test, got %q", c.Env))
	}
	switch c.CacheBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be redis or memory, got %q", c.CacheBackend))
	}
	if c.Redis.Enabled && c.CacheBackend == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when REDIS_ENABLED is true"))
	}
	if c.TTL.AppInfo <= 0 || c.TTL.Reviews <= 0 || c.TTL.Analysis <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT_SECONDS must be positive"))
	}
	if c.LLMBaseURL == "" {
		errs = append(errs, errors.New("LLM_BASE_URL is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// CacheConfig is the cache section. REDIS_ENABLED is the master switch for
// caching, whichever backend is selected.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Enabled: c.Redis.Enabled,
		Backend: c.CacheBackend,
		Prefix:  c.CachePrefix,
		Redis: cache.DialConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
		CleanupInterval: time.Minute,
	}
}

func (c Config) LLMConfig() llm.Config {
	return llm.Config{
		BaseURL: c.LLMBaseURL,
		APIKey:  c.LLMAPIKey,
	}
}
