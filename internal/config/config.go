package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Search    SearchConfig
	LLM       LLMConfig
	Shortener ShortenerConfig
	Quota     QuotaConfig
	News      NewsConfig
	Janitor   JanitorConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	AdminToken     string
	CORSOrigins    []string
	TrustedHosts   []string
}

type StorageConfig struct {
	DataDir string
}

type SearchConfig struct {
	SerperAPIKey string
	RSSFallback  bool
}

type LLMConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DefaultModel    string
	MaxTokens       int
	Temperature     float64
	MinInterval     time.Duration
}

type ShortenerConfig struct {
	TinyURLAPIKey string
}

type QuotaConfig struct {
	DailyLimit   int
	MonthlyLimit int
	DedupWindow  time.Duration
	Backend      string
	RedisAddr    string
}

type NewsConfig struct {
	MaxArticles     int
	DefaultArticles int
	CacheTTL        time.Duration
}

type JanitorConfig struct {
	Schedule         string
	RequestRetention time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Quota backends.
const (
	QuotaBackendSQLite = "sqlite"
	QuotaBackendRedis  = "redis"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			RequestTimeout: 120 * time.Second,
			CORSOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			TrustedHosts:   []string{"localhost", "127.0.0.1"},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			RSSFallback: true,
		},
		LLM: LLMConfig{
			DefaultModel: "claude-3-5-sonnet",
			MaxTokens:    4000,
			Temperature:  0.7,
			MinInterval:  200 * time.Millisecond,
		},
		Quota: QuotaConfig{
			DailyLimit:   10,
			MonthlyLimit: 300,
			DedupWindow:  time.Hour,
			Backend:      QuotaBackendSQLite,
			RedisAddr:    "localhost:6379",
		},
		News: NewsConfig{
			MaxArticles:     12,
			DefaultArticles: 5,
			CacheTTL:        time.Hour,
		},
		Janitor: JanitorConfig{
			Schedule:         "@every 1h",
			RequestRetention: 90 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the YAML config file and environment
// variables. The file lives at $NEWSPOSTER_CONFIG, or
// $XDG_CONFIG_HOME/newsposter/config.yaml when that is unset. Secrets are
// only read from the environment.
//
// Environment variables (NEWSPOSTER_*) override file values.
//
// Load does not check that the result is usable; call Validate before
// starting the server.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Validate reports every problem that would prevent the server from running.
func (c Config) Validate() error {
	var errs []error

	if c.LLM.AnthropicAPIKey == "" && c.LLM.OpenAIAPIKey == "" && c.LLM.GoogleAPIKey == "" {
		errs = append(errs, errors.New("missing required config: at least one LLM API key. "+
			"Set NEWSPOSTER_ANTHROPIC_API_KEY, NEWSPOSTER_OPENAI_API_KEY or NEWSPOSTER_GOOGLE_API_KEY"))
	}

	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.cors_origins: %q must include an http(s) scheme and host", origin))
		}
	}

	for _, host := range c.Server.TrustedHosts {
		if host == "*" {
			continue
		}
		if host == "" || strings.ContainsAny(host, "/:") {
			errs = append(errs, fmt.Errorf("server.trusted_hosts: %q must be a bare host name without scheme, port or path", host))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d is out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive"))
	}
	if c.Quota.DailyLimit < 1 || c.Quota.MonthlyLimit < c.Quota.DailyLimit {
		errs = append(errs, fmt.Errorf("quota limits: daily=%d monthly=%d; daily must be >= 1 and monthly >= daily",
			c.Quota.DailyLimit, c.Quota.MonthlyLimit))
	}
	if c.Quota.Backend != QuotaBackendSQLite && c.Quota.Backend != QuotaBackendRedis {
		errs = append(errs, fmt.Errorf("quota.backend: %q must be %q or %q", c.Quota.Backend, QuotaBackendSQLite, QuotaBackendRedis))
	}
	if c.News.MaxArticles < 1 || c.News.MaxArticles > 12 {
		errs = append(errs, fmt.Errorf("news.max_articles: %d must be between 1 and 12", c.News.MaxArticles))
	}
	if c.News.DefaultArticles < 1 || c.News.DefaultArticles > c.News.MaxArticles {
		errs = append(errs, fmt.Errorf("news.default_articles: %d must be between 1 and news.max_articles", c.News.DefaultArticles))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature: %v must be between 0 and 2", c.LLM.Temperature))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Addr returns the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
