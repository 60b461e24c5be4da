package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "NEWSPOSTER_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "NEWSPOSTER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.request_timeout", typ: kDuration, env: "NEWSPOSTER_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		key: "server.admin_token", typ: kString, env: "NEWSPOSTER_ADMIN_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "server.cors_origins", typ: kList, env: "NEWSPOSTER_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.([]string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.trusted_hosts", typ: kList, env: "NEWSPOSTER_SERVER_TRUSTED_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Server.TrustedHosts = v.([]string) },
		extract: func(cfg Config) any { return cfg.Server.TrustedHosts },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NEWSPOSTER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "search.serper_api_key", typ: kString, env: "NEWSPOSTER_SERPER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Search.SerperAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.SerperAPIKey },
	},
	{
		key: "search.rss_fallback", typ: kBool, env: "NEWSPOSTER_SEARCH_RSS_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Search.RSSFallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.RSSFallback },
	},
	{
		key: "llm.anthropic_api_key", typ: kString, env: "NEWSPOSTER_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnthropicAPIKey },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "NEWSPOSTER_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.google_api_key", typ: kString, env: "NEWSPOSTER_GOOGLE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.GoogleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GoogleAPIKey },
	},
	{
		key: "llm.default_model", typ: kString, env: "NEWSPOSTER_LLM_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.DefaultModel },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "NEWSPOSTER_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "NEWSPOSTER_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.min_interval", typ: kDuration, env: "NEWSPOSTER_LLM_MIN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.LLM.MinInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.MinInterval },
	},
	{
		key: "shortener.tinyurl_api_key", typ: kString, env: "NEWSPOSTER_TINYURL_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Shortener.TinyURLAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Shortener.TinyURLAPIKey },
	},
	{
		key: "quota.daily_limit", typ: kInt, env: "NEWSPOSTER_QUOTA_DAILY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.DailyLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.DailyLimit },
	},
	{
		key: "quota.monthly_limit", typ: kInt, env: "NEWSPOSTER_QUOTA_MONTHLY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Quota.MonthlyLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.MonthlyLimit },
	},
	{
		key: "quota.dedup_window", typ: kDuration, env: "NEWSPOSTER_QUOTA_DEDUP_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Quota.DedupWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quota.DedupWindow },
	},
	{
		key: "quota.backend", typ: kString, env: "NEWSPOSTER_QUOTA_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Quota.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.Backend },
	},
	{
		key: "quota.redis_addr", typ: kString, env: "NEWSPOSTER_QUOTA_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Quota.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.RedisAddr },
	},
	{
		key: "news.max_articles", typ: kInt, env: "NEWSPOSTER_NEWS_MAX_ARTICLES",
		apply:   func(cfg *Config, v any) { cfg.News.MaxArticles = v.(int) },
		extract: func(cfg Config) any { return cfg.News.MaxArticles },
	},
	{
		key: "news.default_articles", typ: kInt, env: "NEWSPOSTER_NEWS_DEFAULT_ARTICLES",
		apply:   func(cfg *Config, v any) { cfg.News.DefaultArticles = v.(int) },
		extract: func(cfg Config) any { return cfg.News.DefaultArticles },
	},
	{
		key: "news.cache_ttl", typ: kDuration, env: "NEWSPOSTER_NEWS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.News.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.News.CacheTTL },
	},
	{
		key: "janitor.schedule", typ: kString, env: "NEWSPOSTER_JANITOR_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Janitor.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Janitor.Schedule },
	},
	{
		key: "janitor.request_retention", typ: kDuration, env: "NEWSPOSTER_JANITOR_REQUEST_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Janitor.RequestRetention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Janitor.RequestRetention },
	},
	{
		key: "log.level", typ: kString, env: "NEWSPOSTER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "NEWSPOSTER_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parse converts a raw string into the Go value for the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	}
	return nil, fmt.Errorf("unknown key type %d", s.typ)
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kList:
		return "list"
	default:
		return "string"
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
