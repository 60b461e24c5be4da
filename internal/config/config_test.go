package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, "# empty\n")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 120*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 120s", cfg.Server.RequestTimeout)
	}
	if cfg.LLM.DefaultModel != "claude-3-5-sonnet" {
		t.Errorf("LLM.DefaultModel = %q", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.MaxTokens != 4000 || cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM max_tokens/temperature = %d/%v, want 4000/0.7", cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	}
	if cfg.Quota.DailyLimit != 10 || cfg.Quota.MonthlyLimit != 300 {
		t.Errorf("Quota limits = %d/%d, want 10/300", cfg.Quota.DailyLimit, cfg.Quota.MonthlyLimit)
	}
	if cfg.Quota.DedupWindow != time.Hour {
		t.Errorf("Quota.DedupWindow = %v, want 1h", cfg.Quota.DedupWindow)
	}
	if cfg.News.MaxArticles != 12 || cfg.News.DefaultArticles != 5 {
		t.Errorf("News articles = %d/%d, want 12/5", cfg.News.MaxArticles, cfg.News.DefaultArticles)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Search.RSSFallback {
		t.Error("Search.RSSFallback should default to true")
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9000\n")

	t.Setenv("NEWSPOSTER_SERVER_PORT", "9100")
	t.Setenv("NEWSPOSTER_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("NEWSPOSTER_QUOTA_DEDUP_WINDOW", "30m")
	t.Setenv("NEWSPOSTER_SERVER_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.LLM.AnthropicAPIKey != "env-key" {
		t.Errorf("AnthropicAPIKey = %q, want %q", cfg.LLM.AnthropicAPIKey, "env-key")
	}
	if cfg.Quota.DedupWindow != 30*time.Minute {
		t.Errorf("DedupWindow = %v, want 30m", cfg.Quota.DedupWindow)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://app.example.com|https://admin.example.com" {
		t.Errorf("CORSOrigins = %q", got)
	}
}

// TestBadEnvValueKeepsDefault verifies unparsable env values fall back to the default.
func TestBadEnvValueKeepsDefault(t *testing.T) {
	path := writeTempConfig(t, "")
	t.Setenv("NEWSPOSTER_QUOTA_DAILY_LIMIT", "lots")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Quota.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d, want default 10", cfg.Quota.DailyLimit)
	}
}

// TestYAMLParsing verifies nested and dotted keys are read from the YAML file.
func TestYAMLParsing(t *testing.T) {
	content := `
server:
  host: 0.0.0.0
  port: 5000
  request_timeout: 45s
  trusted_hosts:
    - api.example.com
    - localhost
storage:
  data_dir: /tmp/newsposter-test
llm:
  default_model: gpt-4-turbo
  temperature: 0.3
  anthropic_api_key: ignored-from-file
quota.backend: redis
news:
  cache_ttl: 2h
search:
  rss_fallback: false
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 5000 {
		t.Errorf("Server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if strings.Join(cfg.Server.TrustedHosts, ",") != "api.example.com,localhost" {
		t.Errorf("TrustedHosts = %v", cfg.Server.TrustedHosts)
	}
	if cfg.Storage.DataDir != "/tmp/newsposter-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.LLM.DefaultModel != "gpt-4-turbo" || cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM = %q/%v", cfg.LLM.DefaultModel, cfg.LLM.Temperature)
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		t.Error("secrets must not be read from the config file")
	}
	if cfg.Quota.Backend != QuotaBackendRedis {
		t.Errorf("Quota.Backend = %q", cfg.Quota.Backend)
	}
	if cfg.News.CacheTTL != 2*time.Hour {
		t.Errorf("CacheTTL = %v", cfg.News.CacheTTL)
	}
	if cfg.Search.RSSFallback {
		t.Error("RSSFallback should be false")
	}
}

func validConfig() Config {
	cfg := defaults()
	cfg.LLM.OpenAIAPIKey = "sk-test"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{
			name:   "no llm key",
			mutate: func(c *Config) { c.LLM.OpenAIAPIKey = "" },
			want:   "at least one LLM API key",
		},
		{
			name:   "cors origin without scheme",
			mutate: func(c *Config) { c.Server.CORSOrigins = []string{"localhost:3000"} },
			want:   "server.cors_origins",
		},
		{
			name:   "trusted host with scheme",
			mutate: func(c *Config) { c.Server.TrustedHosts = []string{"https://example.com"} },
			want:   "server.trusted_hosts",
		},
		{
			name:   "wildcard trusted host",
			mutate: func(c *Config) { c.Server.TrustedHosts = []string{"*"} },
		},
		{
			name:   "too many articles",
			mutate: func(c *Config) { c.News.MaxArticles = 20 },
			want:   "news.max_articles",
		},
		{
			name:   "unknown quota backend",
			mutate: func(c *Config) { c.Quota.Backend = "memcached" },
			want:   "quota.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsposter", "config.yaml")
	b := newFileBackend(path)

	if err := setKey(b, "quota.daily_limit", "25"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.cors_origins", "https://a.example.com,https://b.example.com"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "quota.daily_limit", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKey(b, "llm.openai_api_key", "sk"); err == nil || !strings.Contains(err.Error(), "NEWSPOSTER_OPENAI_API_KEY") {
		t.Errorf("secret error = %v", err)
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Quota.DailyLimit != 25 {
		t.Errorf("DailyLimit = %d, want 25", cfg.Quota.DailyLimit)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := validConfig()
	for _, info := range ShowAll(cfg) {
		if info.Key == "llm.openai_api_key" && info.Value != "(set)" {
			t.Errorf("secret value shown: %q", info.Value)
		}
		if info.Key == "llm.google_api_key" && info.Value != "(unset)" {
			t.Errorf("unset secret = %q", info.Value)
		}
	}
	for _, k := range ValidKeys() {
		if strings.HasSuffix(k, "api_key") || k == "server.admin_token" {
			t.Errorf("ValidKeys includes secret %q", k)
		}
	}
}
