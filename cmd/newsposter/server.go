package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/newsposter/internal/api"
	"github.com/kalambet/newsposter/internal/config"
	"github.com/kalambet/newsposter/internal/janitor"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/metrics"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/shortener"
	"github.com/kalambet/newsposter/internal/social"
	"github.com/kalambet/newsposter/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the newsposter HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running newsposter server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show newsposter server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "newsposter.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger builds the process logger. Logs always go to w so stdout stays
// free for the MCP transport.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the wired service graph shared by the HTTP and MCP servers.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	gate     *quota.Gate
	sessions *session.Manager
	router   *llm.Router
	pipeline *pipeline.Service
	janitor  *janitor.Janitor
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	var quotaStore quota.Store = quota.NewSQLStore(store)
	if cfg.Quota.Backend == config.QuotaBackendRedis {
		rs := quota.NewRedisStore(cfg.Quota.RedisAddr, cfg.Quota.DedupWindow)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			rs.Close()
			a.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Quota.RedisAddr, err)
		}
		a.closers = append(a.closers, rs.Close)
		quotaStore = rs
	}
	a.gate = quota.NewGate(quotaStore, quota.Limits{
		Daily:       cfg.Quota.DailyLimit,
		Monthly:     cfg.Quota.MonthlyLimit,
		DedupWindow: cfg.Quota.DedupWindow,
	}, quota.WithLogger(logger))

	a.sessions = session.NewManager(store, session.WithLogger(logger))

	providers, err := buildProviders(ctx, cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = llm.NewRouter(providers,
		llm.WithMinInterval(cfg.LLM.MinInterval),
		llm.WithRouterLogger(logger),
		llm.WithAttemptObserver(metrics.ObserveLLM),
	)

	var searchers []search.Searcher
	if cfg.Search.SerperAPIKey != "" {
		searchers = append(searchers, search.NewSerper(cfg.Search.SerperAPIKey))
	}
	if cfg.Search.RSSFallback {
		searchers = append(searchers, search.NewGoogleNewsRSS(&http.Client{Timeout: 15 * time.Second}))
	}
	if len(searchers) == 0 {
		a.Close()
		return nil, errors.New("no news source configured: set NEWSPOSTER_SERPER_API_KEY or enable search.rss_fallback")
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Store:      store,
		Gate:       a.gate,
		Sessions:   a.sessions,
		Search:     search.NewChain(logger, searchers...),
		Summarizer: news.NewSummarizer(a.router, cfg.LLM.MaxTokens, cfg.LLM.Temperature, logger),
		Generator:  social.NewGenerator(a.router, shortener.NewTinyURL(cfg.Shortener.TinyURLAPIKey), cfg.LLM.MaxTokens, cfg.LLM.Temperature, logger),
	}, pipeline.Settings{
		DefaultModel:    a.router.DefaultModel(cfg.LLM.DefaultModel),
		DefaultArticles: cfg.News.DefaultArticles,
		MaxArticles:     cfg.News.MaxArticles,
		CacheTTL:        cfg.News.CacheTTL,
	}, pipeline.WithObserver(metrics.ObserveStep), pipeline.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building pipelines: %w", err)
	}

	a.janitor = janitor.New(store, cfg.Janitor.RequestRetention, cfg.News.CacheTTL, janitor.WithLogger(logger))
	return a, nil
}

// buildProviders creates one provider per configured API key.
func buildProviders(ctx context.Context, cfg config.LLMConfig) ([]llm.Provider, error) {
	var providers []llm.Provider
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, llm.NewAnthropic(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := llm.NewOpenAI(cfg.OpenAIAPIKey, "")
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.GoogleAPIKey != "" {
		p, err := llm.NewGemini(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func loadValidConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "newsposter version %s\n", version)

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(baseURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("newsposter is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("newsposter is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.janitor.Start(cfg.Janitor.Schedule); err != nil {
		return err
	}
	defer a.janitor.Stop()

	if cfg.Server.AdminToken == "" {
		logger.Warn("admin endpoints disabled: NEWSPOSTER_ADMIN_TOKEN is not set")
	}

	handler := api.NewHandler(api.Deps{
		Store:          a.store,
		Pipeline:       a.pipeline,
		Sessions:       a.sessions,
		Gate:           a.gate,
		Models:         a.router,
		Janitor:        a.janitor,
		AdminToken:     cfg.Server.AdminToken,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedHosts:   cfg.Server.TrustedHosts,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("newsposter listening", "addr", cfg.Addr(), "models", a.router.Catalog())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    a.store,
		Pipeline: a.pipeline,
		Gate:     a.gate,
		Models:   a.router,
		Version:  version,
	})
	logger.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("newsposter is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop newsposter (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to newsposter (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL(cfg) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "degraded (HTTP %d)", resp.StatusCode)
		}
	}

	if err := cfg.Validate(); err != nil {
		printStatus("Config", "invalid")
		for _, line := range strings.Split(err.Error(), "\n") {
			printError("%s", line)
		}
	} else {
		printStatus("Config", "ok")
	}

	printStatus("Default model", "%s", cfg.LLM.DefaultModel)
	printStatus("LLM keys", "%s", configuredKeys(cfg.LLM))
	printStatus("Quota", "%d/day, %d/month (%s)", cfg.Quota.DailyLimit, cfg.Quota.MonthlyLimit, cfg.Quota.Backend)
	printStatus("Janitor", "%s", cfg.Janitor.Schedule)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configuredKeys(cfg config.LLMConfig) string {
	var names []string
	if cfg.AnthropicAPIKey != "" {
		names = append(names, "anthropic")
	}
	if cfg.OpenAIAPIKey != "" {
		names = append(names, "openai")
	}
	if cfg.GoogleAPIKey != "" {
		names = append(names, "google")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// baseURL is the address local clients use to reach the server. A wildcard
// listen host is reached over loopback.
func baseURL(cfg config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}
