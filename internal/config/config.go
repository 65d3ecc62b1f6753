package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Crawl        CrawlConfig        `yaml:"crawl" mapstructure:"crawl"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Pattern      PatternConfig      `yaml:"pattern" mapstructure:"pattern"`
	TechDetect   TechDetectConfig   `yaml:"techdetect" mapstructure:"techdetect"`
	Agentic      AgenticConfig      `yaml:"agentic" mapstructure:"agentic"`
	Resilience   ResilienceConfig   `yaml:"resilience" mapstructure:"resilience"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Claude API settings for the AI capability.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds Jina Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	ResultsPerQ   int    `yaml:"results_per_query" mapstructure:"results_per_query"`
	ReaderEnabled bool   `yaml:"reader_enabled" mapstructure:"reader_enabled"`
}

// PerplexityConfig holds Perplexity research settings used by the agentic
// provider. An empty key disables research.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// BrowserConfig configures browser executable resolution and page defaults.
type BrowserConfig struct {
	ExecutablePath        string `yaml:"executable_path" mapstructure:"executable_path"`
	AllowDownload         bool   `yaml:"allow_download" mapstructure:"allow_download"`
	Headless              bool   `yaml:"headless" mapstructure:"headless"`
	NoSandbox             bool   `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	UserAgent             string `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage        string `yaml:"accept_language" mapstructure:"accept_language"`
	ActionTimeoutSecs     int    `yaml:"action_timeout_secs" mapstructure:"action_timeout_secs"`
	NavigationTimeoutSecs int    `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
}

// CrawlConfig configures page fetching for harvested companies.
type CrawlConfig struct {
	// Fetcher is "browser" (rendered pages, HTTP fallback) or "http".
	Fetcher            string   `yaml:"fetcher" mapstructure:"fetcher"`
	MaxPagesPerCompany int      `yaml:"max_pages_per_company" mapstructure:"max_pages_per_company"`
	MaxConcurrentPages int      `yaml:"max_concurrent_pages" mapstructure:"max_concurrent_pages"`
	HostRateLimit      float64  `yaml:"host_rate_limit" mapstructure:"host_rate_limit"`
	HostBurst          int      `yaml:"host_burst" mapstructure:"host_burst"`
	SearchURL          string   `yaml:"search_url" mapstructure:"search_url"`
	SearchRateLimit    float64  `yaml:"search_rate_limit" mapstructure:"search_rate_limit"`
	ExcludePaths       []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	BlockedDomains     []string `yaml:"blocked_domains" mapstructure:"blocked_domains"`
	MaxCompanyWorkers  int      `yaml:"max_company_workers" mapstructure:"max_company_workers"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// VerificationConfig configures the staged email verifier.
type VerificationConfig struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	Stages            []string `yaml:"stages" mapstructure:"stages"`
	DomainTTLDays     int      `yaml:"domain_ttl_days" mapstructure:"domain_ttl_days"`
	SMTPTTLDays       int      `yaml:"smtp_ttl_days" mapstructure:"smtp_ttl_days"`
	UnknownTTLMinutes int      `yaml:"unknown_ttl_minutes" mapstructure:"unknown_ttl_minutes"`
	StageTimeoutSecs  int      `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	DNSServers        []string `yaml:"dns_servers" mapstructure:"dns_servers"`
	FromEmail         string   `yaml:"from_email" mapstructure:"from_email"`
	HelloName         string   `yaml:"hello_name" mapstructure:"hello_name"`
}

// DomainTTL returns the cache lifetime of mx and catch-all records.
func (v VerificationConfig) DomainTTL() time.Duration {
	return time.Duration(v.DomainTTLDays) * 24 * time.Hour
}

// AddressTTL returns the cache lifetime of syntax and smtp records.
func (v VerificationConfig) AddressTTL() time.Duration {
	return time.Duration(v.SMTPTTLDays) * 24 * time.Hour
}

// RetryTTL returns the cache lifetime of unknown outcomes.
func (v VerificationConfig) RetryTTL() time.Duration {
	return time.Duration(v.UnknownTTLMinutes) * time.Minute
}

// StageTimeout bounds a single verification probe.
func (v VerificationConfig) StageTimeout() time.Duration {
	return time.Duration(v.StageTimeoutSecs) * time.Second
}

// PatternConfig tunes email pattern inference for name-only contacts.
type PatternConfig struct {
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// TechDetectConfig points at an optional signature table file.
type TechDetectConfig struct {
	SignaturesPath string `yaml:"signatures_path" mapstructure:"signatures_path"`
}

// AgenticConfig bounds the autonomous research loop.
type AgenticConfig struct {
	MaxRounds           int `yaml:"max_rounds" mapstructure:"max_rounds"`
	FollowUpQueries     int `yaml:"follow_up_queries" mapstructure:"follow_up_queries"`
	AIQueryExpansions   int `yaml:"ai_query_expansions" mapstructure:"ai_query_expansions"`
	AIProposedCompanies int `yaml:"ai_proposed_companies" mapstructure:"ai_proposed_companies"`
}

// ResilienceConfig tunes retry and circuit-breaking around AI and search.
type ResilienceConfig struct {
	RetryAttempts       int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseMillis     int `yaml:"retry_base_millis" mapstructure:"retry_base_millis"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// WorkerConfig configures the queued-job polling loop.
type WorkerConfig struct {
	PollIntervalSecs  int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	CancelPollSecs    int `yaml:"cancel_poll_secs" mapstructure:"cancel_poll_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// for config.yaml in the working directory; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrapf(err, "config: read file %s", v.ConfigFileUsed())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.results_per_query", 10)
	v.SetDefault("jina.reader_enabled", true)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")

	v.SetDefault("browser.allow_download", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.accept_language", "en-US")
	v.SetDefault("browser.action_timeout_secs", 15)
	v.SetDefault("browser.navigation_timeout_secs", 45)

	v.SetDefault("crawl.fetcher", "browser")
	v.SetDefault("crawl.max_pages_per_company", 4)
	v.SetDefault("crawl.max_concurrent_pages", 3)
	v.SetDefault("crawl.host_rate_limit", 2.0)
	v.SetDefault("crawl.host_burst", 2)
	v.SetDefault("crawl.search_url", "https://html.duckduckgo.com/html/?q=%s")
	v.SetDefault("crawl.search_rate_limit", 0.5)
	v.SetDefault("crawl.exclude_paths", []string{"/blog/*", "/news/*", "/press/*", "!/press/contact*", "/shop/*", "/cart/*", "/wp-content/*", "/*.pdf"})
	v.SetDefault("crawl.max_company_workers", 4)
	v.SetDefault("crawl.request_timeout_secs", 20)

	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.stages", []string{"syntax", "mx", "catch_all", "smtp"})
	v.SetDefault("verification.domain_ttl_days", 7)
	v.SetDefault("verification.smtp_ttl_days", 1)
	v.SetDefault("verification.unknown_ttl_minutes", 60)
	v.SetDefault("verification.stage_timeout_secs", 10)
	v.SetDefault("verification.dns_servers", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("verification.from_email", "verify@example.com")
	v.SetDefault("verification.hello_name", "localhost")

	v.SetDefault("pattern.min_confidence", 0.5)

	v.SetDefault("agentic.max_rounds", 3)
	v.SetDefault("agentic.follow_up_queries", 3)
	v.SetDefault("agentic.ai_query_expansions", 5)
	v.SetDefault("agentic.ai_proposed_companies", 15)

	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.retry_base_millis", 500)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown_secs", 30)

	v.SetDefault("worker.poll_interval_secs", 5)
	v.SetDefault("worker.max_concurrent_jobs", 2)
	v.SetDefault("worker.cancel_poll_secs", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
}

// Validate checks the settings a command mode depends on and reports every
// problem at once. Modes: "run" (run, work), "serve", "verify", "create".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch mode {
	case "create":
		c.validateStore(add)
	case "run":
		c.validateStore(add)
		c.validateCrawl(add)
		c.validateVerification(add)
		if c.Worker.MaxConcurrentJobs < 1 || c.Worker.MaxConcurrentJobs > 32 {
			add("worker.max_concurrent_jobs must be between 1 and 32")
		}
		if c.Worker.PollIntervalSecs < 1 {
			add("worker.poll_interval_secs must be > 0")
		}
	case "serve":
		c.validateStore(add)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	case "verify":
		c.validateVerification(add)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
}

func (c *Config) validateCrawl(add func(string, ...any)) {
	if c.Crawl.Fetcher != "browser" && c.Crawl.Fetcher != "http" {
		add("crawl.fetcher must be browser or http")
	}
	if c.Crawl.MaxPagesPerCompany < 1 || c.Crawl.MaxPagesPerCompany > 20 {
		add("crawl.max_pages_per_company must be between 1 and 20")
	}
	if !strings.Contains(c.Crawl.SearchURL, "%s") {
		add("crawl.search_url must contain %%s")
	}
	if c.Pattern.MinConfidence < 0 || c.Pattern.MinConfidence > 1 {
		add("pattern.min_confidence must be between 0 and 1")
	}
}

func (c *Config) validateVerification(add func(string, ...any)) {
	for _, s := range c.Verification.Stages {
		switch s {
		case "syntax", "mx", "catch_all", "smtp":
		default:
			add("verification.stages: unknown stage %q", s)
		}
	}
	if c.Verification.Enabled && c.Verification.StageTimeoutSecs < 1 {
		add("verification.stage_timeout_secs must be > 0")
	}
	if c.Verification.DomainTTLDays < 0 || c.Verification.SMTPTTLDays < 0 || c.Verification.UnknownTTLMinutes < 0 {
		add("verification ttl values must be >= 0")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
