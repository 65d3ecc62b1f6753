package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadgen.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "browser", cfg.Crawl.Fetcher)
	assert.Equal(t, "https://html.duckduckgo.com/html/?q=%s", cfg.Crawl.SearchURL)
	assert.Equal(t, 4, cfg.Crawl.MaxPagesPerCompany)
	assert.True(t, cfg.Verification.Enabled)
	assert.Equal(t, []string{"syntax", "mx", "catch_all", "smtp"}, cfg.Verification.Stages)
	assert.Equal(t, 7*24*time.Hour, cfg.Verification.DomainTTL())
	assert.Equal(t, 24*time.Hour, cfg.Verification.AddressTTL())
	assert.Equal(t, time.Hour, cfg.Verification.RetryTTL())
	assert.Equal(t, 10*time.Second, cfg.Verification.StageTimeout())
	assert.InDelta(t, 0.5, cfg.Pattern.MinConfidence, 0.001)
	assert.Equal(t, "en-US", cfg.Browser.AcceptLanguage)
	assert.Equal(t, 15, cfg.Browser.ActionTimeoutSecs)
	assert.Equal(t, 45, cfg.Browser.NavigationTimeoutSecs)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.AllowDownload)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, 3, cfg.Agentic.MaxRounds)
	assert.Equal(t, 2, cfg.Worker.MaxConcurrentJobs)

	require.NoError(t, cfg.Validate("run"))
	require.NoError(t, cfg.Validate("serve"))
	require.NoError(t, cfg.Validate("verify"))
	require.NoError(t, cfg.Validate("create"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leadgen
crawl:
  fetcher: http
  exclude_paths: ["/jobs/*"]
verification:
  stages: [syntax, mx]
browser:
  executable_path: /opt/chrome/chrome
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "http", cfg.Crawl.Fetcher)
	assert.Equal(t, []string{"/jobs/*"}, cfg.Crawl.ExcludePaths)
	assert.Equal(t, []string{"syntax", "mx"}, cfg.Verification.Stages)
	assert.Equal(t, "/opt/chrome/chrome", cfg.Browser.ExecutablePath)
	assert.Equal(t, 4, cfg.Crawl.MaxPagesPerCompany)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0o644))

	t.Setenv("LEADGEN_LOG_LEVEL", "warn")
	t.Setenv("LEADGEN_SERVER_PORT", "3000")
	t.Setenv("LEADGEN_BROWSER_EXECUTABLE_PATH", "/usr/bin/chromium")
	t.Setenv("LEADGEN_VERIFICATION_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecutablePath)
	assert.False(t, cfg.Verification.Enabled)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "prod.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\ncrawl:\n  fetcher: http\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http", cfg.Crawl.Fetcher)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Store = StoreConfig{Driver: "sqlite", DatabaseURL: "leadgen.db"}
	cfg.Crawl = CrawlConfig{Fetcher: "browser", MaxPagesPerCompany: 4, SearchURL: "https://search.test/?q=%s"}
	cfg.Verification = VerificationConfig{Enabled: true, Stages: []string{"syntax"}, StageTimeoutSecs: 5}
	cfg.Worker = WorkerConfig{MaxConcurrentJobs: 2, PollIntervalSecs: 5}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
		want   []string
	}{
		{"valid run", "run", func(*Config) {}, nil},
		{"bad driver", "create", func(c *Config) { c.Store.Driver = "mysql" }, []string{"store.driver"}},
		{"missing url", "serve", func(c *Config) { c.Store.DatabaseURL = "" }, []string{"store.database_url is required"}},
		{"bad port", "serve", func(c *Config) { c.Server.Port = 0 }, []string{"server.port"}},
		{"bad fetcher", "run", func(c *Config) { c.Crawl.Fetcher = "curl" }, []string{"crawl.fetcher"}},
		{"search url", "run", func(c *Config) { c.Crawl.SearchURL = "https://search.test" }, []string{"crawl.search_url must contain %s"}},
		{"pages", "run", func(c *Config) { c.Crawl.MaxPagesPerCompany = 0 }, []string{"max_pages_per_company"}},
		{"confidence", "run", func(c *Config) { c.Pattern.MinConfidence = 1.5 }, []string{"pattern.min_confidence"}},
		{"stage", "verify", func(c *Config) { c.Verification.Stages = []string{"mx", "ping"} }, []string{`unknown stage "ping"`}},
		{"timeout", "verify", func(c *Config) { c.Verification.StageTimeoutSecs = 0 }, []string{"stage_timeout_secs"}},
		{"multiple", "run", func(c *Config) {
			c.Worker.MaxConcurrentJobs = 0
			c.Worker.PollIntervalSecs = 0
		}, []string{"worker.max_concurrent_jobs", "worker.poll_interval_secs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestValidateUnknownMode(t *testing.T) {
	t.Parallel()
	err := validConfig().Validate("dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
