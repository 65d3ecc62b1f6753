package leadgen

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/ai"
	"github.com/sells-group/leadgen/internal/browser"
	"github.com/sells-group/leadgen/internal/config"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/internal/techdetect"
	"github.com/sells-group/leadgen/internal/verify"
	"github.com/sells-group/leadgen/pkg/anthropic"
	"github.com/sells-group/leadgen/pkg/jina"
	"github.com/sells-group/leadgen/pkg/perplexity"
)

// Deps are the collaborators shared by every job the controller runs. Nil
// fields disable the capability; providers that need it fail to start.
type Deps struct {
	AI       ai.Capability
	Search   provider.Searcher
	Research perplexity.Client
	Stager   *verify.Stager
	Fetchers provider.FetcherFactory
	Settings provider.Settings
	// CancelPoll is how often a running job checks its persisted cancel
	// flag and saves progress.
	CancelPoll time.Duration
}

// BuildDeps wires the production collaborators from configuration. cache
// backs the verification stager and is normally the job store.
func BuildDeps(cfg *config.Config, cache verify.Cache) (Deps, error) {
	techdetect.Configure(cfg.TechDetect.SignaturesPath)

	guard := func(name string) *resilience.Guard {
		r := cfg.Resilience
		return resilience.NewGuard(name, r.RetryAttempts, r.RetryBaseMillis, r.BreakerThreshold, r.BreakerCooldownSecs)
	}

	deps := Deps{
		Settings:   SettingsFromConfig(cfg),
		CancelPoll: time.Duration(cfg.Worker.CancelPollSecs) * time.Second,
	}

	if cfg.Anthropic.Key != "" {
		deps.AI = ai.NewClaude(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, guard("anthropic"))
	} else {
		zap.L().Warn("leadgen: anthropic.key not set, AI providers will not start")
	}

	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
	)
	if cfg.Jina.Key != "" {
		deps.Search = provider.NewJinaSearcher(jinaClient, guard("jina_search"), cfg.Crawl.SearchRateLimit, cfg.Jina.ResultsPerQ)
	} else {
		zap.L().Warn("leadgen: jina.key not set, search API providers will not start")
	}

	if cfg.Perplexity.Key != "" {
		deps.Research = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	}

	stager, err := NewStager(cfg.Verification, cache)
	if err != nil {
		return Deps{}, err
	}
	deps.Stager = stager

	var reader *scrape.ReaderScraper
	if cfg.Jina.ReaderEnabled {
		reader = scrape.NewReaderScraper(jinaClient, guard("jina_reader").Breaker)
	}
	fetchers, err := FetcherFactory(cfg, reader)
	if err != nil {
		return Deps{}, err
	}
	deps.Fetchers = fetchers
	return deps, nil
}

// SettingsFromConfig maps crawl, pattern and agentic config to provider
// settings.
func SettingsFromConfig(cfg *config.Config) provider.Settings {
	return provider.Settings{
		MaxPagesPerCompany:  cfg.Crawl.MaxPagesPerCompany,
		MaxConcurrentPages:  cfg.Crawl.MaxConcurrentPages,
		MaxCompanyWorkers:   cfg.Crawl.MaxCompanyWorkers,
		MinConfidence:       cfg.Pattern.MinConfidence,
		BlockedDomains:      cfg.Crawl.BlockedDomains,
		SearchURL:           cfg.Crawl.SearchURL,
		SearchRateLimit:     cfg.Crawl.SearchRateLimit,
		MaxRounds:           cfg.Agentic.MaxRounds,
		FollowUpQueries:     cfg.Agentic.FollowUpQueries,
		AIQueryExpansions:   cfg.Agentic.AIQueryExpansions,
		AIProposedCompanies: cfg.Agentic.AIProposedCompanies,
	}
}

// NewStager builds the verification stager with DNS and SMTP adapters.
func NewStager(vc config.VerificationConfig, cache verify.Cache) (*verify.Stager, error) {
	stages := make([]model.VerificationStage, 0, len(vc.Stages))
	for _, s := range vc.Stages {
		stage := model.VerificationStage(s)
		if !stage.Valid() {
			return nil, eris.Errorf("leadgen: unknown verification stage %q", s)
		}
		stages = append(stages, stage)
	}
	prober := verify.NewSMTPProber(verify.ProberConfig{
		FromEmail:        vc.FromEmail,
		HelloName:        vc.HelloName,
		ConnectTimeout:   vc.StageTimeout(),
		OperationTimeout: vc.StageTimeout(),
	})
	return verify.NewStager(verify.Config{
		Enabled:      vc.Enabled,
		Stages:       stages,
		DomainTTL:    vc.DomainTTL(),
		AddressTTL:   vc.AddressTTL(),
		RetryTTL:     vc.RetryTTL(),
		StageTimeout: vc.StageTimeout(),
	}, cache, verify.Adapters{
		Syntax: verify.AddressSyntax{},
		MX:     verify.NewDNSResolver(vc.DNSServers, vc.StageTimeout()),
		Prober: prober,
		Flags:  prober,
	}), nil
}

// BrowserConfig maps browser config to launch settings.
func BrowserConfig(bc config.BrowserConfig) browser.Config {
	return browser.Config{
		ExecutablePath:    bc.ExecutablePath,
		AllowDownload:     bc.AllowDownload,
		Headless:          bc.Headless,
		NoSandbox:         bc.NoSandbox,
		UserAgent:         bc.UserAgent,
		AcceptLanguage:    bc.AcceptLanguage,
		ActionTimeout:     time.Duration(bc.ActionTimeoutSecs) * time.Second,
		NavigationTimeout: time.Duration(bc.NavigationTimeoutSecs) * time.Second,
	}
}

// FetcherFactory returns the per-provider fetcher constructor for the
// configured crawl mode. In browser mode every provider launches its own
// session and a launch failure is returned to the provider; the plain HTTP
// scraper and the reader (when non-nil) back the browser up page by page.
func FetcherFactory(cfg *config.Config, reader *scrape.ReaderScraper) (provider.FetcherFactory, error) {
	matcher := scrape.NewPathMatcher(cfg.Crawl.ExcludePaths)
	limiter := scrape.NewHostLimiter(cfg.Crawl.HostRateLimit, cfg.Crawl.HostBurst)
	bcfg := BrowserConfig(cfg.Browser)
	local := scrape.NewLocalScraper(
		scrape.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Crawl.RequestTimeoutSecs) * time.Second}),
		scrape.WithUserAgent(firstNonEmpty(bcfg.UserAgent, browser.DefaultUserAgent), firstNonEmpty(bcfg.AcceptLanguage, "en-US")),
	)
	fallbacks := []scrape.Scraper{local}
	if reader != nil {
		fallbacks = append(fallbacks, reader)
	}

	switch cfg.Crawl.Fetcher {
	case "http":
		return func(context.Context) (provider.Fetcher, error) {
			return scrape.NewChain(matcher, fallbacks...).WithHostLimiter(limiter), nil
		}, nil
	case "browser", "":
		mgr := browser.NewManager(bcfg)
		return func(ctx context.Context) (provider.Fetcher, error) {
			bs, err := scrape.NewBrowserScraper(ctx, mgr)
			if err != nil {
				return nil, err
			}
			scrapers := append([]scrape.Scraper{bs}, fallbacks...)
			return scrape.NewChain(matcher, scrapers...).WithHostLimiter(limiter), nil
		}, nil
	}
	return nil, eris.Errorf("leadgen: unknown crawl.fetcher %q", cfg.Crawl.Fetcher)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
