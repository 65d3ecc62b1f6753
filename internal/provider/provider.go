// Package provider runs the discovery strategies of a lead generation job
// and funnels everything they find through a shared harvest step.
package provider

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/ai"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/internal/verify"
	"github.com/sells-group/leadgen/pkg/perplexity"
)

// Recorder is the single accumulation point of a job. Implementations must
// be safe for concurrent use.
type Recorder interface {
	// AdmitCompany reserves a company slot for domain. It returns false for
	// duplicates, once the company budget is spent, or after cancellation.
	AdmitCompany(domain string) bool
	// AdmitContact reserves an address job-wide.
	AdmitContact(email string) bool
	// Exhausted reports whether the company budget is spent.
	Exhausted() bool
	// Stopped reports whether the operator cancelled the job.
	Stopped() bool
	Add(delta model.Counters)
	Log(level model.LogLevel, kind model.ProviderKind, msg string)
}

// Fetcher loads company pages. *scrape.Chain implements it.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []scrape.Page
	Close()
}

// FetcherFactory opens a fetcher owned by one provider. In browser mode
// each call launches a dedicated browser session.
type FetcherFactory func(ctx context.Context) (Fetcher, error)

// Settings are the tunables shared by every provider.
type Settings struct {
	MaxPagesPerCompany  int
	MaxConcurrentPages  int
	MaxCompanyWorkers   int
	MinConfidence       float64
	BlockedDomains      []string
	SearchURL           string
	SearchRateLimit     float64
	MaxRounds           int
	FollowUpQueries     int
	AIQueryExpansions   int
	AIProposedCompanies int
}

func (s Settings) withDefaults() Settings {
	if s.MaxPagesPerCompany <= 0 {
		s.MaxPagesPerCompany = 4
	}
	if s.MaxConcurrentPages <= 0 {
		s.MaxConcurrentPages = 3
	}
	if s.MaxCompanyWorkers <= 0 {
		s.MaxCompanyWorkers = 4
	}
	if s.MaxRounds <= 0 {
		s.MaxRounds = 3
	}
	if s.FollowUpQueries <= 0 {
		s.FollowUpQueries = 3
	}
	if s.AIQueryExpansions <= 0 {
		s.AIQueryExpansions = 5
	}
	if s.AIProposedCompanies <= 0 {
		s.AIProposedCompanies = 15
	}
	return s
}

// Env carries the collaborators of one job run. Nil fields disable the
// capability they provide.
type Env struct {
	Job      *model.Job
	Recorder Recorder
	Store    store.LeadGenStore
	AI       ai.Capability
	Search   Searcher
	Research perplexity.Client
	Stager   *verify.Stager
	Fetchers FetcherFactory
	Settings Settings
}

// StartError means a provider could not begin work at all.
type StartError struct {
	Kind model.ProviderKind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("provider %s: start: %v", e.Kind, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Provider is one discovery strategy bound to a job.
type Provider interface {
	Kind() model.ProviderKind
	Run(ctx context.Context) error
	// Degraded reports whether the provider ran without crawling.
	Degraded() bool
	Close()
}

// New starts the provider for kind. Every ProviderKind must have a case.
func New(ctx context.Context, kind model.ProviderKind, env *Env) (Provider, error) {
	switch kind {
	case model.ProviderSERP:
		if env.Search == nil {
			return nil, &StartError{Kind: kind, Err: eris.New("search backend not configured")}
		}
		return &serpProvider{base: newBase(ctx, kind, env)}, nil

	case model.ProviderCrawler:
		b, err := newCrawlingBase(ctx, kind, env)
		if err != nil {
			return nil, &StartError{Kind: kind, Err: err}
		}
		return &crawlerProvider{base: b, search: NewHTMLSearcher(b.fetcher, env.Settings.SearchURL, env.Settings.SearchRateLimit)}, nil

	case model.ProviderAIQueries:
		if env.AI == nil {
			return nil, &StartError{Kind: kind, Err: ai.ErrUnavailable}
		}
		if env.Search == nil {
			return nil, &StartError{Kind: kind, Err: eris.New("search backend not configured")}
		}
		return &aiQueriesProvider{base: newBase(ctx, kind, env)}, nil

	case model.ProviderAIAnalysis:
		if env.AI == nil {
			return nil, &StartError{Kind: kind, Err: ai.ErrUnavailable}
		}
		return &aiAnalysisProvider{base: newBase(ctx, kind, env)}, nil

	case model.ProviderAgentic:
		if env.AI == nil {
			return nil, &StartError{Kind: kind, Err: ai.ErrUnavailable}
		}
		return &agenticProvider{base: newBase(ctx, kind, env)}, nil
	}
	return nil, &StartError{Kind: kind, Err: eris.Errorf("unknown provider %q", kind)}
}

// base holds what every provider shares: its harvester and, unless it is
// running in no-crawl mode, its own fetcher.
type base struct {
	kind     model.ProviderKind
	env      *Env
	settings Settings
	fetcher  Fetcher
	harvest  *Harvester
	degraded bool
}

func newCrawlingBase(ctx context.Context, kind model.ProviderKind, env *Env) (*base, error) {
	if env.Fetchers == nil {
		return nil, eris.New("no page fetcher configured")
	}
	f, err := env.Fetchers(ctx)
	if err != nil {
		return nil, err
	}
	return assemble(kind, env, f), nil
}

// newBase acquires a fetcher when one is available. Failure is logged and
// counted, and the provider continues without crawling.
func newBase(ctx context.Context, kind model.ProviderKind, env *Env) *base {
	var f Fetcher
	degraded := false
	if env.Fetchers != nil {
		var err error
		if f, err = env.Fetchers(ctx); err != nil {
			env.Recorder.Add(model.Counters{Errors: 1})
			env.Recorder.Log(model.LogWarn, kind, "page fetcher unavailable, continuing without crawling: "+err.Error())
			f, degraded = nil, true
		}
	} else {
		degraded = true
		env.Recorder.Log(model.LogWarn, kind, "no page fetcher configured, continuing without crawling")
	}
	b := assemble(kind, env, f)
	b.degraded = degraded
	return b
}

func assemble(kind model.ProviderKind, env *Env, f Fetcher) *base {
	settings := env.Settings.withDefaults()
	return &base{
		kind:     kind,
		env:      env,
		settings: settings,
		fetcher:  f,
		harvest:  NewHarvester(kind, env, f, settings),
	}
}

func (b *base) Kind() model.ProviderKind { return b.kind }
func (b *base) Degraded() bool           { return b.degraded }

func (b *base) Close() {
	if b.fetcher != nil {
		b.fetcher.Close()
	}
}

func (b *base) stopped() bool {
	return b.env.Recorder.Stopped() || b.env.Recorder.Exhausted()
}

func (b *base) logf(level model.LogLevel, format string, args ...any) {
	b.env.Recorder.Log(level, b.kind, fmt.Sprintf(format, args...))
}
