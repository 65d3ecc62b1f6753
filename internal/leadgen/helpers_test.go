package leadgen

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/internal/store"
	"github.com/sells-group/leadgen/internal/verify"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// webFixture serves a search page linking to n companies, each with a
// contact page listing three mailboxes.
type webFixture struct {
	pages   map[string]scrape.Page
	search  scrape.Page
	fetches atomic.Int32
}

func newWebFixture(t *testing.T, n int) *webFixture {
	t.Helper()
	w := &webFixture{pages: map[string]scrape.Page{}}
	var results strings.Builder
	for i := 1; i <= n; i++ {
		domain := fmt.Sprintf("fin%d.com", i)
		fmt.Fprintf(&results, `<a href="https://www.%s/">Fin %d | Payments</a>`, domain, i)
		w.add(t, "https://"+domain, fmt.Sprintf(`<html><head><title>Fin %d</title></head><body><a href="/contact">Contact</a></body></html>`, i))
		w.add(t, "https://"+domain+"/contact", fmt.Sprintf(`<html><body>
<a href="mailto:ceo@%[1]s">CEO</a> <a href="mailto:cfo@%[1]s">CFO</a>
<p>sales [at] %[2]s [dot] com</p></body></html>`, domain, strings.TrimSuffix(domain, ".com")))
	}
	page, err := scrape.ParseHTML("https://search.test/", []byte("<html><body>"+results.String()+"</body></html>"))
	require.NoError(t, err)
	w.search = page
	return w
}

func (w *webFixture) add(t *testing.T, u, html string) {
	p, err := scrape.ParseHTML(u, []byte(html))
	require.NoError(t, err)
	p.FinalURL = u
	p.StatusCode = 200
	w.pages[u] = p
}

func (w *webFixture) Scrape(_ context.Context, u string) (*scrape.Result, error) {
	w.fetches.Add(1)
	if strings.HasPrefix(u, "https://search.test/") {
		return &scrape.Result{Page: w.search, Source: "stub"}, nil
	}
	p, ok := w.pages[u]
	if !ok {
		return nil, errors.New("status 404")
	}
	return &scrape.Result{Page: p, Source: "stub"}, nil
}

func (w *webFixture) ScrapeAll(ctx context.Context, urls []string, _ int) []scrape.Page {
	var out []scrape.Page
	for _, u := range urls {
		if r, err := w.Scrape(ctx, u); err == nil {
			out = append(out, r.Page)
		}
	}
	return out
}

func (w *webFixture) Close() {}

func (w *webFixture) factory() provider.FetcherFactory {
	return func(context.Context) (provider.Fetcher, error) { return w, nil }
}

// passingMX and passingProber accept every domain and mailbox.
type passingMX struct{}

func (passingMX) LookupMX(_ context.Context, domain string) ([]string, error) {
	return []string{"mx." + domain}, nil
}

type passingProber struct{}

func (passingProber) CatchAll(context.Context, string) (bool, error)        { return false, nil }
func (passingProber) Mailbox(context.Context, string, string) (bool, error) { return true, nil }

func newTestStager(cache verify.Cache) *verify.Stager {
	return verify.NewStager(verify.DefaultConfig(), cache, verify.Adapters{
		Syntax: verify.AddressSyntax{},
		MX:     passingMX{},
		Prober: passingProber{},
	})
}

// fakeProvider runs an arbitrary function against the job's recorder.
type fakeProvider struct {
	kind model.ProviderKind
	run  func(ctx context.Context) error
}

func (f *fakeProvider) Kind() model.ProviderKind      { return f.kind }
func (f *fakeProvider) Run(ctx context.Context) error { return f.run(ctx) }
func (f *fakeProvider) Degraded() bool                { return false }
func (f *fakeProvider) Close()                        {}

// seeding returns a factory whose providers each admit and store n
// companies.
func seeding(n int) provider.Factory {
	return func(_ context.Context, kind model.ProviderKind, env *provider.Env) (provider.Provider, error) {
		return &fakeProvider{kind: kind, run: func(context.Context) error {
			for i := range n {
				if env.Recorder.AdmitCompany(fmt.Sprintf("%s-%d.com", kind, i)) {
					env.Recorder.Add(model.Counters{CandidatesCreated: 1})
				}
			}
			return nil
		}}, nil
	}
}

func fintechRequest(providers map[string]bool) CreateRequest {
	return CreateRequest{
		Owner:    "ops@example.com",
		PoolName: "US fintech",
		ICP: model.ICPConfig{
			Industries:  []string{"fintech"},
			Geographies: []string{"US"},
			Limits:      model.Limits{MaxCompanies: 5, MaxContactsPerCompany: 2},
		},
		Providers: providers,
	}
}

func only(kind model.ProviderKind) map[string]bool {
	out := make(map[string]bool)
	for _, k := range model.AllProviders {
		out[string(k)] = k == kind
	}
	return out
}
