package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/scrape"
)

// testRecorder is a minimal Recorder with budget and dedupe semantics.
type testRecorder struct {
	mu        sync.Mutex
	max       int
	counters  model.Counters
	companies map[string]bool
	emails    map[string]bool
	logs      []model.LogEntry
	stopped   atomic.Bool
}

func newTestRecorder(maxCompanies int) *testRecorder {
	return &testRecorder{max: maxCompanies, companies: map[string]bool{}, emails: map[string]bool{}}
}

func (r *testRecorder) AdmitCompany(domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() || r.companies[domain] || r.counters.CompaniesFound >= r.max {
		return false
	}
	r.companies[domain] = true
	r.counters.CompaniesFound++
	return true
}

func (r *testRecorder) AdmitContact(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emails[email] {
		return false
	}
	r.emails[email] = true
	return true
}

func (r *testRecorder) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters.CompaniesFound >= r.max
}

func (r *testRecorder) Stopped() bool { return r.stopped.Load() }

func (r *testRecorder) Add(d model.Counters) {
	r.mu.Lock()
	r.counters = r.counters.Add(d)
	r.mu.Unlock()
}

func (r *testRecorder) Log(level model.LogLevel, kind model.ProviderKind, msg string) {
	r.mu.Lock()
	r.logs = append(r.logs, model.LogEntry{Level: level, Provider: kind, Message: msg})
	r.mu.Unlock()
}

func (r *testRecorder) snapshot() model.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// stubFetcher serves canned pages keyed by URL.
type stubFetcher struct {
	pages  map[string]scrape.Page
	calls  atomic.Int32
	closed atomic.Bool
}

func newStubFetcher(t *testing.T, html map[string]string) *stubFetcher {
	t.Helper()
	f := &stubFetcher{pages: map[string]scrape.Page{}}
	for u, body := range html {
		p, err := scrape.ParseHTML(u, []byte(body))
		require.NoError(t, err)
		p.FinalURL = u
		p.StatusCode = 200
		f.pages[u] = p
	}
	return f
}

func (f *stubFetcher) Scrape(_ context.Context, u string) (*scrape.Result, error) {
	f.calls.Add(1)
	p, ok := f.pages[u]
	if !ok {
		return nil, errors.New("status 404")
	}
	return &scrape.Result{Page: p, Source: "stub"}, nil
}

func (f *stubFetcher) ScrapeAll(ctx context.Context, urls []string, _ int) []scrape.Page {
	var out []scrape.Page
	for _, u := range urls {
		if r, err := f.Scrape(ctx, u); err == nil {
			out = append(out, r.Page)
		}
	}
	return out
}

func (f *stubFetcher) Close() { f.closed.Store(true) }

// memStore records persisted candidates.
type memStore struct {
	mu        sync.Mutex
	companies []model.CandidateCompany
	contacts  []model.CandidateContact
	fail      error
}

func (m *memStore) InsertCompany(_ context.Context, c *model.CandidateCompany) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	c.ID = "co-" + c.Domain
	m.companies = append(m.companies, *c)
	return nil
}

func (m *memStore) InsertContacts(_ context.Context, cs []model.CandidateContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, cs...)
	return nil
}

func (m *memStore) ListCompanies(context.Context, string) ([]model.CandidateCompany, error) {
	return m.companies, nil
}

func (m *memStore) ListContacts(context.Context, string) ([]model.CandidateContact, error) {
	return m.contacts, nil
}

func testJob(kinds ...model.ProviderKind) *model.Job {
	return &model.Job{
		ID:        "job-1",
		PoolID:    "pool-1",
		Status:    model.JobStatusRunning,
		Providers: model.NewProviderSet(kinds...),
		ICP: model.ICPConfig{
			Industries:  []string{"fintech"},
			Geographies: []string{"US"},
			Limits:      model.Limits{MaxCompanies: 5, MaxContactsPerCompany: 2},
		},
	}
}

func testEnv(job *model.Job, rec *testRecorder, st *memStore, f Fetcher) *Env {
	env := &Env{
		Job:      job,
		Recorder: rec,
		Settings: Settings{MaxCompanyWorkers: 1},
	}
	if st != nil {
		env.Store = st
	}
	if f != nil {
		env.Fetchers = func(context.Context) (Fetcher, error) { return f, nil }
	}
	return env
}

// stubSearcher returns canned hits per query.
type stubSearcher struct {
	mu      sync.Mutex
	hits    map[string][]Hit
	err     error
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, q string) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.hits[q], nil
}
