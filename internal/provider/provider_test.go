package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/ai"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/pkg/perplexity"
)

// cannedAI answers each purpose with a fixed JSON document.
func cannedAI(t *testing.T, answers map[string]any) ai.Func {
	return func(_ context.Context, p ai.Prompt, out any) error {
		v, ok := answers[p.Purpose]
		if !ok {
			return errors.New("no answer for " + p.Purpose)
		}
		if err, ok := v.(error); ok {
			return err
		}
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return json.Unmarshal(raw, out)
	}
}

type stubResearch struct {
	calls int
	err   error
}

func (s *stubResearch) Research(_ context.Context, req perplexity.ResearchRequest) (*perplexity.Answer, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &perplexity.Answer{Text: "Acme Pay (acmepay.com) is a US fintech."}, nil
}

func TestNew_StartErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		kind model.ProviderKind
		env  func(*Env)
	}{
		{model.ProviderSERP, func(*Env) {}},
		{model.ProviderCrawler, func(*Env) {}},
		{model.ProviderCrawler, func(e *Env) {
			e.Fetchers = func(context.Context) (Fetcher, error) { return nil, errors.New("chrome not found") }
		}},
		{model.ProviderAIQueries, func(e *Env) { e.Search = &stubSearcher{} }},
		{model.ProviderAIQueries, func(e *Env) { e.AI = ai.Unavailable{} }},
		{model.ProviderAIAnalysis, func(*Env) {}},
		{model.ProviderAgentic, func(*Env) {}},
		{model.ProviderKind("carrier_pigeon"), func(*Env) {}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			env := testEnv(testJob(tt.kind), newTestRecorder(5), nil, nil)
			tt.env(env)
			p, err := New(ctx, tt.kind, env)
			require.Error(t, err)
			assert.Nil(t, p)
			var se *StartError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
		})
	}
}

func TestNew_DegradesWithoutFetcher(t *testing.T) {
	rec := newTestRecorder(5)
	env := testEnv(testJob(model.ProviderSERP), rec, nil, nil)
	env.Search = &stubSearcher{}
	env.Fetchers = func(context.Context) (Fetcher, error) { return nil, errors.New("browser launch failed") }

	p, err := New(context.Background(), model.ProviderSERP, env)
	require.NoError(t, err)
	defer p.Close()
	assert.True(t, p.Degraded())
	assert.Equal(t, 1, rec.snapshot().Errors)
	require.Len(t, rec.logs, 1)
	assert.Equal(t, model.LogWarn, rec.logs[0].Level)
	assert.Contains(t, rec.logs[0].Message, "browser launch failed")
}

func TestNew_CrawlerOwnsFetcher(t *testing.T) {
	f := newStubFetcher(t, nil)
	env := testEnv(testJob(model.ProviderCrawler), newTestRecorder(5), nil, f)

	p, err := New(context.Background(), model.ProviderCrawler, env)
	require.NoError(t, err)
	assert.False(t, p.Degraded())
	p.Close()
	assert.True(t, f.closed.Load())
}

func TestSERPProvider_HarvestsResults(t *testing.T) {
	job := testJob(model.ProviderSERP)
	job.Templates = []string{"{industry} startups {geo}"}
	rec := newTestRecorder(5)
	st := &memStore{}
	search := &stubSearcher{hits: map[string][]Hit{
		"fintech startups US": {
			{URL: "https://www.linkedin.com/company/acme", Title: "Acme | LinkedIn"},
			{URL: "https://acmepay.com/", Title: "Acme Pay | Home"},
			{URL: "https://brightledger.com/about", Title: "Bright Ledger - About"},
		},
	}}
	env := testEnv(job, rec, st, nil)
	env.Search = search

	p, err := New(context.Background(), model.ProviderSERP, env)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"fintech startups US"}, search.queries)
	require.Len(t, st.companies, 2)
	assert.Equal(t, "acmepay.com", st.companies[0].Domain)
	assert.Equal(t, "Acme Pay", st.companies[0].Name)
	assert.Equal(t, model.ProviderSERP, st.companies[0].Source)
}

func TestSERPProvider_AllQueriesFail(t *testing.T) {
	job := testJob(model.ProviderSERP)
	job.Templates = []string{"{industry} a", "{industry} b"}
	rec := newTestRecorder(5)
	env := testEnv(job, rec, &memStore{}, nil)
	env.Search = &stubSearcher{err: errors.New("status 500")}

	p, err := New(context.Background(), model.ProviderSERP, env)
	require.NoError(t, err)
	err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 queries failed")
	assert.Equal(t, 2, rec.snapshot().Errors)
}

func TestCrawlerProvider_SearchesThroughFetcher(t *testing.T) {
	job := testJob(model.ProviderCrawler)
	job.Templates = []string{"{industry} {geo}"}
	st := &memStore{}
	f := newStubFetcher(t, map[string]string{
		"https://html.duckduckgo.com/html/?q=fintech+US": ddgResults,
		"https://acmepay.com":                            acmeHome,
		"https://acmepay.com/contact":                    acmeContact,
	})
	env := testEnv(job, newTestRecorder(5), st, f)

	p, err := New(context.Background(), model.ProviderCrawler, env)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, st.companies, 2)
	assert.Equal(t, "acmepay.com", st.companies[0].Domain)
	assert.True(t, st.companies[0].Crawled)
	assert.False(t, st.companies[1].Crawled)
	assert.NotEmpty(t, st.contacts)
}

func TestAIQueriesProvider(t *testing.T) {
	job := testJob(model.ProviderAIQueries)
	st := &memStore{}
	search := &stubSearcher{hits: map[string][]Hit{
		"fintech api companies": {{URL: "https://acmepay.com", Title: "Acme Pay"}},
	}}
	env := testEnv(job, newTestRecorder(5), st, nil)
	env.Search = search
	env.AI = cannedAI(t, map[string]any{
		"expand_queries": queryPlan{Queries: []string{"fintech api companies", " ", "fintech api companies"}},
	})

	p, err := New(context.Background(), model.ProviderAIQueries, env)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"fintech api companies"}, search.queries)
	assert.Len(t, st.companies, 1)
}

func TestAIQueriesProvider_NoQueries(t *testing.T) {
	env := testEnv(testJob(model.ProviderAIQueries), newTestRecorder(5), &memStore{}, nil)
	env.Search = &stubSearcher{}
	env.AI = cannedAI(t, map[string]any{"expand_queries": queryPlan{}})

	p, err := New(context.Background(), model.ProviderAIQueries, env)
	require.NoError(t, err)
	assert.Error(t, p.Run(context.Background()))
}

func TestAIAnalysisProvider(t *testing.T) {
	st := &memStore{}
	env := testEnv(testJob(model.ProviderAIAnalysis), newTestRecorder(5), st, nil)
	env.AI = cannedAI(t, map[string]any{
		"propose_companies": companyPlan{Companies: []proposal{
			{Name: "Acme Pay", Domain: "AcmePay.com", People: []Person{{Name: "Jane Doe", Title: "CFO", Email: "jane@acmepay.com"}}},
			{Name: "No Domain"},
			{Name: "Bright Ledger", Domain: "brightledger.com"},
		}},
	})

	p, err := New(context.Background(), model.ProviderAIAnalysis, env)
	require.NoError(t, err)
	assert.True(t, p.Degraded())
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, st.companies, 2)
	require.Len(t, st.contacts, 1)
	assert.Equal(t, "jane@acmepay.com", st.contacts[0].Email)
	assert.Equal(t, model.ProviderAIAnalysis, st.contacts[0].Source)
}

func TestAgenticProvider_RoundsUntilNothingNew(t *testing.T) {
	st := &memStore{}
	rec := newTestRecorder(10)
	research := &stubResearch{}
	search := &stubSearcher{hits: map[string][]Hit{
		"fintech lenders texas": {{URL: "https://lendstar.com", Title: "LendStar"}},
	}}
	env := testEnv(testJob(model.ProviderAgentic), rec, st, nil)
	env.Research = research
	env.Search = search
	env.Settings.MaxRounds = 3

	plan := agenticPlan{
		Companies:       []proposal{{Name: "Acme Pay", Domain: "acmepay.com"}},
		FollowUpQueries: []string{"fintech lenders texas"},
	}
	rounds := 0
	env.AI = ai.Func(func(_ context.Context, p ai.Prompt, out any) error {
		rounds++
		if rounds > 1 {
			assert.Contains(t, p.User, "Skip these domains: acmepay.com")
			return json.Unmarshal([]byte(`{"companies": [{"name": "Acme Pay", "domain": "acmepay.com"}]}`), out)
		}
		raw, _ := json.Marshal(plan)
		return json.Unmarshal(raw, out)
	})

	p, err := New(context.Background(), model.ProviderAgentic, env)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 2, rounds)
	assert.Equal(t, 2, research.calls)
	assert.Equal(t, []string{"fintech lenders texas"}, search.queries)
	require.Len(t, st.companies, 2)
	assert.Equal(t, "acmepay.com", st.companies[0].Domain)
	assert.Equal(t, "lendstar.com", st.companies[1].Domain)
}

func TestAgenticProvider_ResearchFailureContinues(t *testing.T) {
	st := &memStore{}
	rec := newTestRecorder(10)
	env := testEnv(testJob(model.ProviderAgentic), rec, st, nil)
	env.Research = &stubResearch{err: errors.New("status 429")}
	env.Settings.MaxRounds = 1
	env.AI = cannedAI(t, map[string]any{
		"agentic_round": agenticPlan{Companies: []proposal{{Domain: "acmepay.com"}}},
	})

	p, err := New(context.Background(), model.ProviderAgentic, env)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, st.companies, 1)
	assert.Equal(t, 1, rec.snapshot().Errors)
}

func TestAgenticProvider_FirstRoundFailure(t *testing.T) {
	env := testEnv(testJob(model.ProviderAgentic), newTestRecorder(10), &memStore{}, nil)
	env.AI = cannedAI(t, map[string]any{"agentic_round": errors.New("status 529")})

	p, err := New(context.Background(), model.ProviderAgentic, env)
	require.NoError(t, err)
	assert.Error(t, p.Run(context.Background()))
}
