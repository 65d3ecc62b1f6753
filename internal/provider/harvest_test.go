package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
)

const acmeHome = `<html><head><title>Acme Pay</title>
<script src="https://js.stripe.com/v3/"></script></head>
<body><a href="/contact">Contact us</a><a href="/blog">Blog</a></body></html>`

const acmeContact = `<html><body>
<p>Sales: sales [at] acmepay [dot] com</p>
<a href="mailto:jane.doe@acmepay.com">Jane</a>
<p>Partner desk: partners@elsewhere.com</p>
</body></html>`

func acmeFetcher(t *testing.T) *stubFetcher {
	return newStubFetcher(t, map[string]string{
		"https://acmepay.com":         acmeHome,
		"https://acmepay.com/contact": acmeContact,
	})
}

func TestHarvest_CrawlsAndExtractsContacts(t *testing.T) {
	job := testJob(model.ProviderCrawler)
	rec := newTestRecorder(5)
	st := &memStore{}
	f := acmeFetcher(t)
	env := testEnv(job, rec, st, f)
	h := NewHarvester(model.ProviderCrawler, env, f, env.Settings.withDefaults())

	company, err := h.Harvest(context.Background(), Lead{Domain: "https://www.acmepay.com/pricing"})
	require.NoError(t, err)
	require.NotNil(t, company)

	assert.Equal(t, "acmepay.com", company.Domain)
	assert.Equal(t, "Acme Pay", company.Name)
	assert.True(t, company.Crawled)
	assert.Equal(t, 2, company.PagesCrawled)
	assert.Contains(t, company.Technologies, "Stripe")

	require.Len(t, st.contacts, 2)
	emails := []string{st.contacts[0].Email, st.contacts[1].Email}
	assert.ElementsMatch(t, []string{"sales@acmepay.com", "jane.doe@acmepay.com"}, emails)
	for _, c := range st.contacts {
		assert.Equal(t, "co-acmepay.com", c.CompanyID)
		assert.Equal(t, model.VerificationSkipped, c.Verification.Status)
		assert.Equal(t, "pool-1", c.PoolID)
	}

	got := rec.snapshot()
	assert.Equal(t, 1, got.CompaniesFound)
	assert.Equal(t, 1, got.CompaniesCrawled)
	assert.Equal(t, 1, got.CandidatesCreated)
	assert.Equal(t, 2, got.ContactsCreated)
	assert.Zero(t, got.EmailsVerified)
}

func TestHarvest_DuplicateAndExcludedDomains(t *testing.T) {
	job := testJob(model.ProviderSERP)
	job.ICP.ExcludedDomains = []string{"competitor.com"}
	rec := newTestRecorder(5)
	st := &memStore{}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderSERP, env, nil, env.Settings.withDefaults())
	ctx := context.Background()

	for _, d := range []string{"competitor.com", "eu.competitor.com", "linkedin.com/company/acme", ""} {
		c, err := h.Harvest(ctx, Lead{Domain: d})
		require.NoError(t, err)
		assert.Nil(t, c, d)
	}

	c, err := h.Harvest(ctx, Lead{Domain: "acmepay.com", Name: "Acme"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.Crawled)

	c, err = h.Harvest(ctx, Lead{Domain: "www.acmepay.com"})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Len(t, st.companies, 1)
}

func TestHarvest_TechStackFilter(t *testing.T) {
	job := testJob(model.ProviderCrawler)
	job.ICP.TechStack = []string{"shopify"}
	rec := newTestRecorder(5)
	st := &memStore{}
	f := acmeFetcher(t)
	env := testEnv(job, rec, st, f)
	h := NewHarvester(model.ProviderCrawler, env, f, env.Settings.withDefaults())

	c, err := h.Harvest(context.Background(), Lead{Domain: "acmepay.com"})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, st.companies)
	assert.Equal(t, 1, rec.snapshot().CompaniesCrawled)

	// Uncrawled companies cannot be judged on their stack.
	c, err = h.Harvest(context.Background(), Lead{Domain: "unreachable.com"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.Crawled)
}

func TestHarvest_PeopleAndPatternGuesses(t *testing.T) {
	job := testJob(model.ProviderAIAnalysis)
	job.ICP.JobTitles = []string{"CFO"}
	job.ICP.Limits.MaxContactsPerCompany = 3
	rec := newTestRecorder(5)
	st := &memStore{}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderAIAnalysis, env, nil, env.Settings.withDefaults())

	_, err := h.Harvest(context.Background(), Lead{
		Domain: "brightledger.com",
		People: []Person{
			{Name: "Jane Doe", Title: "Engineer", Email: "jane.doe@brightledger.com"},
			{Name: "John Smith", Title: "CFO"},
			{Name: "Offsite Person", Email: "offsite@gmail.com"},
		},
	})
	require.NoError(t, err)
	require.Len(t, st.contacts, 2)

	assert.Equal(t, "jane.doe@brightledger.com", st.contacts[0].Email)
	assert.False(t, st.contacts[0].Inferred)

	guess := st.contacts[1]
	assert.Equal(t, "john.smith@brightledger.com", guess.Email)
	assert.True(t, guess.Inferred)
	assert.InDelta(t, 0.5, guess.Confidence, 1e-9)
	assert.Equal(t, "CFO", guess.Title)
}

func TestHarvest_ContactCapAndJobWideDedupe(t *testing.T) {
	job := testJob(model.ProviderAIAnalysis)
	job.ICP.Limits.MaxContactsPerCompany = 1
	rec := newTestRecorder(5)
	rec.AdmitContact("first@acmepay.com")
	st := &memStore{}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderAIAnalysis, env, nil, env.Settings.withDefaults())

	_, err := h.Harvest(context.Background(), Lead{
		Domain: "acmepay.com",
		People: []Person{
			{Name: "First One", Email: "first@acmepay.com"},
			{Name: "Second Two", Email: "second@acmepay.com"},
			{Name: "Third Three", Email: "third@acmepay.com"},
		},
	})
	require.NoError(t, err)
	require.Len(t, st.contacts, 1)
	assert.Equal(t, "second@acmepay.com", st.contacts[0].Email)
}

func TestHarvest_PersistError(t *testing.T) {
	job := testJob(model.ProviderSERP)
	rec := newTestRecorder(5)
	st := &memStore{fail: errors.New("disk full")}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderSERP, env, nil, env.Settings.withDefaults())

	_, err := h.Harvest(context.Background(), Lead{Domain: "acmepay.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, rec.snapshot().CandidatesCreated)
}

func TestHarvestAll_StopsAtBudget(t *testing.T) {
	job := testJob(model.ProviderSERP)
	rec := newTestRecorder(2)
	st := &memStore{}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderSERP, env, nil, env.Settings.withDefaults())

	n, err := h.HarvestAll(context.Background(), []Lead{
		{Domain: "a.com"}, {Domain: "b.com"}, {Domain: "c.com"}, {Domain: "d.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, st.companies, 2)
	assert.Equal(t, 2, rec.snapshot().CompaniesFound)
}

func TestHarvestAll_StopsWhenCancelled(t *testing.T) {
	job := testJob(model.ProviderSERP)
	rec := newTestRecorder(5)
	rec.stopped.Store(true)
	st := &memStore{}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderSERP, env, nil, env.Settings.withDefaults())

	n, err := h.HarvestAll(context.Background(), []Lead{{Domain: "a.com"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.companies)
}

func TestHarvestAll_CountsErrors(t *testing.T) {
	job := testJob(model.ProviderSERP)
	rec := newTestRecorder(5)
	st := &memStore{fail: errors.New("constraint violation")}
	env := testEnv(job, rec, st, nil)
	h := NewHarvester(model.ProviderSERP, env, nil, env.Settings.withDefaults())

	n, err := h.HarvestAll(context.Background(), []Lead{{Domain: "a.com"}, {Domain: "b.com"}})
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, rec.snapshot().Errors)
	require.Len(t, rec.logs, 2)
	assert.Equal(t, model.LogError, rec.logs[0].Level)
}
