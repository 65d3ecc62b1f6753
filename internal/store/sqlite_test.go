package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedJob(t *testing.T, st *SQLiteStore, poolID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	if poolID == "" {
		pool := &model.LeadPool{Name: "Fintech US", Owner: "ops", ICP: model.ICPConfig{Industries: []string{"fintech"}}}
		require.NoError(t, st.CreatePool(ctx, pool))
		poolID = pool.ID
	}
	job := &model.Job{
		PoolID:    poolID,
		Providers: model.NewProviderSet(model.ProviderCrawler, model.ProviderSERP),
		Templates: []string{"{industry} companies {geo}"},
		ICP: model.ICPConfig{
			Industries:  []string{"fintech"},
			Geographies: []string{"US"},
			Limits:      model.Limits{MaxCompanies: 5, MaxContactsPerCompany: 2},
		},
	}
	require.NoError(t, st.CreateJob(ctx, job))
	return job
}

func TestSQLite_Pool_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	pool := &model.LeadPool{Name: "Breweries", Description: "craft", ICP: model.ICPConfig{TechStack: []string{"shopify"}}}
	require.NoError(t, st.CreatePool(ctx, pool))
	assert.NotEmpty(t, pool.ID)

	got, err := st.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, "Breweries", got.Name)
	assert.Equal(t, []string{"shopify"}, got.ICP.TechStack)

	_, err = st.GetPool(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_Job_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	job := seedJob(t, st, "")

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.True(t, got.Providers.Has(model.ProviderCrawler))
	assert.False(t, got.Providers.Has(model.ProviderAgentic))
	assert.Equal(t, []string{"{industry} companies {geo}"}, got.Templates)
	assert.Equal(t, 5, got.ICP.Limits.MaxCompanies)
	assert.Empty(t, got.Logs)
	assert.Nil(t, got.StartedAt)

	_, err = st.GetJob(context.Background(), "nope")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ClaimJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st, "")

	claimed, err := st.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = st.ClaimJob(ctx, job.ID)
	assert.True(t, eris.Is(err, ErrNotClaimable))

	_, err = st.ClaimJob(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ClaimJob_PoolBusy(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	first := seedJob(t, st, "")
	second := seedJob(t, st, first.PoolID)
	other := seedJob(t, st, "")

	_, err := st.ClaimJob(ctx, first.ID)
	require.NoError(t, err)

	_, err = st.ClaimJob(ctx, second.ID)
	assert.True(t, eris.Is(err, ErrNotClaimable))

	_, err = st.ClaimJob(ctx, other.ID)
	assert.NoError(t, err, "other pools are unaffected")
}

func TestSQLite_ClaimJob_CancelledBeforeStart(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st, "")

	require.NoError(t, st.RequestCancel(ctx, job.ID))
	flag, err := st.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, flag)

	_, err = st.ClaimJob(ctx, job.ID)
	assert.True(t, eris.Is(err, ErrNotClaimable))
}

func TestSQLite_ProgressAndFinish(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st, "")

	counters := model.Counters{CompaniesFound: 2, CompaniesCrawled: 1}
	logs := []model.LogEntry{{Time: time.Now().UTC(), Level: model.LogInfo, Provider: model.ProviderCrawler, Message: "started"}}

	err := st.SaveProgress(ctx, job.ID, counters, logs)
	require.Error(t, err, "queued jobs take no progress")

	_, err = st.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, st.SaveProgress(ctx, job.ID, counters, logs))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, counters, got.Counters)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "started", got.Logs[0].Message)

	counters.CandidatesCreated = 1
	require.NoError(t, st.FinishJob(ctx, job.ID, model.JobStatusRunning, model.JobStatusCompleted, counters, logs))

	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)

	// terminal states are immutable
	assert.Error(t, st.SaveProgress(ctx, job.ID, model.Counters{}, nil))
	err = st.FinishJob(ctx, job.ID, model.JobStatusRunning, model.JobStatusFailed, counters, logs)
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.JobStatusCompleted, te.From)

	// a cancel on a finished job is a no-op
	require.NoError(t, st.RequestCancel(ctx, job.ID))
	flag, err := st.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, flag)
}

func TestSQLite_FinishJob_RejectsInvalidTransition(t *testing.T) {
	st := newTestSQLiteStore(t)
	job := seedJob(t, st, "")

	err := st.FinishJob(context.Background(), job.ID, model.JobStatusQueued, model.JobStatusCompleted, model.Counters{}, nil)
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)

	require.NoError(t, st.FinishJob(context.Background(), job.ID, model.JobStatusQueued, model.JobStatusFailed, model.Counters{}, nil))
}

func TestSQLite_ListJobs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	a := seedJob(t, st, "")
	b := seedJob(t, st, "")
	_, err := st.ClaimJob(ctx, a.ID)
	require.NoError(t, err)

	queued, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, b.ID, queued[0].ID)

	byPool, err := st.ListJobs(ctx, JobFilter{PoolID: a.PoolID})
	require.NoError(t, err)
	require.Len(t, byPool, 1)
	assert.Equal(t, a.ID, byPool[0].ID)
}

func TestSQLite_ListJobs_Claimable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	busy := seedJob(t, st, "")
	_ = seedJob(t, st, busy.PoolID)
	_, err := st.ClaimJob(ctx, busy.ID)
	require.NoError(t, err)

	head := seedJob(t, st, "")
	_ = seedJob(t, st, head.PoolID)

	cancelled := seedJob(t, st, "")
	require.NoError(t, st.RequestCancel(ctx, cancelled.ID))

	jobs, err := st.ListJobs(ctx, JobFilter{Claimable: true, Status: model.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, head.ID, jobs[0].ID)
}

func TestSQLite_Verification_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.GetVerification(ctx, model.StageMX, "acme.test")
	require.NoError(t, err)
	assert.Nil(t, rec)

	first := time.Now().UTC().Add(-8 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, st.PutVerification(ctx, model.VerificationRecord{
		Stage: model.StageMX, Subject: "acme.test", Outcome: model.OutcomePass, TTLClass: model.TTLDomain, CheckedAt: first,
	}))
	second := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.PutVerification(ctx, model.VerificationRecord{
		Stage: model.StageMX, Subject: "acme.test", Outcome: model.OutcomeFail, Detail: "no mx", TTLClass: model.TTLDomain, CheckedAt: second,
	}))

	rec, err = st.GetVerification(ctx, model.StageMX, "acme.test")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.OutcomeFail, rec.Outcome)
	assert.Equal(t, "no mx", rec.Detail)
	assert.True(t, second.Equal(rec.CheckedAt))

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM verification_cache`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLite_Candidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	job := seedJob(t, st, "")

	lg, ok := LeadGen(st)
	require.True(t, ok)

	company := &model.CandidateCompany{
		JobID: job.ID, PoolID: job.PoolID, Domain: "acme.test", Name: "Acme",
		Source: model.ProviderCrawler, Technologies: []string{"WordPress"}, PagesCrawled: 3, Crawled: true,
	}
	require.NoError(t, lg.InsertCompany(ctx, company))
	assert.Error(t, lg.InsertCompany(ctx, &model.CandidateCompany{JobID: job.ID, PoolID: job.PoolID, Domain: "acme.test", Source: model.ProviderSERP}))

	contacts := []model.CandidateContact{
		{JobID: job.ID, PoolID: job.PoolID, CompanyID: company.ID, Domain: "acme.test", Email: "info@acme.test", Source: model.ProviderCrawler, Score: 0.2,
			Verification: model.VerificationResult{Address: "info@acme.test", Status: model.VerificationRisky}},
		{JobID: job.ID, PoolID: job.PoolID, CompanyID: company.ID, Domain: "acme.test", Email: "jane@acme.test", Name: "Jane Doe", Source: model.ProviderCrawler, Score: 0.9,
			Verification: model.VerificationResult{Address: "jane@acme.test", Status: model.VerificationValid,
				Stages: []model.StageResult{{Stage: model.StageSyntax, Outcome: model.OutcomePass}}}},
	}
	require.NoError(t, lg.InsertContacts(ctx, contacts))
	require.NoError(t, lg.InsertContacts(ctx, nil))

	companies, err := lg.ListCompanies(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, []string{"WordPress"}, companies[0].Technologies)
	assert.True(t, companies[0].Crawled)

	got, err := lg.ListContacts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "jane@acme.test", got[0].Email, "ordered by score")
	assert.Equal(t, model.VerificationValid, got[0].Verification.Status)
	assert.Equal(t, model.StageSyntax, got[0].Verification.Stages[0].Stage)
}
