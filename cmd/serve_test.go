package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadgen/internal/leadgen"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/store"
)

type apiFixture struct {
	handler http.Handler
	ctrl    *leadgen.Controller
	store   *store.SQLiteStore
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadgen.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	ctrl := leadgen.NewController(st, leadgen.Deps{})
	return &apiFixture{handler: buildRouter(ctrl, []string{"https://app.example.com"}), ctrl: ctrl, store: st}
}

func (a *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *apiFixture) createJob(t *testing.T) (poolID, jobID string) {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"pool_name": "US fintech",
		"icp":       map[string]any{"industries": []string{"fintech"}, "geographies": []string{"US"}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["pool_id"], resp["job_id"]
}

func TestRouter_Health(t *testing.T) {
	a := newAPI(t)
	rr := a.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouter_CreateAndStatus(t *testing.T) {
	a := newAPI(t)
	poolID, jobID := a.createJob(t)
	assert.NotEmpty(t, poolID)

	rr := a.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, poolID, job.PoolID)
	assert.Equal(t, leadgen.DefaultMaxCompanies, job.ICP.Limits.MaxCompanies)
	assert.Equal(t, model.DefaultProviders(), job.Providers)
}

func TestRouter_CreateValidation(t *testing.T) {
	a := newAPI(t)
	rr := a.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"pool_name": "",
		"icp":       map[string]any{"company_sizes": []string{"huge"}},
		"providers": map[string]bool{"telepathy": true},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp struct {
		Error  string               `json:"error"`
		Fields []leadgen.FieldError `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	paths := make([]string, len(resp.Fields))
	for i, f := range resp.Fields {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"pool_name", "icp.company_sizes[0]", "providers.telepathy"}, paths)

	jobs, err := a.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRouter_CreateBadBody(t *testing.T) {
	a := newAPI(t)
	rr := a.do(t, http.MethodPost, "/v1/jobs", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_UnknownJob(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/jobs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/jobs/nope/cancel", nil).Code)
}

func TestRouter_CancelQueued(t *testing.T) {
	a := newAPI(t)
	_, jobID := a.createJob(t)

	rr := a.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.True(t, job.CancelRequested)
}

func TestRouter_List(t *testing.T) {
	a := newAPI(t)
	_, first := a.createJob(t)
	_, second := a.createJob(t)
	require.NoError(t, a.ctrl.Cancel(context.Background(), second))

	rr := a.do(t, http.MethodGet, "/v1/jobs?status=queued", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var jobs []model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, first, jobs[0].ID)

	rr = a.do(t, http.MethodGet, "/v1/jobs?status=running", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/jobs?status=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/jobs?limit=ten", nil).Code)
}

func TestRouter_QueueOnPool(t *testing.T) {
	a := newAPI(t)
	poolID, _ := a.createJob(t)

	rr := a.do(t, http.MethodPost, "/v1/pools/"+poolID+"/jobs", map[string]any{"providers": []string{"serp", "crawler"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	job, err := a.store.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	assert.Equal(t, model.NewProviderSet(model.ProviderSERP, model.ProviderCrawler), job.Providers)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/pools/"+poolID+"/jobs", map[string]any{"providers": []string{"psychic"}}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/pools/missing/jobs", nil).Code)
}

func TestRouter_Leads(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	poolID, jobID := a.createJob(t)

	company := &model.CandidateCompany{JobID: jobID, PoolID: poolID, Domain: "acmepay.com", Name: "Acme Pay", Source: model.ProviderCrawler, Crawled: true}
	require.NoError(t, a.store.InsertCompany(ctx, company))
	require.NoError(t, a.store.InsertContacts(ctx, []model.CandidateContact{{
		JobID: jobID, PoolID: poolID, CompanyID: company.ID, Domain: "acmepay.com",
		Email: "jane@acmepay.com", Source: model.ProviderCrawler, Confidence: 1, Score: 0.7,
		Verification: model.VerificationResult{Address: "jane@acmepay.com", Status: model.VerificationValid},
	}}))

	rr := a.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/leads", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Companies []model.CandidateCompany `json:"companies"`
		Contacts  []model.CandidateContact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Companies, 1)
	require.Len(t, resp.Contacts, 1)
	assert.Equal(t, "jane@acmepay.com", resp.Contacts[0].Email)

	rr = a.do(t, http.MethodGet, "/v1/jobs/"+jobID+"/leads.xlsx", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "leads-"+jobID+".xlsx")
	f, err := xlsx.OpenBinary(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheet["Contacts"].Rows, 2)
}

func TestRouter_CORSPreflight(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost))
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newAPI(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- startServer(ctx, a.handler, port) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
