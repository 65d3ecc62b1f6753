// Package leadgen runs lead generation jobs: it validates requests, drives
// each job through its state machine and accumulates what the providers
// report.
package leadgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/store"
)

// ErrLeadsUnsupported is returned by Leads when the store cannot persist
// candidates.
var ErrLeadsUnsupported = eris.New("leadgen: store does not support candidate persistence")

// Controller owns job lifecycle. It is safe for concurrent use.
type Controller struct {
	store   store.Store
	leads   store.LeadGenStore
	deps    Deps
	factory provider.Factory

	mu      sync.Mutex
	running map[string]*Accumulator
}

// NewController creates a Controller. Whether st can persist candidates is
// decided here, once.
func NewController(st store.Store, deps Deps) *Controller {
	c := &Controller{
		store:   st,
		deps:    deps,
		factory: provider.New,
		running: make(map[string]*Accumulator),
	}
	if lg, ok := store.LeadGen(st); ok {
		c.leads = lg
	} else {
		zap.L().Warn("leadgen: store cannot persist candidates, jobs will only report counters")
	}
	return c
}

// WithFactory replaces the provider factory.
func (c *Controller) WithFactory(f provider.Factory) *Controller {
	c.factory = f
	return c
}

// CreateJob validates req, then persists a new pool and a QUEUED job
// holding its own copy of the ICP. Validation failures return a
// *ValidationError and persist nothing.
func (c *Controller) CreateJob(ctx context.Context, req CreateRequest) (poolID, jobID string, err error) {
	n, err := normalize(req)
	if err != nil {
		return "", "", err
	}
	pool := n.pool
	if err := c.store.CreatePool(ctx, &pool); err != nil {
		return "", "", eris.Wrap(err, "leadgen: create pool")
	}
	jobID, err = c.queue(ctx, &pool, n.providers, n.templates)
	if err != nil {
		return pool.ID, "", err
	}
	return pool.ID, jobID, nil
}

// QueueJob starts another job against an existing pool with every provider
// enabled unless providers says otherwise.
func (c *Controller) QueueJob(ctx context.Context, poolID string, providers model.ProviderSet) (string, error) {
	pool, err := c.store.GetPool(ctx, poolID)
	if err != nil {
		return "", eris.Wrap(err, "leadgen: load pool")
	}
	if providers == 0 {
		providers = model.DefaultProviders()
	}
	return c.queue(ctx, pool, providers, nil)
}

func (c *Controller) queue(ctx context.Context, pool *model.LeadPool, providers model.ProviderSet, templates []string) (string, error) {
	job := &model.Job{
		PoolID:    pool.ID,
		Status:    model.JobStatusQueued,
		Providers: providers,
		Templates: templates,
		ICP:       pool.ICP.Clone(),
		Logs: []model.LogEntry{{
			Time:    time.Now().UTC(),
			Level:   model.LogInfo,
			Message: "job queued",
		}},
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return "", eris.Wrap(err, "leadgen: create job")
	}
	zap.L().Info("leadgen: job queued",
		zap.String("job_id", job.ID),
		zap.String("pool_id", pool.ID),
		zap.Int("max_companies", job.ICP.Limits.MaxCompanies),
		zap.Int("providers", len(providers.Kinds())),
	)
	return job.ID, nil
}

// Run claims a QUEUED job and executes it to a terminal state. An error is
// returned only when the job cannot be claimed or its terminal state cannot
// be written; provider failures are reported through the job itself.
func (c *Controller) Run(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := c.store.ClaimJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "leadgen: claim job %s", jobID)
	}
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("pool_id", job.PoolID))
	log.Info("leadgen: job started", zap.Strings("providers", kindNames(job.Providers.Kinds())))
	start := time.Now()

	acc := NewAccumulator(job)
	c.track(job.ID, acc)
	defer c.untrack(job.ID)

	stopWatch := c.watch(ctx, job.ID, acc)
	status, reason := c.execute(ctx, job, acc)
	stopWatch()

	level := model.LogInfo
	switch status {
	case model.JobStatusFailed:
		level = model.LogError
	case model.JobStatusPartial:
		level = model.LogWarn
	}
	counters, logs := acc.Seal(level, fmt.Sprintf("job %s: %s", status, reason))

	if err := c.store.FinishJob(context.WithoutCancel(ctx), job.ID, model.JobStatusRunning, status, counters, logs); err != nil {
		return nil, eris.Wrapf(err, "leadgen: finish job %s", job.ID)
	}
	job.Status = status
	job.Counters = counters
	job.Logs = logs

	log.Info("leadgen: job finished",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("companies_found", counters.CompaniesFound),
		zap.Int("contacts_created", counters.ContactsCreated),
		zap.Int("errors", counters.Errors),
		zap.Duration("elapsed", time.Since(start)),
	)
	return job, nil
}

func (c *Controller) execute(ctx context.Context, job *model.Job, acc *Accumulator) (model.JobStatus, string) {
	if job.Providers.Empty() {
		return model.JobStatusFailed, "no providers enabled"
	}
	env := &provider.Env{
		Job:      job,
		Recorder: acc,
		Store:    c.leads,
		AI:       c.deps.AI,
		Search:   c.deps.Search,
		Research: c.deps.Research,
		Stager:   c.deps.Stager,
		Fetchers: c.deps.Fetchers,
		Settings: c.deps.Settings,
	}
	sum := provider.NewOrchestrator(env).WithFactory(c.factory).Run(ctx)
	counters, _ := acc.Snapshot()
	return decide(sum, counters, job.ICP.Limits.MaxContactsPerCompany, acc.Stopped())
}

// decide maps an orchestration summary to the job's terminal status.
func decide(sum provider.Summary, counters model.Counters, maxContacts int, cancelled bool) (model.JobStatus, string) {
	switch {
	case sum.Started() == 0:
		return model.JobStatusFailed, "no provider could start"
	case counters.CandidatesCreated == 0 && cancelled:
		return model.JobStatusFailed, "cancelled before any candidate was produced"
	case counters.CandidatesCreated == 0:
		return model.JobStatusFailed, "no candidates produced"
	}
	if failed := sum.Failed(); len(failed) > 0 {
		return model.JobStatusPartial, "providers failed: " + strings.Join(kindNames(failed), ", ")
	}
	if sum.Degraded() {
		return model.JobStatusPartial, "some providers ran without crawling"
	}
	if counters.Errors > 0 {
		return model.JobStatusPartial, fmt.Sprintf("%d errors recorded", counters.Errors)
	}
	if !counters.Consistent(maxContacts) {
		return model.JobStatusPartial, "counters inconsistent"
	}
	if cancelled {
		return model.JobStatusPartial, "cancelled"
	}
	return model.JobStatusCompleted, "all providers finished"
}

// watch polls the persisted cancel flag and saves progress until the
// returned stop function is called.
func (c *Controller) watch(ctx context.Context, jobID string, acc *Accumulator) (stop func()) {
	interval := c.deps.CancelPoll
	if interval <= 0 {
		interval = 2 * time.Second
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	log := zap.L().With(zap.String("job_id", jobID))

	go func() {
		defer close(exited)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if !acc.Stopped() {
				requested, err := c.store.CancelRequested(ctx, jobID)
				if err != nil {
					log.Warn("leadgen: cancel poll failed", zap.Error(err))
				} else if requested {
					acc.Stop()
				}
			}
			if counters, logs, ok := acc.flush(); ok {
				if err := c.store.SaveProgress(ctx, jobID, counters, logs); err != nil {
					log.Warn("leadgen: save progress failed", zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// Cancel requests that a job stop. A queued job fails immediately; a
// running job stops admitting new work and finishes with what it has.
// Cancelling a finished job is a no-op.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "leadgen: cancel")
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := c.store.RequestCancel(ctx, jobID); err != nil {
		return eris.Wrap(err, "leadgen: cancel")
	}
	c.mu.Lock()
	acc := c.running[jobID]
	c.mu.Unlock()
	if acc != nil {
		acc.Stop()
	}

	if job.Status == model.JobStatusQueued {
		logs := append(job.Logs, model.LogEntry{Time: time.Now().UTC(), Level: model.LogWarn, Message: "cancelled before start"})
		err := c.store.FinishJob(ctx, jobID, model.JobStatusQueued, model.JobStatusFailed, job.Counters, logs)
		var terr *model.TransitionError
		if errors.As(err, &terr) {
			// Claimed in the meantime; the runner picks up the flag.
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "leadgen: cancel queued job")
		}
	}
	zap.L().Info("leadgen: cancel requested", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
	return nil
}

// Status returns a job. Jobs running in this process report live counters.
func (c *Controller) Status(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "leadgen: status")
	}
	c.mu.Lock()
	acc := c.running[jobID]
	c.mu.Unlock()
	if acc != nil && job.Status == model.JobStatusRunning {
		job.Counters, job.Logs = acc.Snapshot()
	}
	return job, nil
}

// List returns jobs matching filter.
func (c *Controller) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	jobs, err := c.store.ListJobs(ctx, filter)
	return jobs, eris.Wrap(err, "leadgen: list jobs")
}

// Leads returns the candidate companies and contacts a job produced.
func (c *Controller) Leads(ctx context.Context, jobID string) ([]model.CandidateCompany, []model.CandidateContact, error) {
	if c.leads == nil {
		return nil, nil, ErrLeadsUnsupported
	}
	companies, err := c.leads.ListCompanies(ctx, jobID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "leadgen: list companies")
	}
	contacts, err := c.leads.ListContacts(ctx, jobID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "leadgen: list contacts")
	}
	return companies, contacts, nil
}

// StopAll stops admission on every job running in this process. The jobs
// still finish and persist their terminal state.
func (c *Controller) StopAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, acc := range c.running {
		acc.Stop()
	}
	return len(c.running)
}

func (c *Controller) track(jobID string, acc *Accumulator) {
	c.mu.Lock()
	c.running[jobID] = acc
	c.mu.Unlock()
}

func (c *Controller) untrack(jobID string) {
	c.mu.Lock()
	delete(c.running, jobID)
	c.mu.Unlock()
}

func kindNames(kinds []model.ProviderKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
