package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

var (
	// ErrNotFound is returned when a pool or job does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNotClaimable is returned by ClaimJob when the job is not queued or
	// its pool already has a running job.
	ErrNotClaimable = eris.New("store: job not claimable")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	PoolID string          `json:"pool_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	// Claimable narrows the result to the oldest uncancelled QUEUED job of
	// each pool that has no RUNNING job. Status is ignored when set.
	Claimable bool `json:"claimable,omitempty"`
}

// Store defines the persistence interface for pools, jobs and the shared
// verification cache.
type Store interface {
	// Pools
	CreatePool(ctx context.Context, pool *model.LeadPool) error
	GetPool(ctx context.Context, poolID string) (*model.LeadPool, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ClaimJob(ctx context.Context, jobID string) (*model.Job, error)
	SaveProgress(ctx context.Context, jobID string, counters model.Counters, logs []model.LogEntry) error
	FinishJob(ctx context.Context, jobID string, from, to model.JobStatus, counters model.Counters, logs []model.LogEntry) error
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)

	// Verification cache, one row per (stage, subject)
	GetVerification(ctx context.Context, stage model.VerificationStage, subject string) (*model.VerificationRecord, error)
	PutVerification(ctx context.Context, rec model.VerificationRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// LeadGenStore is the optional capability to persist candidate companies
// and contacts.
type LeadGenStore interface {
	InsertCompany(ctx context.Context, c *model.CandidateCompany) error
	InsertContacts(ctx context.Context, contacts []model.CandidateContact) error
	ListCompanies(ctx context.Context, jobID string) ([]model.CandidateCompany, error)
	ListContacts(ctx context.Context, jobID string) ([]model.CandidateContact, error)
}

// LeadGen reports whether s can persist candidates. Callers decide once at
// startup and keep the result.
func LeadGen(s Store) (LeadGenStore, bool) {
	lg, ok := s.(LeadGenStore)
	return lg, ok
}

// checkTransition validates a terminal write before it reaches the database.
func checkTransition(from, to model.JobStatus) error {
	if !model.CanTransition(from, to) {
		return &model.TransitionError{From: from, To: to}
	}
	return nil
}
