package model

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a lead generation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartial:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusPartial:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Allowed: queued -> running, queued -> failed (cancelled before start),
// running -> any terminal status.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to.IsTerminal()
	}
	return false
}

// TransitionError is returned when a status change is not allowed.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// LogLevel is the severity of a job log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one append-only line in a job's log.
type LogEntry struct {
	Time     time.Time    `json:"time"`
	Level    LogLevel     `json:"level"`
	Provider ProviderKind `json:"provider,omitempty"`
	Message  string       `json:"message"`
}

// Counters tracks the monotonically non-decreasing progress of a job.
type Counters struct {
	CompaniesFound    int `json:"companies_found"`
	CompaniesCrawled  int `json:"companies_crawled"`
	CandidatesCreated int `json:"candidates_created"`
	ContactsCreated   int `json:"contacts_created"`
	EmailsVerified    int `json:"emails_verified"`
	Errors            int `json:"errors"`
}

// Consistent checks the structural relations between counters. Contacts may
// originate from companies that were admitted but never crawled (AI-seeded
// or no-crawl mode), so the contact bound uses whichever of crawled or
// created companies is larger.
func (c Counters) Consistent(maxContactsPerCompany int) bool {
	if c.CompaniesCrawled > c.CompaniesFound {
		return false
	}
	if c.CandidatesCreated > c.CompaniesFound {
		return false
	}
	base := max(c.CompaniesCrawled, c.CandidatesCreated)
	if c.ContactsCreated > base*maxContactsPerCompany {
		return false
	}
	return c.EmailsVerified <= c.ContactsCreated
}

// Add returns the field-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		CompaniesFound:    c.CompaniesFound + o.CompaniesFound,
		CompaniesCrawled:  c.CompaniesCrawled + o.CompaniesCrawled,
		CandidatesCreated: c.CandidatesCreated + o.CandidatesCreated,
		ContactsCreated:   c.ContactsCreated + o.ContactsCreated,
		EmailsVerified:    c.EmailsVerified + o.EmailsVerified,
		Errors:            c.Errors + o.Errors,
	}
}

// Job is one execution of the discovery pipeline against a pool.
type Job struct {
	ID              string      `json:"id"`
	PoolID          string      `json:"pool_id"`
	Status          JobStatus   `json:"status"`
	Providers       ProviderSet `json:"providers"`
	Templates       []string    `json:"templates,omitempty"`
	ICP             ICPConfig   `json:"icp"`
	Counters        Counters    `json:"counters"`
	Logs            []LogEntry  `json:"logs"`
	CancelRequested bool        `json:"cancel_requested"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
}

// LeadPool is a named container grouping leads under one ICP.
type LeadPool struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ICP         ICPConfig `json:"icp"`
	CreatedAt   time.Time `json:"created_at"`
}
