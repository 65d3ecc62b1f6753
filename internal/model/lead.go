package model

import "time"

// CandidateCompany is a company admitted by a provider during a job.
type CandidateCompany struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	PoolID       string       `json:"pool_id"`
	Domain       string       `json:"domain"`
	Name         string       `json:"name,omitempty"`
	Source       ProviderKind `json:"source"`
	Technologies []string     `json:"technologies,omitempty"`
	PagesCrawled int          `json:"pages_crawled"`
	Crawled      bool         `json:"crawled"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CandidateContact is a person or mailbox attached to a candidate company.
type CandidateContact struct {
	ID           string             `json:"id"`
	JobID        string             `json:"job_id"`
	PoolID       string             `json:"pool_id"`
	CompanyID    string             `json:"company_id"`
	Domain       string             `json:"domain"`
	Email        string             `json:"email"`
	Name         string             `json:"name,omitempty"`
	Title        string             `json:"title,omitempty"`
	Source       ProviderKind       `json:"source"`
	Inferred     bool               `json:"inferred"`
	Confidence   float64            `json:"confidence"`
	Score        float64            `json:"score"`
	Verification VerificationResult `json:"verification"`
	CreatedAt    time.Time          `json:"created_at"`
}
