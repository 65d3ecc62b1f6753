package model

import (
	"fmt"
	"strings"
	"time"
)

// VerificationStage is one step of the email verification sequence.
type VerificationStage string

const (
	StageSyntax   VerificationStage = "syntax"
	StageMX       VerificationStage = "mx"
	StageCatchAll VerificationStage = "catch_all"
	StageSMTP     VerificationStage = "smtp"
)

// StageOrder is the fixed execution order of verification stages.
var StageOrder = []VerificationStage{StageSyntax, StageMX, StageCatchAll, StageSMTP}

// Valid reports whether s is a known stage.
func (s VerificationStage) Valid() bool {
	switch s {
	case StageSyntax, StageMX, StageCatchAll, StageSMTP:
		return true
	}
	return false
}

// DomainScoped reports whether the stage is keyed by domain rather than address.
func (s VerificationStage) DomainScoped() bool {
	return s == StageMX || s == StageCatchAll
}

// Outcome is the result of a single stage probe.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeUnknown Outcome = "unknown"
)

// TTLClass selects the freshness window applied to a cached record.
type TTLClass string

const (
	TTLDomain  TTLClass = "domain"
	TTLAddress TTLClass = "address"
	TTLRetry   TTLClass = "retry"
)

// VerificationRecord is the cached result of one stage for one subject.
type VerificationRecord struct {
	Stage     VerificationStage `json:"stage"`
	Subject   string            `json:"subject"`
	Outcome   Outcome           `json:"outcome"`
	Detail    string            `json:"detail,omitempty"`
	TTLClass  TTLClass          `json:"ttl_class"`
	CheckedAt time.Time         `json:"checked_at"`
}

// VerificationStatus summarises all stages for an address.
type VerificationStatus string

const (
	VerificationValid   VerificationStatus = "valid"
	VerificationInvalid VerificationStatus = "invalid"
	VerificationRisky   VerificationStatus = "risky"
	VerificationUnknown VerificationStatus = "unknown"
	VerificationSkipped VerificationStatus = "skipped"
)

// ParseVerificationStatus converts a user-supplied name to a status.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	st := VerificationStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case VerificationValid, VerificationInvalid, VerificationRisky, VerificationUnknown, VerificationSkipped:
		return st, nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

// StageResult is the outcome of a stage within one verification.
type StageResult struct {
	Stage   VerificationStage `json:"stage"`
	Outcome Outcome           `json:"outcome"`
	Cached  bool              `json:"cached"`
	Detail  string            `json:"detail,omitempty"`
}

// VerificationResult is the full verification history for an address.
type VerificationResult struct {
	Address      string             `json:"address"`
	Status       VerificationStatus `json:"status"`
	Stages       []StageResult      `json:"stages"`
	Disposable   bool               `json:"disposable,omitempty"`
	RoleAccount  bool               `json:"role_account,omitempty"`
	FreeProvider bool               `json:"free_provider,omitempty"`
}
