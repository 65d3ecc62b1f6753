package model

import "slices"

// Company size buckets accepted in an ICP.
var CompanySizes = []string{"1-10", "11-50", "51-200", "201-500", "501-1000", "1001-5000", "5000+"}

// Limits bounds the work a job may admit.
type Limits struct {
	MaxCompanies          int `json:"max_companies" yaml:"max_companies" mapstructure:"max_companies"`
	MaxContactsPerCompany int `json:"max_contacts_per_company" yaml:"max_contacts_per_company" mapstructure:"max_contacts_per_company"`
}

// ICPConfig describes the Ideal Customer Profile driving discovery.
type ICPConfig struct {
	Industries      []string `json:"industries,omitempty" yaml:"industries"`
	CompanySizes    []string `json:"company_sizes,omitempty" yaml:"company_sizes"`
	Geographies     []string `json:"geographies,omitempty" yaml:"geographies"`
	TechStack       []string `json:"tech_stack,omitempty" yaml:"tech_stack"`
	JobTitles       []string `json:"job_titles,omitempty" yaml:"job_titles"`
	Languages       []string `json:"languages,omitempty" yaml:"languages"`
	ExcludedDomains []string `json:"excluded_domains,omitempty" yaml:"excluded_domains"`
	Notes           string   `json:"notes,omitempty" yaml:"notes"`
	Limits          Limits   `json:"limits" yaml:"limits"`
}

// Clone returns a deep copy so a job snapshot is unaffected by later pool edits.
func (c ICPConfig) Clone() ICPConfig {
	out := c
	out.Industries = slices.Clone(c.Industries)
	out.CompanySizes = slices.Clone(c.CompanySizes)
	out.Geographies = slices.Clone(c.Geographies)
	out.TechStack = slices.Clone(c.TechStack)
	out.JobTitles = slices.Clone(c.JobTitles)
	out.Languages = slices.Clone(c.Languages)
	out.ExcludedDomains = slices.Clone(c.ExcludedDomains)
	return out
}

// ValidCompanySize reports whether s is a recognised size bucket.
func ValidCompanySize(s string) bool {
	return slices.Contains(CompanySizes, s)
}
