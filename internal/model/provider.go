package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderKind identifies a discovery strategy.
type ProviderKind string

const (
	ProviderSERP       ProviderKind = "serp"
	ProviderCrawler    ProviderKind = "crawler"
	ProviderAIQueries  ProviderKind = "ai_queries"
	ProviderAIAnalysis ProviderKind = "ai_analysis"
	ProviderAgentic    ProviderKind = "agentic"
)

// AllProviders lists every provider in execution order.
var AllProviders = []ProviderKind{
	ProviderSERP,
	ProviderCrawler,
	ProviderAIQueries,
	ProviderAIAnalysis,
	ProviderAgentic,
}

func (k ProviderKind) bit() ProviderSet {
	switch k {
	case ProviderSERP:
		return 1 << 0
	case ProviderCrawler:
		return 1 << 1
	case ProviderAIQueries:
		return 1 << 2
	case ProviderAIAnalysis:
		return 1 << 3
	case ProviderAgentic:
		return 1 << 4
	}
	return 0
}

// Valid reports whether k is a known provider.
func (k ProviderKind) Valid() bool { return k.bit() != 0 }

// ParseProviderKind converts a user-supplied name to a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return k, nil
}

// ProviderSet is a set of enabled providers.
type ProviderSet uint8

// DefaultProviders enables every provider.
func DefaultProviders() ProviderSet {
	var s ProviderSet
	for _, k := range AllProviders {
		s = s.With(k)
	}
	return s
}

// NewProviderSet builds a set from the given kinds.
func NewProviderSet(kinds ...ProviderKind) ProviderSet {
	var s ProviderSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

func (s ProviderSet) Has(k ProviderKind) bool         { return s&k.bit() != 0 }
func (s ProviderSet) With(k ProviderKind) ProviderSet { return s | k.bit() }
func (s ProviderSet) Without(k ProviderKind) ProviderSet {
	return s &^ k.bit()
}

// Kinds returns the enabled providers in execution order.
func (s ProviderSet) Kinds() []ProviderKind {
	var out []ProviderKind
	for _, k := range AllProviders {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Empty reports whether no provider is enabled.
func (s ProviderSet) Empty() bool { return len(s.Kinds()) == 0 }

// MarshalJSON encodes the set as a list of provider names.
func (s ProviderSet) MarshalJSON() ([]byte, error) {
	kinds := s.Kinds()
	if kinds == nil {
		kinds = []ProviderKind{}
	}
	return json.Marshal(kinds)
}

// UnmarshalJSON decodes a list of provider names.
func (s *ProviderSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out ProviderSet
	for _, n := range names {
		k, err := ParseProviderKind(n)
		if err != nil {
			return err
		}
		out = out.With(k)
	}
	*s = out
	return nil
}
