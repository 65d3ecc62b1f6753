package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/ai"
	"github.com/sells-group/leadgen/internal/model"
)

const jsonOnly = "Reply with a single JSON object and nothing else."

// aiQueriesProvider asks the model for extra search queries and harvests
// their results.
type aiQueriesProvider struct {
	*base
}

type queryPlan struct {
	Queries []string `json:"queries"`
}

func (p *aiQueriesProvider) Run(ctx context.Context) error {
	n := p.settings.AIQueryExpansions
	var plan queryPlan
	err := p.env.AI.Generate(ctx, ai.Prompt{
		Purpose: "expand_queries",
		System:  "You write web search queries that surface the websites of companies matching an ideal customer profile. " + jsonOnly,
		User: fmt.Sprintf("%s\nReturn {\"queries\": [...]} with at most %d distinct queries. Prefer queries that return company homepages, not directories.",
			icpBrief(p.env.Job.ICP), n),
	}, &plan)
	if err != nil {
		return err
	}
	queries := cleanList(plan.Queries, n)
	if len(queries) == 0 {
		return eris.New("model proposed no queries")
	}
	p.logf(model.LogInfo, "model proposed %d queries", len(queries))
	return p.runQueries(ctx, p.env.Search, slices.Values(queries))
}

// aiAnalysisProvider asks the model to name matching companies directly.
type aiAnalysisProvider struct {
	*base
}

// proposal is a company suggested by the model.
type proposal struct {
	Name      string   `json:"name"`
	Domain    string   `json:"domain"`
	Rationale string   `json:"rationale,omitempty"`
	People    []Person `json:"people,omitempty"`
}

type companyPlan struct {
	Companies []proposal `json:"companies"`
}

func (p *aiAnalysisProvider) Run(ctx context.Context) error {
	n := p.settings.AIProposedCompanies
	var plan companyPlan
	err := p.env.AI.Generate(ctx, ai.Prompt{
		Purpose: "propose_companies",
		System:  "You are a B2B market analyst. Name real companies with their primary website domain. " + jsonOnly,
		User: fmt.Sprintf("%s\nReturn {\"companies\": [{\"name\": \"\", \"domain\": \"\", \"rationale\": \"\"}]} with at most %d companies.",
			icpBrief(p.env.Job.ICP), n),
	}, &plan)
	if err != nil {
		return err
	}
	leads := proposalsToLeads(plan.Companies, n, nil)
	if len(leads) == 0 {
		return eris.New("model proposed no companies")
	}
	p.logf(model.LogInfo, "model proposed %d companies", len(leads))
	_, _ = p.harvest.HarvestAll(ctx, leads)
	return nil
}

// proposalsToLeads converts up to n proposals, skipping domains in seen and
// marking the rest as seen when seen is non-nil.
func proposalsToLeads(props []proposal, n int, seen map[string]bool) []Lead {
	var leads []Lead
	for _, c := range props {
		if len(leads) >= n {
			break
		}
		d := strings.ToLower(strings.TrimSpace(c.Domain))
		if d == "" || (seen != nil && seen[d]) {
			continue
		}
		if seen != nil {
			seen[d] = true
		}
		leads = append(leads, Lead{Domain: d, Name: c.Name, People: c.People})
	}
	return leads
}

// icpBrief renders the ICP facets for a prompt.
func icpBrief(icp model.ICPConfig) string {
	var b strings.Builder
	b.WriteString("Ideal customer profile:\n")
	for _, f := range []struct {
		label  string
		values []string
	}{
		{"Industries", icp.Industries},
		{"Company sizes (employees)", icp.CompanySizes},
		{"Geographies", icp.Geographies},
		{"Technologies used", icp.TechStack},
		{"Buyer job titles", icp.JobTitles},
		{"Languages", icp.Languages},
		{"Exclude domains", icp.ExcludedDomains},
	} {
		if len(f.values) > 0 {
			fmt.Fprintf(&b, "- %s: %s\n", f.label, strings.Join(f.values, ", "))
		}
	}
	if icp.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", icp.Notes)
	}
	return b.String()
}

func cleanList(items []string, n int) []string {
	var out []string
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
