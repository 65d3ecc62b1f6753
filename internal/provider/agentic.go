package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sells-group/leadgen/internal/ai"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/pkg/perplexity"
)

// agenticProvider loops research, structuring, harvest and follow-up
// search for a bounded number of rounds.
type agenticProvider struct {
	*base
}

type agenticPlan struct {
	Companies       []proposal `json:"companies"`
	FollowUpQueries []string   `json:"follow_up_queries"`
}

const agenticSystem = "You are an autonomous lead researcher. From the research notes and the ideal customer profile, " +
	"list real companies with their website domain and any named decision makers (name, title, email if published). " +
	"Then suggest web search queries that would find more matching companies. " + jsonOnly

func (p *agenticProvider) Run(ctx context.Context) error {
	seen := make(map[string]bool)
	for round := 1; round <= p.settings.MaxRounds; round++ {
		if p.stopped() {
			break
		}
		notes := p.research(ctx, round, seen)

		var plan agenticPlan
		err := p.env.AI.Generate(ctx, ai.Prompt{
			Purpose: "agentic_round",
			System:  agenticSystem,
			User:    p.roundPrompt(round, notes, seen),
		}, &plan)
		if err != nil {
			if round == 1 {
				return err
			}
			p.env.Recorder.Add(model.Counters{Errors: 1})
			p.logf(model.LogWarn, "round %d: %v", round, err)
			break
		}

		leads := proposalsToLeads(plan.Companies, p.settings.AIProposedCompanies, seen)
		stored, _ := p.harvest.HarvestAll(ctx, leads)
		p.logf(model.LogInfo, "round %d: %d companies proposed, %d stored", round, len(leads), stored)

		followUps := cleanList(plan.FollowUpQueries, p.settings.FollowUpQueries)
		if p.env.Search != nil && len(followUps) > 0 {
			if err := p.runQueries(ctx, p.env.Search, slices.Values(followUps)); err != nil {
				p.logf(model.LogWarn, "round %d follow-up search: %v", round, err)
			}
		}
		if len(leads) == 0 && len(followUps) == 0 {
			break
		}
	}
	return nil
}

// research asks the web research backend for fresh material. Failures are
// counted and the round continues on the model's own knowledge.
func (p *agenticProvider) research(ctx context.Context, round int, seen map[string]bool) string {
	if p.env.Research == nil {
		return ""
	}
	q := fmt.Sprintf("Which companies match this profile? Give company names, websites and named leaders.\n%s", icpBrief(p.env.Job.ICP))
	if known := knownDomains(seen); len(known) > 0 {
		q += "\nAlready known, find different ones: " + strings.Join(known, ", ")
	}
	ans, err := p.env.Research.Research(ctx, perplexity.ResearchRequest{
		System:      "You research companies for B2B prospecting. Cite sources.",
		Question:    q,
		RecencyDays: 365,
	})
	if err != nil {
		p.env.Recorder.Add(model.Counters{Errors: 1})
		p.logf(model.LogWarn, "round %d research: %v", round, err)
		return ""
	}
	return ans.Text
}

func (p *agenticProvider) roundPrompt(round int, notes string, seen map[string]bool) string {
	var b strings.Builder
	b.WriteString(icpBrief(p.env.Job.ICP))
	fmt.Fprintf(&b, "Round %d of %d.\n", round, p.settings.MaxRounds)
	if known := knownDomains(seen); len(known) > 0 {
		fmt.Fprintf(&b, "Skip these domains: %s\n", strings.Join(known, ", "))
	}
	if notes != "" {
		fmt.Fprintf(&b, "Research notes:\n%s\n", notes)
	}
	fmt.Fprintf(&b, "Return {\"companies\": [{\"name\": \"\", \"domain\": \"\", \"people\": [{\"name\": \"\", \"title\": \"\", \"email\": \"\"}]}], "+
		"\"follow_up_queries\": []} with at most %d companies and %d queries.",
		p.settings.AIProposedCompanies, p.settings.FollowUpQueries)
	return b.String()
}

func knownDomains(seen map[string]bool) []string {
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
