package provider

import (
	"context"
	"iter"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/resilience"
)

// serpProvider expands the job templates and harvests search API results.
type serpProvider struct {
	*base
}

func (p *serpProvider) Run(ctx context.Context) error {
	return p.runQueries(ctx, p.env.Search, Expand(p.templates(), p.env.Job.ICP))
}

// crawlerProvider runs the same queries against an HTML search page loaded
// with its own fetcher.
type crawlerProvider struct {
	*base
	search Searcher
}

func (p *crawlerProvider) Run(ctx context.Context) error {
	return p.runQueries(ctx, p.search, Expand(p.templates(), p.env.Job.ICP))
}

func (b *base) templates() []string {
	if len(b.env.Job.Templates) > 0 {
		return b.env.Job.Templates
	}
	return DefaultTemplates
}

// runQueries issues queries until the sequence ends, the job is cancelled
// or the company budget is spent, harvesting every result. It fails only
// when every issued query failed or the search backend's breaker opened.
func (b *base) runQueries(ctx context.Context, s Searcher, queries iter.Seq[string]) error {
	var (
		issued, failed int
		lastErr        error
	)
	for q := range queries {
		if b.stopped() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		issued++
		hits, err := s.Search(ctx, q)
		if err != nil {
			failed++
			lastErr = err
			b.env.Recorder.Add(model.Counters{Errors: 1})
			b.logf(model.LogWarn, "search %q failed: %v", q, err)
			if resilience.Classify(err) == resilience.ClassCircuitOpen {
				return eris.Wrap(err, "search backend unavailable")
			}
			continue
		}
		_, _ = b.harvest.HarvestAll(ctx, b.leadsFromHits(hits))
	}
	if issued > 0 && failed == issued {
		return eris.Wrapf(lastErr, "all %d queries failed", issued)
	}
	b.logf(model.LogInfo, "issued %d queries", issued)
	return nil
}

func (b *base) leadsFromHits(hits []Hit) []Lead {
	leads := make([]Lead, 0, len(hits))
	for _, h := range hits {
		if IsDirectory(h.URL, b.settings.BlockedDomains) {
			continue
		}
		leads = append(leads, Lead{Domain: h.URL, Name: companyName(h.Title)})
	}
	return leads
}

// companyName keeps the part of a result title before the first separator.
func companyName(title string) string {
	for _, sep := range []string{" | ", " - ", " \u2013 ", " \u2014 ", ": "} {
		if head, _, ok := strings.Cut(title, sep); ok {
			title = head
		}
	}
	return strings.TrimSpace(title)
}
