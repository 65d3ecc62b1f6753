package provider

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/deobfuscate"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/pattern"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/internal/techdetect"
)

// Lead is a company proposed by a provider, optionally with known people.
type Lead struct {
	// Domain is a bare domain or any URL on the company's site.
	Domain string
	Name   string
	People []Person
}

// Person is someone a provider associated with a company.
type Person struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Email string `json:"email,omitempty"`
}

// Harvester turns leads into persisted candidate companies and contacts.
type Harvester struct {
	kind     model.ProviderKind
	env      *Env
	fetcher  Fetcher
	settings Settings
}

// NewHarvester binds a harvester to a provider. f may be nil for no-crawl mode.
func NewHarvester(kind model.ProviderKind, env *Env, f Fetcher, settings Settings) *Harvester {
	return &Harvester{kind: kind, env: env, fetcher: f, settings: settings}
}

// candidate is an address awaiting admission as a contact.
type candidate struct {
	email      string
	name       string
	title      string
	inferred   bool
	confidence float64
}

// Harvest admits, crawls, filters and persists one lead. It returns nil
// with no error when the lead was skipped.
func (h *Harvester) Harvest(ctx context.Context, lead Lead) (*model.CandidateCompany, error) {
	rec := h.env.Recorder
	job := h.env.Job
	domain := scrape.Domain(lead.Domain)
	if domain == "" || h.excluded(domain) {
		return nil, nil
	}
	if !rec.AdmitCompany(domain) {
		return nil, nil
	}
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("provider", string(h.kind)), zap.String("domain", domain))

	company := &model.CandidateCompany{
		JobID:  job.ID,
		PoolID: job.PoolID,
		Domain: domain,
		Name:   strings.TrimSpace(lead.Name),
		Source: h.kind,
	}

	pages := h.crawl(ctx, domain)
	if len(pages) > 0 {
		company.Crawled = true
		company.PagesCrawled = len(pages)
		rec.Add(model.Counters{CompaniesCrawled: 1})
		if company.Name == "" {
			company.Name = pages[0].Title
		}
	}
	company.Technologies = detectAll(pages)

	techMatched := matchesTech(company.Technologies, job.ICP.TechStack)
	if company.Crawled && len(job.ICP.TechStack) > 0 && !techMatched {
		log.Debug("harvest: tech stack mismatch", zap.Strings("technologies", company.Technologies))
		return nil, nil
	}

	if h.env.Store != nil {
		if err := h.env.Store.InsertCompany(ctx, company); err != nil {
			return nil, eris.Wrapf(err, "harvest: persist %s", domain)
		}
	}
	rec.Add(model.Counters{CandidatesCreated: 1})

	contacts := h.contacts(ctx, company, techMatched, h.candidates(domain, lead.People, pages))
	if len(contacts) > 0 && h.env.Store != nil {
		if err := h.env.Store.InsertContacts(ctx, contacts); err != nil {
			return company, eris.Wrapf(err, "harvest: persist contacts for %s", domain)
		}
	}
	delta := model.Counters{ContactsCreated: len(contacts)}
	for _, c := range contacts {
		if c.Verification.Status == model.VerificationValid {
			delta.EmailsVerified++
		}
	}
	rec.Add(delta)

	log.Debug("harvest: company stored",
		zap.Bool("crawled", company.Crawled),
		zap.Int("pages", company.PagesCrawled),
		zap.Int("contacts", len(contacts)),
	)
	return company, nil
}

// HarvestAll harvests leads with bounded concurrency, stopping admission
// once the job is cancelled or its budget is spent. It returns the number
// of companies stored and the first persistence error.
func (h *Harvester) HarvestAll(ctx context.Context, leads []Lead) (int, error) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(h.settings.MaxCompanyWorkers)

	var (
		mu       sync.Mutex
		stored   int
		firstErr error
	)
	for _, lead := range leads {
		if h.env.Recorder.Stopped() || h.env.Recorder.Exhausted() {
			break
		}
		g.Go(func() error {
			c, err := h.Harvest(gCtx, lead)
			if err != nil {
				h.env.Recorder.Add(model.Counters{Errors: 1})
				h.env.Recorder.Log(model.LogError, h.kind, err.Error())
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if c != nil && err == nil {
				stored++
			}
			return nil
		})
	}
	_ = g.Wait()
	return stored, firstErr
}

func (h *Harvester) excluded(domain string) bool {
	for _, ex := range h.env.Job.ICP.ExcludedDomains {
		ex = scrape.Domain(ex)
		if ex != "" && (domain == ex || strings.HasSuffix(domain, "."+ex)) {
			return true
		}
	}
	return IsDirectory("https://"+domain, h.settings.BlockedDomains)
}

// crawl fetches the homepage and up to MaxPagesPerCompany-1 contact pages.
func (h *Harvester) crawl(ctx context.Context, domain string) []scrape.Page {
	if h.fetcher == nil || h.env.Recorder.Stopped() {
		return nil
	}
	home, err := h.fetcher.Scrape(ctx, "https://"+domain)
	if err != nil {
		zap.L().Debug("harvest: homepage fetch failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	pages := []scrape.Page{home.Page}
	links := scrape.ContactLinks(home.Page, h.settings.MaxPagesPerCompany-1)
	if len(links) > 0 {
		pages = append(pages, h.fetcher.ScrapeAll(ctx, links, h.settings.MaxConcurrentPages)...)
	}
	return pages
}

func detectAll(pages []scrape.Page) []string {
	set := make(map[string]bool)
	for i := range pages {
		for _, t := range techdetect.Detect(pages[i].TechSnapshot()) {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func matchesTech(detected, wanted []string) bool {
	for _, w := range wanted {
		for _, d := range detected {
			if strings.EqualFold(strings.TrimSpace(w), d) {
				return true
			}
		}
	}
	return false
}

// candidates gathers addresses on the company's domain: people with known
// addresses first, then addresses found on the pages, then guesses for
// name-only people from the domain's inferred pattern.
func (h *Harvester) candidates(domain string, people []Person, pages []scrape.Page) []candidate {
	var out []candidate
	index := make(map[string]int)
	add := func(c candidate) {
		if i, ok := index[c.email]; ok {
			if out[i].name == "" {
				out[i].name, out[i].title = c.name, c.title
			}
			return
		}
		index[c.email] = len(out)
		out = append(out, c)
	}

	people = slices.Clone(people)
	titles := h.env.Job.ICP.JobTitles
	slices.SortStableFunc(people, func(a, b Person) int {
		return boolRank(titleMatches(b.Title, titles)) - boolRank(titleMatches(a.Title, titles))
	})

	var obs []pattern.Observation
	for _, p := range people {
		email := strings.ToLower(strings.TrimSpace(p.Email))
		if email == "" || !onDomain(email, domain) {
			continue
		}
		add(candidate{email: email, name: p.Name, title: p.Title, confidence: 1})
		obs = append(obs, pattern.Observation{Email: email, Name: p.Name})
	}

	for i := range pages {
		text := pages[i].HTML
		if text == "" {
			text = pages[i].Text
		}
		for _, email := range deobfuscate.ExtractEmailCandidates(text, pages[i].Hrefs()) {
			if onDomain(email, domain) {
				add(candidate{email: email, confidence: 1})
			}
		}
	}

	inf := pattern.Infer(domain, obs)
	for _, p := range people {
		if p.Email != "" {
			continue
		}
		if email, ok := pattern.Guess(inf, p.Name, h.settings.MinConfidence); ok {
			add(candidate{email: email, name: p.Name, title: p.Title, inferred: true, confidence: inf.Confidence})
		}
	}
	return out
}

// contacts admits, verifies and scores up to MaxContactsPerCompany
// candidates. Admission stops as soon as the job is cancelled.
func (h *Harvester) contacts(ctx context.Context, company *model.CandidateCompany, techMatched bool, cands []candidate) []model.CandidateContact {
	limit := h.env.Job.ICP.Limits.MaxContactsPerCompany
	var out []model.CandidateContact
	for _, c := range cands {
		if len(out) >= limit || h.env.Recorder.Stopped() {
			break
		}
		if !h.env.Recorder.AdmitContact(c.email) {
			continue
		}
		contact := model.CandidateContact{
			JobID:      company.JobID,
			PoolID:     company.PoolID,
			CompanyID:  company.ID,
			Domain:     company.Domain,
			Email:      c.email,
			Name:       c.name,
			Title:      c.title,
			Source:     h.kind,
			Inferred:   c.inferred,
			Confidence: c.confidence,
		}
		if h.env.Stager != nil {
			contact.Verification = h.env.Stager.Verify(ctx, c.email)
		} else {
			contact.Verification = model.VerificationResult{Address: c.email, Status: model.VerificationSkipped, Stages: []model.StageResult{}}
		}
		contact.Score = Score(contact, h.env.Job.ICP, techMatched)
		out = append(out, contact)
	}
	return out
}

func onDomain(email, domain string) bool {
	_, host, ok := strings.Cut(email, "@")
	return ok && (host == domain || strings.HasSuffix(host, "."+domain))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
