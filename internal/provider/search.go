package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/internal/scrape"
	"github.com/sells-group/leadgen/pkg/jina"
)

// Hit is one organic search result.
type Hit struct {
	URL   string
	Title string
}

// Searcher turns a query into result links.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Hit, error)
}

// directoryHosts are listing, social and marketplace sites whose result
// links never point at a candidate company's own site.
var directoryHosts = []string{
	"linkedin.com", "facebook.com", "twitter.com", "x.com", "instagram.com", "youtube.com",
	"wikipedia.org", "crunchbase.com", "glassdoor.com", "indeed.com", "yelp.com",
	"bloomberg.com", "zoominfo.com", "g2.com", "capterra.com", "clutch.co",
	"yellowpages.com", "bbb.org", "reddit.com", "medium.com", "amazon.com",
	"github.com", "duckduckgo.com", "bing.com", "google.com",
}

// IsDirectory reports whether rawURL points at a directory or social site,
// or at a host in extra.
func IsDirectory(rawURL string, extra []string) bool {
	host := scrape.Domain(rawURL)
	if host == "" {
		return true
	}
	for _, list := range [][]string{directoryHosts, extra} {
		for _, blocked := range list {
			blocked = strings.ToLower(strings.TrimSpace(blocked))
			if blocked != "" && (host == blocked || strings.HasSuffix(host, "."+blocked)) {
				return true
			}
		}
	}
	return false
}

// JinaSearcher queries the Jina search API behind a circuit breaker.
type JinaSearcher struct {
	client  jina.Client
	guard   *resilience.Guard
	limiter *rate.Limiter
	count   int
}

// NewJinaSearcher wraps client. guard may be nil; a non-positive
// reqPerSec disables limiting.
func NewJinaSearcher(client jina.Client, guard *resilience.Guard, reqPerSec float64, count int) *JinaSearcher {
	lim := rate.NewLimiter(rate.Inf, 1)
	if reqPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(reqPerSec), 1)
	}
	if count <= 0 {
		count = 10
	}
	return &JinaSearcher{client: client, guard: guard, limiter: lim, count: count}
}

func (s *JinaSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "search: rate limit wait")
	}
	resp, err := resilience.Run(ctx, s.guard, func(ctx context.Context) (*jina.SearchResponse, error) {
		resp, err := s.client.Search(ctx, query, jina.WithCount(s.count))
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "search: jina %q", query)
	}
	hits := make([]Hit, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL != "" {
			hits = append(hits, Hit{URL: r.URL, Title: r.Title})
		}
	}
	return hits, nil
}

// resultSelectors match organic result links on common HTML search pages.
const resultSelectors = `a.result__a, a.result-link, li.b_algo h2 a, div.g a h3`

// HTMLSearcher loads a search engine's HTML result page through a fetcher
// and scrapes its result links.
type HTMLSearcher struct {
	fetcher Fetcher
	tmpl    string
	limiter *rate.Limiter
}

// NewHTMLSearcher builds a searcher for a URL template with one %s for the
// escaped query.
func NewHTMLSearcher(f Fetcher, urlTemplate string, reqPerSec float64) *HTMLSearcher {
	if urlTemplate == "" {
		urlTemplate = "https://html.duckduckgo.com/html/?q=%s"
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if reqPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(reqPerSec), 1)
	}
	return &HTMLSearcher{fetcher: f, tmpl: urlTemplate, limiter: lim}
}

func (s *HTMLSearcher) Search(ctx context.Context, query string) ([]Hit, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "search: rate limit wait")
	}
	target := strings.Replace(s.tmpl, "%s", url.QueryEscape(query), 1)
	res, err := s.fetcher.Scrape(ctx, target)
	if err != nil {
		return nil, eris.Wrapf(err, "search: fetch %q", query)
	}
	return ParseResults(res.Page), nil
}

// ParseResults extracts result links from a search page. Redirect links
// carrying the target in a uddg, u or url parameter are unwrapped. When no
// known result markup is present every off-site anchor counts as a result.
func ParseResults(page scrape.Page) []Hit {
	searchHost := scrape.Domain(firstNonEmpty(page.FinalURL, page.URL))
	seen := make(map[string]bool)
	var hits []Hit
	add := func(href, title string) {
		target := unwrapRedirect(href)
		if target == "" || scrape.Domain(target) == searchHost || seen[target] {
			return
		}
		seen[target] = true
		hits = append(hits, Hit{URL: target, Title: strings.TrimSpace(title)})
	}

	if page.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML)); err == nil {
			base, _ := url.Parse(firstNonEmpty(page.FinalURL, page.URL))
			doc.Find(resultSelectors).Each(func(_ int, sel *goquery.Selection) {
				a := sel
				if goquery.NodeName(sel) != "a" {
					a = sel.Closest("a")
				}
				href, ok := a.Attr("href")
				if !ok {
					return
				}
				add(resolve(base, href), sel.Text())
			})
		}
	}
	if len(hits) > 0 {
		return hits
	}
	for _, a := range page.Anchors {
		add(a.Href, a.Text)
	}
	return hits
}

func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	for _, key := range []string{"uddg", "u", "url"} {
		if v := u.Query().Get(key); strings.HasPrefix(v, "http") {
			return v
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
