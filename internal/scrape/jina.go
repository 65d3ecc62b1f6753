package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/pkg/jina"
)

var mdLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)

// challengeSignatures mark a reader response that is an interstitial rather
// than the site's content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// ReaderScraper fetches pages through the Jina Reader API. It is a last
// resort behind the browser and plain HTTP scrapers; pages come back as
// markdown, so technology detection sees no markup.
type ReaderScraper struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewReaderScraper wraps client. A nil breaker disables circuit-breaking.
func NewReaderScraper(client jina.Client, breaker *resilience.Breaker) *ReaderScraper {
	return &ReaderScraper{client: client, breaker: breaker}
}

func (r *ReaderScraper) Name() string { return "jina" }

// Supports is false while the breaker is open so the chain skips straight
// past it.
func (r *ReaderScraper) Supports(_ string) bool {
	return r.breaker == nil || r.breaker.State() != resilience.StateOpen
}

// Scrape reads targetURL and rejects empty or interstitial responses.
func (r *ReaderScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := r.client.Read(ctx, targetURL)
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if reason := unusable(resp); reason != "" {
		return nil, eris.Errorf("jina: unusable response for %s: %s", targetURL, reason)
	}

	final := firstNonEmpty(resp.Data.URL, targetURL)
	content := resp.Data.Content
	return &Result{
		Page: Page{
			URL:        targetURL,
			FinalURL:   final,
			StatusCode: 200,
			Title:      resp.Data.Title,
			Text:       content,
			Anchors:    markdownAnchors(final, content),
		},
		Source: "jina",
	}, nil
}

func unusable(resp *jina.ReadResponse) string {
	if resp == nil {
		return "empty response"
	}
	if resp.Code != 0 && resp.Code != 200 {
		return "code " + strconv.Itoa(resp.Code)
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return "content too short"
	}
	if len(content) < 1000 {
		lower := strings.ToLower(content)
		for _, sig := range challengeSignatures {
			if strings.Contains(lower, sig) {
				return "challenge page"
			}
		}
	}
	return ""
}

// markdownAnchors extracts [text](href) links, resolving relative targets
// against pageURL.
func markdownAnchors(pageURL, md string) []Anchor {
	base, _ := url.Parse(pageURL)
	var out []Anchor
	for _, m := range mdLinkRe.FindAllStringSubmatch(md, -1) {
		href := strings.TrimSpace(m[2])
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		out = append(out, Anchor{Href: resolveRef(base, href), Text: collapse(m[1])})
	}
	return out
}
