package scrape

import (
	"context"

	"github.com/sells-group/leadgen/internal/techdetect"
)

// Anchor is a link found on a page with its visible text.
type Anchor struct {
	Href string
	Text string
}

// Page is a fetched and parsed web page.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	HTML       string
	Text       string
	ScriptURLs []string
	LinkURLs   []string
	Anchors    []Anchor
	Headers    map[string]string
}

// Hrefs returns the raw link targets on the page.
func (p *Page) Hrefs() []string {
	out := make([]string, 0, len(p.Anchors))
	for _, a := range p.Anchors {
		out = append(out, a.Href)
	}
	return out
}

// TechSnapshot returns the material the technology detector inspects.
func (p *Page) TechSnapshot() techdetect.Snapshot {
	return techdetect.Snapshot{
		HTML:       p.HTML,
		ScriptURLs: p.ScriptURLs,
		LinkURLs:   p.LinkURLs,
		Headers:    p.Headers,
	}
}

// Result holds a scraped page with its source.
type Result struct {
	Page   Page
	Source string // "browser" or "local_http"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// Closer is implemented by scrapers holding external resources.
type Closer interface {
	Close()
}
