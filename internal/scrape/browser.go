package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/browser"
)

// BrowserScraper renders pages in a headless browser session it owns.
type BrowserScraper struct {
	session *browser.Session
}

// NewBrowserScraper launches a dedicated browser session via m.
func NewBrowserScraper(ctx context.Context, m *browser.Manager) (*BrowserScraper, error) {
	s, err := m.Launch(ctx)
	if err != nil {
		return nil, err
	}
	return &BrowserScraper{session: s}, nil
}

func (b *BrowserScraper) Name() string { return "browser" }

func (b *BrowserScraper) Supports(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Scrape opens a fresh tab, loads the URL and parses the rendered DOM.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	page, err := b.session.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.Navigate(ctx, targetURL); err != nil {
		return nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	status, headers := page.Response()
	if bt := DetectBlock(status, headers, html); bt != BlockNone {
		return nil, &BlockedError{URL: targetURL, Type: bt}
	}
	if status >= 400 {
		return nil, eris.Errorf("browser: status %d", status)
	}

	final := page.URL(ctx)
	if final == "" {
		final = targetURL
	}
	parsed, err := ParseHTML(final, []byte(html))
	if err != nil {
		return nil, err
	}
	parsed.URL = targetURL
	parsed.FinalURL = final
	parsed.StatusCode = status
	parsed.Headers = headers

	return &Result{Page: parsed, Source: "browser"}, nil
}

// Close shuts down the owned browser session.
func (b *BrowserScraper) Close() {
	b.session.Close()
}
