package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const maxBodyBytes = 2 << 20

// LocalScraper fetches HTML via net/http and parses it without rendering.
// Used when no browser is available or crawl.fetcher=http.
type LocalScraper struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *LocalScraper) { l.client = c }
}

// WithUserAgent sets the User-Agent and Accept-Language request headers.
func WithUserAgent(ua, acceptLanguage string) LocalOption {
	return func(l *LocalScraper) {
		l.userAgent = ua
		l.acceptLanguage = acceptLanguage
	}
}

// NewLocalScraper creates a LocalScraper with sensible defaults.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent:      "Mozilla/5.0 (compatible; LeadGenBot/1.0)",
		acceptLanguage: "en-US",
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks, and parses the document.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept-Language", l.acceptLanguage)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	headers := flattenHeaders(resp.Header)
	if bt := DetectBlock(resp.StatusCode, headers, string(body)); bt != BlockNone {
		return nil, &BlockedError{URL: targetURL, Type: bt}
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	page, err := ParseHTML(resp.Request.URL.String(), body)
	if err != nil {
		return nil, err
	}
	page.URL = targetURL
	page.FinalURL = resp.Request.URL.String()
	page.StatusCode = resp.StatusCode
	page.Headers = headers

	return &Result{Page: page, Source: "local_http"}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
