// Package jina is a small client for the Jina Reader (r.jina.ai) and Search
// (s.jina.ai) APIs.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client reads pages and runs web searches through Jina.
type Client interface {
	// Read fetches targetURL and returns its content as markdown.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search runs a web search and returns the result list.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the Reader API envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is one read page.
type ReadData struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports tokens billed for a call.
type Usage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the Search API envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is a single hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// SearchOption narrows a search.
type SearchOption func(url.Values)

// WithSiteFilter restricts results to domain.
func WithSiteFilter(domain string) SearchOption {
	return func(v url.Values) { v.Set("site", domain) }
}

// WithCount caps the number of results.
func WithCount(n int) SearchOption {
	return func(v url.Values) {
		if n > 0 {
			v.Set("num", strconv.Itoa(n))
		}
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Reader endpoint.
func WithBaseURL(u string) Option { return func(c *httpClient) { c.readURL = u } }

// WithSearchBaseURL overrides the Search endpoint.
func WithSearchBaseURL(u string) Option { return func(c *httpClient) { c.searchURL = u } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *httpClient) { c.http = hc } }

// WithRetry sets the number of attempts and the first backoff delay for
// 429 and 5xx responses.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *httpClient) {
		c.attempts = max(attempts, 1)
		c.backoff = backoff
	}
}

type httpClient struct {
	apiKey    string
	readURL   string
	searchURL string
	http      *http.Client
	attempts  int
	backoff   time.Duration
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		readURL:   "https://r.jina.ai",
		searchURL: "https://s.jina.ai",
		http:      &http.Client{Timeout: 30 * time.Second},
		attempts:  3,
		backoff:   time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	var out ReadResponse
	hdr := http.Header{"X-Return-Format": {"markdown"}}
	status, err := c.getJSON(ctx, c.readURL+"/"+targetURL, hdr, &out)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: read %s: status %d", targetURL, status)
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	q := url.Values{}
	for _, o := range opts {
		o(q)
	}
	endpoint := c.searchURL + "/" + url.PathEscape(query)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var out SearchResponse
	status, err := c.getJSON(ctx, endpoint, nil, &out)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}
	switch status {
	case http.StatusOK:
		return &out, nil
	case http.StatusUnprocessableEntity:
		// no results for the query
		return &SearchResponse{Code: status}, nil
	}
	return nil, eris.Errorf("jina: search: status %d", status)
}

// getJSON GETs endpoint, retrying 429 and 5xx, and decodes a 200 body into
// out. Other statuses are returned without decoding.
func (c *httpClient) getJSON(ctx context.Context, endpoint string, hdr http.Header, out any) (int, error) {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		status, body, err := c.get(ctx, endpoint, hdr)
		retryable := err != nil || status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt >= c.attempts || ctx.Err() != nil {
			if err != nil {
				return 0, err
			}
			if status == http.StatusOK {
				if err := json.Unmarshal(body, out); err != nil {
					return status, eris.Wrap(err, "decode response")
				}
			}
			return status, nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}

func (c *httpClient) get(ctx context.Context, endpoint string, hdr http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, eris.Wrap(err, "create request")
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, eris.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "read body")
	}
	return resp.StatusCode, body, nil
}
