// Package scrape fetches company web pages through a browser or plain HTTP
// and parses them for link, asset and text extraction.
package scrape

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	PathMatcher *PathMatcher
	limiter     *HostLimiter
	scrapers    []Scraper
}

// NewChain creates a Chain with the given path matcher and scrapers.
// Scrapers are tried in order; the first successful result is returned.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	return &Chain{
		PathMatcher: matcher,
		scrapers:    scrapers,
	}
}

// WithHostLimiter throttles every scrape per target host.
func (c *Chain) WithHostLimiter(l *HostLimiter) *Chain {
	c.limiter = l
	return c
}

// Name lists the scrapers in the chain.
func (c *Chain) Name() string {
	name := "chain"
	for _, s := range c.scrapers {
		name += ":" + s.Name()
	}
	return name
}

// Supports reports whether any scraper in the chain handles u.
func (c *Chain) Supports(u string) bool {
	for _, s := range c.scrapers {
		if s.Supports(u) {
			return true
		}
	}
	return false
}

// Scrape tries each scraper in order for a single URL.
// Returns the first successful result, or an error if all fail.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.PathMatcher != nil && c.PathMatcher.IsExcluded(targetURL) {
		return nil, eris.Errorf("scrape: url excluded by path matcher: %s", targetURL)
	}
	if err := c.limiter.WaitURL(ctx, targetURL); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limit wait")
	}

	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
}

// ScrapeAll fetches multiple URLs in parallel using the chain.
// maxConcurrent controls the concurrency limit. Failed URLs are skipped;
// results keep the order of urls.
func (c *Chain) ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []Page {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	var (
		mu    sync.Mutex
		slots = make([]*Page, len(urls))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, u := range urls {
		g.Go(func() error {
			result, err := c.Scrape(gCtx, u)
			if err != nil {
				zap.L().Debug("scrape: chain failed for url",
					zap.String("url", u),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			slots[i] = &result.Page
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	pages := make([]Page, 0, len(urls))
	for _, p := range slots {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	return pages
}

// Close releases scrapers that hold resources such as browser sessions.
func (c *Chain) Close() {
	for _, s := range c.scrapers {
		if cl, ok := s.(Closer); ok {
			cl.Close()
		}
	}
}
