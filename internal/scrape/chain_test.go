package scrape

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScraper struct {
	name     string
	supports bool
	err      error
	calls    atomic.Int32
	closed   bool
}

func (s *stubScraper) Name() string           { return s.name }
func (s *stubScraper) Supports(_ string) bool { return s.supports }
func (s *stubScraper) Close()                 { s.closed = true }

func (s *stubScraper) Scrape(_ context.Context, u string) (*Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Page: Page{URL: u, Title: s.name}, Source: s.name}, nil
}

func TestChain_FirstSuccessWins(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "browser", supports: true}
	b := &stubScraper{name: "local_http", supports: true}

	res, err := NewChain(nil, a, b).Scrape(context.Background(), "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, "browser", res.Source)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestChain_FallsBack(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "browser", supports: true, err: errors.New("navigation failed")}
	b := &stubScraper{name: "local_http", supports: true}

	res, err := NewChain(nil, a, b).Scrape(context.Background(), "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, "local_http", res.Source)
}

func TestChain_SkipsUnsupported(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "jina", supports: false}
	b := &stubScraper{name: "local_http", supports: true}

	res, err := NewChain(nil, a, b).Scrape(context.Background(), "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, "local_http", res.Source)
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "a", supports: true, err: errors.New("a down")}
	b := &stubScraper{name: "b", supports: true, err: errors.New("b down")}

	res, err := NewChain(nil, a, b).Scrape(context.Background(), "https://acme.test")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "all scrapers failed")
	assert.Contains(t, err.Error(), "b down")
}

func TestChain_NoneSupport(t *testing.T) {
	t.Parallel()
	_, err := NewChain(nil, &stubScraper{name: "a"}).Scrape(context.Background(), "https://acme.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable scraper")
}

func TestChain_ExcludedPath(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "a", supports: true}
	_, err := NewChain(NewPathMatcher([]string{"/blog/*"}), a).Scrape(context.Background(), "https://acme.test/blog/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "excluded")
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestChain_ScrapeAllKeepsOrder(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "a", supports: true}
	chain := NewChain(NewPathMatcher([]string{"/blog/*"}), a).WithHostLimiter(NewHostLimiter(0, 1))
	urls := []string{
		"https://acme.test/contact",
		"https://acme.test/blog/post",
		"https://acme.test/team",
		"https://acme.test/impressum",
	}

	pages := chain.ScrapeAll(context.Background(), urls, 2)
	require.Len(t, pages, 3)
	assert.Equal(t, "https://acme.test/contact", pages[0].URL)
	assert.Equal(t, "https://acme.test/team", pages[1].URL)
	assert.Equal(t, "https://acme.test/impressum", pages[2].URL)
}

func TestChain_ScrapeAllFailures(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "a", supports: true, err: errors.New("down")}
	pages := NewChain(nil, a).ScrapeAll(context.Background(), []string{"https://acme.test"}, 0)
	assert.Empty(t, pages)
}

func TestChain_NameAndClose(t *testing.T) {
	t.Parallel()
	a := &stubScraper{name: "browser", supports: true}
	b := &stubScraper{name: "local_http"}
	c := NewChain(nil, a, b)
	assert.Equal(t, "chain:browser:local_http", c.Name())
	assert.True(t, c.Supports("https://acme.test"))

	c.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
