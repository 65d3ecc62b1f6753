package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contactPage = `<html><head><title>Acme GmbH</title>
<script src="/static/js/jquery.min.js"></script>
<link rel="stylesheet" href="https://cdn.test/bootstrap.min.css">
</head><body>
<nav><a href="/kontakt">Kontakt</a> <a href="#top">Top</a></nav>
<h1>Welcome</h1>
<p>Write to jane [at] acme [dot] test</p>
<script>var secret = "not visible";</script>
<footer>Impressum: info@acme.test <a href="mailto:sales@acme.test">Sales</a></footer>
</body></html>`

func TestLocalScraper_Parses(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "de-DE", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Powered-By", "PHP/8.2")
		_, _ = w.Write([]byte(contactPage))
	}))
	defer srv.Close()

	s := NewLocalScraper(WithUserAgent("test-agent", "de-DE"))
	res, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	p := res.Page
	assert.Equal(t, "local_http", res.Source)
	assert.Equal(t, "Acme GmbH", p.Title)
	assert.Equal(t, 200, p.StatusCode)
	assert.Equal(t, "PHP/8.2", p.Headers["X-Powered-By"])
	assert.Contains(t, p.Text, "jane [at] acme [dot] test")
	assert.Contains(t, p.Text, "info@acme.test")
	assert.NotContains(t, p.Text, "not visible")
	assert.Equal(t, []string{srv.URL + "/static/js/jquery.min.js"}, p.ScriptURLs)
	assert.Contains(t, p.Hrefs(), "mailto:sales@acme.test")
	assert.Contains(t, p.Hrefs(), srv.URL+"/kontakt")
	assert.Contains(t, p.TechSnapshot().HTML, "jquery")
}

func TestLocalScraper_Blocked(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cf-Ray", "abc")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, BlockCloudflare, blocked.Type)
}

func TestLocalScraper_Parked(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>This domain is for sale. Inquire at sedoparking.com</body></html>"))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, BlockParked, blocked.Type)
}

func TestLocalScraper_NotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(strings.Repeat("<p>gone</p>", 300)))
	}))
	defer srv.Close()

	_, err := NewLocalScraper().Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLocalScraper_FollowsRedirect(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><a href='team'>Team</a></body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := NewLocalScraper(WithHTTPClient(srv.Client())).Scrape(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/old", res.Page.URL)
	assert.Equal(t, srv.URL+"/new", res.Page.FinalURL)
	assert.Equal(t, srv.URL+"/team", res.Page.Anchors[0].Href)
}

func TestLocalScraper_Meta(t *testing.T) {
	t.Parallel()
	s := NewLocalScraper()
	assert.Equal(t, "local_http", s.Name())
	assert.True(t, s.Supports("anything"))
}
