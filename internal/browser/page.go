package browser

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
)

func protoBlank() proto.TargetCreateTarget {
	return proto.TargetCreateTarget{URL: "about:blank"}
}

// Page is a browser tab with navigation and action timeouts applied.
type Page struct {
	page *rod.Page
	cfg  Config

	stopEvents context.CancelFunc

	mu      sync.Mutex
	headers map[string]string
	status  int

	once sync.Once
}

func newPage(p *rod.Page, cfg Config) (*Page, error) {
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
	}); err != nil {
		return nil, eris.Wrap(err, "browser: set user agent")
	}
	if _, err := p.SetExtraHeaders([]string{"Accept-Language", cfg.AcceptLanguage}); err != nil {
		return nil, eris.Wrap(err, "browser: set headers")
	}
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return nil, eris.Wrap(err, "browser: enable network events")
	}

	evCtx, cancel := context.WithCancel(context.Background())
	page := &Page{page: p, cfg: cfg, stopEvents: cancel, headers: map[string]string{}}

	wait := p.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return
		}
		h := make(map[string]string, len(e.Response.Headers))
		for k, v := range e.Response.Headers {
			h[k] = v.String()
		}
		page.mu.Lock()
		page.headers = h
		page.status = e.Response.Status
		page.mu.Unlock()
	})
	go wait()

	return page, nil
}

// Navigate loads url and waits for the load event, bounded by the
// navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	nav := p.page.Context(ctx).Timeout(p.cfg.NavigationTimeout)
	if err := nav.Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	if err := nav.WaitLoad(); err != nil {
		return eris.Wrapf(err, "browser: wait load %s", url)
	}
	return nil
}

// HTML returns the rendered document, bounded by the action timeout.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout).HTML()
	if err != nil {
		return "", eris.Wrap(err, "browser: read html")
	}
	return html, nil
}

// URL returns the page's current location after redirects.
func (p *Page) URL(ctx context.Context) string {
	info, err := p.page.Context(ctx).Timeout(p.cfg.ActionTimeout).Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// Response returns the status and headers of the last document response.
func (p *Page) Response() (int, map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.headers))
	for k, v := range p.headers {
		out[k] = v
	}
	return p.status, out
}

// Close closes the tab. Safe to call more than once.
func (p *Page) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.stopEvents != nil {
			p.stopEvents()
		}
		if p.page != nil {
			_ = p.page.Close()
		}
	})
}
