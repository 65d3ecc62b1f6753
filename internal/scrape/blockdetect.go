package scrape

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockType names why a fetched page is unusable for contact discovery.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRateLimit  BlockType = "rate_limit"
	// BlockParked is a registrar or for-sale placeholder; it will never list
	// the company's people.
	BlockParked BlockType = "parked"
)

// BlockedError is returned by scrapers for pages DetectBlock rejects, so a
// Chain moves on to its next scraper.
type BlockedError struct {
	URL  string
	Type BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scrape: %s blocked (%s)", e.URL, e.Type)
}

const (
	// Pages larger than this are real content even when they embed a
	// captcha widget (contact forms commonly do).
	challengePageMax = 16 * 1024
	shellPageMax     = 2000
)

var (
	challengeMarkers = []string{"checking your browser", "cf-browser-verification", "cf-challenge"}
	humanMarkers     = []string{"verify you are human", "are you a robot", "complete the"}
	parkedMarkers    = []string{
		"this domain is for sale", "domain is parked", "buy this domain",
		"sedoparking.com", "parkingcrew.net", "hugedomains.com", "dan.com/buy-domain",
	}
)

// DetectBlock classifies a fetched document. headers may use any key case.
func DetectBlock(status int, headers map[string]string, body string) BlockType {
	if status == http.StatusTooManyRequests {
		return BlockRateLimit
	}
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header(headers, "cf-ray") != "" || header(headers, "cf-cache-status") != "" ||
			strings.EqualFold(header(headers, "server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(body)
	switch {
	case containsAny(lower, challengeMarkers):
		return BlockCloudflare
	case len(body) < challengePageMax && strings.Contains(lower, "captcha") &&
		(status == http.StatusForbidden || containsAny(lower, humanMarkers)):
		return BlockCaptcha
	case len(body) < challengePageMax && containsAny(lower, parkedMarkers):
		return BlockParked
	case len(body) < shellPageMax && strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript"):
		return BlockJSShell
	case len(body) < shellPageMax && strings.Contains(lower, `meta http-equiv="refresh"`):
		return BlockJSShell
	}
	return BlockNone
}

func header(h map[string]string, key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
