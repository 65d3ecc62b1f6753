package scrape

import (
	"net/url"
	"slices"
	"strings"
)

// contactKeywords mark pages likely to list people or mailboxes, in
// priority order.
var contactKeywords = []string{
	"contact", "kontakt", "contacto", "contatti", "impressum", "imprint",
	"team", "about", "ueber-uns", "uber-uns", "nosotros", "leadership",
	"people", "staff", "management", "legal",
}

// ContactLinks returns up to limit same-site links from page that look like
// contact, team or legal pages, best candidates first.
func ContactLinks(page Page, limit int) []string {
	if limit <= 0 {
		return nil
	}
	base, err := url.Parse(firstNonEmpty(page.FinalURL, page.URL))
	if err != nil || base.Host == "" {
		return nil
	}
	host := SiteHost(base.Host)

	type candidate struct {
		href string
		rank int
	}
	seen := map[string]bool{canonical(base): true}
	var ranked []candidate

	for _, a := range page.Anchors {
		u, err := url.Parse(a.Href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || SiteHost(u.Host) != host {
			continue
		}
		key := canonical(u)
		if seen[key] {
			continue
		}
		hay := strings.ToLower(u.Path + " " + a.Text)
		for i, kw := range contactKeywords {
			if strings.Contains(hay, kw) {
				seen[key] = true
				u.Fragment = ""
				ranked = append(ranked, candidate{href: u.String(), rank: i})
				break
			}
		}
	}

	slices.SortStableFunc(ranked, func(a, b candidate) int { return a.rank - b.rank })

	out := make([]string, 0, min(limit, len(ranked)))
	for _, c := range ranked {
		if len(out) == limit {
			break
		}
		out = append(out, c.href)
	}
	return out
}

// SiteHost lower-cases a host and strips the port and a leading "www.".
func SiteHost(host string) string {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// Domain extracts the registrable-looking host from a URL or bare domain.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return SiteHost(u.Host)
}

func canonical(u *url.URL) string {
	return SiteHost(u.Host) + strings.TrimSuffix(u.Path, "/")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
