// Package deobfuscate recovers email addresses that web pages hide from
// naive scrapers with entity escaping, token substitution, ROT13 and Base64.
package deobfuscate

import (
	"html"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9][a-z0-9._%+\-]*@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,24}`)

	// Suffixes that look like TLDs but are asset file names (logo@2x.png).
	assetTLDs = []string{
		"png", "jpg", "jpeg", "gif", "svg", "webp", "avif", "ico", "bmp", "tif", "tiff",
		"css", "js", "mjs", "map", "woff", "woff2", "ttf", "eot", "mp4", "webm", "pdf",
	}

	zeroWidth = strings.NewReplacer(
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\u2060", "",
		"\ufeff", "",
		"\u00ad", "",
	)
)

const (
	mailtoAnchor    = "mailto:"
	rotMailtoAnchor = "znvygb:"
)

// ExtractEmailCandidates returns every email address recoverable from the
// page text and the page's link targets, lower-cased and deduplicated in
// first-seen order. Unparseable input yields an empty result, never an error.
func ExtractEmailCandidates(rawText string, hrefs []string) []string {
	set := newOrderedSet()

	decoded := Normalize(rawText)
	for _, m := range matchEmails(substituteMarkers(decoded)) {
		if m.anchoredBy(rotMailtoAnchor) {
			continue
		}
		set.add(m.addr)
	}

	rotated := substituteMarkers(rot13(decoded))
	for _, m := range matchEmails(rotated) {
		if m.anchoredBy(mailtoAnchor) {
			set.add(m.addr)
		}
	}

	for _, h := range hrefs {
		for _, addr := range fromHref(h) {
			set.add(addr)
		}
	}

	return set.items
}

// Normalize applies the decoding steps that precede marker substitution:
// zero-width stripping, compatibility normalisation, entity decoding,
// escape-sequence decoding and conditional percent-decoding.
func Normalize(s string) string {
	s = zeroWidth.Replace(s)
	s = norm.NFKC.String(s)
	for range 3 {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	s = decodeEscapes(s)
	s = percentDecode(s)
	s = joinStringConcat(s)
	// Escapes may have produced zero-width or full-width characters.
	s = zeroWidth.Replace(s)
	return norm.NFKC.String(s)
}

type match struct {
	addr   string
	prefix string
}

func (m match) anchoredBy(anchor string) bool {
	return strings.HasSuffix(strings.ToLower(m.prefix), anchor)
}

func matchEmails(s string) []match {
	var out []match
	for _, loc := range emailRe.FindAllStringIndex(s, -1) {
		addr := strings.ToLower(strings.TrimRight(s[loc[0]:loc[1]], ".-"))
		if !plausible(addr) {
			continue
		}
		start := max(loc[0]-len(mailtoAnchor), 0)
		out = append(out, match{addr: addr, prefix: s[start:loc[0]]})
	}
	return out
}

func plausible(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return false
	}
	domain := addr[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	if dot < 0 {
		return false
	}
	if slices.Contains(assetTLDs, domain[dot+1:]) {
		return false
	}
	return !strings.Contains(addr, "..")
}

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		}
		return r
	}, s)
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (o *orderedSet) add(s string) {
	if s == "" {
		return
	}
	if _, ok := o.seen[s]; ok {
		return
	}
	o.seen[s] = struct{}{}
	o.items = append(o.items, s)
}
