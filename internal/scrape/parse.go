package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

var spaceRe = regexp.MustCompile(`[ \t\r\f\v]+`)
var nlRe = regexp.MustCompile(`\n\s*\n+`)

// ParseHTML parses an HTML document into a Page. Relative script, stylesheet
// and anchor URLs are resolved against pageURL; mailto and javascript links
// are kept verbatim.
func ParseHTML(pageURL string, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, eris.Wrap(err, "scrape: parse html")
	}

	base, _ := url.Parse(pageURL)
	page := Page{
		URL:   pageURL,
		HTML:  string(body),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			page.ScriptURLs = append(page.ScriptURLs, resolveRef(base, src))
		}
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			page.LinkURLs = append(page.LinkURLs, resolveRef(base, href))
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		page.Anchors = append(page.Anchors, Anchor{
			Href: resolveRef(base, href),
			Text: collapse(s.Text()),
		})
	})

	page.Text = visibleText(doc)
	return page, nil
}

// visibleText returns the document's text without script and style bodies.
// Footers and navigation are kept since contact details often live there.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template, svg").Remove()

	var b strings.Builder
	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		// Attribute values sometimes carry the only copy of an address.
		for _, attr := range []string{"data-email", "data-mail", "title", "aria-label", "content"} {
			if v, ok := s.Attr(attr); ok && strings.Contains(v, "@") {
				b.WriteString(v)
				b.WriteByte('\n')
			}
		}
	})
	b.WriteString(body.Text())
	return collapse(b.String())
}

func collapse(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	s = nlRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if base == nil || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "znvygb:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
