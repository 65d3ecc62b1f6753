package deobfuscate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Words standing in for "@" and "." across the languages we crawl.
const (
	atWords  = `at|arroba|chez|bei|presso|собака|snabel-a`
	dotWords = `dot|punto|punkt|point|ponto|ponte|точка|prikk|piste`
)

var (
	bracketAtRe  = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*(?:` + atWords + `|@)\s*[\]\)\}>]\s*`)
	bracketDotRe = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*(?:` + dotWords + `|\.)\s*[\]\)\}>]\s*`)

	// "jane at example dot com": the bare word form is only trusted when the
	// domain side also uses a word-form dot.
	wordFormRe = regexp.MustCompile(`(?i)([a-z0-9][a-z0-9._%+\-]*)\s+(?:` + atWords + `)\s+([a-z0-9\-]+(?:\s+(?:` + dotWords + `)\s+[a-z0-9\-]+)+)`)
	wordDotRe  = regexp.MustCompile(`(?i)\s+(?:` + dotWords + `)\s+`)

	// "jane-at-example-dot-com" and "jane_at_example_dot_com".
	joinedRe = regexp.MustCompile(`(?i)([a-z0-9][a-z0-9.]*)[_\-](?:at)[_\-]([a-z0-9\-]+(?:[_\-]dot[_\-][a-z]{2,24})+)\b`)
	joinDot  = regexp.MustCompile(`(?i)[_\-]dot[_\-]`)

	unicodeBraceRe = regexp.MustCompile(`\\u\{([0-9a-fA-F]{1,6})\}`)
	unicodeRe      = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	hexRe          = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
	cssEscapeRe    = regexp.MustCompile(`\\([0-9a-fA-F]{1,6}) ?`)

	percentRunRe = regexp.MustCompile(`(?:%[0-9a-fA-F]{2})+`)

	concatRe = regexp.MustCompile(`["']\s*\+\s*["']`)

	base64Re = regexp.MustCompile(`^[A-Za-z0-9+/_\-]{8,}={0,2}$`)
)

func substituteMarkers(s string) string {
	s = bracketAtRe.ReplaceAllString(s, "@")
	s = bracketDotRe.ReplaceAllString(s, ".")
	s = wordFormRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := wordFormRe.FindStringSubmatch(m)
		return sub[1] + "@" + wordDotRe.ReplaceAllString(sub[2], ".")
	})
	s = joinedRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := joinedRe.FindStringSubmatch(m)
		return sub[1] + "@" + joinDot.ReplaceAllString(sub[2], ".")
	})
	return s
}

func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = unicodeBraceRe.ReplaceAllStringFunc(s, func(m string) string {
		return runeFromHex(unicodeBraceRe.FindStringSubmatch(m)[1], m)
	})
	s = unicodeRe.ReplaceAllStringFunc(s, func(m string) string {
		return runeFromHex(m[2:], m)
	})
	s = hexRe.ReplaceAllStringFunc(s, func(m string) string {
		return runeFromHex(m[2:], m)
	})
	s = cssEscapeRe.ReplaceAllStringFunc(s, func(m string) string {
		return runeFromHex(strings.TrimSpace(m[1:]), m)
	})
	return s
}

func runeFromHex(h, fallback string) string {
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return fallback
	}
	r := rune(v)
	if r == 0 || !utf8.ValidRune(r) {
		return fallback
	}
	return string(r)
}

// percentDecode decodes runs of %XX escapes. Text without escapes and
// malformed escapes are left untouched.
func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	return percentRunRe.ReplaceAllStringFunc(s, func(m string) string {
		out, err := url.PathUnescape(m)
		if err != nil || !utf8.ValidString(out) {
			return m
		}
		return out
	})
}

// joinStringConcat collapses inline script concatenation such as
// 'jane' + '@' + 'example.com'.
func joinStringConcat(s string) string {
	if !strings.Contains(s, "+") {
		return s
	}
	return concatRe.ReplaceAllString(s, "")
}
