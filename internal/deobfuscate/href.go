package deobfuscate

import (
	"encoding/base64"
	"net/url"
	"strings"
	"unicode/utf8"
)

func fromHref(raw string) []string {
	h := strings.TrimSpace(raw)
	if h == "" {
		return nil
	}
	lower := strings.ToLower(h)

	if strings.HasPrefix(lower, rotMailtoAnchor) {
		h = rot13(h)
		lower = strings.ToLower(h)
	}
	if strings.HasPrefix(lower, mailtoAnchor) {
		return fromMailto(h[len(mailtoAnchor):])
	}

	if found := fromBase64Params(h); len(found) > 0 {
		return found
	}

	text := h
	if unescaped, err := url.PathUnescape(h); err == nil {
		text = unescaped
	}
	return primary(text)
}

func fromMailto(rest string) []string {
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	rest, _, _ = strings.Cut(rest, "?")

	var out []string
	for part := range strings.FieldsFuncSeq(rest, func(r rune) bool { return r == ',' || r == ';' }) {
		out = append(out, primary(part)...)
	}
	return out
}

// fromBase64Params scans query values and the fragment for Base64 payloads
// that decode to something containing an address.
func fromBase64Params(h string) []string {
	u, err := url.Parse(h)
	if err != nil {
		return nil
	}

	var candidates []string
	for _, vals := range u.Query() {
		candidates = append(candidates, vals...)
	}
	if u.Fragment != "" {
		candidates = append(candidates, u.Fragment)
	}
	// Bare payloads such as "/contact/amFuZUBleGFtcGxlLmNvbQ==".
	if i := strings.LastIndexByte(u.Path, '/'); i >= 0 {
		candidates = append(candidates, u.Path[i+1:])
	}

	var out []string
	for _, c := range candidates {
		if !base64Re.MatchString(c) {
			continue
		}
		decoded, ok := decodeBase64(c)
		if !ok || !strings.Contains(decoded, "@") {
			continue
		}
		out = append(out, primary(decoded)...)
	}
	return out
}

func decodeBase64(s string) (string, bool) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err != nil || !utf8.Valid(b) {
			continue
		}
		return string(b), true
	}
	return "", false
}

// primary runs the normalisation, marker substitution and regex pass over
// a fragment of text, returning plain addresses.
func primary(s string) []string {
	var out []string
	for _, m := range matchEmails(substituteMarkers(Normalize(s))) {
		out = append(out, m.addr)
	}
	return out
}
