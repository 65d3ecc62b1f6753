// Package pattern infers a company's mailbox naming convention from known
// addresses and applies it to people known only by name.
package pattern

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Pattern is a local-part template.
type Pattern string

const (
	FirstDotLast  Pattern = "first.last"
	FirstLast     Pattern = "firstlast"
	FLast         Pattern = "flast"
	FDotLast      Pattern = "f.last"
	First         Pattern = "first"
	FirstUndLast  Pattern = "first_last"
	FirstDashLast Pattern = "first-last"
	LastDotFirst  Pattern = "last.first"
	LastF         Pattern = "lastf"
	Last          Pattern = "last"
	FirstL        Pattern = "firstl"
)

// Known lists every pattern in tie-break order: when two patterns explain
// the same evidence the earlier, more common one wins.
var Known = []Pattern{
	FirstDotLast, FirstLast, FLast, FDotLast, First, FirstUndLast,
	FirstDashLast, LastDotFirst, LastF, FirstL, Last,
}

// Name is a person's given and family name, already folded to ASCII
// lower case.
type Name struct {
	First string
	Last  string
}

// Valid reports whether both parts are present.
func (n Name) Valid() bool { return n.First != "" && n.Last != "" }

var honorifics = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true, "sir": true,
	"herr": true, "frau": true, "ing": true, "dipl": true, "mag": true,
}

var suffixes = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "phd": true, "mba": true}

var particles = map[string]bool{"von": true, "van": true, "de": true, "der": true, "den": true, "da": true, "di": true, "le": true, "la": true}

var germanFold = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "Ä", "ae", "Ö", "oe", "Ü", "ue", "ß", "ss")

// Fold lower-cases s and reduces it to ASCII letters: umlauts expand
// ("ü" to "ue"), other accents are dropped, everything else is removed.
func Fold(s string) string {
	s = germanFold.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseName splits a display name into first and last name, dropping
// honorifics, suffixes and middle names. "Dr. Anna-Lena von Berg" becomes
// {annalena, vonberg}.
func ParseName(full string) Name {
	if family, given, ok := strings.Cut(full, ","); ok {
		given = strings.TrimSpace(given)
		if given != "" && !strings.Contains(given, " ") && !suffixes[Fold(given)] {
			// "Berg, Anna"
			full = given + " " + family
		}
	}
	var parts []string
	for _, p := range strings.Fields(full) {
		key := Fold(p)
		if key == "" || honorifics[key] || suffixes[key] {
			continue
		}
		parts = append(parts, p)
	}
	switch len(parts) {
	case 0:
		return Name{}
	case 1:
		return Name{First: Fold(parts[0])}
	}

	// family name keeps leading particles: "von Berg"
	lastStart := len(parts) - 1
	for lastStart > 1 && particles[Fold(parts[lastStart-1])] {
		lastStart--
	}
	return Name{First: Fold(parts[0]), Last: Fold(strings.Join(parts[lastStart:], ""))}
}

// Render builds the local part for n, or "" when n lacks a required part.
func (p Pattern) Render(n Name) string {
	if n.First == "" || (n.Last == "" && p != First) {
		return ""
	}
	f, l := n.First, n.Last
	switch p {
	case FirstDotLast:
		return f + "." + l
	case FirstLast:
		return f + l
	case FLast:
		return f[:1] + l
	case FDotLast:
		return f[:1] + "." + l
	case First:
		return f
	case FirstUndLast:
		return f + "_" + l
	case FirstDashLast:
		return f + "-" + l
	case LastDotFirst:
		return l + "." + f
	case LastF:
		return l + f[:1]
	case FirstL:
		return f + l[:1]
	case Last:
		return l
	}
	return ""
}

// Observation is a known address together with its owner's name.
type Observation struct {
	Email string
	Name  string
}

// Inference is the best pattern for a domain and how sure we are of it.
type Inference struct {
	Domain     string
	Pattern    Pattern
	Confidence float64
	Support    int // observations explained by Pattern
	Evidence   int // observations with a usable name at Domain
}

// Infer picks the pattern explaining the most observations at domain.
// Confidence is the share of evidence explained, discounted when support
// is thin: one match gives 0.5, two 0.75, three 0.875. With no matching
// evidence the zero Inference is returned.
func Infer(domain string, obs []Observation) Inference {
	domain = strings.ToLower(strings.TrimSpace(domain))
	counts := make(map[Pattern]int)
	evidence := 0
	for _, o := range obs {
		local, host, ok := strings.Cut(strings.ToLower(strings.TrimSpace(o.Email)), "@")
		if !ok || host != domain {
			continue
		}
		n := ParseName(o.Name)
		if !n.Valid() {
			continue
		}
		evidence++
		for _, p := range Known {
			if p.Render(n) == local {
				counts[p]++
				break
			}
		}
	}

	var best Pattern
	for _, p := range Known {
		if counts[p] > counts[best] {
			best = p
		}
	}
	if best == "" {
		return Inference{Domain: domain, Evidence: evidence}
	}
	support := counts[best]
	share := float64(support) / float64(evidence)
	conf := share * (1 - math.Pow(0.5, float64(support)))
	return Inference{
		Domain:     domain,
		Pattern:    best,
		Confidence: math.Round(conf*1000) / 1000,
		Support:    support,
		Evidence:   evidence,
	}
}

// Guess applies inf to a display name. ok is false when there is no
// pattern, confidence is below minConfidence, or the name does not render.
func Guess(inf Inference, fullName string, minConfidence float64) (email string, ok bool) {
	if inf.Pattern == "" || inf.Confidence < minConfidence {
		return "", false
	}
	local := inf.Pattern.Render(ParseName(fullName))
	if local == "" {
		return "", false
	}
	return local + "@" + inf.Domain, true
}
