package provider

import (
	"math"
	"strings"

	"github.com/sells-group/leadgen/internal/model"
)

var statusWeight = map[model.VerificationStatus]float64{
	model.VerificationValid:   0.5,
	model.VerificationRisky:   0.25,
	model.VerificationUnknown: 0.15,
	model.VerificationSkipped: 0.15,
	model.VerificationInvalid: 0,
}

// Score rates a contact in [0, 1]. Deliverability carries half the weight;
// the rest rewards a named person whose title fits the ICP at a company
// running the wanted stack. Guessed addresses are discounted by their
// pattern confidence.
func Score(c model.CandidateContact, icp model.ICPConfig, techMatched bool) float64 {
	v := c.Verification
	if v.Status == model.VerificationInvalid || v.Disposable {
		return 0
	}
	s := statusWeight[v.Status]
	if strings.TrimSpace(c.Name) != "" {
		s += 0.15
	}
	if strings.TrimSpace(c.Title) != "" {
		s += 0.05
	}
	if titleMatches(c.Title, icp.JobTitles) {
		s += 0.15
	}
	if techMatched {
		s += 0.15
	}
	if v.RoleAccount {
		s -= 0.15
	}
	if v.FreeProvider {
		s -= 0.1
	}
	if c.Inferred {
		s *= c.Confidence
	}
	s = math.Max(0, math.Min(1, s))
	return math.Round(s*1000) / 1000
}

// titleMatches reports whether title contains any wanted title, ignoring case.
func titleMatches(title string, wanted []string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return false
	}
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(t, w) {
			return true
		}
	}
	return false
}
