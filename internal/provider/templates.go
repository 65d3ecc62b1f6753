package provider

import (
	"iter"
	"regexp"
	"slices"
	"strings"

	"github.com/sells-group/leadgen/internal/model"
)

// DefaultTemplates seed discovery when a job supplies none.
var DefaultTemplates = []string{
	"{industry} companies in {geo}",
	"{industry} {size} company {geo} {tech}",
	"{industry} {geo} {title} contact",
}

var (
	placeholderRe = regexp.MustCompile(`\{(industry|geo|tech|size|title|language)\}`)
	anyBraceRe    = regexp.MustCompile(`\{([^{}]*)\}`)
)

// UnknownPlaceholders returns the brace-delimited names in tpl that Expand
// cannot bind.
func UnknownPlaceholders(tpl string) []string {
	var out []string
	for _, m := range anyBraceRe.FindAllStringSubmatch(tpl, -1) {
		if !placeholderRe.MatchString(m[0]) && !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

func facetValues(icp model.ICPConfig, name string) []string {
	switch name {
	case "industry":
		return icp.Industries
	case "geo":
		return icp.Geographies
	case "tech":
		return icp.TechStack
	case "size":
		return icp.CompanySizes
	case "title":
		return icp.JobTitles
	case "language":
		return icp.Languages
	}
	return nil
}

// Expand lazily yields every concrete query for templates against the ICP
// facets, as the cartesian product of the placeholders each template uses.
// A facet with no values renders empty. Duplicate and blank queries are
// skipped. Consumers stop expansion by breaking out of the range loop.
func Expand(templates []string, icp model.ICPConfig) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]bool)
		for _, tpl := range templates {
			names := uniquePlaceholders(tpl)
			values := make([][]string, len(names))
			for i, n := range names {
				values[i] = facetValues(icp, n)
				if len(values[i]) == 0 {
					values[i] = []string{""}
				}
			}
			if !product(names, values, func(binding map[string]string) bool {
				q := render(tpl, binding)
				if q == "" || seen[q] {
					return true
				}
				seen[q] = true
				return yield(q)
			}) {
				return
			}
		}
	}
}

func uniquePlaceholders(tpl string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// product walks the index odometer over values, calling fn per binding
// until it returns false.
func product(names []string, values [][]string, fn func(map[string]string) bool) bool {
	idx := make([]int, len(names))
	binding := make(map[string]string, len(names))
	for {
		for i, n := range names {
			binding[n] = values[i][idx[i]]
		}
		if !fn(binding) {
			return false
		}
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(values[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return true
		}
	}
}

func render(tpl string, binding map[string]string) string {
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		return binding[m[1:len(m)-1]]
	})
	return strings.Join(strings.Fields(out), " ")
}
