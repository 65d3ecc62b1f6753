package leadgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/provider"
	"github.com/sells-group/leadgen/internal/scrape"
)

// Budget defaults and ceilings applied at job creation.
const (
	DefaultMaxCompanies          = 100
	MaxMaxCompanies              = 2000
	DefaultMaxContactsPerCompany = 3
	MaxMaxContactsPerCompany     = 50
)

// CreateRequest is the job creation payload accepted from the CLI and HTTP
// boundary. Only PoolName is required.
type CreateRequest struct {
	Owner       string          `json:"owner,omitempty" yaml:"owner"`
	PoolName    string          `json:"pool_name" yaml:"pool_name"`
	Description string          `json:"description,omitempty" yaml:"description"`
	ICP         model.ICPConfig `json:"icp" yaml:"icp"`
	// Providers toggles individual providers by name. Omitted providers
	// are enabled.
	Providers map[string]bool `json:"providers,omitempty" yaml:"providers"`
	Templates []string        `json:"templates,omitempty" yaml:"templates"`
}

// FieldError is one failing field of a request.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every failing field of a CreateRequest.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Message
	}
	return "leadgen: invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// normalized is a validated request with defaults applied.
type normalized struct {
	pool      model.LeadPool
	providers model.ProviderSet
	templates []string
}

// normalize validates req and applies budget defaults and ceilings. It
// returns a *ValidationError naming every failing field.
func normalize(req CreateRequest) (*normalized, error) {
	verr := &ValidationError{}

	name := strings.TrimSpace(req.PoolName)
	if name == "" {
		verr.add("pool_name", "is required")
	}

	icp := req.ICP.Clone()
	icp.Industries = trimAll(icp.Industries)
	icp.Geographies = trimAll(icp.Geographies)
	icp.TechStack = trimAll(icp.TechStack)
	icp.JobTitles = trimAll(icp.JobTitles)
	icp.Languages = trimAll(icp.Languages)
	for i, size := range icp.CompanySizes {
		if !model.ValidCompanySize(size) {
			verr.add(fmt.Sprintf("icp.company_sizes[%d]", i), "unknown size %q, want one of %s", size, strings.Join(model.CompanySizes, ", "))
		}
	}
	for i, d := range icp.ExcludedDomains {
		host := scrape.Domain(d)
		if host == "" || !strings.Contains(host, ".") {
			verr.add(fmt.Sprintf("icp.excluded_domains[%d]", i), "%q is not a domain", d)
			continue
		}
		icp.ExcludedDomains[i] = host
	}

	lim := &icp.Limits
	switch {
	case lim.MaxCompanies < 0:
		verr.add("icp.limits.max_companies", "must be >= 0")
	case lim.MaxCompanies == 0:
		lim.MaxCompanies = DefaultMaxCompanies
	case lim.MaxCompanies > MaxMaxCompanies:
		lim.MaxCompanies = MaxMaxCompanies
	}
	switch {
	case lim.MaxContactsPerCompany < 0:
		verr.add("icp.limits.max_contacts_per_company", "must be >= 0")
	case lim.MaxContactsPerCompany == 0:
		lim.MaxContactsPerCompany = DefaultMaxContactsPerCompany
	case lim.MaxContactsPerCompany > MaxMaxContactsPerCompany:
		lim.MaxContactsPerCompany = MaxMaxContactsPerCompany
	}

	providers := model.DefaultProviders()
	names := make([]string, 0, len(req.Providers))
	for n := range req.Providers {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		kind, err := model.ParseProviderKind(n)
		if err != nil {
			verr.add("providers."+n, "unknown provider")
			continue
		}
		if !req.Providers[n] {
			providers = providers.Without(kind)
		}
	}

	var templates []string
	for i, tpl := range req.Templates {
		tpl = strings.TrimSpace(tpl)
		path := fmt.Sprintf("templates[%d]", i)
		if tpl == "" {
			verr.add(path, "must not be empty")
			continue
		}
		if unknown := provider.UnknownPlaceholders(tpl); len(unknown) > 0 {
			verr.add(path, "unknown placeholder {%s}", strings.Join(unknown, "}, {"))
			continue
		}
		templates = append(templates, tpl)
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return &normalized{
		pool: model.LeadPool{
			Owner:       strings.TrimSpace(req.Owner),
			Name:        name,
			Description: strings.TrimSpace(req.Description),
			ICP:         icp,
		},
		providers: providers,
		templates: templates,
	}, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
