// Package export writes finished leads to spreadsheets.
package export

import (
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadgen/internal/model"
)

// Sheet names in an exported workbook.
const (
	ContactsSheet  = "Contacts"
	CompaniesSheet = "Companies"
)

var (
	contactHeader = []string{"Email", "Name", "Title", "Company", "Domain", "Score", "Status", "Inferred", "Confidence", "Source", "Stages"}
	companyHeader = []string{"Domain", "Name", "Source", "Crawled", "Pages", "Technologies", "Contacts"}
)

// Options filters exported contacts.
type Options struct {
	MinScore float64
	// Statuses keeps only contacts with these verification statuses. Empty
	// keeps all.
	Statuses []model.VerificationStatus
}

func (o Options) keep(c model.CandidateContact) bool {
	if c.Score < o.MinScore {
		return false
	}
	return len(o.Statuses) == 0 || slices.Contains(o.Statuses, c.Verification.Status)
}

// Workbook builds a two-sheet workbook of contacts, best score first, and
// their companies.
func Workbook(companies []model.CandidateCompany, contacts []model.CandidateContact, opts Options) (*xlsx.File, error) {
	byID := make(map[string]model.CandidateCompany, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	kept := make([]model.CandidateContact, 0, len(contacts))
	perCompany := make(map[string]int)
	for _, c := range contacts {
		if opts.keep(c) {
			kept = append(kept, c)
			perCompany[c.CompanyID]++
		}
	}
	slices.SortStableFunc(kept, func(a, b model.CandidateContact) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Email, b.Email)
	})

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ContactsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add contacts sheet")
	}
	addRow(sheet, contactHeader)
	for _, c := range kept {
		addRow(sheet, []string{
			c.Email,
			c.Name,
			c.Title,
			byID[c.CompanyID].Name,
			c.Domain,
			strconv.FormatFloat(c.Score, 'f', 3, 64),
			string(c.Verification.Status),
			strconv.FormatBool(c.Inferred),
			strconv.FormatFloat(c.Confidence, 'f', 3, 64),
			string(c.Source),
			stageSummary(c.Verification.Stages),
		})
	}

	sheet, err = f.AddSheet(CompaniesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add companies sheet")
	}
	addRow(sheet, companyHeader)
	for _, c := range companies {
		addRow(sheet, []string{
			c.Domain,
			c.Name,
			string(c.Source),
			strconv.FormatBool(c.Crawled),
			strconv.Itoa(c.PagesCrawled),
			strings.Join(c.Technologies, ", "),
			strconv.Itoa(perCompany[c.ID]),
		})
	}
	return f, nil
}

// WriteXLSX writes the workbook to w.
func WriteXLSX(w io.Writer, companies []model.CandidateCompany, contacts []model.CandidateContact, opts Options) error {
	f, err := Workbook(companies, contacts, opts)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write")
}

// SaveXLSX writes the workbook to path.
func SaveXLSX(path string, companies []model.CandidateCompany, contacts []model.CandidateContact, opts Options) error {
	f, err := Workbook(companies, contacts, opts)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func stageSummary(stages []model.StageResult) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s.Stage) + ":" + string(s.Outcome)
	}
	return strings.Join(parts, " ")
}
