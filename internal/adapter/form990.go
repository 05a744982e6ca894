package adapter

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

func init() {
	Default.Register(NewForm990Adapter())
}

// Form990Adapter ingests nonprofit Form 990 filings from ProPublica's
// Nonprofit Explorer API: one JSON document per EIN, rows keyed by
// (ein, tax_year) so a re-fetched organization only updates the years
// that actually changed.
type Form990Adapter struct{}

func NewForm990Adapter() *Form990Adapter { return &Form990Adapter{} }

func (a *Form990Adapter) Name() string { return "form_990" }

func (a *Form990Adapter) Defaults() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 4
	p.RateLimit = 100 * time.Millisecond
	return p
}

func (a *Form990Adapter) SchemaFor(string, map[string]any) (provision.SchemaSpec, error) {
	return provision.SchemaSpec{
		Source:      "form_990",
		DatasetID:   "form_990_filings",
		TableName:   "form_990_filings",
		DisplayName: "Form 990 Filings",
		Columns: []provision.ColumnSpec{
			{Name: "ein", SQLType: "TEXT"},
			{Name: "tax_year", SQLType: "INTEGER"},
			{Name: "organization_name", SQLType: "TEXT", Nullable: true},
			{Name: "total_revenue", SQLType: "NUMERIC", Nullable: true},
			{Name: "total_expenses", SQLType: "NUMERIC", Nullable: true},
			{Name: "total_assets", SQLType: "NUMERIC", Nullable: true},
			{Name: "pdf_url", SQLType: "TEXT", Nullable: true},
		},
		UniqueKey: []string{"ein", "tax_year"},
		Indexes:   []provision.IndexSpec{{Columns: []string{"ein"}}},
	}, nil
}

func (a *Form990Adapter) Plan(config map[string]any) (Pager, error) {
	ein, _ := config["ein"].(string)
	if ein == "" {
		return nil, ingesterr.Config("form_990 adapter: config.ein is required")
	}
	return NewSinglePager(FetchStep{
		URL: "https://projects.propublica.org/nonprofits/api/v2/organizations/" + ein + ".json",
	}), nil
}

func (a *Form990Adapter) Parse(_ FetchStep, payload []byte) ([]model.Row, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ingesterr.Parse(nil, "form_990 adapter: response is not valid JSON")
	}
	ein := gjson.GetBytes(payload, "organization.ein").String()
	name := gjson.GetBytes(payload, "organization.name").String()
	filings := gjson.GetBytes(payload, "filings_with_data")
	if ein == "" || !filings.IsArray() {
		return nil, nil
	}

	var rows []model.Row
	for _, f := range filings.Array() {
		year := f.Get("tax_prd_yr")
		if !year.Exists() {
			continue
		}
		rows = append(rows, model.Row{
			"ein":               model.Text(ein),
			"tax_year":          model.Integer(year.Int()),
			"organization_name": model.Text(name),
			"total_revenue":     model.Number(f.Get("totrevenue").Float()),
			"total_expenses":    model.Number(f.Get("totfuncexpns").Float()),
			"total_assets":      model.Number(f.Get("totassetsend").Float()),
			"pdf_url":           model.Text(f.Get("pdf_url").String()),
		})
	}
	return rows, nil
}
