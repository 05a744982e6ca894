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
	Default.Register(NewSECEdgarAdapter())
}

// SECEdgarAdapter ingests 13F and Form ADV holdings reports from one JSON
// document at config.index_url: its "infoTable" (or "holdings") array is
// parsed into rows keyed by (cusip, report_date, filer_cik), so a
// re-filing for the same quarter upserts while a later quarter adds new
// rows. The adapter makes exactly one fetch: it does not follow per-filing
// links out of a filing index, and it reads only JSON (no XML info tables).
type SECEdgarAdapter struct{}

func NewSECEdgarAdapter() *SECEdgarAdapter { return &SECEdgarAdapter{} }

func (a *SECEdgarAdapter) Name() string { return "sec_edgar" }

func (a *SECEdgarAdapter) Defaults() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 4
	p.RateLimit = 150 * time.Millisecond // EDGAR's published fair-access limit
	return p
}

func (a *SECEdgarAdapter) SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error) {
	tableName := "sec_" + dataset
	return provision.SchemaSpec{
		Source:      "sec_edgar",
		DatasetID:   dataset,
		TableName:   tableName,
		DisplayName: "SEC EDGAR " + dataset,
		Columns: []provision.ColumnSpec{
			{Name: "cusip", SQLType: "TEXT"},
			{Name: "report_date", SQLType: "DATE"},
			{Name: "filer_cik", SQLType: "TEXT", Nullable: true},
			{Name: "name_of_issuer", SQLType: "TEXT", Nullable: true},
			{Name: "value_thousands", SQLType: "NUMERIC", Nullable: true},
			{Name: "shares_or_principal", SQLType: "NUMERIC", Nullable: true},
			{Name: "investment_discretion", SQLType: "TEXT", Nullable: true},
		},
		UniqueKey: []string{"cusip", "report_date", "filer_cik"},
		Indexes: []provision.IndexSpec{
			{Columns: []string{"cusip"}},
			{Columns: []string{"report_date"}},
		},
	}, nil
}

func (a *SECEdgarAdapter) Plan(config map[string]any) (Pager, error) {
	indexURL, _ := config["index_url"].(string)
	if indexURL == "" {
		return nil, ingesterr.Config("sec_edgar adapter: config.index_url is required")
	}
	return NewSinglePager(FetchStep{URL: indexURL}), nil
}

func (a *SECEdgarAdapter) Parse(_ FetchStep, payload []byte) ([]model.Row, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ingesterr.Parse(nil, "sec_edgar adapter: filing payload is not valid JSON")
	}
	entries := gjson.GetBytes(payload, "infoTable")
	if !entries.Exists() {
		entries = gjson.GetBytes(payload, "holdings")
	}
	if !entries.IsArray() {
		return nil, nil
	}

	var rows []model.Row
	for _, e := range entries.Array() {
		cusip := e.Get("cusip").String()
		if cusip == "" {
			continue
		}
		rows = append(rows, model.Row{
			"cusip":                 model.Text(cusip),
			"report_date":           model.Text(e.Get("reportDate").String()),
			"filer_cik":             model.Text(e.Get("filerCik").String()),
			"name_of_issuer":        model.Text(e.Get("nameOfIssuer").String()),
			"value_thousands":       model.Number(e.Get("value").Float()),
			"shares_or_principal":   model.Number(e.Get("shrsOrPrnAmt.sshPrnamt").Float()),
			"investment_discretion": model.Text(e.Get("investmentDiscretion").String()),
		})
	}
	return rows, nil
}
