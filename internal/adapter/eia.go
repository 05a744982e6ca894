package adapter

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

func init() {
	Default.Register(NewEIAAdapter())
}

// eiaBatchSize is the EIA v2 API's maximum page length.
const eiaBatchSize = 5000

// eiaCategoryColumns holds the category-specific columns appended to the
// base EIA schema, and the extra unique-key column (beyond period,
// series_id, area_code) each category's natural key includes.
var eiaCategoryColumns = map[string][]provision.ColumnSpec{
	"petroleum":         {{Name: "duoarea", SQLType: "TEXT", Nullable: true}, {Name: "product_name", SQLType: "TEXT", Nullable: true}},
	"natural_gas":       {{Name: "duoarea", SQLType: "TEXT", Nullable: true}, {Name: "process_name", SQLType: "TEXT", Nullable: true}},
	"electricity":       {{Name: "sectorid", SQLType: "TEXT", Nullable: true}, {Name: "sector_name", SQLType: "TEXT", Nullable: true}, {Name: "stateid", SQLType: "TEXT", Nullable: true}, {Name: "state_name", SQLType: "TEXT", Nullable: true}},
	"retail_gas_prices": {{Name: "grade", SQLType: "TEXT", Nullable: true}, {Name: "formulation", SQLType: "TEXT", Nullable: true}},
	"steo":              {{Name: "series_name", SQLType: "TEXT", Nullable: true}, {Name: "series_description", SQLType: "TEXT", Nullable: true}},
}

var eiaCategoryUniqueExtra = map[string]string{
	"petroleum":   "product",
	"natural_gas": "process",
}

var eiaDefaultRoutes = map[string]string{
	"petroleum":         "pet/cons/psup/a",
	"natural_gas":       "natural-gas/cons/sum/a",
	"electricity":       "electricity/retail-sales",
	"retail_gas_prices": "petroleum-marketing/retail",
	"steo":              "steo",
}

// EIAAdapter ingests the Energy Information Administration's v2 REST API:
// petroleum, natural gas, electricity, retail gas prices, and STEO
// projections each land in their own eia_<category>[_<subcategory>] table.
type EIAAdapter struct{}

func NewEIAAdapter() *EIAAdapter { return &EIAAdapter{} }

func (a *EIAAdapter) Name() string { return "eia" }

func (a *EIAAdapter) Defaults() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 2
	p.RateLimit = time.Second // EIA's published limit is 60 req/min per key
	p.MaxRetries = 3
	return p
}

func (a *EIAAdapter) SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error) {
	category, _ := config["category"].(string)
	if category == "" {
		category = dataset
	}
	subcategory, _ := config["subcategory"].(string)

	tableName := "eia_" + category
	datasetID := "eia_" + category
	if subcategory != "" {
		tableName += "_" + subcategory
		datasetID += "_" + subcategory
	}

	columns := []provision.ColumnSpec{
		{Name: "period", SQLType: "TEXT"},
		{Name: "value", SQLType: "NUMERIC", Nullable: true},
		{Name: "units", SQLType: "TEXT", Nullable: true},
		{Name: "series_id", SQLType: "TEXT", Nullable: true},
		{Name: "product", SQLType: "TEXT", Nullable: true},
		{Name: "process", SQLType: "TEXT", Nullable: true},
		{Name: "area_code", SQLType: "TEXT", Nullable: true},
		{Name: "area_name", SQLType: "TEXT", Nullable: true},
		{Name: "state_code", SQLType: "TEXT", Nullable: true},
		{Name: "sector", SQLType: "TEXT", Nullable: true},
		{Name: "frequency", SQLType: "TEXT", Nullable: true},
	}
	columns = append(columns, eiaCategoryColumns[category]...)

	uniqueKey := []string{"period", "series_id", "area_code"}
	if extra, ok := eiaCategoryUniqueExtra[category]; ok {
		uniqueKey = append(uniqueKey, extra)
	}

	return provision.SchemaSpec{
		Source:      "eia",
		DatasetID:   datasetID,
		TableName:   tableName,
		DisplayName: displayName(category, subcategory),
		Columns:     columns,
		UniqueKey:   uniqueKey,
		Indexes: []provision.IndexSpec{
			{Columns: []string{"period"}},
			{Columns: []string{"series_id"}},
			{Columns: []string{"period", "area_code", "product", "sector"}},
		},
	}, nil
}

func displayName(category, subcategory string) string {
	if subcategory != "" {
		return fmt.Sprintf("EIA %s %s", category, subcategory)
	}
	return fmt.Sprintf("EIA %s", category)
}

func (a *EIAAdapter) Plan(config map[string]any) (Pager, error) {
	category, _ := config["category"].(string)
	if category == "" {
		return nil, ingesterr.Config("eia adapter: config.category is required")
	}
	apiKey, _ := config["api_key"].(string)
	if apiKey == "" {
		return nil, ingesterr.Auth("eia adapter: config.api_key is required; register at https://www.eia.gov/opendata/register.php")
	}

	route, _ := config["route"].(string)
	if route == "" {
		route = eiaDefaultRoutes[category]
	}
	if route == "" {
		return nil, ingesterr.Config("eia adapter: no default route for category %q, set config.route", category)
	}

	query := map[string]string{"api_key": apiKey}
	if start, ok := config["start"].(string); ok && start != "" {
		query["start"] = start
	}
	if end, ok := config["end"].(string); ok && end != "" {
		query["end"] = end
	}
	if facets, ok := config["facets"].(map[string]any); ok {
		for k, v := range facets {
			if s, ok := v.(string); ok {
				query[fmt.Sprintf("facets[%s]", k)] = s
			}
		}
	}

	seed := FetchStep{
		URL:   fmt.Sprintf("https://api.eia.gov/v2/%s/data/", route),
		Query: query,
	}
	return NewOffsetPager(seed, eiaBatchSize, 0, "offset", "length"), nil
}

func (a *EIAAdapter) Parse(_ FetchStep, payload []byte) ([]model.Row, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ingesterr.Parse(nil, "eia adapter: response is not valid JSON")
	}
	result := gjson.GetBytes(payload, "response.data")
	if !result.Exists() {
		result = gjson.GetBytes(payload, "data")
	}
	if !result.Exists() || !result.IsArray() {
		return nil, nil
	}

	var rows []model.Row
	for _, rec := range result.Array() {
		row := parseEIARecord(rec)
		if row == nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseEIARecord(rec gjson.Result) model.Row {
	if !rec.IsObject() {
		return nil
	}
	row := model.Row{
		"period": model.Text(rec.Get("period").String()),
	}
	if row["period"].Native() == "" {
		return nil
	}
	if v := rec.Get("value"); v.Exists() && v.Type == gjson.Number {
		row["value"] = model.Number(v.Float())
	} else {
		row["value"] = model.Null()
	}
	setText(row, "units", rec.Get("units"))
	setFirstText(row, "series_id", rec.Get("series-id"), rec.Get("seriesId"))
	setFirstText(row, "product", rec.Get("product"))
	setFirstText(row, "product_name", rec.Get("product-name"))
	setFirstText(row, "process", rec.Get("process"))
	setFirstText(row, "process_name", rec.Get("process-name"))
	setFirstText(row, "area_code", rec.Get("area"))
	setFirstText(row, "area_name", rec.Get("area-name"), rec.Get("state-name"))
	setFirstText(row, "duoarea", rec.Get("duoarea"))
	setFirstText(row, "state_code", rec.Get("state"), rec.Get("stateid"))
	setFirstText(row, "sector", rec.Get("sector"), rec.Get("sectorid"))
	setFirstText(row, "sector_name", rec.Get("sector-name"))
	setFirstText(row, "frequency", rec.Get("frequency"))
	setFirstText(row, "grade", rec.Get("grade"))
	setFirstText(row, "formulation", rec.Get("formulation"))
	setFirstText(row, "series_name", rec.Get("series-name"))
	setFirstText(row, "series_description", rec.Get("series-description"))
	return row
}

func setText(row model.Row, col string, v gjson.Result) {
	if v.Exists() {
		row[col] = model.Text(v.String())
	}
}

func setFirstText(row model.Row, col string, candidates ...gjson.Result) {
	for _, v := range candidates {
		if v.Exists() {
			row[col] = model.Text(v.String())
			return
		}
	}
}
