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
	Default.Register(NewGenericRESTAdapter("fred", GenericRESTSpec{
		BaseURL:  "https://api.stlouisfed.org/fred",
		DataPath: "observations",
		Fields: []FieldMap{
			{SourceKey: "date", Column: "period", Kind: model.KindText},
			{SourceKey: "value", Column: "value", Kind: model.KindNumber},
			{SourceKey: "realtime_start", Column: "realtime_start", Kind: model.KindText},
			{SourceKey: "realtime_end", Column: "realtime_end", Kind: model.KindText},
		},
		UniqueKey:     []string{"period"},
		APIKeyParam:   "api_key",
		PageParam:     "offset",
		PageSizeParam: "limit",
		PageSize:      1000,
	}))
	Default.Register(NewGenericRESTAdapter("census", GenericRESTSpec{
		BaseURL:  "https://api.census.gov/data",
		DataPath: "data",
		Fields: []FieldMap{
			{SourceKey: "NAME", Column: "area_name", Kind: model.KindText},
			{SourceKey: "GEO_ID", Column: "geo_id", Kind: model.KindText},
		},
		UniqueKey:     []string{"geo_id"},
		APIKeyParam:   "key",
		PageParam:     "",
		PageSizeParam: "",
	}))
}

// FieldMap maps one upstream JSON field to a declared row column, coerced
// to Kind. Source adapters in this family are entirely data-driven: a new
// REST+JSON source is a new GenericRESTSpec, not new Go code.
type FieldMap struct {
	SourceKey string
	Column    string
	Kind      model.Kind
}

// GenericRESTSpec parameterizes one member of the Census/FRED-style
// REST+JSON adapter family: a single paginated JSON endpoint whose records
// live at DataPath and whose fields map 1:1 onto declared columns.
type GenericRESTSpec struct {
	BaseURL       string
	DataPath      string
	Fields        []FieldMap
	UniqueKey     []string
	Indexes       []provision.IndexSpec
	APIKeyParam   string
	PageParam     string // empty disables pagination (single-page source)
	PageSizeParam string
	PageSize      int
	Policy        fetch.Policy
}

// GenericRESTAdapter implements Adapter for one GenericRESTSpec. A
// REST+JSON source other than EIA is added by registering an instance of
// this adapter rather than hand-writing a parser; the instances registered
// here are "fred" and "census".
type GenericRESTAdapter struct {
	name string
	spec GenericRESTSpec
}

func NewGenericRESTAdapter(name string, spec GenericRESTSpec) *GenericRESTAdapter {
	if spec.PageSize <= 0 {
		spec.PageSize = 1000
	}
	return &GenericRESTAdapter{name: name, spec: spec}
}

func (a *GenericRESTAdapter) Name() string { return a.name }

func (a *GenericRESTAdapter) Defaults() fetch.Policy {
	if a.spec.Policy != (fetch.Policy{}) {
		return a.spec.Policy
	}
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 3
	p.RateLimit = 200 * time.Millisecond
	return p
}

func (a *GenericRESTAdapter) SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error) {
	tableName, _ := config["table_name"].(string)
	if tableName == "" {
		tableName = a.name + "_" + dataset
	}
	datasetID, _ := config["dataset_id"].(string)
	if datasetID == "" {
		datasetID = dataset
	}

	columns := make([]provision.ColumnSpec, 0, len(a.spec.Fields))
	for _, f := range a.spec.Fields {
		columns = append(columns, provision.ColumnSpec{
			Name:     f.Column,
			SQLType:  sqlTypeFor(f.Kind),
			Nullable: true,
		})
	}

	return provision.SchemaSpec{
		Source:      a.name,
		DatasetID:   datasetID,
		TableName:   tableName,
		DisplayName: fmt.Sprintf("%s %s", a.name, dataset),
		Columns:     columns,
		UniqueKey:   a.spec.UniqueKey,
		Indexes:     a.spec.Indexes,
	}, nil
}

func sqlTypeFor(k model.Kind) string {
	switch k {
	case model.KindInteger:
		return "BIGINT"
	case model.KindNumber:
		return "NUMERIC"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (a *GenericRESTAdapter) Plan(config map[string]any) (Pager, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, ingesterr.Config("%s adapter: config.path is required", a.name)
	}
	apiKey, _ := config["api_key"].(string)
	if apiKey == "" && a.spec.APIKeyParam != "" {
		return nil, ingesterr.Auth("%s adapter: config.api_key is required", a.name)
	}

	query := map[string]string{}
	if params, ok := config["params"].(map[string]any); ok {
		for k, v := range params {
			if s, ok := v.(string); ok {
				query[k] = s
			}
		}
	}
	if a.spec.APIKeyParam != "" {
		query[a.spec.APIKeyParam] = apiKey
	}

	seed := FetchStep{
		URL:   a.spec.BaseURL + path,
		Query: query,
	}

	if a.spec.PageParam == "" {
		return NewSinglePager(seed), nil
	}
	return NewOffsetPager(seed, a.spec.PageSize, 0, a.spec.PageParam, a.spec.PageSizeParam), nil
}

func (a *GenericRESTAdapter) Parse(_ FetchStep, payload []byte) ([]model.Row, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ingesterr.Parse(nil, "%s adapter: response is not valid JSON", a.name)
	}
	result := gjson.GetBytes(payload, a.spec.DataPath)
	if !result.Exists() || !result.IsArray() {
		return nil, nil
	}

	var rows []model.Row
	for _, rec := range result.Array() {
		row := a.parseRecord(rec)
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (a *GenericRESTAdapter) parseRecord(rec gjson.Result) model.Row {
	if !rec.IsObject() {
		return nil
	}
	row := model.Row{}
	for _, f := range a.spec.Fields {
		v := rec.Get(f.SourceKey)
		if !v.Exists() {
			row[f.Column] = model.Null()
			continue
		}
		switch f.Kind {
		case model.KindNumber:
			row[f.Column] = model.Number(v.Float())
		case model.KindInteger:
			row[f.Column] = model.Integer(v.Int())
		case model.KindBoolean:
			row[f.Column] = model.Boolean(v.Bool())
		default:
			row[f.Column] = model.Text(v.String())
		}
	}
	return row
}
