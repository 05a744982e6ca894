package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

func init() {
	Default.Register(NewDUNLAdapter())
}

// preferredLanguage is the language tag DUNL literal selection prefers
// when a node carries the same predicate in more than one language.
const preferredLanguage = "en"

// DUNLAdapter ingests JSON-LD graphs (Dutch Unified Linked-data format):
// documents nest their entities under "@graph", and each entity's literal
// values may be typed (`@value`/`@type`) or language-tagged
// (`@value`/`@language`). config.graph_path is a jsonpath expression
// (default `$["@graph"][*]`) so the same adapter code serves any DUNL
// feed shape without per-feed Go code.
type DUNLAdapter struct{}

func NewDUNLAdapter() *DUNLAdapter { return &DUNLAdapter{} }

func (a *DUNLAdapter) Name() string { return "dunl" }

func (a *DUNLAdapter) Defaults() fetch.Policy {
	return fetch.DefaultPolicy()
}

func (a *DUNLAdapter) SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error) {
	tableName, _ := config["table_name"].(string)
	if tableName == "" {
		tableName = "dunl_" + dataset
	}
	return provision.SchemaSpec{
		Source:      "dunl",
		DatasetID:   dataset,
		TableName:   tableName,
		DisplayName: "DUNL " + dataset,
		Columns: []provision.ColumnSpec{
			{Name: "node_id", SQLType: "TEXT"},
			{Name: "node_type", SQLType: "TEXT", Nullable: true},
			{Name: "properties", SQLType: "JSONB", Nullable: true},
		},
		UniqueKey: []string{"node_id"},
	}, nil
}

func (a *DUNLAdapter) Plan(config map[string]any) (Pager, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ingesterr.Config("dunl adapter: config.url is required")
	}
	step := FetchStep{URL: url}
	if p, _ := config["graph_path"].(string); p != "" {
		step.Query = map[string]string{"graph_path": p}
	}
	return NewSinglePager(step), nil
}

func (a *DUNLAdapter) Parse(step FetchStep, payload []byte) ([]model.Row, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, ingesterr.Parse(err, "dunl adapter: payload is not valid JSON")
	}

	graphPath := `$["@graph"][*]`
	if step.Query != nil {
		if p, ok := step.Query["graph_path"]; ok && p != "" {
			graphPath = p
		}
	}

	nodesAny, err := jsonpath.Get(graphPath, doc)
	if err != nil {
		return nil, ingesterr.Parse(err, "dunl adapter: graph_path %q did not resolve", graphPath)
	}
	nodes, ok := nodesAny.([]any)
	if !ok {
		return nil, nil
	}

	var rows []model.Row
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		id, _ := node["@id"].(string)
		if id == "" {
			continue
		}
		nodeType, _ := node["@type"].(string)

		props := map[string]any{}
		for k, v := range node {
			if k == "@id" || k == "@type" {
				continue
			}
			props[k] = literalValue(v)
		}

		propsJSON, err := json.Marshal(props)
		if err != nil {
			continue
		}
		rows = append(rows, model.Row{
			"node_id":    model.Text(id),
			"node_type":  model.Text(nodeType),
			"properties": model.Text(string(propsJSON)),
		})
	}
	return rows, nil
}

// literalValue resolves a JSON-LD value expression to its plain form,
// preferring the preferredLanguage tag when a predicate carries multiple
// language-tagged literals in an array.
func literalValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if val, ok := t["@value"]; ok {
			return val
		}
		return t
	case []any:
		var fallback any
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				fallback = item
				continue
			}
			val, hasVal := m["@value"]
			if !hasVal {
				continue
			}
			lang, _ := m["@language"].(string)
			if lang == preferredLanguage || lang == "" {
				return val
			}
			if fallback == nil {
				fallback = val
			}
		}
		if fallback != nil {
			return fallback
		}
		return fmt.Sprintf("%v", t)
	default:
		return t
	}
}
