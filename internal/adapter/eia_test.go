package adapter

import (
	"testing"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
)

func TestEIASchemaForIsDeterministicAndCategorySpecific(t *testing.T) {
	a := NewEIAAdapter()
	cfg := map[string]any{"category": "petroleum", "subcategory": "consumption"}

	s1, err := a.SchemaFor("petroleum", cfg)
	if err != nil {
		t.Fatalf("schema_for: %v", err)
	}
	s2, err := a.SchemaFor("petroleum", cfg)
	if err != nil {
		t.Fatalf("schema_for: %v", err)
	}
	if s1.TableName != s2.TableName || s1.TableName != "eia_petroleum_consumption" {
		t.Fatalf("expected reproducible table name, got %q and %q", s1.TableName, s2.TableName)
	}

	hasProductName := false
	for _, c := range s1.Columns {
		if c.Name == "product_name" {
			hasProductName = true
		}
	}
	if !hasProductName {
		t.Fatalf("expected petroleum-specific column product_name, got %+v", s1.Columns)
	}
}

func TestEIAPlanRequiresAPIKey(t *testing.T) {
	a := NewEIAAdapter()
	_, err := a.Plan(map[string]any{"category": "petroleum"})
	if err == nil {
		t.Fatal("expected error when api_key is missing")
	}
	if kind, _ := ingesterr.KindOf(err); kind != ingesterr.KindAuth {
		t.Fatalf("expected KindAuth, got %v", kind)
	}
}

func TestEIAPlanBuildsOffsetPagerSeed(t *testing.T) {
	a := NewEIAAdapter()
	pager, err := a.Plan(map[string]any{"category": "petroleum", "api_key": "k", "start": "2020", "end": "2024"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	step, ok := pager.Step()
	if !ok {
		t.Fatal("expected first step")
	}
	if step.URL != "https://api.eia.gov/v2/pet/cons/psup/a/data/" {
		t.Fatalf("unexpected url: %s", step.URL)
	}
	if step.Query["api_key"] != "k" || step.Query["start"] != "2020" || step.Query["length"] != "5000" {
		t.Fatalf("unexpected query: %v", step.Query)
	}
}

func TestEIAParseExtractsRecordsAndSkipsMissingPeriod(t *testing.T) {
	a := NewEIAAdapter()
	payload := []byte(`{
		"response": {
			"data": [
				{"period": "2024-01", "value": 12.5, "units": "MBBL", "series-id": "PET.X", "area": "NUS", "product": "EPC0"},
				{"value": 1.0}
			]
		}
	}`)
	rows, err := a.Parse(FetchStep{}, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row (second has no period), got %d", len(rows))
	}
	period, ok := rows[0]["period"].String()
	if !ok || period != "2024-01" {
		t.Fatalf("unexpected period: %v", rows[0]["period"])
	}
	val, ok := rows[0]["value"].Float()
	if !ok || val != 12.5 {
		t.Fatalf("unexpected value: %v", rows[0]["value"])
	}
}

func TestEIAParseRejectsInvalidJSON(t *testing.T) {
	a := NewEIAAdapter()
	_, err := a.Parse(FetchStep{}, []byte("not json"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if kind, _ := ingesterr.KindOf(err); kind != ingesterr.KindParse {
		t.Fatalf("expected KindParse, got %v", kind)
	}
}
