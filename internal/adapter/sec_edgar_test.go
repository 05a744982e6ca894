package adapter

import "testing"

func TestSECEdgarParseExtractsCUSIPKeyedHoldings(t *testing.T) {
	a := NewSECEdgarAdapter()
	payload := []byte(`{
		"infoTable": [
			{"cusip": "037833100", "reportDate": "2024-03-31", "filerCik": "0001", "nameOfIssuer": "Apple Inc", "value": 12345, "shrsOrPrnAmt": {"sshPrnamt": 100}, "investmentDiscretion": "SOLE"},
			{"cusip": "", "reportDate": "2024-03-31"}
		]
	}`)
	rows, err := a.Parse(FetchStep{}, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row (second has no cusip), got %d", len(rows))
	}
	cusip, _ := rows[0]["cusip"].String()
	if cusip != "037833100" {
		t.Fatalf("unexpected cusip: %q", cusip)
	}
}

func TestSECEdgarPlanRequiresIndexURL(t *testing.T) {
	a := NewSECEdgarAdapter()
	if _, err := a.Plan(map[string]any{}); err == nil {
		t.Fatal("expected error when index_url missing")
	}
}
