package adapter

import "testing"

func TestGenericRESTAdapterFREDParsesObservations(t *testing.T) {
	a, ok := Default.Get("fred")
	if !ok {
		t.Fatal("fred adapter not registered")
	}
	payload := []byte(`{"observations": [{"date": "2024-01-01", "value": "3.5"}, {"date": "2024-02-01", "value": "."}]}`)
	rows, err := a.Parse(FetchStep{}, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	period, _ := rows[0]["period"].String()
	if period != "2024-01-01" {
		t.Fatalf("unexpected period: %v", rows[0]["period"])
	}
}

func TestGenericRESTAdapterPlanRequiresPath(t *testing.T) {
	a, _ := Default.Get("fred")
	_, err := a.Plan(map[string]any{"api_key": "k"})
	if err == nil {
		t.Fatal("expected error when config.path missing")
	}
}

func TestGenericRESTAdapterSinglePageWhenNoPageParam(t *testing.T) {
	a, _ := Default.Get("census")
	pager, err := a.Plan(map[string]any{"path": "/2020/dec/pl", "api_key": "k"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, ok := pager.(*SinglePager); !ok {
		t.Fatalf("expected SinglePager for census (no PageParam), got %T", pager)
	}
}
