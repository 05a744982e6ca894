package adapter

import "testing"

func TestDUNLParseFollowsGraphAndPrefersEnglishLiteral(t *testing.T) {
	a := NewDUNLAdapter()
	payload := []byte(`{
		"@graph": [
			{
				"@id": "urn:entity:1",
				"@type": "schema:Organization",
				"schema:name": [
					{"@value": "Stichting Voorbeeld", "@language": "nl"},
					{"@value": "Example Foundation", "@language": "en"}
				]
			},
			{"@id": "", "@type": "schema:Organization"}
		]
	}`)
	rows, err := a.Parse(FetchStep{}, payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row (second node has no @id), got %d", len(rows))
	}
	id, _ := rows[0]["node_id"].String()
	if id != "urn:entity:1" {
		t.Fatalf("unexpected node_id: %v", rows[0]["node_id"])
	}
	props, _ := rows[0]["properties"].String()
	if props == "" {
		t.Fatal("expected non-empty properties JSON")
	}
}

func TestDUNLParseRejectsInvalidJSON(t *testing.T) {
	a := NewDUNLAdapter()
	if _, err := a.Parse(FetchStep{}, []byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
