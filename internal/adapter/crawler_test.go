package adapter

import "testing"

func TestCrawlerParseExtractsValidNamesAndDedupes(t *testing.T) {
	a := NewCrawlerAdapter()
	html := `<html><head><title>Our Team | Example Foundation</title></head><body>
		<div class="team-member"><h3>Jane Doe</h3></div>
		<span class="person">John Smith</span>
		<div class="team-member">contact@example.org</div>
		<span class="person">Jane Doe</span>
	</body></html>`
	rows, err := a.Parse(FetchStep{URL: "http://example.org/team"}, []byte(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 distinct valid names, got %d: %+v", len(rows), rows)
	}
	title, _ := rows[0]["page_title"].String()
	if title != "Our Team | Example Foundation" {
		t.Fatalf("unexpected title: %q", title)
	}
}

func TestCrawlerParseReturnsNoRowsWithoutMatches(t *testing.T) {
	a := NewCrawlerAdapter()
	rows, err := a.Parse(FetchStep{URL: "http://x"}, []byte("<html><body>nothing here</body></html>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}
