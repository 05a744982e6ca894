package adapter

import "testing"

func TestFeedParseExtractsItemsKeyedByGUID(t *testing.T) {
	a := NewFeedAdapter()
	xml := `<?xml version="1.0"?>
	<rss><channel>
		<item><title>Market opens higher</title><link>http://x/1</link><guid>guid-1</guid><pubDate>Mon, 01 Jan 2024</pubDate></item>
		<item><title>No guid item</title><link>http://x/2</link></item>
	</channel></rss>`
	rows, err := a.Parse(FetchStep{}, []byte(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	guid, _ := rows[0]["guid"].String()
	if guid != "guid-1" {
		t.Fatalf("unexpected guid: %q", guid)
	}
	secondGUID, _ := rows[1]["guid"].String()
	if secondGUID != "http://x/2" {
		t.Fatalf("expected fallback to link as guid, got %q", secondGUID)
	}
}

func TestFeedParseRejectsInvalidXML(t *testing.T) {
	a := NewFeedAdapter()
	if _, err := a.Parse(FetchStep{}, []byte("not xml")); err == nil {
		t.Fatal("expected parse error")
	}
}
