package collect

import (
	"testing"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

func TestDedupeKeepsHigherConfidenceAndBackfillsMissingFields(t *testing.T) {
	items := []model.CollectedItem{
		{
			ItemType: "contact", TargetID: "lp-calpers", Source: "web_crawler", SourceURL: "https://a",
			Confidence: model.ConfidenceMedium,
			Data:       map[string]any{"name": "Jane Doe", "title": "Chief Investment Officer"},
		},
		{
			ItemType: "contact", TargetID: "lp-calpers", Source: "rss_feed", SourceURL: "https://b",
			Confidence: model.ConfidenceHigh,
			Data:       map[string]any{"name": "Jane Doe", "email": "j@x"},
		},
	}

	out := Dedupe(items)
	if len(out) != 1 {
		t.Fatalf("expected 1 deduped item, got %d", len(out))
	}
	winner := out[0]
	if winner.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected high-confidence item to win, got %s", winner.Confidence)
	}
	if winner.Data["email"] != "j@x" {
		t.Fatalf("expected winner's own email to survive")
	}
	if winner.Data["title"] != "Chief Investment Officer" {
		t.Fatalf("expected title backfilled from lower-confidence candidate")
	}
	if len(winner.AdditionalSources) != 1 || winner.AdditionalSources[0] != "https://a" {
		t.Fatalf("expected losing source retained in AdditionalSources, got %v", winner.AdditionalSources)
	}
}

func TestDedupeTreatsDistinctTargetsAsSeparateGroups(t *testing.T) {
	items := []model.CollectedItem{
		{ItemType: "contact", TargetID: "lp-a", Confidence: model.ConfidenceHigh, Data: map[string]any{"name": "Jane Doe"}},
		{ItemType: "contact", TargetID: "lp-b", Confidence: model.ConfidenceHigh, Data: map[string]any{"name": "Jane Doe"}},
	}
	out := Dedupe(items)
	if len(out) != 2 {
		t.Fatalf("expected 2 groups (different targets), got %d", len(out))
	}
}

func TestFilterAppliesTypeAndPriority(t *testing.T) {
	targets := []model.CollectionTarget{
		{ID: "1", Type: "public_pension", Region: "north_america", CollectionPriority: 1},
		{ID: "2", Type: "endowment", Region: "europe", CollectionPriority: 5},
	}
	f := Filter{Types: []string{"public_pension"}, MaxPriority: 2}
	out := f.Apply(targets)
	if len(out) != 1 || out[0].ID != "1" {
		t.Fatalf("expected only target 1 to survive the filter, got %+v", out)
	}
}
