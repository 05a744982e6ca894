package collect

import (
	"fmt"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// Dedupe groups items by an item-type-specific key and reduces each group
// to one item: the highest-confidence candidate wins, with any field it is
// missing filled in from a lower-confidence candidate that has it.
func Dedupe(items []model.CollectedItem) []model.CollectedItem {
	groups := make(map[string][]model.CollectedItem)
	var order []string
	for _, item := range items {
		key := dedupKey(item)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], item)
	}

	out := make([]model.CollectedItem, 0, len(order))
	for _, key := range order {
		out = append(out, mergeGroup(groups[key]))
	}
	return out
}

func dedupKey(item model.CollectedItem) string {
	switch item.ItemType {
	case "contact":
		name, _ := item.Data["name"].(string)
		return fmt.Sprintf("contact|%s|%s", item.TargetID, normalizeName(name))
	case "holding":
		cusip, _ := item.Data["cusip"].(string)
		reportDate, _ := item.Data["report_date"].(time.Time)
		return fmt.Sprintf("holding|%s|%s", cusip, reportDate.Format("2006-01-02"))
	case "document", "news":
		return fmt.Sprintf("doc|%s", item.SourceURL)
	default:
		return fmt.Sprintf("other|%s|%s|%s", item.ItemType, item.TargetID, item.SourceURL)
	}
}

// mergeGroup picks the highest-confidence item as the winner and backfills
// any field it lacks from a lower-confidence member of the same group.
func mergeGroup(group []model.CollectedItem) model.CollectedItem {
	winner := group[0]
	for _, candidate := range group[1:] {
		if candidate.Confidence.Outranks(winner.Confidence) {
			winner = candidate
		}
	}

	merged := winner
	merged.Data = make(map[string]any, len(winner.Data))
	for k, v := range winner.Data {
		merged.Data[k] = v
	}
	for _, candidate := range group {
		for k, v := range candidate.Data {
			if _, exists := merged.Data[k]; !exists {
				merged.Data[k] = v
			}
		}
	}
	if len(group) > 1 {
		merged.AdditionalSources = additionalSources(group, winner)
	}
	return merged
}

func additionalSources(group []model.CollectedItem, winner model.CollectedItem) []string {
	var extra []string
	seen := map[string]bool{winner.SourceURL: true}
	for _, candidate := range group {
		if candidate.SourceURL == "" || seen[candidate.SourceURL] {
			continue
		}
		seen[candidate.SourceURL] = true
		extra = append(extra, candidate.SourceURL)
	}
	return extra
}
