// Package collect implements the Collection Orchestrator (C8): it loads the
// static LP/FO target registries, fans out one task per target under a
// bounded semaphore (each task runs that target's sources in turn),
// deduplicates what comes back, and
// persists typed items through the CollectionStore.
package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
)

// registryEntry mirrors one JSON array element in an LP/FO registry file.
type registryEntry struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Region             string         `json:"region"`
	CountryCode        string         `json:"country_code"`
	WebsiteURL         string         `json:"website_url"`
	PrincipalName      string         `json:"principal_name"`
	CollectionPriority int            `json:"collection_priority"`
	Extra              map[string]any `json:"extra"`
}

// LoadRegistry reads a registry JSON file (an array of target entries) and
// returns its targets. The file is treated as read-only input; any
// last_collection_at history lives in the database, not here.
func LoadRegistry(path string) ([]model.CollectionTarget, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConfig, fmt.Sprintf("read registry file %s", path), err)
	}

	var entries []registryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindParse, fmt.Sprintf("parse registry file %s", path), err)
	}

	targets := make([]model.CollectionTarget, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Name == "" {
			continue
		}
		priority := e.CollectionPriority
		if priority <= 0 {
			priority = 5
		}
		targets = append(targets, model.CollectionTarget{
			ID: e.ID, Name: e.Name, Type: e.Type, Region: e.Region, CountryCode: e.CountryCode,
			WebsiteURL: e.WebsiteURL, PrincipalName: e.PrincipalName, CollectionPriority: priority,
			Extra: e.Extra,
		})
	}
	return targets, nil
}

// Filter narrows a target list by caller-supplied predicates.
type Filter struct {
	Types           []string
	Regions         []string
	MaxPriority     int           // 0 means unbounded; priority 1 is highest
	StaleAfter      time.Duration // zero means ignore staleness
	Now             time.Time
}

// Apply returns the subset of targets matching f. A target with no
// last_collection_at is always considered stale.
func (f Filter) Apply(targets []model.CollectionTarget) []model.CollectionTarget {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	typeSet := toSet(f.Types)
	regionSet := toSet(f.Regions)

	out := make([]model.CollectionTarget, 0, len(targets))
	for _, t := range targets {
		if len(typeSet) > 0 && !typeSet[t.Type] {
			continue
		}
		if len(regionSet) > 0 && !regionSet[t.Region] {
			continue
		}
		if f.MaxPriority > 0 && t.CollectionPriority > f.MaxPriority {
			continue
		}
		if f.StaleAfter > 0 {
			if t.LastCollectionAt != nil && now.Sub(*t.LastCollectionAt) < f.StaleAfter {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
