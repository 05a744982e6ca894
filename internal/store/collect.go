package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// CollectionStore persists the Collection Orchestrator's targets and the
// typed items its collectors produce: contacts, 13F holdings, documents.
// Each item type keeps its own upsert logic against its own natural key,
// matching the adapter/writer split used for dynamically-provisioned
// ingestion tables.
type CollectionStore struct {
	db *sqlx.DB
}

// NewCollectionStore constructs a CollectionStore over db.
func NewCollectionStore(db *sqlx.DB) *CollectionStore {
	return &CollectionStore{db: db}
}

type targetRow struct {
	ID                 string  `db:"id"`
	Name               string  `db:"name"`
	Type               string  `db:"type"`
	Region             string  `db:"region"`
	CountryCode        string  `db:"country_code"`
	WebsiteURL         string  `db:"website_url"`
	PrincipalName       string  `db:"principal_name"`
	CollectionPriority  int     `db:"collection_priority"`
	LastCollectionAt    *time.Time `db:"last_collection_at"`
	Extra               JSONMap `db:"extra"`
}

func (r targetRow) toModel() model.CollectionTarget {
	return model.CollectionTarget{
		ID: r.ID, Name: r.Name, Type: r.Type, Region: r.Region, CountryCode: r.CountryCode,
		WebsiteURL: r.WebsiteURL, PrincipalName: r.PrincipalName, CollectionPriority: r.CollectionPriority,
		LastCollectionAt: r.LastCollectionAt, Extra: map[string]any(r.Extra),
	}
}

// SyncTarget upserts one CollectionTarget loaded from the registry JSON
// file, leaving last_collection_at untouched on an existing row so a
// re-sync of the static file never resets collection history.
func (s *CollectionStore) SyncTarget(ctx context.Context, t model.CollectionTarget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_targets (id, name, type, region, country_code, website_url, principal_name, collection_priority, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, region = EXCLUDED.region,
			country_code = EXCLUDED.country_code, website_url = EXCLUDED.website_url,
			principal_name = EXCLUDED.principal_name, collection_priority = EXCLUDED.collection_priority,
			extra = EXCLUDED.extra
	`, t.ID, t.Name, t.Type, t.Region, t.CountryCode, t.WebsiteURL, t.PrincipalName, t.CollectionPriority, JSONMap(t.Extra))
	if err != nil {
		return fmt.Errorf("sync collection target %s: %w", t.ID, err)
	}
	return nil
}

// ListTargets returns every known target, highest priority (lowest
// collection_priority number) first.
func (s *CollectionStore) ListTargets(ctx context.Context) ([]model.CollectionTarget, error) {
	var rows []targetRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM collection_targets ORDER BY collection_priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("list collection targets: %w", err)
	}
	out := make([]model.CollectionTarget, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// TouchCollectedAt stamps last_collection_at for a target once at least one
// of its sources succeeded this run.
func (s *CollectionStore) TouchCollectedAt(ctx context.Context, targetID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE collection_targets SET last_collection_at = $1 WHERE id = $2`, at, targetID)
	if err != nil {
		return fmt.Errorf("touch last_collection_at for target %s: %w", targetID, err)
	}
	return nil
}

// SaveContact upserts one collected_contacts row keyed on
// (target_id, normalized_name), returning whether a row was inserted or
// changed (an existing row whose data and confidence are unchanged reports
// false).
func (s *CollectionStore) SaveContact(ctx context.Context, item model.CollectedItem, normalizedName string) (bool, error) {
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collected_contacts (id, target_id, normalized_name, data, source, source_url, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (target_id, normalized_name) DO UPDATE SET
			data = EXCLUDED.data, source = EXCLUDED.source, source_url = EXCLUDED.source_url,
			confidence = EXCLUDED.confidence, ingested_at = now()
		WHERE collected_contacts.confidence IS DISTINCT FROM EXCLUDED.confidence
		   OR collected_contacts.data IS DISTINCT FROM EXCLUDED.data
	`, id, item.TargetID, normalizedName, JSONMap(item.Data), item.Source, item.SourceURL, item.Confidence)
	if err != nil {
		return false, fmt.Errorf("save collected contact for target %s: %w", item.TargetID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveHolding upserts one collected_holdings row keyed on (cusip, report_date).
func (s *CollectionStore) SaveHolding(ctx context.Context, item model.CollectedItem, cusip string, reportDate time.Time) (bool, error) {
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collected_holdings (id, target_id, cusip, report_date, data, source, source_url, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cusip, report_date) DO UPDATE SET
			data = EXCLUDED.data, source = EXCLUDED.source, source_url = EXCLUDED.source_url,
			confidence = EXCLUDED.confidence, ingested_at = now()
	`, id, item.TargetID, cusip, reportDate, JSONMap(item.Data), item.Source, item.SourceURL, item.Confidence)
	if err != nil {
		return false, fmt.Errorf("save collected holding %s/%s: %w", cusip, reportDate.Format("2006-01-02"), err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveDocument upserts one collected_documents row keyed on source_url.
func (s *CollectionStore) SaveDocument(ctx context.Context, item model.CollectedItem) (bool, error) {
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collected_documents (id, target_id, source_url, data, source, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_url) DO UPDATE SET
			data = EXCLUDED.data, source = EXCLUDED.source, confidence = EXCLUDED.confidence, ingested_at = now()
	`, id, item.TargetID, item.SourceURL, JSONMap(item.Data), item.Source, item.Confidence)
	if err != nil {
		return false, fmt.Errorf("save collected document %s: %w", item.SourceURL, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
