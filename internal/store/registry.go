package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// RegistryStore persists DatasetRegistry entries: the catalog of
// dynamically-provisioned tables.
type RegistryStore struct {
	db *sqlx.DB
}

// NewRegistryStore constructs a RegistryStore over db.
func NewRegistryStore(db *sqlx.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

type registryRow struct {
	Source         string    `db:"source"`
	DatasetID      string    `db:"dataset_id"`
	TableName      string    `db:"table_name"`
	DisplayName    string    `db:"display_name"`
	Description    string    `db:"description"`
	SourceMetadata JSONMap   `db:"source_metadata"`
	CreatedAt      time.Time `db:"created_at"`
	LastUpdatedAt  time.Time `db:"last_updated_at"`
}

func (r registryRow) toModel() model.DatasetRegistry {
	return model.DatasetRegistry{
		Source:         r.Source,
		DatasetID:      r.DatasetID,
		TableName:      r.TableName,
		DisplayName:    r.DisplayName,
		Description:    r.Description,
		SourceMetadata: map[string]any(r.SourceMetadata),
		CreatedAt:      r.CreatedAt,
		LastUpdatedAt:  r.LastUpdatedAt,
	}
}

// Upsert creates or refreshes a DatasetRegistry entry for tableName. This is
// the Go equivalent of ingest_base.py's _update_dataset_registry: existing
// entries get last_updated_at bumped and any non-empty metadata merged in;
// new entries are inserted with defaults from dataset_id when display_name
// is empty.
func (s *RegistryStore) Upsert(ctx context.Context, entry model.DatasetRegistry) (model.DatasetRegistry, error) {
	if entry.DisplayName == "" {
		entry.DisplayName = entry.DatasetID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dataset_registry (table_name, source, dataset_id, display_name, description, source_metadata, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (table_name) DO UPDATE SET
			display_name    = CASE WHEN EXCLUDED.display_name    <> '' THEN EXCLUDED.display_name    ELSE dataset_registry.display_name END,
			description     = CASE WHEN EXCLUDED.description     <> '' THEN EXCLUDED.description     ELSE dataset_registry.description END,
			source_metadata = CASE WHEN EXCLUDED.source_metadata <> '{}'::jsonb THEN COALESCE(dataset_registry.source_metadata, '{}'::jsonb) || EXCLUDED.source_metadata ELSE dataset_registry.source_metadata END,
			last_updated_at = now()
	`, entry.TableName, entry.Source, entry.DatasetID, entry.DisplayName, entry.Description, JSONMap(entry.SourceMetadata))
	if err != nil {
		return model.DatasetRegistry{}, fmt.Errorf("upsert dataset registry %s: %w", entry.TableName, err)
	}
	return s.Get(ctx, entry.TableName)
}

// Get fetches one registry entry by table name.
func (s *RegistryStore) Get(ctx context.Context, tableName string) (model.DatasetRegistry, error) {
	var row registryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM dataset_registry WHERE table_name = $1`, tableName)
	if err != nil {
		return model.DatasetRegistry{}, fmt.Errorf("get dataset registry %s: %w", tableName, err)
	}
	return row.toModel(), nil
}

// ListBySource returns every registered table for a source.
func (s *RegistryStore) ListBySource(ctx context.Context, source string) ([]model.DatasetRegistry, error) {
	var rows []registryRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM dataset_registry WHERE source = $1 ORDER BY table_name`, source)
	if err != nil {
		return nil, fmt.Errorf("list dataset registry for source %s: %w", source, err)
	}
	out := make([]model.DatasetRegistry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
