// Package provision implements the Table Provisioner (C3): idempotent DDL
// for a dynamically-declared table plus the DatasetRegistry upsert that
// catalogs it.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/ident"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/store"
)

// ColumnSpec declares one column an adapter wants provisioned.
type ColumnSpec struct {
	Name     string
	SQLType  string // e.g. "TEXT", "NUMERIC", "INTEGER", "TIMESTAMPTZ", "BOOLEAN"
	Nullable bool
}

// IndexSpec declares a secondary index on one or more columns.
type IndexSpec struct {
	Name    string
	Columns []string
}

// SchemaSpec is what an adapter's schema_for() returns: everything the
// Table Provisioner needs to create a table and register it.
type SchemaSpec struct {
	Source         string
	DatasetID      string
	TableName      string
	DisplayName    string
	Description    string
	SourceMetadata map[string]any
	Columns        []ColumnSpec
	UniqueKey      []string
	Indexes        []IndexSpec

	// AllowEmpty marks sources whose upstream endpoint may legitimately
	// return nothing (silently-retired CMS datasets, DUNL feeds with no
	// UOM conversions this cycle). When set, the Job Runner treats a
	// zero-row run as SUCCESS instead of FAILED.
	AllowEmpty bool
}

// Result reports whether prepare created the table for the first time.
type Result struct {
	TableName string
	Created   bool
}

// Provisioner owns DDL and registry bookkeeping for dynamically-created
// tables.
type Provisioner struct {
	db       *sqlx.DB
	registry *store.RegistryStore
}

// New constructs a Provisioner.
func New(db *sqlx.DB, registry *store.RegistryStore) *Provisioner {
	return &Provisioner{db: db, registry: registry}
}

// Prepare emits CREATE TABLE IF NOT EXISTS (with a surrogate id, declared
// columns, ingested_at, and a named UNIQUE constraint on unique_key), one
// CREATE INDEX IF NOT EXISTS per declared index, and upserts DatasetRegistry.
func (p *Provisioner) Prepare(ctx context.Context, spec SchemaSpec) (Result, error) {
	tableName := ident.Table(spec.TableName)
	if len(spec.Columns) == 0 {
		return Result{}, ingesterr.Config("schema for table %s declares no columns", tableName)
	}
	if len(spec.UniqueKey) == 0 {
		return Result{}, ingesterr.Config("schema for table %s declares no unique_key", tableName)
	}

	existed, err := p.tableExists(ctx, tableName)
	if err != nil {
		return Result{}, err
	}

	ddl, err := buildCreateTable(tableName, spec.Columns, spec.UniqueKey)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return Result{}, ingesterr.Wrap(ingesterr.KindUpsert, fmt.Sprintf("create table %s", tableName), err)
	}

	for _, idx := range spec.Indexes {
		stmt := buildCreateIndex(tableName, idx)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return Result{}, ingesterr.Wrap(ingesterr.KindUpsert, fmt.Sprintf("create index %s on %s", idx.Name, tableName), err)
		}
	}

	_, err = p.registry.Upsert(ctx, model.DatasetRegistry{
		Source:         spec.Source,
		DatasetID:      spec.DatasetID,
		TableName:      tableName,
		DisplayName:    spec.DisplayName,
		Description:    spec.Description,
		SourceMetadata: spec.SourceMetadata,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{TableName: tableName, Created: !existed}, nil
}

func (p *Provisioner) tableExists(ctx context.Context, tableName string) (bool, error) {
	var exists bool
	err := p.db.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, tableName).Scan(&exists)
	if err != nil {
		return false, ingesterr.Wrap(ingesterr.KindUpsert, "check table existence", err)
	}
	return exists, nil
}

func buildCreateTable(tableName string, columns []ColumnSpec, uniqueKey []string) (string, error) {
	taken := map[string]bool{"id": true, "ingested_at": true}
	var cols []string
	cols = append(cols, "id UUID PRIMARY KEY DEFAULT gen_random_uuid()")

	normalizedUnique := make([]string, 0, len(uniqueKey))
	seen := map[string]string{}
	for _, c := range columns {
		name := ident.Dedupe(ident.Column(c.Name), taken)
		seen[c.Name] = name
		sqlType := c.SQLType
		if sqlType == "" {
			sqlType = "TEXT"
		}
		nullability := "NOT NULL"
		if c.Nullable {
			nullability = "NULL"
		}
		cols = append(cols, fmt.Sprintf("%s %s %s", name, sqlType, nullability))
	}
	cols = append(cols, "ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()")

	for _, k := range uniqueKey {
		name, ok := seen[k]
		if !ok {
			return "", ingesterr.Config("unique_key column %q not declared in columns", k)
		}
		normalizedUnique = append(normalizedUnique, name)
	}

	constraintName := fmt.Sprintf("uq_%s_%s", tableName, strings.Join(normalizedUnique, "_"))
	if len(constraintName) > 63 {
		constraintName = constraintName[:63]
	}
	cols = append(cols, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", constraintName, strings.Join(normalizedUnique, ", ")))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", tableName, strings.Join(cols, ",\n\t")), nil
}

func buildCreateIndex(tableName string, idx IndexSpec) string {
	name := idx.Name
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", tableName, strings.Join(idx.Columns, "_"))
	}
	if len(name) > 63 {
		name = name[:63]
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = ident.Column(c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, tableName, strings.Join(cols, ", "))
}
