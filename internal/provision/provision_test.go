package provision

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/store"
)

func TestPrepareCreatesTableAndRegistersDataset(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS eia_pet_cons").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dataset_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM dataset_registry").WillReturnRows(
		sqlmock.NewRows([]string{"source", "dataset_id", "table_name", "display_name", "description", "source_metadata", "created_at", "last_updated_at"}).
			AddRow("eia", "pet_cons", "eia_pet_cons", "Petroleum Consumption", "", []byte(`{}`), time.Now().UTC(), time.Now().UTC()),
	)

	p := New(db, store.NewRegistryStore(db))
	result, err := p.Prepare(context.Background(), SchemaSpec{
		Source:      "eia",
		DatasetID:   "pet_cons",
		TableName:   "eia_pet_cons",
		DisplayName: "Petroleum Consumption",
		Columns: []ColumnSpec{
			{Name: "period", SQLType: "TEXT"},
			{Name: "value", SQLType: "NUMERIC"},
		},
		UniqueKey: []string{"period"},
		Indexes:   []IndexSpec{{Columns: []string{"period"}}},
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !result.Created {
		t.Fatalf("expected Created=true for new table")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrepareRejectsUnknownUniqueKeyColumn(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	p := New(db, store.NewRegistryStore(db))
	_, err = p.Prepare(context.Background(), SchemaSpec{
		TableName: "bad_table",
		Columns:   []ColumnSpec{{Name: "a", SQLType: "TEXT"}},
		UniqueKey: []string{"does_not_exist"},
	})
	if err == nil {
		t.Fatal("expected error for unknown unique key column")
	}
}
