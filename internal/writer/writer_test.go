package writer

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

func newRows(n int) []model.Row {
	rows := make([]model.Row, n)
	for i := range rows {
		rows[i] = model.Row{
			"period": model.Text("2024-01"),
			"value":  model.Number(float64(i)),
		}
	}
	return rows
}

func TestWriteSplitsIntoBatchesAndCommitsEachIndependently(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO eia_pet_cons").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO eia_pet_cons").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := New(db)
	result, err := w.Write(context.Background(), "eia_pet_cons", newRows(3), []string{"period", "value"}, []string{"period"}, []string{"value"}, 2)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if result.Batches != 2 {
		t.Fatalf("expected 2 batches, got %d", result.Batches)
	}
	if result.Inserted != 3 {
		t.Fatalf("expected 3 rows inserted, got %d", result.Inserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteRequiresConflictKey(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	w := New(db)
	_, err = w.Write(context.Background(), "t", newRows(1), []string{"a"}, nil, nil, 1000)
	if err == nil {
		t.Fatal("expected error when conflict key missing")
	}
}

func TestBuildUpsertUsesDoNothingWithoutUpdateColumns(t *testing.T) {
	query, args := buildUpsert("t", newRows(1), []string{"period", "value"}, []string{"period"}, nil)
	if !strings.Contains(query, "DO NOTHING") {
		t.Fatalf("expected DO NOTHING clause, got %q", query)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
}
