// Package writer implements the Batch Writer (C4): parameterized batched
// upserts with independent per-batch commits.
package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/ident"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/support"
)

// DefaultBatchSize matches the engine default (spec §6: "batching streams
// it out every 1000 rows").
const DefaultBatchSize = 1000

// Result aggregates the outcome of a Write call. Per-row errors are not
// surfaced individually, per spec §4.4.
type Result struct {
	Inserted int64
	Batches  int
	Duration time.Duration
}

// Writer performs batched upserts against dynamically-provisioned tables.
type Writer struct {
	db *sqlx.DB
}

// New constructs a Writer.
func New(db *sqlx.DB) *Writer {
	return &Writer{db: db}
}

// Write inserts rows into table in batches of batchSize (DefaultBatchSize
// if <= 0), using ON CONFLICT (conflictKey) DO UPDATE when updateColumns is
// non-empty, else DO NOTHING. conflictKey must match the table's declared
// unique constraint; callers pass the same normalized names the Table
// Provisioner used. Each batch commits independently: a failure partway
// through preserves the batches already written, which is safe because
// every upsert is idempotent by natural key.
func (w *Writer) Write(ctx context.Context, table string, rows []model.Row, columns []string, conflictKey []string, updateColumns []string, batchSize int) (Result, error) {
	start := time.Now()
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if len(conflictKey) == 0 {
		return Result{}, ingesterr.Config("write to %s: conflict_key is required", table)
	}

	normalizedCols := make([]string, len(columns))
	for i, c := range columns {
		normalizedCols[i] = ident.Column(c)
	}
	normalizedConflict := make([]string, len(conflictKey))
	for i, c := range conflictKey {
		normalizedConflict[i] = ident.Column(c)
	}

	var total int64
	batches := 0
	for offset := 0; offset < len(rows); offset += batchSize {
		end := offset + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[offset:end]

		n, err := w.writeBatch(ctx, table, chunk, normalizedCols, normalizedConflict, updateColumns)
		if err != nil {
			return Result{Inserted: total, Batches: batches, Duration: time.Since(start)}, err
		}
		total += n
		batches++
	}

	return Result{Inserted: total, Batches: batches, Duration: time.Since(start)}, nil
}

// writeBatch runs one batch's upsert under support.Retry, retrying the whole
// transaction on any retriable error (a failed begin or commit, or a failed
// upsert statement); this is safe because the upsert is idempotent by
// natural key. A non-retriable error is returned without a retry.
func (w *Writer) writeBatch(ctx context.Context, table string, rows []model.Row, columns []string, conflictKey []string, updateColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var affected int64
	var terminalErr error
	err := support.Retry(ctx, support.DefaultRetryPolicy, func() error {
		n, err := w.execBatch(ctx, table, rows, columns, conflictKey, updateColumns)
		if err != nil {
			if !ingesterr.IsRetriable(err) {
				terminalErr = err
				return nil
			}
			return err
		}
		affected = n
		return nil
	})
	if terminalErr != nil {
		return 0, terminalErr
	}
	return affected, err
}

func (w *Writer) execBatch(ctx context.Context, table string, rows []model.Row, columns []string, conflictKey []string, updateColumns []string) (int64, error) {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, ingesterr.Transient(err, "begin batch transaction for %s", table)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query, args := buildUpsert(table, rows, columns, conflictKey, updateColumns)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ingesterr.Wrap(ingesterr.KindUpsert, fmt.Sprintf("batch upsert into %s", table), err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, ingesterr.Transient(err, "commit batch for %s", table)
	}
	committed = true
	return affected, nil
}

// buildUpsert renders one parameterized multi-row INSERT .. ON CONFLICT
// statement for a batch.
func buildUpsert(table string, rows []model.Row, columns []string, conflictKey []string, updateColumns []string) (string, []any) {
	var placeholders []string
	var args []any
	argIdx := 1
	for _, row := range rows {
		ph := make([]string, len(columns))
		for i, col := range columns {
			ph[i] = fmt.Sprintf("$%d", argIdx)
			argIdx++
			args = append(args, row[col].Native())
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")
	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(conflictKey, ", "))
	sb.WriteString(") ")

	if len(updateColumns) == 0 {
		sb.WriteString("DO NOTHING")
	} else {
		sb.WriteString("DO UPDATE SET ")
		sets := make([]string, 0, len(updateColumns)+1)
		for _, c := range updateColumns {
			norm := ident.Column(c)
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", norm, norm))
		}
		sets = append(sets, "ingested_at = NOW()")
		sb.WriteString(strings.Join(sets, ", "))
	}

	return sb.String(), args
}
