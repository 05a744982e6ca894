// Package postgres provides small sql.Null* <-> pointer conversion helpers
// shared by every store that models an optional column as a Go pointer
// field (internal/store's job and schedule rows).
package postgres

import (
	"database/sql"
	"time"
)

// NullTimeToPtr converts sql.NullTime to *time.Time.
func NullTimeToPtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// PtrToNullTime converts *time.Time to sql.NullTime.
func PtrToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// NullStringToPtr converts sql.NullString to *string.
func NullStringToPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

// PtrToNullString converts *string to sql.NullString.
func PtrToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64ToPtr converts sql.NullInt64 to *int64.
func NullInt64ToPtr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// PtrToNullInt64 converts *int64 to sql.NullInt64.
func PtrToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
