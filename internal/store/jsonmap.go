package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap adapts map[string]any to the database/sql/driver interfaces so it
// round-trips through a JSONB column without a per-entity marshal helper.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonmap: unsupported scan source %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("jsonmap: unmarshal: %w", err)
	}
	*m = out
	return nil
}
