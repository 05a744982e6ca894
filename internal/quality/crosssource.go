package quality

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CrossSourceCheck configures a referential match-rate check between two
// tables on a shared key column (e.g. EIA and Census both keyed by FIPS
// county code).
type CrossSourceCheck struct {
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
	MinMatchRate float64
}

// CrossSourceResult is the outcome of one CrossSourceCheck.
type CrossSourceResult struct {
	MatchRate float64
	Passed    bool
}

// Validator runs referential cross-source checks directly against the
// database: count distinct left-side keys with at least one right-side
// match, divided by total distinct left-side keys.
type Validator struct {
	db *sqlx.DB
}

// NewValidator constructs a Validator.
func NewValidator(db *sqlx.DB) *Validator {
	return &Validator{db: db}
}

// Check runs one CrossSourceCheck and reports its match rate and pass/fail.
func (v *Validator) Check(ctx context.Context, check CrossSourceCheck) (CrossSourceResult, error) {
	var total int64
	totalQuery := fmt.Sprintf(`SELECT count(DISTINCT %s) FROM %s WHERE %s IS NOT NULL`, check.LeftColumn, check.LeftTable, check.LeftColumn)
	if err := v.db.GetContext(ctx, &total, totalQuery); err != nil {
		return CrossSourceResult{}, fmt.Errorf("cross-source check %s.%s: count keys: %w", check.LeftTable, check.LeftColumn, err)
	}
	if total == 0 {
		return CrossSourceResult{MatchRate: 1, Passed: true}, nil
	}

	var matched int64
	matchQuery := fmt.Sprintf(`
		SELECT count(DISTINCT l.%[2]s) FROM %[1]s l
		WHERE l.%[2]s IS NOT NULL
		  AND EXISTS (SELECT 1 FROM %[3]s r WHERE r.%[4]s = l.%[2]s)
	`, check.LeftTable, check.LeftColumn, check.RightTable, check.RightColumn)
	if err := v.db.GetContext(ctx, &matched, matchQuery); err != nil {
		return CrossSourceResult{}, fmt.Errorf("cross-source check %s.%s vs %s.%s: count matches: %w",
			check.LeftTable, check.LeftColumn, check.RightTable, check.RightColumn, err)
	}

	rate := float64(matched) / float64(total)
	return CrossSourceResult{MatchRate: rate, Passed: rate >= check.MinMatchRate}, nil
}
