// Package ident normalizes adapter-supplied field names into safe SQL
// identifiers. The Table Provisioner and every adapter share this logic so a
// column name always maps to the same identifier regardless of which
// component computes it first.
package ident

import (
	"strconv"
	"strings"
	"unicode"
)

// reservedWords is not exhaustive; it covers the PostgreSQL reserved words
// that adapter field names are most likely to collide with.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true, "both": true,
	"case": true, "cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "current_date": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true, "deferrable": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "fetch": true, "for": true, "foreign": true, "from": true, "grant": true,
	"group": true, "having": true, "in": true, "initially": true, "intersect": true,
	"into": true, "leading": true, "limit": true, "localtime": true, "localtimestamp": true,
	"new": true, "not": true, "null": true, "off": true, "offset": true, "old": true,
	"on": true, "only": true, "or": true, "order": true, "overlaps": true, "placing": true,
	"primary": true, "references": true, "select": true, "session_user": true,
	"some": true, "symmetric": true, "table": true, "then": true, "to": true,
	"trailing": true, "true": true, "union": true, "unique": true, "user": true,
	"using": true, "when": true, "where": true,
}

// maxIdentifierLength matches PostgreSQL's NAMEDATALEN-1 limit.
const maxIdentifierLength = 63

// Column normalizes an adapter field name into a safe, lowercase Postgres
// column identifier: non-alphanumeric runs collapse to a single underscore,
// a leading digit is prefixed with "c_", a reserved word gets a "_col"
// suffix, and the result is truncated to 63 bytes.
func Column(raw string) string {
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastWasUnderscore = false
		default:
			if !lastWasUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastWasUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "col"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "c_" + name
	}
	if reservedWords[name] {
		name = name + "_col"
	}
	if len(name) > maxIdentifierLength {
		name = name[:maxIdentifierLength]
	}
	return name
}

// Table normalizes a dataset identifier into a safe table name, applying
// the same rules as Column plus a "t_" fallback prefix instead of "c_" so
// table and column collisions on digit-led names stay visually distinct.
func Table(raw string) string {
	name := Column(raw)
	if strings.HasPrefix(name, "c_") && len(name) > 2 && unicode.IsDigit(rune(name[2])) {
		return "t_" + name[2:]
	}
	return name
}

// Dedupe appends a numeric suffix to name until it is not present in taken,
// then records it in taken. Used by the Table Provisioner when two adapter
// field names collide after normalization (e.g. "Q-1" and "q 1" both become
// "q_1").
func Dedupe(name string, taken map[string]bool) string {
	if !taken[name] {
		taken[name] = true
		return name
	}
	for i := 2; ; i++ {
		candidate := name
		suffix := strconv.Itoa(i)
		if len(candidate)+len(suffix)+1 > maxIdentifierLength {
			candidate = candidate[:maxIdentifierLength-len(suffix)-1]
		}
		candidate = candidate + "_" + suffix
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}
