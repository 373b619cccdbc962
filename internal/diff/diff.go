// Package diff compares history snapshots field by field.
package diff

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"histclean/internal/domain"
)

// Against diffs newer against older, ignoring excluded fields. Fields are
// reported in newer's column order followed by any fields only older has.
//
// An excluded name matches a column exactly or, for foreign keys, the column
// carrying an "_id" suffix, so "author" also excludes "author_id".
func Against(newer, older *domain.HistoryRecord, excluded []string) domain.Delta {
	skip := excludedSet(excluded)

	var delta domain.Delta
	seen := make(map[string]struct{}, len(newer.FieldOrder))
	compare := func(field string) {
		if _, dup := seen[field]; dup {
			return
		}
		seen[field] = struct{}{}
		if isExcluded(skip, field) {
			return
		}
		nv, inNewer := newer.Fields[field]
		ov, inOlder := older.Fields[field]
		if inNewer && inOlder && Equal(nv, ov) {
			return
		}
		delta.Changes = append(delta.Changes, domain.Change{Field: field, Old: ov, New: nv})
		delta.ChangedFields = append(delta.ChangedFields, field)
	}

	for _, f := range newer.FieldOrder {
		compare(f)
	}
	for _, f := range older.FieldOrder {
		compare(f)
	}
	return delta
}

func excludedSet(excluded []string) map[string]struct{} {
	if len(excluded) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(excluded))
	for _, f := range excluded {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

func isExcluded(set map[string]struct{}, field string) bool {
	if set == nil {
		return false
	}
	if _, ok := set[field]; ok {
		return true
	}
	if base, ok := strings.CutSuffix(field, "_id"); ok {
		_, ok = set[base]
		return ok
	}
	return false
}

// Equal compares two column values as returned by database/sql drivers.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		switch bv := b.(type) {
		case []byte:
			return bytes.Equal(av, bv)
		case string:
			return string(av) == bv
		}
		return false
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case []byte:
			return av == string(bv)
		}
		return false
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	an, aok := number(a)
	bn, bok := number(b)
	if aok && bok {
		return an.Cmp(bn) == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func number(v any) (*big.Float, bool) {
	f := new(big.Float)
	switch n := v.(type) {
	case int:
		return f.SetInt64(int64(n)), true
	case int8:
		return f.SetInt64(int64(n)), true
	case int16:
		return f.SetInt64(int64(n)), true
	case int32:
		return f.SetInt64(int64(n)), true
	case int64:
		return f.SetInt64(n), true
	case uint:
		return f.SetUint64(uint64(n)), true
	case uint8:
		return f.SetUint64(uint64(n)), true
	case uint16:
		return f.SetUint64(uint64(n)), true
	case uint32:
		return f.SetUint64(uint64(n)), true
	case uint64:
		return f.SetUint64(n), true
	case float32:
		return number(float64(n))
	case float64:
		if math.IsNaN(n) {
			return nil, false
		}
		return f.SetFloat64(n), true
	}
	return nil, false
}
