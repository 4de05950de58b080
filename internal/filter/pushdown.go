package filter

import (
	"github.com/deltakit/deltakit/internal/codec"
)

// PartitionPrune reports whether a file whose partition values are
// partitionValues can be pruned entirely for f, i.e. f can be proven
// false using only equality/range/membership tests on partition
// columns — §4.3 pushdown step 1.
func PartitionPrune(f Filter, partitionValues map[string]string) bool {
	switch {
	case f.Empty():
		return false
	case f.And != nil:
		for _, sub := range f.And {
			if PartitionPrune(sub, partitionValues) {
				return true
			}
		}
		return false
	case f.Or != nil:
		for _, sub := range f.Or {
			if !PartitionPrune(sub, partitionValues) {
				return false
			}
		}
		return len(f.Or) > 0
	case f.Not != nil, f.Nor != nil:
		return false // safe default: negation over partition values is not pruned
	}

	pv, ok := partitionValues[f.Path]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		s, ok := f.Value.(string)
		return ok && s != pv
	case OpNe:
		s, ok := f.Value.(string)
		return ok && s == pv
	case OpIn:
		vs, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range vs {
			if s, ok := v.(string); ok && s == pv {
				return false
			}
		}
		return true
	case OpGt, OpGte, OpLt, OpLte:
		s, ok := f.Value.(string)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGt:
			return pv <= s
		case OpGte:
			return pv < s
		case OpLt:
			return pv >= s
		default:
			return pv > s
		}
	default:
		return false
	}
}

// ZonePredicates flattens f into the set of (column, codec.Predicate)
// pairs that zone-map pushdown can evaluate; operators outside the
// zone-map vocabulary (regex, exists) are omitted — the residual filter
// still evaluates them row-by-row after the file is opened.
func ZonePredicates(f Filter) []ColumnPredicate {
	var out []ColumnPredicate
	collectZonePredicates(f, &out)
	return out
}

// ColumnPredicate pairs a column path with the zone-map predicate
// derived from one leaf of the filter AST.
type ColumnPredicate struct {
	Column    string
	Predicate codec.Predicate
}

func collectZonePredicates(f Filter, out *[]ColumnPredicate) {
	switch {
	case f.And != nil:
		for _, sub := range f.And {
			collectZonePredicates(sub, out)
		}
		return
	case f.Or != nil, f.Nor != nil, f.Not != nil, f.Empty():
		// Disjunctions and negations can't be soundly reduced to a
		// single AND'd zone-map predicate set; leave pruning to the
		// row-level residual filter for these shapes.
		return
	}

	op, ok := zoneOp(f.Op)
	if !ok {
		return
	}
	lit, ok := sortKeyOf(f.Value)
	if !ok {
		return
	}
	*out = append(*out, ColumnPredicate{Column: f.Path, Predicate: codec.Predicate{Op: op, Literal: lit}})
}

func zoneOp(op Op) (codec.Op, bool) {
	switch op {
	case OpEq:
		return codec.OpEq, true
	case OpNe:
		return codec.OpNeq, true
	case OpGt:
		return codec.OpGt, true
	case OpGte:
		return codec.OpGte, true
	case OpLt:
		return codec.OpLt, true
	case OpLte:
		return codec.OpLte, true
	default:
		return 0, false
	}
}

// sortKeyOf converts a filter literal into the same byte-comparable key
// space the columnar writer uses for zone-map stats.
func sortKeyOf(v any) ([]byte, bool) {
	return codec.SortKeyForPushdown(v)
}

// ProjectedColumns walks filter and projection paths to compute the
// minimal set of (possibly shredded) columns a scan must materialize —
// §4.3 pushdown step 3.
func ProjectedColumns(f Filter, projection []string) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			cols = append(cols, p)
		}
	}
	collectFilterPaths(f, add)
	for _, p := range projection {
		add(p)
	}
	return cols
}

func collectFilterPaths(f Filter, add func(string)) {
	switch {
	case f.Not != nil:
		collectFilterPaths(*f.Not, add)
	case f.And != nil:
		for _, sub := range f.And {
			collectFilterPaths(sub, add)
		}
	case f.Or != nil:
		for _, sub := range f.Or {
			collectFilterPaths(sub, add)
		}
	case f.Nor != nil:
		for _, sub := range f.Nor {
			collectFilterPaths(sub, add)
		}
	case f.Path != "":
		add(f.Path)
	}
}
