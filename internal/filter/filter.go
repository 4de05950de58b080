// Package filter implements the document-style predicate language used
// by the table engine's query/update/delete/merge operations: a filter
// AST, three-valued evaluation against in-memory rows, zone-map-backed
// pushdown, and projection.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Tri is a three-valued logic result: a comparison against a missing
// (undefined) field yields Unknown rather than true or false, matching
// SQL/Mongo-style NULL semantics.
type Tri int

const (
	False Tri = iota
	True
	Unknown
)

func toTri(matched bool, known bool) Tri {
	if !known {
		return Unknown
	}
	if matched {
		return True
	}
	return False
}

func triNot(t Tri) Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func triAnd(a, b Tri) Tri {
	if a == False || b == False {
		return False
	}
	if a == True && b == True {
		return True
	}
	return Unknown
}

func triOr(a, b Tri) Tri {
	if a == True || b == True {
		return True
	}
	if a == False && b == False {
		return False
	}
	return Unknown
}

// Op enumerates the comparison and membership operators the grammar
// supports, per §4.3.
type Op string

const (
	OpEq     Op = "$eq"
	OpNe     Op = "$ne"
	OpGt     Op = "$gt"
	OpGte    Op = "$gte"
	OpLt     Op = "$lt"
	OpLte    Op = "$lte"
	OpIn     Op = "$in"
	OpNin    Op = "$nin"
	OpExists Op = "$exists"
	OpRegex  Op = "$regex"
)

// Filter is the predicate AST's tagged union: a leaf node uses the leaf
// predicate fields (Path, Op, Value); a logical node holds its children
// in one of And/Or/Nor/Not instead.
type Filter struct {
	// Leaf predicate fields.
	Path  string
	Op    Op
	Value any
	Value2 any // reserved for pushdown-only operators (e.g. between)

	// Logical combinator fields.
	And []Filter
	Or  []Filter
	Nor []Filter
	Not *Filter
}

// Eq, Gt, Gte, Lt, Lte, Ne, In, Nin, Exists, Regex construct leaf
// filters addressing a dotted field path.
func Eq(path string, v any) Filter     { return Filter{Path: path, Op: OpEq, Value: v} }
func Ne(path string, v any) Filter     { return Filter{Path: path, Op: OpNe, Value: v} }
func Gt(path string, v any) Filter     { return Filter{Path: path, Op: OpGt, Value: v} }
func Gte(path string, v any) Filter    { return Filter{Path: path, Op: OpGte, Value: v} }
func Lt(path string, v any) Filter     { return Filter{Path: path, Op: OpLt, Value: v} }
func Lte(path string, v any) Filter    { return Filter{Path: path, Op: OpLte, Value: v} }
func In(path string, vs []any) Filter  { return Filter{Path: path, Op: OpIn, Value: vs} }
func Nin(path string, vs []any) Filter { return Filter{Path: path, Op: OpNin, Value: vs} }
func Exists(path string, want bool) Filter {
	return Filter{Path: path, Op: OpExists, Value: want}
}
func Regex(path, pattern string) Filter { return Filter{Path: path, Op: OpRegex, Value: pattern} }

func And(fs ...Filter) Filter { return Filter{And: fs} }
func Or(fs ...Filter) Filter  { return Filter{Or: fs} }
func Nor(fs ...Filter) Filter { return Filter{Nor: fs} }
func Not(f Filter) Filter     { return Filter{Not: &f} }

// Empty reports whether f is the always-true empty filter ({}), used
// for unconditional scans.
func (f Filter) Empty() bool {
	return f.Path == "" && f.And == nil && f.Or == nil && f.Nor == nil && f.Not == nil
}

// Row is the in-memory document a filter is evaluated against: nested
// maps addressed by dotted paths.
type Row map[string]any

// lookup resolves a dotted path against row, reporting whether the path
// was present (as opposed to absent/undefined, which is distinct from
// an explicit null per the three-valued semantics).
func lookup(row Row, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(row)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if rm, ok2 := cur.(Row); ok2 {
				m = map[string]any(rm)
			} else {
				return nil, false
			}
		}
		v, present := m[p]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Eval evaluates f against row using three-valued logic: comparisons
// against an undefined (absent) field yield Unknown, which propagates
// through And/Or/Not per standard tri-state tables rather than
// collapsing to false early.
func Eval(f Filter, row Row) Tri {
	switch {
	case f.Not != nil:
		return triNot(Eval(*f.Not, row))
	case f.And != nil:
		t := True
		for _, sub := range f.And {
			t = triAnd(t, Eval(sub, row))
		}
		return t
	case f.Or != nil:
		t := False
		for _, sub := range f.Or {
			t = triOr(t, Eval(sub, row))
		}
		return t
	case f.Nor != nil:
		t := False
		for _, sub := range f.Nor {
			t = triOr(t, Eval(sub, row))
		}
		return triNot(t)
	case f.Empty():
		return True
	}

	val, present := lookup(row, f.Path)

	if f.Op == OpExists {
		want, _ := f.Value.(bool)
		return toTri(present == want, true)
	}
	if !present {
		return Unknown
	}

	switch f.Op {
	case OpEq:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp == 0, err == nil)
	case OpNe:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp != 0, err == nil)
	case OpGt:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp > 0, err == nil)
	case OpGte:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp >= 0, err == nil)
	case OpLt:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp < 0, err == nil)
	case OpLte:
		cmp, err := compare(val, f.Value)
		return toTri(err == nil && cmp <= 0, err == nil)
	case OpIn:
		return toTri(memberOf(val, f.Value), true)
	case OpNin:
		return toTri(!memberOf(val, f.Value), true)
	case OpRegex:
		pattern, _ := f.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Unknown
		}
		s, ok := val.(string)
		if !ok {
			return Unknown
		}
		return toTri(re.MatchString(s), true)
	default:
		return Unknown
	}
}

// Matches reports whether f matches row under SQL-style WHERE semantics:
// Unknown is treated as non-matching.
func Matches(f Filter, row Row) bool {
	return Eval(f, row) == True
}

func memberOf(v any, list any) bool {
	vs, ok := list.([]any)
	if !ok {
		return false
	}
	for _, candidate := range vs {
		if cmp, err := compare(v, candidate); err == nil && cmp == 0 {
			return true
		}
	}
	return false
}

// compare orders two scalar values, returning an error when they are
// not order-comparable (differing, non-numeric types).
func compare(a, b any) (int, error) {
	switch ax := a.(type) {
	case int64:
		return compareFloat(float64(ax), b)
	case int:
		return compareFloat(float64(ax), b)
	case float64:
		return compareFloat(ax, b)
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("incomparable string and %T", b)
		}
		switch {
		case ax < bs:
			return -1, nil
		case ax > bs:
			return 1, nil
		default:
			return 0, nil
		}
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("incomparable bool and %T", b)
		}
		switch {
		case !ax && bb:
			return -1, nil
		case ax && !bb:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("incomparable %T and %T", a, b)
	}
}

func compareFloat(ax float64, b any) (int, error) {
	bf, ok := asFloat(b)
	if !ok {
		return 0, fmt.Errorf("incomparable float64 and %T", b)
	}
	switch {
	case ax < bf:
		return -1, nil
	case ax > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

