package codec

import "bytes"

// Op enumerates the predicate operators zone-map pruning understands.
// Anything outside this set (LIKE, regex, function calls) is treated as
// unprunable by CanSkip's caller and always evaluated row-by-row.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIsNull
	OpIsNotNull
	OpBetween
	OpIn
)

// ZoneMap holds the per-row-group statistics used for predicate pushdown:
// min/max over non-null values plus a null count, tracked independently
// per column.
type ZoneMap struct {
	Min       []byte
	Max       []byte
	HasValues bool // false when every row in the group is null
	NullCount int64
	RowCount  int64
}

// NewZoneMap returns an empty map ready for accumulation via Observe.
func NewZoneMap() *ZoneMap {
	return &ZoneMap{}
}

// Observe folds one row's value into the map. A nil key means SQL NULL.
func (z *ZoneMap) Observe(key []byte) {
	z.RowCount++
	if key == nil {
		z.NullCount++
		return
	}
	if !z.HasValues {
		z.Min = append([]byte(nil), key...)
		z.Max = append([]byte(nil), key...)
		z.HasValues = true
		return
	}
	if bytes.Compare(key, z.Min) < 0 {
		z.Min = append([]byte(nil), key...)
	}
	if bytes.Compare(key, z.Max) > 0 {
		z.Max = append([]byte(nil), key...)
	}
}

// Merge combines another zone map (e.g. from a sibling row group) into z,
// used when building a file-level summary from row-group-level maps.
func (z *ZoneMap) Merge(other *ZoneMap) {
	z.RowCount += other.RowCount
	z.NullCount += other.NullCount
	if !other.HasValues {
		return
	}
	if !z.HasValues {
		z.Min = append([]byte(nil), other.Min...)
		z.Max = append([]byte(nil), other.Max...)
		z.HasValues = true
		return
	}
	if bytes.Compare(other.Min, z.Min) < 0 {
		z.Min = append([]byte(nil), other.Min...)
	}
	if bytes.Compare(other.Max, z.Max) > 0 {
		z.Max = append([]byte(nil), other.Max...)
	}
}

// Predicate is "column op literal[, literal2]" — literal2 is only
// meaningful for OpBetween, and List only for OpIn. A nil literal (for
// comparable ops) or an unset zone map always yields CanSkip == false:
// the conservative default when a comparand isn't order-comparable.
type Predicate struct {
	Op      Op
	Literal []byte
	Literal2 []byte // OpBetween upper bound
	List    [][]byte // OpIn candidates; a nil element marks a non-comparable/null entry
}

// CanSkip reports whether the row group summarized by z can be skipped
// entirely for p without evaluating a single row. Returning false means
// the group MIGHT contain matches (the safe default): zone maps only
// ever prove the negative.
//
//   - Eq:    skip when literal is outside [Min, Max], or the group is all-null.
//   - Neq:   skip only when Min == Max == literal and there are no nulls
//     (every row equals literal, so none can be != literal).
//   - Lt:    skip when Min >= literal.
//   - Lte:   skip when Min > literal.
//   - Gt:    skip when Max <= literal.
//   - Gte:   skip when Max < literal.
//   - Between: skip iff Max < literal ∨ Min > literal2.
//   - In:      skip iff every listed value lies outside [Min, Max]; any
//     nil (non-comparable/null) element in the list prevents skipping.
//   - IsNull:    skip when NullCount == 0.
//   - IsNotNull: skip when the group is entirely null (RowCount == NullCount).
func (z *ZoneMap) CanSkip(p Predicate) bool {
	switch p.Op {
	case OpIsNull:
		return z.NullCount == 0
	case OpIsNotNull:
		return z.RowCount > 0 && z.RowCount == z.NullCount
	}

	if !z.HasValues {
		// every observed row is null, so no comparison operator can match;
		// a map that has observed no rows proves nothing
		return z.RowCount > 0 && z.RowCount == z.NullCount
	}
	if p.Op != OpIn && (p.Literal == nil || (p.Op == OpBetween && p.Literal2 == nil)) {
		return false
	}

	switch p.Op {
	case OpEq:
		return bytes.Compare(p.Literal, z.Min) < 0 || bytes.Compare(p.Literal, z.Max) > 0
	case OpNeq:
		return z.NullCount == 0 && bytes.Equal(z.Min, z.Max) && bytes.Equal(z.Min, p.Literal)
	case OpLt:
		return bytes.Compare(z.Min, p.Literal) >= 0
	case OpLte:
		return bytes.Compare(z.Min, p.Literal) > 0
	case OpGt:
		return bytes.Compare(z.Max, p.Literal) <= 0
	case OpGte:
		return bytes.Compare(z.Max, p.Literal) < 0
	case OpBetween:
		return bytes.Compare(z.Max, p.Literal) < 0 || bytes.Compare(z.Min, p.Literal2) > 0
	case OpIn:
		if len(p.List) == 0 {
			return false
		}
		for _, v := range p.List {
			if v == nil {
				return false
			}
			if bytes.Compare(v, z.Min) >= 0 && bytes.Compare(v, z.Max) <= 0 {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FileStats is the zone-map summary recorded in a commit's "add" action
// for one file: one ZoneMap per logical column name.
type FileStats struct {
	NumRecords int64
	Columns    map[string]*ZoneMap
}

func NewFileStats() *FileStats {
	return &FileStats{Columns: make(map[string]*ZoneMap)}
}

func (fs *FileStats) column(name string) *ZoneMap {
	zm, ok := fs.Columns[name]
	if !ok {
		zm = NewZoneMap()
		fs.Columns[name] = zm
	}
	return zm
}

// ObserveRow folds one row of encoded column values (nil entries for
// SQL NULL) into the per-column zone maps and bumps NumRecords.
func (fs *FileStats) ObserveRow(row map[string][]byte) {
	fs.NumRecords++
	for name, key := range row {
		fs.column(name).Observe(key)
	}
}
