package codec

import "fmt"

// FieldType is the inferred or overridden scalar type of one shredded
// VARIANT field.
type FieldType int

const (
	FieldUnknown FieldType = iota
	FieldBool
	FieldInt
	FieldDouble
	FieldString
	FieldBinary
	FieldTimestamp
)

// ShredSchema describes which fields of a VARIANT column are promoted
// into typed columns, and at what type. A field absent from Fields (or
// present with FieldUnknown) is left inside the VARIANT residual.
type ShredSchema struct {
	Fields map[string]FieldType
}

// InferShredSchema widens field types across a sample of documents: a
// field seen as Int everywhere stays Int; a field seen as both Int and
// Double widens to Double; any other type mix (or a mix involving
// string/binary/bool/timestamp) falls back to FieldString, matching
// §4.2's "widen to double on mixed numeric, else UTF-8" rule.
func InferShredSchema(docs []Value) ShredSchema {
	seen := make(map[string]map[FieldType]bool)
	for _, doc := range docs {
		if doc.Kind != KindObject {
			continue
		}
		for _, k := range doc.ObjectOrd {
			v := doc.Object[k]
			ft := scalarFieldType(v)
			if ft == FieldUnknown {
				continue
			}
			if seen[k] == nil {
				seen[k] = make(map[FieldType]bool)
			}
			seen[k][ft] = true
		}
	}
	fields := make(map[string]FieldType, len(seen))
	for k, types := range seen {
		fields[k] = widen(types)
	}
	return ShredSchema{Fields: fields}
}

func scalarFieldType(v Value) FieldType {
	switch v.Kind {
	case KindBool:
		return FieldBool
	case KindInt:
		return FieldInt
	case KindDouble:
		return FieldDouble
	case KindString:
		return FieldString
	case KindBinary:
		return FieldBinary
	case KindTimestampMicros:
		return FieldTimestamp
	default:
		return FieldUnknown
	}
}

func widen(types map[FieldType]bool) FieldType {
	if len(types) == 1 {
		for t := range types {
			return t
		}
	}
	if types[FieldInt] && types[FieldDouble] && len(types) == 2 {
		return FieldDouble
	}
	return FieldString
}

// ShreddedColumn is the per-field typed_value payload plus the min/max
// stats a row-group writer accumulates for predicate pushdown.
type ShreddedColumn struct {
	Type   FieldType
	Values []any // one entry per row; nil when the field was absent or left in the residual
	Stats  *ZoneMap
}

// ShreddedGroup is the decomposition of one VARIANT column C across a
// batch of rows: typed_value sub-columns per shredded field, and the
// VARIANT-encoded residual for whatever wasn't shredded.
type ShreddedGroup struct {
	Schema   ShredSchema
	Typed    map[string]*ShreddedColumn
	Residual []*Encoded // nil entry when every shredded field covered the row
}

// Shred decomposes docs (one VARIANT value per row) per schema, coercing
// each field's values to schema's chosen type and computing zone-map
// stats per typed sub-column.
func Shred(docs []Value, schema ShredSchema) (*ShreddedGroup, error) {
	g := &ShreddedGroup{
		Schema:   schema,
		Typed:    make(map[string]*ShreddedColumn, len(schema.Fields)),
		Residual: make([]*Encoded, len(docs)),
	}
	for name, ft := range schema.Fields {
		g.Typed[name] = &ShreddedColumn{Type: ft, Values: make([]any, len(docs)), Stats: NewZoneMap()}
	}

	for i, doc := range docs {
		if doc.Kind != KindObject {
			enc := Encode(doc)
			g.Residual[i] = &enc
			for _, col := range g.Typed {
				col.Values[i] = nil
				col.Stats.Observe(nil)
			}
			continue
		}
		residualFields := make(map[string]Value, len(doc.Object))
		for k, v := range doc.Object {
			residualFields[k] = v
		}
		for name, col := range g.Typed {
			fv, present := doc.Object[name]
			if !present {
				col.Values[i] = nil
				col.Stats.Observe(nil)
				continue
			}
			coerced, key, err := coerce(fv, col.Type)
			if err != nil {
				return nil, fmt.Errorf("codec: shred field %q row %d: %w", name, i, err)
			}
			col.Values[i] = coerced
			col.Stats.Observe(key)
			delete(residualFields, name)
		}
		if len(residualFields) == 0 {
			g.Residual[i] = nil
		} else {
			ord := make([]string, 0, len(residualFields))
			for _, k := range doc.ObjectOrd {
				if _, ok := residualFields[k]; ok {
					ord = append(ord, k)
				}
			}
			enc := Encode(Value{Kind: KindObject, Object: residualFields, ObjectOrd: ord})
			g.Residual[i] = &enc
		}
	}
	return g, nil
}

// coerce converts v to the shredded column's target type, widening an
// integer to a double target. Only a string target renders values of
// another kind as text; for every other target an incompatible value is
// an error.
func coerce(v Value, target FieldType) (any, []byte, error) {
	switch target {
	case FieldBool:
		if v.Kind != KindBool {
			return nil, nil, fmt.Errorf("expected bool, got %v", v.Kind)
		}
		return v.Bool, sortKey(v), nil
	case FieldInt:
		if v.Kind != KindInt {
			return nil, nil, fmt.Errorf("expected int, got %v", v.Kind)
		}
		return v.Int, sortKey(v), nil
	case FieldDouble:
		switch v.Kind {
		case KindDouble:
			return v.Double, sortKey(v), nil
		case KindInt:
			d := Value{Kind: KindDouble, Double: float64(v.Int)}
			return d.Double, sortKey(d), nil
		default:
			return nil, nil, fmt.Errorf("expected numeric, got %v", v.Kind)
		}
	case FieldString:
		if v.Kind == KindString {
			return v.Str, sortKey(v), nil
		}
		s := Value{Kind: KindString, Str: renderScalar(v)}
		return s.Str, sortKey(s), nil
	case FieldBinary:
		if v.Kind != KindBinary {
			return nil, nil, fmt.Errorf("expected binary, got %v", v.Kind)
		}
		return v.Binary, sortKey(v), nil
	case FieldTimestamp:
		if v.Kind != KindTimestampMicros {
			return nil, nil, fmt.Errorf("expected timestamp, got %v", v.Kind)
		}
		return v.TSMicros, sortKey(v), nil
	default:
		return nil, nil, fmt.Errorf("unsupported shred target type %v", target)
	}
}

func renderScalar(v Value) string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindBinary:
		return string(v.Binary)
	default:
		return ""
	}
}
