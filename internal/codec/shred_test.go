package codec

import "testing"

func TestInferShredSchemaWidensNumericMix(t *testing.T) {
	docs := []Value{
		Object(map[string]Value{"x": Int(1)}),
		Object(map[string]Value{"x": Double(2.5)}),
	}
	schema := InferShredSchema(docs)
	if schema.Fields["x"] != FieldDouble {
		t.Fatalf("expected field x to widen to double, got %v", schema.Fields["x"])
	}
}

func TestInferShredSchemaFallsBackToString(t *testing.T) {
	docs := []Value{
		Object(map[string]Value{"x": Int(1)}),
		Object(map[string]Value{"x": String("hi")}),
	}
	schema := InferShredSchema(docs)
	if schema.Fields["x"] != FieldString {
		t.Fatalf("expected field x to fall back to string, got %v", schema.Fields["x"])
	}
}

func TestShredSplitsTypedAndResidual(t *testing.T) {
	docs := []Value{
		Object(map[string]Value{
			"id":    Int(1),
			"extra": String("kept in residual"),
		}),
		Object(map[string]Value{
			"id": Int(2),
		}),
	}
	schema := ShredSchema{Fields: map[string]FieldType{"id": FieldInt}}
	g, err := Shred(docs, schema)
	if err != nil {
		t.Fatalf("Shred: %v", err)
	}
	idCol := g.Typed["id"]
	if idCol.Values[0].(int64) != 1 || idCol.Values[1].(int64) != 2 {
		t.Fatalf("typed id values = %v", idCol.Values)
	}
	if g.Residual[0] == nil {
		t.Fatalf("row 0 should have a residual (extra field not shredded)")
	}
	if g.Residual[1] != nil {
		t.Fatalf("row 1 should have nil residual: every field was shredded")
	}

	residual, err := Decode(*g.Residual[0])
	if err != nil {
		t.Fatalf("Decode residual: %v", err)
	}
	if residual.Object["extra"].Str != "kept in residual" {
		t.Fatalf("residual missing extra field: %+v", residual.Object)
	}
	if _, ok := residual.Object["id"]; ok {
		t.Fatalf("residual should not repeat the shredded id field")
	}
}

func TestShredMissingFieldRecordsNullStat(t *testing.T) {
	docs := []Value{
		Object(map[string]Value{"id": Int(1)}),
		Object(map[string]Value{}),
	}
	schema := ShredSchema{Fields: map[string]FieldType{"id": FieldInt}}
	g, err := Shred(docs, schema)
	if err != nil {
		t.Fatalf("Shred: %v", err)
	}
	if g.Typed["id"].Stats.NullCount != 1 {
		t.Fatalf("NullCount = %d, want 1", g.Typed["id"].Stats.NullCount)
	}
}
