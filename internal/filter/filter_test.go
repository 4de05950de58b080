package filter

import "testing"

func TestEvalEquality(t *testing.T) {
	row := Row{"status": "active", "count": int64(5)}
	if !Matches(Eq("status", "active"), row) {
		t.Fatalf("expected match")
	}
	if Matches(Eq("status", "inactive"), row) {
		t.Fatalf("expected no match")
	}
}

func TestEvalUndefinedYieldsFalse(t *testing.T) {
	row := Row{"a": int64(1)}
	if Matches(Eq("missing", 1), row) {
		t.Fatalf("comparisons against undefined must not match")
	}
	if Eval(Eq("missing", 1), row) != Unknown {
		t.Fatalf("expected Unknown for undefined field comparison")
	}
}

func TestEvalExists(t *testing.T) {
	row := Row{"a": int64(1)}
	if !Matches(Exists("a", true), row) {
		t.Fatalf("expected a to exist")
	}
	if !Matches(Exists("b", false), row) {
		t.Fatalf("expected b to not exist")
	}
}

func TestEvalAndOrNot(t *testing.T) {
	row := Row{"a": int64(1), "b": int64(2)}
	if !Matches(And(Eq("a", int64(1)), Eq("b", int64(2))), row) {
		t.Fatalf("AND should match")
	}
	if Matches(And(Eq("a", int64(1)), Eq("b", int64(3))), row) {
		t.Fatalf("AND should not match")
	}
	if !Matches(Or(Eq("a", int64(9)), Eq("b", int64(2))), row) {
		t.Fatalf("OR should match")
	}
	if !Matches(Not(Eq("a", int64(9))), row) {
		t.Fatalf("NOT should match")
	}
}

func TestEvalThreeValuedAndWithUnknown(t *testing.T) {
	row := Row{"a": int64(1)}
	// AND(false, unknown) == false, not unknown — false dominates.
	got := Eval(And(Eq("a", int64(2)), Eq("missing", int64(1))), row)
	if got != False {
		t.Fatalf("expected False, got %v", got)
	}
	// OR(true, unknown) == true.
	got = Eval(Or(Eq("a", int64(1)), Eq("missing", int64(1))), row)
	if got != True {
		t.Fatalf("expected True, got %v", got)
	}
	// AND(true, unknown) == unknown.
	got = Eval(And(Eq("a", int64(1)), Eq("missing", int64(1))), row)
	if got != Unknown {
		t.Fatalf("expected Unknown, got %v", got)
	}
}

func TestEvalInNin(t *testing.T) {
	row := Row{"a": int64(2)}
	if !Matches(In("a", []any{int64(1), int64(2), int64(3)}), row) {
		t.Fatalf("expected In match")
	}
	if !Matches(Nin("a", []any{int64(9)}), row) {
		t.Fatalf("expected Nin match")
	}
}

func TestEvalRegex(t *testing.T) {
	row := Row{"name": "hello-world"}
	if !Matches(Regex("name", "^hello"), row) {
		t.Fatalf("expected regex match")
	}
	if Matches(Regex("name", "^world"), row) {
		t.Fatalf("expected no regex match")
	}
}

func TestPartitionPruneEquality(t *testing.T) {
	f := Eq("year", "2020")
	if PartitionPrune(f, map[string]string{"year": "2019"}) != true {
		t.Fatalf("expected prune: partition value mismatches")
	}
	if PartitionPrune(f, map[string]string{"year": "2020"}) != false {
		t.Fatalf("expected no prune: partition value matches")
	}
}

func TestZonePredicatesFlattensAnd(t *testing.T) {
	f := And(Gt("age", int64(30)), Eq("status", "active"))
	preds := ZonePredicates(f)
	if len(preds) != 2 {
		t.Fatalf("expected 2 zone predicates, got %d", len(preds))
	}
}

func TestZonePredicatesSkipsOr(t *testing.T) {
	f := Or(Eq("a", int64(1)), Eq("b", int64(2)))
	preds := ZonePredicates(f)
	if len(preds) != 0 {
		t.Fatalf("OR should not contribute zone predicates, got %d", len(preds))
	}
}

func TestProjectNestedPaths(t *testing.T) {
	row := Row{"user": map[string]any{"name": "alice", "age": int64(30)}, "extra": "drop me"}
	out := Project(row, []string{"user.name"})
	user, ok := out["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested user object in projection")
	}
	if user["name"] != "alice" {
		t.Fatalf("user.name = %v", user["name"])
	}
	if _, ok := user["age"]; ok {
		t.Fatalf("age should not be projected")
	}
	if _, ok := out["extra"]; ok {
		t.Fatalf("extra should not be projected")
	}
}

func TestCompiledFilterCacheLRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Compile("a", Eq("x", int64(1)), nil)
	c.Compile("b", Eq("y", int64(1)), nil)
	c.Compile("c", Eq("z", int64(1)), nil) // evicts "a"
	if c.Size() != 2 {
		t.Fatalf("Size = %d, want 2", c.Size())
	}
}
