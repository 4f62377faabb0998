package canon

import "testing"

func TestHashStableUnderKeyOrder(t *testing.T) {
	p1 := map[string]any{"a": 5.0, "b": 3.0}
	p2 := map[string]any{"b": 3.0, "a": 5.0}
	if Hash("add", p1) != Hash("add", p2) {
		t.Fatalf("hash differs under key reordering")
	}
}

func TestHashDiffersByTool(t *testing.T) {
	p := map[string]any{"a": 1.0}
	if Hash("add", p) == Hash("sub", p) {
		t.Fatalf("hash collided across distinct tool names")
	}
}

func TestHashDiffersByValue(t *testing.T) {
	if Hash("add", map[string]any{"a": 1.0}) == Hash("add", map[string]any{"a": 2.0}) {
		t.Fatalf("hash collided across distinct params")
	}
}

func TestHashNullAndEmpty(t *testing.T) {
	h1 := Hash("noop", map[string]any{})
	h2 := Hash("noop", nil)
	if h1 == "" || h2 == "" {
		t.Fatalf("expected non-empty stable hash for empty/nil params")
	}
	if Hash("noop", map[string]any{"x": nil}) == "" {
		t.Fatalf("expected stable hash for null-valued field")
	}
}

func TestHashNestedObjectsSorted(t *testing.T) {
	p1 := map[string]any{"outer": map[string]any{"z": 1.0, "a": 2.0}}
	p2 := map[string]any{"outer": map[string]any{"a": 2.0, "z": 1.0}}
	if Hash("t", p1) != Hash("t", p2) {
		t.Fatalf("nested object key order affected hash")
	}
}

func TestHashArrayOrderMatters(t *testing.T) {
	p1 := map[string]any{"xs": []any{1.0, 2.0}}
	p2 := map[string]any{"xs": []any{2.0, 1.0}}
	if Hash("t", p1) == Hash("t", p2) {
		t.Fatalf("array order should affect hash, arrays are order-sensitive")
	}
}
