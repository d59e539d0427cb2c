package crypto

import (
	"bytes"
	"testing"
)

func TestCanonicalizeSortsKeysAndStripsNulls(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"b":    1,
		"a":    "x",
		"gone": nil,
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":"x","b":1}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	value := map[string]any{
		"amount":   7500,
		"currency": "USD",
		"tags":     []any{"one", "two"},
		"nested":   map[string]any{"z": 1, "a": 2},
	}
	first, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical bytes, got %s vs %s", first, second)
	}
}

func TestCanonicalizeRejectsFloats(t *testing.T) {
	if _, err := Canonicalize(map[string]any{"amount": 1.5}); err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}
}

func TestCanonicalizeNormalizesUnicodeKeys(t *testing.T) {
	// composed vs decomposed "\u00e9" collide after NFC
	m := map[string]any{}
	m["\u00e9"] = 1
	m["e\u0301"] = 2
	if _, err := Canonicalize(m); err != ErrKeyCollision {
		t.Fatalf("expected ErrKeyCollision, got %v", err)
	}
}

func TestCanonicalizeNilSliceIsNull(t *testing.T) {
	var s []string
	got, err := Canonicalize(s)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("expected null, got %s", got)
	}
}
