package storage

import (
	"math/big"
	"testing"
)

func TestValueCompareNumericWidening(t *testing.T) {
	cases := []struct {
		a, b Value
		want int
	}{
		{I32(1), I64(1), 0},
		{I32(1), F64(1.0), 0},
		{I64(2), F64(1.5), 1},
		{Decimal(big.NewRat(1, 2)), F64(0.5), 0},
		{I32(1), I32(2), -1},
	}
	for _, c := range cases {
		got, err := c.a.Compare(c.b)
		if err != nil {
			t.Fatalf("Compare(%v, %v): %v", c.a, c.b, err)
		}
		if got != c.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestValueCompareNullOrdering(t *testing.T) {
	if c, _ := Null.Compare(I64(0)); c != -1 {
		t.Errorf("null vs 0: got %d, want -1", c)
	}
	if c, _ := I64(0).Compare(Null); c != 1 {
		t.Errorf("0 vs null: got %d, want 1", c)
	}
	if c, _ := Null.Compare(Null); c != 0 {
		t.Errorf("null vs null: got %d, want 0", c)
	}
}

func TestValueCompareMismatchedNonNumericKinds(t *testing.T) {
	if _, err := UTF8("a").Compare(Bool(true)); err == nil {
		t.Fatal("expected error comparing utf8 to bool")
	}
}

func TestValueCompareCollation(t *testing.T) {
	c, err := UTF8("apple").Compare(UTF8("banana"))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if c >= 0 {
		t.Errorf("expected \"apple\" < \"banana\", got %d", c)
	}
}

func TestValueKeyBytesNumericEquivalence(t *testing.T) {
	if string(I32(7).KeyBytes()) != string(I64(7).KeyBytes()) {
		t.Error("I32(7) and I64(7) should produce identical key bytes")
	}
	if string(F64(7.0).KeyBytes()) != string(I64(7).KeyBytes()) {
		t.Error("F64(7.0) and I64(7) should produce identical key bytes")
	}
	if string(UTF8("x").KeyBytes()) == string(UTF8("y").KeyBytes()) {
		t.Error("distinct strings should produce distinct key bytes")
	}
}

func TestValueEqual(t *testing.T) {
	if !I32(3).Equal(I64(3)) {
		t.Error("I32(3) should equal I64(3)")
	}
	if !Null.Equal(Null) {
		t.Error("structural Equal(Null, Null) is true at the engine level (hash/PK bucketing); SQL three-valued NULL semantics live in the query layer, not here")
	}
}

func TestValueAsFloat64(t *testing.T) {
	f, ok := Decimal(big.NewRat(3, 2)).AsFloat64()
	if !ok || f != 1.5 {
		t.Errorf("AsFloat64() = %v, %v, want 1.5, true", f, ok)
	}
	if _, ok := UTF8("x").AsFloat64(); ok {
		t.Error("AsFloat64 on a string should report false")
	}
}
