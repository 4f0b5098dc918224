// Package storage implements the page-based storage engine: row encoding,
// table/schema definitions, the row materializer, and the uniform
// StorageEngine contract consumed by the query executor.
package storage

import (
	"fmt"
	"math/big"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Kind tags a dynamically-typed cell value with a compact type tag.
type Kind uint8

const (
	KindNull Kind = iota
	KindI32
	KindI64
	KindF64
	KindDecimal
	KindUTF8
	KindBlob
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindDecimal:
		return "decimal"
	case KindUTF8:
		return "utf8"
	case KindBlob:
		return "blob"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a dynamically-typed column cell. Exactly one of the typed
// fields is meaningful, selected by Kind: an explicit tag rather than a
// bare `any`, so the query compiler's heterogeneous-comparison rule
// can branch on it without a type switch on `any`.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	Dec  *big.Rat
	S    string
	B    []byte
	Bool bool
}

// Null is the null value.
var Null = Value{Kind: KindNull}

func I32(v int32) Value   { return Value{Kind: KindI32, I: int64(v)} }
func I64(v int64) Value   { return Value{Kind: KindI64, I: v} }
func F64(v float64) Value { return Value{Kind: KindF64, F: v} }
func Bool(v bool) Value   { return Value{Kind: KindBool, Bool: v} }
func UTF8(v string) Value { return Value{Kind: KindUTF8, S: v} }
func Blob(v []byte) Value { return Value{Kind: KindBlob, B: v} }
func Decimal(r *big.Rat) Value {
	return Value{Kind: KindDecimal, Dec: r}
}

// IsNull reports whether v is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// numericRank orders numeric kinds by widest-common-type precedence:
// decimal > f64 > f32 > i64 > i32 > i16 > u8. This engine only
// materializes i32/i64/f64/decimal, so f32/i16/u8 collapse into their
// nearest wider kind.
func (k Kind) numericRank() int {
	switch k {
	case KindDecimal:
		return 4
	case KindF64:
		return 3
	case KindI64:
		return 2
	case KindI32:
		return 1
	default:
		return -1
	}
}

func (k Kind) isNumeric() bool { return k.numericRank() >= 0 }

// AsRat returns v as a *big.Rat, for decimal-widened arithmetic/comparison.
func (v Value) AsRat() (*big.Rat, bool) {
	switch v.Kind {
	case KindDecimal:
		return v.Dec, true
	case KindF64:
		return new(big.Rat).SetFloat64(v.F), true
	case KindI64:
		return new(big.Rat).SetInt64(v.I), true
	case KindI32:
		return new(big.Rat).SetInt64(v.I), true
	default:
		return nil, false
	}
}

// AsFloat64 widens a numeric value to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindF64:
		return v.F, true
	case KindI64, KindI32:
		return float64(v.I), true
	case KindDecimal:
		f, _ := v.Dec.Float64()
		return f, true
	default:
		return 0, false
	}
}

// collator provides a real collation order for UTF8 comparisons rather
// than raw byte ordering.
var collator = collate.New(language.Und)

// Compare implements a total order over values of the same (or
// numerically compatible) Kind. NULL sorts below every non-null value and
// equals only NULL, matching SQL ORDER BY semantics (not SQL WHERE
// semantics, which the caller handles separately via IsNull checks).
func (v Value) Compare(o Value) (int, error) {
	if v.Kind == KindNull && o.Kind == KindNull {
		return 0, nil
	}
	if v.Kind == KindNull {
		return -1, nil
	}
	if o.Kind == KindNull {
		return 1, nil
	}

	if v.Kind.isNumeric() && o.Kind.isNumeric() {
		ra, _ := v.AsRat()
		rb, _ := o.AsRat()
		return ra.Cmp(rb), nil
	}

	switch v.Kind {
	case KindUTF8:
		if o.Kind != KindUTF8 {
			return 0, fmt.Errorf("storage: cannot compare utf8 and %s", o.Kind)
		}
		return collator.CompareString(v.S, o.S), nil
	case KindBlob:
		if o.Kind != KindBlob {
			return 0, fmt.Errorf("storage: cannot compare blob and %s", o.Kind)
		}
		return compareBytes(v.B, o.B), nil
	case KindBool:
		if o.Kind != KindBool {
			return 0, fmt.Errorf("storage: cannot compare bool and %s", o.Kind)
		}
		if v.Bool == o.Bool {
			return 0, nil
		}
		if !v.Bool {
			return -1, nil
		}
		return 1, nil
	default:
		return 0, fmt.Errorf("storage: cannot compare %s and %s", v.Kind, o.Kind)
	}
}

// KeyBytes produces a canonical byte encoding of v suitable as a map key or
// hash-index bucket input. Unlike EncodeRow's tagged wire format, this
// collapses numeric kinds that compare equal (e.g. I32(1) and I64(1)) onto
// the same bytes, since primary-key and index lookups key off value
// equality, not wire representation.
func (v Value) KeyBytes() []byte {
	switch v.Kind {
	case KindNull:
		return []byte{tagNull}
	case KindBool:
		if v.Bool {
			return []byte{tagBool, 1}
		}
		return []byte{tagBool, 0}
	case KindI32, KindI64, KindF64, KindDecimal:
		r, _ := v.AsRat()
		return append([]byte{tagDecimal}, []byte(r.RatString())...)
	case KindUTF8:
		return append([]byte{tagUTF8}, []byte(v.S)...)
	case KindBlob:
		return append([]byte{tagBlob}, v.B...)
	default:
		return nil
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Equal reports value equality (NULL != NULL under three-valued SQL logic
// is handled by the query layer; this is the engine-level structural
// equality used by hash-index bucketing and PK comparisons).
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}
