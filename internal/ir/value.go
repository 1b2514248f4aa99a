package ir

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a sealed interface representing an entity field value.
// Only Null, String, Int, BigInt, BigDecimal, Bool, Bytes and List implement it.
type Value interface {
	entityValue() // Sealed - only these types implement it
}

// Null is the absence of a value. A Set carrying Null for a field clears it.
type Null struct{}

func (Null) entityValue() {}

// String holds ID and String fields.
type String string

func (String) entityValue() {}

// Int holds Int fields, which are 32-bit like the GraphQL Int scalar.
type Int int32

func (Int) entityValue() {}

// BigInt holds an arbitrary-precision integer.
// The zero value is 0.
type BigInt struct {
	v *big.Int
}

func (BigInt) entityValue() {}

// NewBigInt creates a BigInt from an int64.
func NewBigInt(n int64) BigInt {
	return BigInt{v: big.NewInt(n)}
}

// NewBigIntFromBig wraps a copy of b.
func NewBigIntFromBig(b *big.Int) BigInt {
	return BigInt{v: new(big.Int).Set(b)}
}

// ParseBigInt parses a base-10 integer string.
func ParseBigInt(s string) (BigInt, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return BigInt{}, fmt.Errorf("invalid BigInt %q", s)
	}
	return BigInt{v: n}, nil
}

// Big returns a copy of the underlying integer.
func (b BigInt) Big() *big.Int {
	if b.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.v)
}

// String returns the base-10 representation.
func (b BigInt) String() string {
	if b.v == nil {
		return "0"
	}
	return b.v.String()
}

// BigDecimal holds an arbitrary-precision decimal (the "floating value"
// scalar). It never round-trips through float64.
type BigDecimal struct {
	d decimal.Decimal
}

func (BigDecimal) entityValue() {}

// NewBigDecimal wraps d.
func NewBigDecimal(d decimal.Decimal) BigDecimal {
	return BigDecimal{d: d}
}

// ParseBigDecimal parses a decimal string such as "12.5" or "-3e-4".
func ParseBigDecimal(s string) (BigDecimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return BigDecimal{}, fmt.Errorf("invalid BigDecimal %q: %w", s, err)
	}
	return BigDecimal{d: d}, nil
}

// Decimal returns the underlying decimal.
func (b BigDecimal) Decimal() decimal.Decimal {
	return b.d
}

// String returns the shortest exact representation, without exponent.
func (b BigDecimal) String() string {
	return b.d.String()
}

// Bool holds Boolean fields.
type Bool bool

func (Bool) entityValue() {}

// Bytes holds Bytes fields. Rendered as 0x-prefixed lowercase hex.
type Bytes []byte

func (Bytes) entityValue() {}

// ParseBytes decodes a hex string with an optional 0x prefix.
func ParseBytes(s string) (Bytes, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid Bytes %q: %w", s, err)
	}
	return Bytes(b), nil
}

// String returns the 0x-prefixed hex form.
func (b Bytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// List holds list-valued fields, including lists of entity references.
type List []Value

func (List) entityValue() {}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether two values are identical. Nil and Null are equal.
// BigDecimal compares numerically, so 1.50 equals 1.5.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case BigInt:
		bv, ok := b.(BigInt)
		return ok && av.Big().Cmp(bv.Big()) == 0
	case BigDecimal:
		bv, ok := b.(BigDecimal)
		return ok && av.d.Equal(bv.d)
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToAny converts a Value to plain Go data suitable for JSON output.
// BigInt and BigDecimal become strings so precision survives JSON consumers.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case BigInt:
		return val.String()
	case BigDecimal:
		return val.String()
	case Bool:
		return bool(val)
	case Bytes:
		return val.String()
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// FromAny converts loosely-typed input (decoded JSON or YAML) to a Value
// without schema knowledge. Numbers that fit in int32 become Int, larger
// integers BigInt, and anything with a fraction BigDecimal. Column-aware
// coercion lives in the layout package.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return intValue(big.NewInt(int64(val))), nil
	case int32:
		return Int(val), nil
	case int64:
		return intValue(big.NewInt(val)), nil
	case uint64:
		return intValue(new(big.Int).SetUint64(val)), nil
	case float64:
		d := decimal.NewFromFloat(val)
		if d.IsInteger() {
			return intValue(d.BigInt()), nil
		}
		return BigDecimal{d: d}, nil
	case json.Number:
		if n, ok := new(big.Int).SetString(val.String(), 10); ok {
			return intValue(n), nil
		}
		return ParseBigDecimal(val.String())
	case []byte:
		return Bytes(val), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func intValue(n *big.Int) Value {
	if n.IsInt64() {
		i := n.Int64()
		if i >= -1<<31 && i < 1<<31 {
			return Int(int32(i))
		}
	}
	return BigInt{v: n}
}

// Describe renders a value for error messages and text output.
func Describe(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Int:
		return fmt.Sprintf("%d", int32(val))
	case BigInt:
		return val.String()
	case BigDecimal:
		return val.String()
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Bytes:
		return val.String()
	case List:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = Describe(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
