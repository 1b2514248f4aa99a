package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/entitystore/internal/ir"
)

// ColumnType is the physical representation of a scalar kind.
type ColumnType int

const (
	ColumnBoolean ColumnType = iota
	ColumnBigDecimal
	ColumnBigInt
	ColumnBytes
	ColumnInt
	ColumnString
)

func (c ColumnType) String() string {
	switch c {
	case ColumnBoolean:
		return "Boolean"
	case ColumnBigDecimal:
		return "BigDecimal"
	case ColumnBigInt:
		return "BigInt"
	case ColumnBytes:
		return "Bytes"
	case ColumnInt:
		return "Int"
	case ColumnString:
		return "String"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(c))
	}
}

// SQLType returns the SQLite declared type for a scalar column.
// BigInt and BigDecimal are kept as exact decimal text.
func (c ColumnType) SQLType() string {
	switch c {
	case ColumnBoolean:
		return "BOOLEAN"
	case ColumnInt:
		return "INTEGER"
	case ColumnBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// Numeric reports whether values must be compared with numeric semantics
// even though they are stored as text.
func (c ColumnType) Numeric() bool {
	return c == ColumnBigInt || c == ColumnBigDecimal
}

// ScalarColumnType maps a built-in scalar name to its column type.
func ScalarColumnType(scalar string) (ColumnType, bool) {
	switch scalar {
	case ir.ScalarID, ir.ScalarString:
		return ColumnString, true
	case ir.ScalarBoolean:
		return ColumnBoolean, true
	case ir.ScalarInt:
		return ColumnInt, true
	case ir.ScalarBigInt:
		return ColumnBigInt, true
	case ir.ScalarBigDecimal:
		return ColumnBigDecimal, true
	case ir.ScalarBytes:
		return ColumnBytes, true
	default:
		return 0, false
	}
}

// Coerce converts v into the value kind the column stores. Loosely typed
// input such as decimal strings for BigInt or hex strings for Bytes is
// accepted. Null passes through; nullability is checked by the writer.
func (c *Column) Coerce(v ir.Value) (ir.Value, error) {
	if ir.IsNull(v) {
		return ir.Null{}, nil
	}
	if !c.List {
		return coerceScalar(c.Type, v)
	}
	list, ok := v.(ir.List)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %s", ir.Describe(v))
	}
	out := make(ir.List, len(list))
	for i, elem := range list {
		if ir.IsNull(elem) {
			if c.ElemNonNull {
				return nil, fmt.Errorf("list element %d must not be null", i)
			}
			out[i] = ir.Null{}
			continue
		}
		cv, err := coerceScalar(c.Type, elem)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out[i] = cv
	}
	return out, nil
}

// CoerceElement converts v to the column's scalar kind, ignoring list
// cardinality. Used for containment filters on list columns.
func (c *Column) CoerceElement(v ir.Value) (ir.Value, error) {
	if ir.IsNull(v) {
		return ir.Null{}, nil
	}
	return coerceScalar(c.Type, v)
}

func coerceScalar(t ColumnType, v ir.Value) (ir.Value, error) {
	switch t {
	case ColumnString:
		if s, ok := v.(ir.String); ok {
			return s, nil
		}
	case ColumnBoolean:
		switch val := v.(type) {
		case ir.Bool:
			return val, nil
		case ir.String:
			if b, err := strconv.ParseBool(string(val)); err == nil {
				return ir.Bool(b), nil
			}
		}
	case ColumnInt:
		switch val := v.(type) {
		case ir.Int:
			return val, nil
		case ir.BigInt:
			if n := val.Big(); n.IsInt64() && fitsInt32(n.Int64()) {
				return ir.Int(int32(n.Int64())), nil
			}
			return nil, fmt.Errorf("%s overflows Int", val.String())
		case ir.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 32); err == nil {
				return ir.Int(int32(n)), nil
			}
		}
	case ColumnBigInt:
		switch val := v.(type) {
		case ir.Int:
			return ir.NewBigInt(int64(val)), nil
		case ir.BigInt:
			return val, nil
		case ir.String:
			if n, err := ir.ParseBigInt(string(val)); err == nil {
				return n, nil
			}
		}
	case ColumnBigDecimal:
		switch val := v.(type) {
		case ir.Int:
			return ir.NewBigDecimal(decimal.NewFromInt(int64(val))), nil
		case ir.BigInt:
			return ir.NewBigDecimal(decimal.NewFromBigInt(val.Big(), 0)), nil
		case ir.BigDecimal:
			return val, nil
		case ir.String:
			if d, err := ir.ParseBigDecimal(string(val)); err == nil {
				return d, nil
			}
		}
	case ColumnBytes:
		switch val := v.(type) {
		case ir.Bytes:
			return val, nil
		case ir.String:
			if b, err := ir.ParseBytes(string(val)); err == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot use %s as %s", ir.Describe(v), t)
}

func fitsInt32(n int64) bool {
	return n >= -1<<31 && n < 1<<31
}

// ToSQL encodes a coerced value as a driver parameter. List columns are
// stored as canonical JSON arrays.
func (c *Column) ToSQL(v ir.Value) (any, error) {
	if ir.IsNull(v) {
		return nil, nil
	}
	if c.List {
		list, ok := v.(ir.List)
		if !ok {
			return nil, fmt.Errorf("expected a list, got %s", ir.Describe(v))
		}
		data, err := ir.MarshalCanonical(list)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return scalarToSQL(v)
}

func scalarToSQL(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.Int:
		return int64(val), nil
	case ir.BigInt:
		return val.String(), nil
	case ir.BigDecimal:
		return val.String(), nil
	case ir.Bytes:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("cannot encode %s as a column value", ir.Describe(v))
	}
}

// ElementToSQL encodes a scalar the way it appears inside a JSON list
// column, for comparisons against json_each(...).value.
func (c *Column) ElementToSQL(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.Bytes:
		return val.String(), nil
	case ir.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return scalarToSQL(v)
	}
}

// FromSQL decodes a value scanned from the driver.
func (c *Column) FromSQL(raw any) (ir.Value, error) {
	if raw == nil {
		return ir.Null{}, nil
	}
	if c.List {
		text, ok := asText(raw)
		if !ok {
			return nil, fmt.Errorf("column %s: expected JSON text, got %T", c.Name, raw)
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var elems []any
		if err := dec.Decode(&elems); err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		out := make(ir.List, len(elems))
		for i, elem := range elems {
			ev, err := elementFromJSON(c.Type, elem)
			if err != nil {
				return nil, fmt.Errorf("column %s[%d]: %w", c.Name, i, err)
			}
			out[i] = ev
		}
		return out, nil
	}
	v, err := scalarFromSQL(c.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	return v, nil
}

func scalarFromSQL(t ColumnType, raw any) (ir.Value, error) {
	switch t {
	case ColumnBoolean:
		switch val := raw.(type) {
		case bool:
			return ir.Bool(val), nil
		case int64:
			return ir.Bool(val != 0), nil
		}
	case ColumnInt:
		if n, ok := raw.(int64); ok && fitsInt32(n) {
			return ir.Int(int32(n)), nil
		}
	case ColumnBigInt:
		if n, ok := raw.(int64); ok {
			return ir.NewBigInt(n), nil
		}
		if text, ok := asText(raw); ok {
			return ir.ParseBigInt(text)
		}
	case ColumnBigDecimal:
		if n, ok := raw.(int64); ok {
			return ir.NewBigDecimal(decimal.NewFromInt(n)), nil
		}
		if text, ok := asText(raw); ok {
			return ir.ParseBigDecimal(text)
		}
	case ColumnBytes:
		switch val := raw.(type) {
		case []byte:
			return ir.Bytes(bytes.Clone(val)), nil
		case string:
			return ir.Bytes(val), nil
		}
	case ColumnString:
		if text, ok := asText(raw); ok {
			return ir.String(text), nil
		}
	}
	return nil, fmt.Errorf("cannot decode %T as %s", raw, t)
}

func elementFromJSON(t ColumnType, elem any) (ir.Value, error) {
	switch val := elem.(type) {
	case nil:
		return ir.Null{}, nil
	case bool:
		return ir.Bool(val), nil
	case json.Number:
		n, ok := new(big.Int).SetString(val.String(), 10)
		if !ok {
			return ir.ParseBigDecimal(val.String())
		}
		return coerceScalar(t, ir.NewBigIntFromBig(n))
	case string:
		return coerceScalar(t, ir.String(val))
	default:
		return nil, fmt.Errorf("unexpected JSON element %T", elem)
	}
}

func asText(raw any) (string, bool) {
	switch val := raw.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}
