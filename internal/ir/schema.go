package ir

import (
	"fmt"
	"strings"
)

// Built-in scalar type names. Any other base name in a FieldType refers to
// an entity type.
const (
	ScalarID         = "ID"
	ScalarString     = "String"
	ScalarBoolean    = "Boolean"
	ScalarInt        = "Int"
	ScalarBigInt     = "BigInt"
	ScalarBigDecimal = "BigDecimal"
	ScalarBytes      = "Bytes"
)

var scalarNames = map[string]bool{
	ScalarID:         true,
	ScalarString:     true,
	ScalarBoolean:    true,
	ScalarInt:        true,
	ScalarBigInt:     true,
	ScalarBigDecimal: true,
	ScalarBytes:      true,
}

// IsScalar reports whether name is a built-in scalar.
func IsScalar(name string) bool {
	return scalarNames[name]
}

// Schema is the ordered set of entity types declared by one deployment.
type Schema struct {
	Types []EntityType `json:"types"`
}

// Type returns the entity type with the given name.
func (s Schema) Type(name string) (EntityType, bool) {
	for _, t := range s.Types {
		if t.Name == name {
			return t, true
		}
	}
	return EntityType{}, false
}

// TypeNames returns type names in declaration order.
func (s Schema) TypeNames() []string {
	names := make([]string, len(s.Types))
	for i, t := range s.Types {
		names[i] = t.Name
	}
	return names
}

// EntityType is one declared record shape.
type EntityType struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field returns the field with the given name.
func (t EntityType) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Field is one declared attribute or relationship of an entity type.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// DerivedFrom names the field on the target type that points back here.
	// Derived fields have no storage of their own.
	DerivedFrom string `json:"derived_from,omitempty"`
}

// IsDerived reports whether the field is a virtual reverse relationship.
func (f Field) IsDerived() bool {
	return f.DerivedFrom != ""
}

// FieldType is a parsed GraphQL-style type reference such as "BigInt",
// "Owner!" or "[Token!]!". Nested lists are not supported.
type FieldType struct {
	Base        string
	List        bool
	NonNull     bool
	ElemNonNull bool
}

// ParseFieldType parses a type reference.
func ParseFieldType(s string) (FieldType, error) {
	src := strings.TrimSpace(s)
	var t FieldType
	if strings.HasSuffix(src, "!") {
		t.NonNull = true
		src = strings.TrimSpace(strings.TrimSuffix(src, "!"))
	}
	if strings.HasPrefix(src, "[") {
		if !strings.HasSuffix(src, "]") {
			return FieldType{}, fmt.Errorf("invalid type %q: unterminated list", s)
		}
		t.List = true
		src = strings.TrimSpace(src[1 : len(src)-1])
		if strings.HasSuffix(src, "!") {
			t.ElemNonNull = true
			src = strings.TrimSpace(strings.TrimSuffix(src, "!"))
		}
		if strings.HasPrefix(src, "[") {
			return FieldType{}, fmt.Errorf("invalid type %q: nested lists are not supported", s)
		}
	}
	if !isTypeName(src) {
		return FieldType{}, fmt.Errorf("invalid type %q: bad type name %q", s, src)
	}
	t.Base = src
	return t, nil
}

// MustParseFieldType is like ParseFieldType but panics on error.
// Use only in tests or with literal input.
func MustParseFieldType(s string) FieldType {
	t, err := ParseFieldType(s)
	if err != nil {
		panic(err)
	}
	return t
}

func isTypeName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// IsScalar reports whether the base type is a built-in scalar.
func (t FieldType) IsScalar() bool {
	return IsScalar(t.Base)
}

// String renders the type in GraphQL notation.
func (t FieldType) String() string {
	s := t.Base
	if t.List {
		if t.ElemNonNull {
			s += "!"
		}
		s = "[" + s + "]"
	}
	if t.NonNull {
		s += "!"
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(data []byte) error {
	parsed, err := ParseFieldType(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
