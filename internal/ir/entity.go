package ir

import (
	"bytes"
	"fmt"
	"slices"
	"unicode/utf16"
)

// IDField is the name of the identifier field every entity type declares.
const IDField = "id"

// Entity is one version of one entity: field name to value.
// Use SortedKeys() for deterministic iteration.
type Entity map[string]Value

// ID returns the entity's identifier, or "" if it has none.
func (e Entity) ID() string {
	if s, ok := e[IDField].(String); ok {
		return string(s)
	}
	return ""
}

// Clone returns a shallow copy. Values are immutable so this is enough.
func (e Entity) Clone() Entity {
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Merge returns a copy of e with every field in update written over it.
// A Null in update clears the field.
func (e Entity) Merge(update Entity) Entity {
	out := e.Clone()
	for k, v := range update {
		if v == nil {
			v = Null{}
		}
		out[k] = v
	}
	return out
}

// Equal reports whether two entities hold the same values.
// A missing field and a Null field are the same thing.
func (e Entity) Equal(other Entity) bool {
	for k, v := range e {
		if !Equal(v, other[k]) {
			return false
		}
	}
	for k, v := range other {
		if _, ok := e[k]; !ok && !IsNull(v) {
			return false
		}
	}
	return true
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (e Entity) SortedKeys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// MarshalJSON renders the entity with sorted keys. BigInt and BigDecimal are
// strings and Bytes are 0x hex, matching ToAny.
func (e Entity) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := marshalCanonical(ToAny(e[k]))
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// OperationKind distinguishes entity writes.
type OperationKind int

const (
	// OpSet upserts field values.
	OpSet OperationKind = iota
	// OpRemove deletes the entity as of the block.
	OpRemove
)

func (k OperationKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("OperationKind(%d)", int(k))
	}
}

// EntityOperation is one write produced by indexing logic for a block.
type EntityOperation struct {
	Kind       OperationKind
	EntityType string
	EntityID   string
	// Data is only meaningful for OpSet. It need not repeat the id.
	Data Entity
}

// Set creates an upsert operation.
func Set(entityType, id string, data Entity) EntityOperation {
	return EntityOperation{Kind: OpSet, EntityType: entityType, EntityID: id, Data: data}
}

// Remove creates a removal operation.
func Remove(entityType, id string) EntityOperation {
	return EntityOperation{Kind: OpRemove, EntityType: entityType, EntityID: id}
}

// Key identifies the entity an operation targets.
func (op EntityOperation) Key() EntityKey {
	return EntityKey{EntityType: op.EntityType, EntityID: op.EntityID}
}

// EntityKey identifies one entity within a deployment.
type EntityKey struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

func (k EntityKey) String() string {
	return k.EntityType + "[" + k.EntityID + "]"
}
