package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/entitystore/internal/ir"
)

// DefaultSpecVersion is assumed when a manifest omits spec_version.
const DefaultSpecVersion = "0.0.1"

// CompileManifest parses a CUE deployment manifest into an ir.Manifest.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The manifest looks like:
//
//	spec_version: "0.0.1"
//	network:      "mainnet"
//	start_block:  0
//	entity: {
//		Token: {
//			id:    "ID!"
//			owner: "Owner!"
//		}
//		Owner: {
//			id:     "ID!"
//			tokens: {type: "[Token!]!", derivedFrom: "owner"}
//		}
//	}
func CompileManifest(v cue.Value) (*ir.Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &ir.Manifest{SpecVersion: DefaultSpecVersion}

	if sv := v.LookupPath(cue.ParsePath("spec_version")); sv.Exists() {
		s, err := sv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m.SpecVersion = s
	}

	networkVal := v.LookupPath(cue.ParsePath("network"))
	if !networkVal.Exists() {
		return nil, &CompileError{
			Field:   "network",
			Message: "network is required",
			Pos:     v.Pos(),
		}
	}
	network, err := networkVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m.Network = network

	if sb := v.LookupPath(cue.ParsePath("start_block")); sb.Exists() {
		n, err := sb.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n < 0 {
			return nil, &CompileError{
				Field:   "start_block",
				Message: "start_block must not be negative",
				Pos:     sb.Pos(),
			}
		}
		m.StartBlock = n
	}

	entityVal := v.LookupPath(cue.ParsePath("entity"))
	if !entityVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity type is required",
			Pos:     v.Pos(),
		}
	}
	schema, err := CompileSchema(entityVal)
	if err != nil {
		return nil, err
	}
	m.Schema = schema
	return m, nil
}

// CompileSchema parses the entity block of a manifest. Types and fields keep
// their declaration order.
func CompileSchema(v cue.Value) (ir.Schema, error) {
	var schema ir.Schema

	iter, err := v.Fields()
	if err != nil {
		return schema, formatCUEError(err)
	}
	for iter.Next() {
		typeName := iter.Label()
		et, err := compileEntityType(typeName, iter.Value())
		if err != nil {
			return schema, err
		}
		schema.Types = append(schema.Types, et)
	}
	return schema, nil
}

func compileEntityType(name string, v cue.Value) (ir.EntityType, error) {
	et := ir.EntityType{Name: name}

	iter, err := v.Fields()
	if err != nil {
		return et, &CompileError{
			Field:   "entity." + name,
			Message: "entity type must be a struct of fields",
			Pos:     v.Pos(),
		}
	}
	for iter.Next() {
		fieldName := iter.Label()
		f, err := compileField(name, fieldName, iter.Value())
		if err != nil {
			return et, err
		}
		et.Fields = append(et.Fields, f)
	}
	return et, nil
}

// compileField accepts either a type string or a struct with type and
// derivedFrom.
func compileField(typeName, fieldName string, v cue.Value) (ir.Field, error) {
	path := fmt.Sprintf("entity.%s.%s", typeName, fieldName)
	f := ir.Field{Name: fieldName}

	var typeStr string
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		typeStr = s
	case cue.StructKind:
		typeVal := v.LookupPath(cue.ParsePath("type"))
		if !typeVal.Exists() {
			return f, &CompileError{Field: path + ".type", Message: "field type is required", Pos: v.Pos()}
		}
		s, err := typeVal.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		typeStr = s

		if dv := v.LookupPath(cue.ParsePath("derivedFrom")); dv.Exists() {
			derived, err := dv.String()
			if err != nil {
				return f, formatCUEError(err)
			}
			f.DerivedFrom = derived
		}
	default:
		return f, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("field must be a type string or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	ft, err := ir.ParseFieldType(typeStr)
	if err != nil {
		return f, &CompileError{Field: path, Message: err.Error(), Pos: v.Pos()}
	}
	f.Type = ft
	return f, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
