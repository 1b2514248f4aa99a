package compiler

import (
	"fmt"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
)

// Validation error codes (E100-E199)
const (
	ErrNoEntityTypes       = "E101" // schema declares no types
	ErrMissingID           = "E102" // type has no id field
	ErrInvalidID           = "E103" // id is not ID! or String!
	ErrUndeclaredType      = "E104" // relationship targets undeclared type
	ErrDuplicateName       = "E105" // duplicate type name
	ErrInvalidDerived      = "E106" // derivedFrom does not point back
	ErrColumnCollision     = "E107" // two fields map to one column
	ErrReservedColumn      = "E108" // field maps to a versioning column
	ErrInvalidName         = "E109" // type or field name is not an identifier
	ErrScalarShadowed      = "E110" // type named after a built-in scalar
	ErrInvalidNetwork      = "E111" // manifest network is empty
	ErrInvalidSpecVersion  = "E112" // manifest spec_version is empty
	ErrDerivedScalarTarget = "E113" // derived field has a scalar type
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateManifest validates a manifest and its schema.
// Returns all errors found (does not fail-fast).
func ValidateManifest(m *ir.Manifest) []ValidationError {
	var errs []ValidationError
	if m.Network == "" {
		errs = append(errs, ValidationError{Field: "network", Message: "network must be non-empty", Code: ErrInvalidNetwork})
	}
	if m.SpecVersion == "" {
		errs = append(errs, ValidationError{Field: "spec_version", Message: "spec_version must be non-empty", Code: ErrInvalidSpecVersion})
	}
	return append(errs, Validate(m.Schema)...)
}

// Validate checks a schema against the rules the layout compiler enforces,
// reporting every problem instead of the first.
func Validate(schema ir.Schema) []ValidationError {
	var errs []ValidationError

	if len(schema.Types) == 0 {
		return []ValidationError{{Field: "entity", Message: "at least one entity type is required", Code: ErrNoEntityTypes}}
	}

	declared := make(map[string]ir.EntityType, len(schema.Types))
	for i, et := range schema.Types {
		path := fmt.Sprintf("entity[%d]", i)
		if !isName(et.Name) {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("invalid type name %q", et.Name), Code: ErrInvalidName})
		}
		if ir.IsScalar(et.Name) {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("type %q shadows a built-in scalar", et.Name), Code: ErrScalarShadowed})
		}
		if _, dup := declared[et.Name]; dup {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("duplicate type name: %q", et.Name), Code: ErrDuplicateName})
			continue
		}
		declared[et.Name] = et
	}

	for _, et := range schema.Types {
		errs = append(errs, validateEntityType(et, declared)...)
	}
	return errs
}

func validateEntityType(et ir.EntityType, declared map[string]ir.EntityType) []ValidationError {
	var errs []ValidationError
	prefix := "entity." + et.Name

	id, ok := et.Field(ir.IDField)
	switch {
	case !ok:
		errs = append(errs, ValidationError{Field: prefix, Message: "missing identifier field \"id\"", Code: ErrMissingID})
	case id.IsDerived() || id.Type.List || !id.Type.NonNull ||
		(id.Type.Base != ir.ScalarID && id.Type.Base != ir.ScalarString):
		errs = append(errs, ValidationError{
			Field:   prefix + ".id",
			Message: fmt.Sprintf("identifier must be ID! or String!, got %s", id.Type),
			Code:    ErrInvalidID,
		})
	}

	columns := map[string]string{ir.IDField: ir.IDField}
	seen := map[string]bool{}
	for _, f := range et.Fields {
		path := prefix + "." + f.Name
		if !isName(f.Name) {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("invalid field name %q", f.Name), Code: ErrInvalidName})
		}
		if seen[f.Name] {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("duplicate field name: %q", f.Name), Code: ErrDuplicateName})
		}
		seen[f.Name] = true
		if f.Name == ir.IDField {
			continue
		}

		if !f.Type.IsScalar() {
			if _, ok := declared[f.Type.Base]; !ok {
				errs = append(errs, ValidationError{
					Field:   path,
					Message: fmt.Sprintf("relationship targets undeclared type %q", f.Type.Base),
					Code:    ErrUndeclaredType,
				})
				continue
			}
		}

		if f.IsDerived() {
			errs = append(errs, validateDerived(et, f, path, declared)...)
			continue
		}

		col := layout.SnakeCase(f.Name)
		if layout.IsReservedColumn(col) {
			errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf("column name %q is reserved", col), Code: ErrReservedColumn})
			continue
		}
		if other, clash := columns[col]; clash {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("column name %q collides with field %s", col, other),
				Code:    ErrColumnCollision,
			})
			continue
		}
		columns[col] = f.Name
	}
	return errs
}

func validateDerived(et ir.EntityType, f ir.Field, path string, declared map[string]ir.EntityType) []ValidationError {
	if f.Type.IsScalar() {
		return []ValidationError{{
			Field:   path,
			Message: fmt.Sprintf("derived field must reference an entity type, got %s", f.Type),
			Code:    ErrDerivedScalarTarget,
		}}
	}
	target := declared[f.Type.Base]
	forward, ok := target.Field(f.DerivedFrom)
	if !ok {
		return []ValidationError{{
			Field:   path,
			Message: fmt.Sprintf("derived from missing field %s.%s", target.Name, f.DerivedFrom),
			Code:    ErrInvalidDerived,
		}}
	}
	if forward.IsDerived() || forward.Type.Base != et.Name {
		return []ValidationError{{
			Field:   path,
			Message: fmt.Sprintf("%s.%s does not reference %s", target.Name, f.DerivedFrom, et.Name),
			Code:    ErrInvalidDerived,
		}}
	}
	return nil
}

func isName(s string) bool {
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
