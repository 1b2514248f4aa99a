package layout

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, machine-readable error category. The CLI reports
// it verbatim.
type ErrorCode string

const (
	// ErrCodeSchema indicates malformed or self-inconsistent entity types.
	ErrCodeSchema ErrorCode = "SCHEMA_ERROR"

	// ErrCodeUnknownType indicates a reference to an undeclared entity type.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnknownField indicates a reference to a field absent from the layout.
	ErrCodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// ErrCodeInvalidValue indicates a value that does not fit its column.
	ErrCodeInvalidValue ErrorCode = "INVALID_VALUE"
)

// SchemaError reports entity type definitions that cannot be compiled.
// It is fatal for the deployment and is raised before any write.
type SchemaError struct {
	EntityType string
	Field      string
	Message    string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	switch {
	case e.EntityType != "" && e.Field != "":
		return fmt.Sprintf("%s: %s.%s: %s", ErrCodeSchema, e.EntityType, e.Field, e.Message)
	case e.EntityType != "":
		return fmt.Sprintf("%s: %s: %s", ErrCodeSchema, e.EntityType, e.Message)
	default:
		return fmt.Sprintf("%s: %s", ErrCodeSchema, e.Message)
	}
}

// Code returns the stable error category.
func (e *SchemaError) Code() ErrorCode { return ErrCodeSchema }

// UnknownTypeError reports a query or write naming an undeclared type.
type UnknownTypeError struct {
	EntityType string
}

// Error implements the error interface.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%s: entity type %q is not declared", ErrCodeUnknownType, e.EntityType)
}

// Code returns the stable error category.
func (e *UnknownTypeError) Code() ErrorCode { return ErrCodeUnknownType }

// UnknownFieldError reports a reference to a field the type does not have.
type UnknownFieldError struct {
	EntityType string
	Field      string
}

// Error implements the error interface.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: entity type %q has no field %q", ErrCodeUnknownField, e.EntityType, e.Field)
}

// Code returns the stable error category.
func (e *UnknownFieldError) Code() ErrorCode { return ErrCodeUnknownField }

// InvalidValueError reports a value that cannot be stored in, or compared
// against, a column.
type InvalidValueError struct {
	EntityType string
	Field      string
	Message    string
}

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", ErrCodeInvalidValue, e.EntityType, e.Field, e.Message)
}

// Code returns the stable error category.
func (e *InvalidValueError) Code() ErrorCode { return ErrCodeInvalidValue }

// IsSchemaError returns true if err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsUnknownTypeError returns true if err is or wraps an UnknownTypeError.
func IsUnknownTypeError(err error) bool {
	var ue *UnknownTypeError
	return errors.As(err, &ue)
}

// IsUnknownFieldError returns true if err is or wraps an UnknownFieldError.
func IsUnknownFieldError(err error) bool {
	var ue *UnknownFieldError
	return errors.As(err, &ue)
}

// IsInvalidValueError returns true if err is or wraps an InvalidValueError.
func IsInvalidValueError(err error) bool {
	var ie *InvalidValueError
	return errors.As(err, &ie)
}
