package store

import (
	"errors"
	"fmt"

	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
)

// ErrorCode is a stable, machine-readable error category.
type ErrorCode string

const (
	// ErrCodeOutOfOrderBlock indicates a write that would not advance an
	// entity's history.
	ErrCodeOutOfOrderBlock ErrorCode = "OUT_OF_ORDER_BLOCK"

	// ErrCodeRevertTargetTooOld indicates a revert below recorded history.
	ErrCodeRevertTargetTooOld ErrorCode = "REVERT_TARGET_TOO_OLD"

	// ErrCodePruneTargetBeyondHead indicates a prune past the last
	// applied block.
	ErrCodePruneTargetBeyondHead ErrorCode = "PRUNE_TARGET_BEYOND_HEAD"

	// ErrCodeUnknownDeployment indicates an unregistered deployment id.
	ErrCodeUnknownDeployment ErrorCode = "UNKNOWN_DEPLOYMENT"

	// ErrCodeStorage indicates a failure of the backing database.
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"
)

// OutOfOrderBlockError reports a write at a block that does not advance
// the target's history. The store is left unchanged.
type OutOfOrderBlockError struct {
	DeploymentID string
	Key          string // "Type[id]", empty for deployment-level checks
	Block        int64
	// Last is the block the write had to exceed (or reach, for the
	// deployment head).
	Last   int64
	Reason string
}

// Error implements the error interface.
func (e *OutOfOrderBlockError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: deployment %s: block %d %s %d",
			ErrCodeOutOfOrderBlock, e.DeploymentID, e.Block, e.Reason, e.Last)
	}
	return fmt.Sprintf("%s: deployment %s: %s at block %d %s %d",
		ErrCodeOutOfOrderBlock, e.DeploymentID, e.Key, e.Block, e.Reason, e.Last)
}

// Code returns the stable error category.
func (e *OutOfOrderBlockError) Code() ErrorCode { return ErrCodeOutOfOrderBlock }

// RevertTargetTooOldError reports a revert below the earliest block the
// deployment still has history for. The caller must resync from scratch.
type RevertTargetTooOldError struct {
	DeploymentID string
	Target       int64
	Earliest     int64
}

// Error implements the error interface.
func (e *RevertTargetTooOldError) Error() string {
	return fmt.Sprintf("%s: deployment %s: cannot revert to block %d, earliest block is %d",
		ErrCodeRevertTargetTooOld, e.DeploymentID, e.Target, e.Earliest)
}

// Code returns the stable error category.
func (e *RevertTargetTooOldError) Code() ErrorCode { return ErrCodeRevertTargetTooOld }

// PruneTargetBeyondHeadError reports a prune to a block the deployment
// has not reached. Head is nil before the first applied block.
type PruneTargetBeyondHeadError struct {
	DeploymentID string
	Target       int64
	Head         *int64
}

// Error implements the error interface.
func (e *PruneTargetBeyondHeadError) Error() string {
	if e.Head == nil {
		return fmt.Sprintf("%s: deployment %s: cannot prune to block %d, no block has been applied",
			ErrCodePruneTargetBeyondHead, e.DeploymentID, e.Target)
	}
	return fmt.Sprintf("%s: deployment %s: cannot prune to block %d beyond head %d",
		ErrCodePruneTargetBeyondHead, e.DeploymentID, e.Target, *e.Head)
}

// Code returns the stable error category.
func (e *PruneTargetBeyondHeadError) Code() ErrorCode { return ErrCodePruneTargetBeyondHead }

// UnknownDeploymentError reports an unregistered deployment id.
type UnknownDeploymentError struct {
	DeploymentID string
}

// Error implements the error interface.
func (e *UnknownDeploymentError) Error() string {
	return fmt.Sprintf("%s: deployment %q does not exist", ErrCodeUnknownDeployment, e.DeploymentID)
}

// Code returns the stable error category.
func (e *UnknownDeploymentError) Code() ErrorCode { return ErrCodeUnknownDeployment }

// StorageError wraps a failure of the backing database. The store never
// retries; the operation's transaction has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCodeStorage, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// Code returns the stable error category.
func (e *StorageError) Code() ErrorCode { return ErrCodeStorage }

// IsOutOfOrderBlockError returns true if err is or wraps an OutOfOrderBlockError.
func IsOutOfOrderBlockError(err error) bool {
	var e *OutOfOrderBlockError
	return errors.As(err, &e)
}

// IsRevertTargetTooOldError returns true if err is or wraps a RevertTargetTooOldError.
func IsRevertTargetTooOldError(err error) bool {
	var e *RevertTargetTooOldError
	return errors.As(err, &e)
}

// IsPruneTargetBeyondHeadError returns true if err is or wraps a PruneTargetBeyondHeadError.
func IsPruneTargetBeyondHeadError(err error) bool {
	var e *PruneTargetBeyondHeadError
	return errors.As(err, &e)
}

// IsUnknownDeploymentError returns true if err is or wraps an UnknownDeploymentError.
func IsUnknownDeploymentError(err error) bool {
	var e *UnknownDeploymentError
	return errors.As(err, &e)
}

// IsStorageError returns true if err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// wrapErr passes domain errors through and wraps everything else in a
// StorageError.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var invalid *queryir.InvalidQueryError
	switch {
	case IsOutOfOrderBlockError(err),
		IsRevertTargetTooOldError(err),
		IsPruneTargetBeyondHeadError(err),
		IsUnknownDeploymentError(err),
		IsStorageError(err),
		layout.IsSchemaError(err),
		layout.IsUnknownTypeError(err),
		layout.IsUnknownFieldError(err),
		layout.IsInvalidValueError(err),
		errors.As(err, &invalid):
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ErrCodeInvalidQuery is reported by CodeOf for a rejected query.
const ErrCodeInvalidQuery = "INVALID_QUERY"

// CodeOf returns the stable category of a store, layout or query error, or
// "" when err carries none.
func CodeOf(err error) string {
	var storeErr interface{ Code() ErrorCode }
	if errors.As(err, &storeErr) {
		return string(storeErr.Code())
	}
	var layoutErr interface{ Code() layout.ErrorCode }
	if errors.As(err, &layoutErr) {
		return string(layoutErr.Code())
	}
	var invalid *queryir.InvalidQueryError
	if errors.As(err, &invalid) {
		return ErrCodeInvalidQuery
	}
	return ""
}
