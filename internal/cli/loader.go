package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/entitystore/internal/compiler"
	"github.com/roach88/entitystore/internal/ir"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all validation errors before returning.
	LoadModeCollectAll
)

// LoadResult contains a compiled manifest and its deployment id.
type LoadResult struct {
	Manifest     *ir.Manifest
	DeploymentID string // content hash of the manifest
	FileCount    int    // Number of CUE files found
}

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadManifest loads, compiles and validates the CUE manifest in dir.
//
// A nil result means the manifest could not be compiled at all; the single
// error says why. A non-nil result with errors means it compiled but failed
// validation. In LoadModeFailFast only the first validation error is kept.
func LoadManifest(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.BuildDir(dir)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			return nil, []error{convertCompileError(compileErr)}
		}
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}}
	}

	m, err := compiler.CompileManifest(value)
	if err != nil {
		return nil, []error{convertCompileError(err)}
	}

	result := &LoadResult{Manifest: m, FileCount: len(cueFiles)}

	var errs []error
	for _, verr := range compiler.ValidateManifest(m) {
		errs = append(errs, verr)
		if mode == LoadModeFailFast {
			return result, errs
		}
	}
	if len(errs) > 0 {
		return result, errs
	}

	id, err := ir.DeploymentID(*m)
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("hashing manifest: %v", err)}}
	}
	result.DeploymentID = id
	return result, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
// Store and query failures use the store's own codes (OUT_OF_ORDER_BLOCK, ...).
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No CUE files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeInvalidField = "E008" // Malformed entity or field declaration
	ErrCodeInvalidInput = "E009" // Malformed flag or input file
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "network":
		return compiler.ErrInvalidNetwork
	case field == "entity":
		return compiler.ErrNoEntityTypes
	case strings.HasPrefix(field, "entity."):
		return ErrCodeInvalidField
	default:
		return ErrCodeGeneric
	}
}
