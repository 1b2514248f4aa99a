package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/compiler"
	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output    string // output file path for the DDL script
	Namespace string // table name prefix used for rendering
}

// CompilationResult holds the compiled manifest and its physical layout.
type CompilationResult struct {
	DeploymentID string                  `json:"deployment_id"`
	Manifest     *ir.Manifest            `json:"manifest"`
	DDL          string                  `json:"ddl"`
	Warnings     []compiler.CycleWarning `json:"warnings"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <manifest-dir>",
		Short: "Compile a CUE manifest to its table layout",
		Long: `Compile a CUE deployment manifest and render the DDL of its tables.

The compiler parses the CUE package, validates the entity schema, derives
the deployment id from the manifest's content hash and prints the CREATE
statements the store would run for it. Nothing is written to the database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the DDL script to a file")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "sgd1", "table namespace to render")

	return cmd
}

func runCompile(opts *CompileOptions, manifestDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// Use shared loader with collect-all mode
	loadResult, loadErrors := LoadManifest(manifestDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil {
		code, message := parseCompileError(loadErrors[0])
		return outputCompileError(formatter, code, message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, manifestDir)
	for _, t := range loadResult.Manifest.Schema.Types {
		formatter.VerboseLog("Compiling entity type: %s", t.Name)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	l, err := layout.Compile(loadResult.DeploymentID, opts.Namespace, loadResult.Manifest.Schema)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	result := &CompilationResult{
		DeploymentID: loadResult.DeploymentID,
		Manifest:     loadResult.Manifest,
		DDL:          l.DDL(),
		Warnings:     compiler.AnalyzeCycles(loadResult.Manifest.Schema),
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(result.DDL), 0644); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	m := result.Manifest
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d entity type(s) for network %s\n", len(m.Schema.Types), m.Network)
	fmt.Fprintf(formatter.Writer, "Deployment: %s\n", result.DeploymentID)
	fmt.Fprintf(formatter.Writer, "Start block: %d\n\n", m.StartBlock)

	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", w.Message)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote DDL to %s\n", outputFile)
		return nil
	}
	fmt.Fprint(formatter.Writer, result.DDL)
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var validationErr compiler.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Code, fmt.Sprintf("%s: %s", validationErr.Field, validationErr.Message)
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
