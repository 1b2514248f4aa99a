package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/entitystore/internal/ir"
)

// BuildDir loads the CUE package in dir and evaluates it to a single value.
// Load failures are returned as plain errors; evaluation failures as a
// *CompileError with the offending position.
func BuildDir(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return value, formatCUEError(err)
	}
	return value, nil
}

// LoadManifestDir builds, compiles and validates the manifest in dir.
// The first validation error is returned; use ValidateManifest on a
// compiled manifest to see all of them.
func LoadManifestDir(dir string) (*ir.Manifest, error) {
	value, err := BuildDir(dir)
	if err != nil {
		return nil, err
	}
	m, err := CompileManifest(value)
	if err != nil {
		return nil, err
	}
	if errs := ValidateManifest(m); len(errs) > 0 {
		return nil, errs[0]
	}
	return m, nil
}
