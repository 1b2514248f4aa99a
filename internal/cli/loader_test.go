package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/compiler"
)

func TestLoadManifest(t *testing.T) {
	result, errs := LoadManifest(tokenManifest, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.FileCount)
	assert.NotEmpty(t, result.DeploymentID)
	assert.Equal(t, []string{"Token", "Owner"}, result.Manifest.Schema.TypeNames())
}

func TestLoadManifest_CollectAll(t *testing.T) {
	dir := writeManifest(t, `package manifest

spec_version: "0.0.1"
network:      "mainnet"
start_block:  0

entity: {
	A: {name: "String"}
	B: {name: "String"}
}
`)

	result, errs := LoadManifest(dir, LoadModeCollectAll)
	require.NotNil(t, result)
	assert.Len(t, errs, 2)
	assert.Empty(t, result.DeploymentID)

	result, errs = LoadManifest(dir, LoadModeFailFast)
	require.NotNil(t, result)
	require.Len(t, errs, 1)

	var verr compiler.ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, compiler.ErrMissingID, verr.Code)
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	for _, name := range []string{"a.cue", "nested/b.cue", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package manifest\n"), 0644))
	}

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.cue"),
		filepath.Join(dir, "nested", "b.cue"),
	}, files)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"cue", ErrCodeBuildFailed},
		{"network", compiler.ErrInvalidNetwork},
		{"entity", compiler.ErrNoEntityTypes},
		{"entity.Token", ErrCodeInvalidField},
		{"entity.Token.owner", ErrCodeInvalidField},
		{"start_block", ErrCodeGeneric},
		{"", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
