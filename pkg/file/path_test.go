package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExt(t *testing.T) {
	assert.Equal(t, ".gcode", Ext("/prints/benchy.gcode"))
	assert.Equal(t, ".3mf", Ext("benchy.gcode.3mf"))
	assert.Equal(t, "", Ext("/prints/.gcode"))
	assert.Equal(t, "", Ext("README"))
}

func TestEnsureExt(t *testing.T) {
	assert.Equal(t, "benchy.3mf", EnsureExt("benchy.3mf", ".3mf"))
	assert.Equal(t, "benchy.3MF", EnsureExt("benchy.3MF", "3mf"))
	assert.Equal(t, "benchy.gcode.3mf", EnsureExt("benchy.gcode", ".3mf"))
	assert.Equal(t, "benchy.3mf", EnsureExt("benchy", "3mf"))
	assert.Equal(t, "benchy", EnsureExt("benchy", ""))
}

func TestIsRegular(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.gcode")
	require.NoError(t, os.WriteFile(path, []byte("G28\n"), 0o644))

	ok, err := IsRegular(path)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsRegular(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsRegular(filepath.Join(dir, "missing.gcode"))
	require.NoError(t, err)
	assert.False(t, ok)
}
