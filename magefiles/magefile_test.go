//go:build mage

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run", "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "run", "model", "model.msgpack"), make([]byte, 300), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "run", "preprocessor.msgpack"), make([]byte, 124), 0o644))

	size, err := dirSize(root)
	require.NoError(t, err)
	assert.Equal(t, int64(424), size)
}

func TestDirSizeMissingRoot(t *testing.T) {
	size, err := dirSize(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, size)
}
