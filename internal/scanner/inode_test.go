//go:build unix

package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInodeOf(t *testing.T) {
	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "file1.txt")
	file2 := filepath.Join(tmpDir, "file2.txt")
	require.NoError(t, os.WriteFile(file1, []byte("content 1"), 0o644))
	require.NoError(t, os.WriteFile(file2, []byte("content 2"), 0o644))

	info1, err := os.Stat(file1)
	require.NoError(t, err)
	info2, err := os.Stat(file2)
	require.NoError(t, err)

	assert.NotZero(t, inodeOf(info1.Sys()))
	assert.NotEqual(t, inodeOf(info1.Sys()), inodeOf(info2.Sys()))
}

func TestInodeOf_InvalidSysInterface(t *testing.T) {
	assert.Zero(t, inodeOf(nil))
	assert.Zero(t, inodeOf("not a valid type"))
}
