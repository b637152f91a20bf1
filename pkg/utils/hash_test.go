package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDigests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.msi")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	md5sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", md5sum)

	sha, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha)

	_, err = FileMD5(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestMatchesMD5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.msi")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	assert.True(t, MatchesMD5(path, "5D41402ABC4B2A76B9719D911017C592"))
	assert.False(t, MatchesMD5(path, "00000000000000000000000000000000"))
	assert.True(t, MatchesMD5(path, ""))
	assert.False(t, MatchesMD5(filepath.Join(dir, "missing.msi"), ""))
	assert.False(t, MatchesMD5(dir, ""))
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", SHA256Hex([]byte("hello")))
}
