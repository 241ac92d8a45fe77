package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCounterEstimates(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, 4, tc.Count("贵州茅台"))
	assert.Equal(t, "", tc.Model())
}

func TestFitBlocks(t *testing.T) {
	var tc *TokenCounter
	blocks := []string{strings.Repeat("a", 10), strings.Repeat("b", 10), strings.Repeat("c", 10)}

	t.Run("all fit", func(t *testing.T) {
		assert.Equal(t, blocks, tc.FitBlocks("xx", blocks, 100))
	})

	t.Run("tail dropped", func(t *testing.T) {
		got := tc.FitBlocks(strings.Repeat("x", 5), blocks, 26)
		assert.Equal(t, blocks[:2], got)
	})

	t.Run("nothing fits", func(t *testing.T) {
		assert.Empty(t, tc.FitBlocks(strings.Repeat("x", 50), blocks, 20))
	})

	t.Run("no budget keeps all", func(t *testing.T) {
		assert.Equal(t, blocks, tc.FitBlocks("", blocks, 0))
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "贵州", TruncateRunes("贵州茅台", 2))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestEnsureDataDir(t *testing.T) {
	base := t.TempDir()

	dir, err := EnsureDataDir(base, "reports")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, DataDirName, "reports"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
