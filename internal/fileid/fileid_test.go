package fileid

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("presentation: {title: Q3}"))
	h2 := ContentHash([]byte("presentation: {title: Q3}"))
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, hashPrefix))
	assert.NotEqual(t, h1, ContentHash([]byte("presentation: {title: Q4}")))
}

func TestSourceKey_normalized(t *testing.T) {
	k1, err := SourceKey("/decks/q3.yaml")
	require.NoError(t, err)
	k2, err := SourceKey("/decks/./q3.yaml")
	require.NoError(t, err)
	k3, err := SourceKey("/decks/sub/../q3.yaml")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)
}

func TestSourceKey_relativeBecomesAbsolute(t *testing.T) {
	k, err := SourceKey("a/b.yaml")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(k))
}
