package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	first, err := h.Hash([]byte("2024-01-02 10:11:12|555100200|555900800|hello"))
	require.NoError(t, err)
	second, err := h.Hash([]byte("2024-01-02 10:11:12|555100200|555900800|hello"))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestHashDiffersOnInput(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("one"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("two"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
