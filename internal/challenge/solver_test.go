package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolveFindsExpression(t *testing.T) {
	t.Parallel()

	s := New()
	answer, found := s.Solve("Please solve 17 + 25 to continue")
	require.True(t, found)
	require.Equal(t, 42, answer)
}

func TestSolveTightSpacing(t *testing.T) {
	t.Parallel()

	s := New()
	answer, found := s.Solve("prove you are human: 3+4")
	require.True(t, found)
	require.Equal(t, 7, answer)
}

func TestSolveUsesFirstExpression(t *testing.T) {
	t.Parallel()

	s := New()
	answer, found := s.Solve("1 + 2 and later 10 + 20")
	require.True(t, found)
	require.Equal(t, 3, answer)
}

func TestSolveNoExpression(t *testing.T) {
	t.Parallel()

	s := New()
	_, found := s.Solve("Welcome back, please log in")
	require.False(t, found)
}

func TestSolveEmptyPage(t *testing.T) {
	t.Parallel()

	s := New()
	_, found := s.Solve("")
	require.False(t, found)
}
