package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"a": map[string]any{"y": 2, "z": 1}, "b": 1}

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	require.Equal(t, string(ca), string(cb))
}

func TestCanonicalizeIntegralFloatsMatchInts(t *testing.T) {
	withFloat, err := Canonicalize(map[string]any{"n": 2.0})
	require.NoError(t, err)
	withInt, err := Canonicalize(map[string]any{"n": 2})
	require.NoError(t, err)
	require.Equal(t, string(withInt), string(withFloat))
}

func TestCanonicalizeOmitsEmptyOmitemptyFields(t *testing.T) {
	type s struct {
		Keep string `json:"keep"`
		Drop string `json:"drop,omitempty"`
	}
	b, err := Canonicalize(s{Keep: "x"})
	require.NoError(t, err)
	require.Equal(t, `{"keep":"x"}`, string(b))
}

func TestCanonicalizeRejectsNonFiniteNumbers(t *testing.T) {
	_, err := Canonicalize(math.NaN())
	require.ErrorIs(t, err, ErrNonFinite)

	_, err = Canonicalize(math.Inf(1))
	require.ErrorIs(t, err, ErrNonFinite)
}

func TestCanonicalizeRejectsCycles(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	_, err := Canonicalize(m)
	require.ErrorIs(t, err, ErrCycle)
}

func TestHashIsDeterministicAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHashDiffersOnContentChange(t *testing.T) {
	h1, err := Hash(map[string]any{"x": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"x": 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}
