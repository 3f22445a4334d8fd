package rlbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIntFoldChannelParseUnparseExample(t *testing.T) {
	ch := NewIntFoldChannel("bits", []int64{2, 2, 2})

	require.NoError(t, ch.SetValue([]int64{1, 0, 1}))
	folded, err := ch.Serialize()
	require.NoError(t, err)
	assert.Equal(t, int64(1+0*2+1*4), folded)

	other := NewIntFoldChannel("bits", []int64{2, 2, 2})
	require.NoError(t, other.Deserialize(folded))
	assert.Equal(t, []int64{1, 0, 1}, other.Value())
}

func TestIntFoldChannelOutOfRangeInputWraps(t *testing.T) {
	ch := NewIntFoldChannel("bits", []int64{2, 2})
	require.NoError(t, ch.SetValue([]int64{3, -1}))
	assert.Equal(t, []int64{1, 1}, ch.Value())
}

// TestFoldLawUnparseParse checks unparse(parse(x)) = x for every legal
// vector, the property spec.md §8 names for int_fold channels.
func TestFoldLawUnparseParse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		folds := rapid.SliceOfN(rapid.Int64Range(1, 5), 1, 6).Draw(rt, "folds")
		ch := NewIntFoldChannel("bits", folds)

		vec := make([]int64, len(folds))
		for i, f := range folds {
			vec[i] = rapid.Int64Range(0, f-1).Draw(rt, "v")
		}

		folded, err := ch.parse(vec)
		require.NoError(rt, err)
		assert.Equal(rt, vec, ch.unparse(folded))
	})
}

// TestFoldLawParseUnparse checks parse(unparse(y)) = y for every y in the
// folded range [0, prod(folds)).
func TestFoldLawParseUnparse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		folds := rapid.SliceOfN(rapid.Int64Range(1, 5), 1, 6).Draw(rt, "folds")
		ch := NewIntFoldChannel("bits", folds)

		total := int64(1)
		for _, f := range folds {
			total *= f
		}
		y := rapid.Int64Range(0, total-1).Draw(rt, "y")

		vec := ch.unparse(y)
		folded, err := ch.parse(vec)
		require.NoError(rt, err)
		assert.Equal(rt, y, folded)
	})
}

func TestFormatFoldDescriptorRoundTrip(t *testing.T) {
	folds := []int64{2, 3, 5}
	s := FormatFoldDescriptor(folds)
	parsed, err := ParseFoldDescriptor(s)
	require.NoError(t, err)
	assert.Equal(t, folds, parsed)
}
