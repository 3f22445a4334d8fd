package rlbridge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindIfNeeded(t *testing.T, ch Channel, dir string) {
	t.Helper()
	if _, ok := ch.(*NpChannel); ok {
		require.NoError(t, ch.BindBacking(filepath.Join(dir, ch.Name())))
	}
}

func TestWrapUnwrapDiscrete(t *testing.T) {
	dir := t.TempDir()
	ch, err := Wrap("ac", Space{Kind: SpaceDiscrete, N: 8}, true)
	require.NoError(t, err)
	bindIfNeeded(t, ch, dir)

	assert.Equal(t, KindInt, ch.Kind())
	space, err := Unwrap(ch)
	require.NoError(t, err)
	assert.Equal(t, Space{Kind: SpaceDiscrete, N: 8}, space)
}

func TestWrapSmallMultiBinaryUsesIntFold(t *testing.T) {
	dir := t.TempDir()
	ch, err := Wrap("ac", Space{Kind: SpaceMultiBinary, N: 3}, true)
	require.NoError(t, err)
	bindIfNeeded(t, ch, dir)

	assert.Equal(t, KindIntFold, ch.Kind())
	space, err := Unwrap(ch)
	require.NoError(t, err)
	assert.Equal(t, Space{Kind: SpaceMultiBinary, N: 3}, space)
}

func TestWrapLargeMultiBinaryUsesNpChannel(t *testing.T) {
	dir := t.TempDir()
	ch, err := Wrap("ac", Space{Kind: SpaceMultiBinary, N: 64}, true)
	require.NoError(t, err)
	bindIfNeeded(t, ch, dir)
	defer ch.Unbind()

	assert.Equal(t, KindNp, ch.Kind())
	np := ch.(*NpChannel)
	assert.Equal(t, []int64{64}, np.Shape())
}

func TestWrapMultiDiscreteAndBox(t *testing.T) {
	dir := t.TempDir()

	md, err := Wrap("ac", Space{Kind: SpaceMultiDiscrete, Shape: []int64{3, 4}}, true)
	require.NoError(t, err)
	bindIfNeeded(t, md, dir)
	defer md.Unbind()
	space, err := Unwrap(md)
	require.NoError(t, err)
	assert.Equal(t, Space{Kind: SpaceMultiDiscrete, Shape: []int64{3, 4}}, space)

	box, err := Wrap("ob", Space{Kind: SpaceBox, Shape: []int64{84, 84, 3}, Dtype: "<u1"}, true)
	require.NoError(t, err)
	bindIfNeeded(t, box, dir)
	defer box.Unbind()
	space, err = Unwrap(box)
	require.NoError(t, err)
	assert.Equal(t, Space{Kind: SpaceBox, Shape: []int64{84, 84, 3}, Dtype: "<u1"}, space)
}

func TestWrapBoxFallsBackToU1Dtype(t *testing.T) {
	dir := t.TempDir()
	box, err := Wrap("ob", Space{Kind: SpaceBox, Shape: []int64{4}}, true)
	require.NoError(t, err)
	bindIfNeeded(t, box, dir)
	defer box.Unbind()
	assert.Equal(t, "u1", box.(*NpChannel).dtypeCode)
}

func TestWrapUnsupportedKind(t *testing.T) {
	_, err := Wrap("ac", Space{Kind: "Weird"}, true)
	assert.Error(t, err)
}
