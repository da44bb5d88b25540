package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeInternal(t *testing.T) {
	d := Digest{1, 2, 3}
	cell := encodeInternal(5, 9, elidedRight, d)
	left, right, elide, digest := decodeInternal(cell)
	require.EqualValues(t, 5, left)
	require.EqualValues(t, 9, right)
	require.Equal(t, byte(elidedRight), elide)
	require.Equal(t, d, digest)
	require.Equal(t, cellKindInternal, cellKind(cell))
}

func TestEncodeDecodeExtender(t *testing.T) {
	seg := OfSides(Left, Right, Left, Right, Right, Left, Left, Right, Right, Left, Left)
	d := Digest{9, 9, 9}
	cell, err := encodeExtender(seg, 42, d)
	require.NoError(t, err)
	gotSeg, childIdx, digest, err := decodeExtender(cell)
	require.NoError(t, err)
	require.True(t, seg.Equal(gotSeg))
	require.EqualValues(t, 42, childIdx)
	require.Equal(t, d, digest)
}

func TestEncodeExtenderOverCapacityFails(t *testing.T) {
	seg := OfSides(make([]Side, (cellSegmentCapacity+1)*8)...)
	_, err := encodeExtender(seg, 0, Digest{})
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestEncodeDecodeBud(t *testing.T) {
	d := Digest{7}
	cell := encodeBud(17, d)
	childIdx, digest := decodeBud(cell)
	require.EqualValues(t, 17, childIdx)
	require.Equal(t, d, digest)
	require.Equal(t, cellKindBud, cellKind(cell))
}

func TestEncodeDecodeLeaf(t *testing.T) {
	d := Digest{3, 1, 4}
	first, second := encodeLeaf(d)
	require.Equal(t, d, decodeLeaf(first))
	require.Equal(t, CellSize, len(second))
	require.Equal(t, cellKindLeaf, cellKind(first))
}
