package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentPackedRoundTrip(t *testing.T) {
	cases := []Segment{
		EmptySegment,
		OfSides(Left),
		OfSides(Right),
		OfSides(Left, Right, Left, Right, Right, Left, Left, Right),
		OfSides(Left, Right, Left, Right, Right, Left, Left, Right, Right),
	}
	for i, seg := range cases {
		back, err := SegmentFromBytes(seg.Bytes())
		require.NoError(t, err)
		require.True(t, seg.Equal(back), "case %d: %s != %s", i, seg, back)
	}
}

func TestSegmentCutAppend(t *testing.T) {
	seg := OfSides(Left, Right, Left)
	side, tail, ok := seg.Cut()
	require.True(t, ok)
	require.Equal(t, Left, side)
	require.True(t, tail.Equal(OfSides(Right, Left)))

	rebuilt := tail.Append(Left)
	require.True(t, rebuilt.Equal(OfSides(Right, Left, Left)))

	_, _, ok = EmptySegment.Cut()
	require.False(t, ok)
}

func TestCommonPrefix(t *testing.T) {
	a := OfSides(Left, Right, Right, Left)
	b := OfSides(Left, Right, Left, Left)
	prefix, aTail, bTail := CommonPrefix(a, b)
	require.Equal(t, 2, prefix.Len())
	require.True(t, prefix.Equal(OfSides(Left, Right)))
	require.True(t, aTail.Equal(OfSides(Right, Left)))
	require.True(t, bTail.Equal(OfSides(Left, Left)))
}

func TestCommonPrefixOneIsPrefixOfOther(t *testing.T) {
	a := OfSides(Left, Right)
	b := OfSides(Left, Right, Left, Left)
	prefix, aTail, bTail := CommonPrefix(a, b)
	require.True(t, prefix.Equal(a))
	require.True(t, aTail.IsEmpty())
	require.True(t, bTail.Equal(OfSides(Left, Left)))
}

func TestPathFromBytesSegmentSplit(t *testing.T) {
	key := []byte{0xAB, 0xCD} // 16 bits
	p1 := PathFromBytes(key, 1)
	require.Len(t, p1, 1)
	require.Equal(t, 16, p1[0].Len())

	p2 := PathFromBytes(key, 2)
	require.Len(t, p2, 2)
	require.Equal(t, 8, p2[0].Len())
	require.Equal(t, 8, p2[1].Len())

	joined := ConcatSegments(p2[0], p2[1])
	require.True(t, joined.Equal(p1[0]))
}
