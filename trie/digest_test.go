package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	leaf1 := ViewNode(MakeLeaf([]byte("hello")))
	leaf2 := ViewNode(MakeLeaf([]byte("hello")))
	require.Equal(t, hash(leaf1), hash(leaf2))
}

func TestHashDistinguishesNodeKinds(t *testing.T) {
	value := []byte("x")
	leaf := ViewNode(MakeLeaf(value))
	bud := ViewNode(MakeBud(leaf))
	require.NotEqual(t, hash(leaf), hash(bud))
}

func TestHashDistinguishesExtenderSegment(t *testing.T) {
	child := ViewNode(MakeLeaf([]byte("x")))
	a := MakeExtender(OfSides(Left, Right), child)
	b := MakeExtender(OfSides(Right, Left), child)
	require.NotEqual(t, hash(a), hash(b))
}

func TestHashValueMatchesLeafDigest(t *testing.T) {
	v := []byte("abc")
	leaf := ViewNode(MakeLeaf(v))
	require.Equal(t, HashValue(v), hash(leaf))
}
