package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafStoreRefcounting(t *testing.T) {
	ls := NewLeafStore()
	d1 := ls.Insert([]byte("value"))
	d2 := ls.Insert([]byte("value"))
	require.Equal(t, d1, d2)
	require.EqualValues(t, 2, ls.Refcount(d1))

	ls.Decr(d1)
	require.EqualValues(t, 1, ls.Refcount(d1))
	v, ok := ls.Get(d1)
	require.True(t, ok)
	require.Equal(t, "value", string(v))

	ls.Decr(d1)
	require.EqualValues(t, 0, ls.Refcount(d1))
	_, ok = ls.Get(d1)
	require.False(t, ok)
}

func TestLeafStoreDecrAbsentCallsHook(t *testing.T) {
	ls := NewLeafStore()
	var seen Digest
	ls.OnAbsentDecr(func(d Digest) { seen = d })

	missing := HashValue([]byte("never inserted"))
	ls.Decr(missing)
	require.Equal(t, missing, seen)
}
