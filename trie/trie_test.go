package trie

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	dir := t.TempDir()
	ctx, err := OpenContext(filepath.Join(dir, "array.trie"), 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

func keyPath(key string) Path {
	return PathFromBytes([]byte(key), 1)
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	entries := map[string]string{
		"alpha":  "1",
		"alpine": "2",
		"beta":   "3",
		"gamma":  "4",
	}
	for k, v := range entries {
		require.NoError(t, tree.Upsert(keyPath(k), []byte(v)))
	}
	for k, v := range entries {
		got, found, err := tree.Get(keyPath(k))
		require.NoError(t, err)
		require.True(t, found, "key %q", k)
		require.Equal(t, v, string(got))
	}

	_, found, err := tree.Get(keyPath("nope"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpsertOverwrite(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	require.NoError(t, tree.Upsert(keyPath("k"), []byte("v1")))
	require.NoError(t, tree.Upsert(keyPath("k"), []byte("v2")))

	got, found, err := tree.Get(keyPath("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", string(got))
}

func TestDeleteRemovesValue(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	keys := []string{"one", "two", "three", "four"}
	for i, k := range keys {
		require.NoError(t, tree.Upsert(keyPath(k), []byte(fmt.Sprintf("v%d", i))))
	}

	require.NoError(t, tree.Delete(keyPath("two")))

	_, found, err := tree.Get(keyPath("two"))
	require.NoError(t, err)
	require.False(t, found)

	for i, k := range keys {
		if k == "two" {
			continue
		}
		got, found, err := tree.Get(keyPath(k))
		require.NoError(t, err)
		require.True(t, found, "key %q", k)
		require.Equal(t, fmt.Sprintf("v%d", i), string(got))
	}
}

func TestDeleteIsInverseOfUpsert(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	keys := []string{"a", "ab", "abc", "b", "bcd", "x"}
	for _, k := range keys {
		require.NoError(t, tree.Upsert(keyPath(k), []byte(k)))
	}
	for _, k := range keys {
		require.NoError(t, tree.Delete(keyPath(k)))
	}
	require.True(t, tree.Root().IsNull())

	for _, k := range keys {
		_, found, err := tree.Get(keyPath(k))
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestDeleteOfMissingKeyIsNoop(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.NoError(t, tree.Upsert(keyPath("a"), []byte("1")))
	rootBefore := tree.Root()

	require.NoError(t, tree.Delete(keyPath("does-not-exist")))
	require.Equal(t, rootBefore, tree.Root())
}

func TestBudLeafConflict(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	// "ab" spans two bud-separated segments; "a" as a single segment collides
	// with the first segment boundary that "ab" needs to pass through.
	require.NoError(t, tree.Upsert(Path{OfSides(Left), OfSides(Right)}, []byte("ab")))
	err := tree.Upsert(Path{OfSides(Left)}, []byte("a"))
	require.ErrorIs(t, err, ErrBudLeafConflict)
}

func TestEmptyPathRejected(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.ErrorIs(t, tree.Upsert(nil, []byte("x")), ErrBadPath)
	require.ErrorIs(t, tree.Delete(nil), ErrBadPath)
}

func TestCommitRoundTripThroughDisk(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	entries := []string{"apple", "application", "apply", "banana", "band"}
	for _, k := range entries {
		require.NoError(t, tree.Upsert(keyPath(k), []byte(k+"-value")))
	}
	digest, err := tree.Commit()
	require.NoError(t, err)
	require.False(t, digest.IsZero())
	require.True(t, tree.Root().IsDisk())

	reopened, err := OpenTree(ctx, digest)
	require.NoError(t, err)
	for _, k := range entries {
		got, found, err := reopened.Get(keyPath(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k+"-value", string(got))
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.NoError(t, tree.Upsert(keyPath("k"), []byte("v")))

	d1, err := tree.Commit()
	require.NoError(t, err)
	lengthAfterFirst := ctx.Length()

	d2, err := tree.Commit()
	require.NoError(t, err)
	require.Equal(t, d1, d2)
	require.Equal(t, lengthAfterFirst, ctx.Length())
}

func TestCommitThenMutateThenCommitOnlyWritesDelta(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.NoError(t, tree.Upsert(keyPath("k1"), []byte("v1")))
	_, err := tree.Commit()
	require.NoError(t, err)
	lengthAfterFirst := ctx.Length()

	require.NoError(t, tree.Upsert(keyPath("k2"), []byte("v2")))
	_, err = tree.Commit()
	require.NoError(t, err)
	require.Greater(t, ctx.Length(), lengthAfterFirst)
}

func TestExtenderMinimality(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.NoError(t, tree.Upsert(keyPath("samekeyprefix1"), []byte("1")))
	require.NoError(t, tree.Upsert(keyPath("samekeyprefix2"), []byte("2")))

	root := tree.Root()
	require.True(t, root.IsView())
	if root.View().Kind() == KindExtender {
		child := root.View().Child()
		require.True(t, child.IsNull() || child.IsDisk() || child.View().Kind() != KindExtender,
			"an extender's child must not itself be an extender")
	}
}

func TestIndexedHashedInvariantAfterCommit(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)
	require.NoError(t, tree.Upsert(keyPath("a"), []byte("1")))
	require.NoError(t, tree.Upsert(keyPath("b"), []byte("2")))
	_, err := tree.Commit()
	require.NoError(t, err)

	require.True(t, tree.Root().Indexed())
	require.True(t, tree.Root().Hashed())
}

func TestLeafStoreConservationAcrossDelete(t *testing.T) {
	ctx := newTestContext(t)
	tree := NewTree(ctx)

	require.NoError(t, tree.Upsert(keyPath("dup1"), []byte("same-value")))
	require.NoError(t, tree.Upsert(keyPath("dup2"), []byte("same-value")))
	d := HashValue([]byte("same-value"))
	require.EqualValues(t, 2, ctx.Leaves().Refcount(d))

	require.NoError(t, tree.Delete(keyPath("dup1")))
	require.EqualValues(t, 1, ctx.Leaves().Refcount(d))

	require.NoError(t, tree.Delete(keyPath("dup2")))
	require.EqualValues(t, 0, ctx.Leaves().Refcount(d))
	_, ok := ctx.Leaves().Get(d)
	require.False(t, ok)
}

func TestGCPreservesReachableRoots(t *testing.T) {
	dir := t.TempDir()
	ctx, err := OpenContext(filepath.Join(dir, "a.trie"), 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	tree := NewTree(ctx)
	entries := []string{"gc1", "gc2", "gc3", "gcgcgc"}
	for _, k := range entries {
		require.NoError(t, tree.Upsert(keyPath(k), []byte(k)))
	}
	digest, err := tree.Commit()
	require.NoError(t, err)

	newPath := filepath.Join(dir, "a.trie.gc")
	newCtx, err := GC(ctx, newPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = newCtx.Close() })
	_, statErr := os.Stat(newPath)
	require.True(t, os.IsNotExist(statErr), "GC should rename the compacted file over the original path")

	reopened, err := OpenTree(newCtx, digest)
	require.NoError(t, err)
	for _, k := range entries {
		got, found, err := reopened.Get(keyPath(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k, string(got))
	}
}
