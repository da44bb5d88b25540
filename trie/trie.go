// Package trie implements a space-efficient binary Patricia trie: an
// authenticated, persistent key/value store whose nodes are addressed by
// content digest and materialized lazily from a flat on-disk cell array.
package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/edsrzf/mmap-go"
)

// Tree is a mutable handle on a trie rooted at a particular node. Successive
// Upsert/Delete calls build up an in-memory overlay of Views on top of
// whatever is already on disk; Commit flushes that overlay, makes the
// committed node the tree's root and returns its digest. A Tree is not safe for concurrent use
// by multiple goroutines; concurrent readers should use a Reader instead,
// mirroring this module's original Trie / TrieReader split.
type Tree struct {
	ctx  *Context
	root Node
}

// NewTree returns a tree over ctx starting from the empty trie.
func NewTree(ctx *Context) *Tree {
	return &Tree{ctx: ctx, root: Null}
}

// OpenTree returns a tree over ctx rooted at a previously committed digest.
func OpenTree(ctx *Context, root Digest) (*Tree, error) {
	if root.IsZero() {
		return &Tree{ctx: ctx, root: Null}, nil
	}
	idx, ok := ctx.RootIndex(root)
	if !ok {
		return nil, fmt.Errorf("trie: OpenTree: unknown root %s", root)
	}
	return &Tree{ctx: ctx, root: DiskNode(idx)}, nil
}

// Root returns the tree's current root node (possibly an uncommitted View).
func (t *Tree) Root() Node { return t.root }

// Reader is a read-only view of a committed root, with no overlay of its
// own. Safe for concurrent use by many goroutines against the same Context.
type Reader struct {
	ctx  *Context
	root Node
}

// NewReader returns a read-only reader of t's current root.
func (t *Tree) NewReader() *Reader { return &Reader{ctx: t.ctx, root: t.root} }

// Get looks up path and reports whether a value is present.
func (r *Reader) Get(path Path) ([]byte, bool, error) {
	return get(r.ctx, r.root, path)
}

// Get looks up path in t.
func (t *Tree) Get(path Path) ([]byte, bool, error) {
	return get(t.ctx, t.root, path)
}

// Upsert inserts or overwrites the value at path.
func (t *Tree) Upsert(path Path, value []byte) error {
	if !path.IsValid() {
		return ErrBadPath
	}
	newRoot, err := upsertSeg(t.ctx, t.root, path[0], path[1:], value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// Delete removes the value at path, if present. It is a no-op if path does
// not resolve to an existing value.
func (t *Tree) Delete(path Path) error {
	if !path.IsValid() {
		return ErrBadPath
	}
	newRoot, _, err := deleteSeg(t.ctx, t.root, path[0], path[1:])
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// Commit writes every not-yet-indexed node reachable from the current root
// to the array in post-order, records the resulting digest in the root
// table, and updates t.root to the committed Disk form. It is idempotent:
// calling Commit again with nothing changed writes nothing new.
func (t *Tree) Commit() (Digest, error) {
	t.ctx.mu.Lock()
	defer t.ctx.mu.Unlock()

	newRoot, err := commitNode(t.ctx, t.root)
	if err != nil {
		return Digest{}, err
	}
	digest := nodeDigest(t.ctx, newRoot)
	t.ctx.recordRoot(digest, newRoot)
	t.root = newRoot
	return digest, nil
}

// nodeDigest returns the digest of a committed (Disk) or still-materialized
// (View) node; Null digests to the zero value.
func nodeDigest(ctx *Context, n Node) Digest {
	if n.IsNull() {
		return Digest{}
	}
	if n.IsDisk() {
		if v, ok := ctx.cache[n.DiskIndex()]; ok {
			return v.digest
		}
		// not cached: read the digest straight from the cell (LoadNode would
		// take ctx.mu, which Commit already holds).
		var d Digest
		cell := ctx.readCell(n.DiskIndex())
		switch cellKind(cell) {
		case cellKindInternal:
			_, _, _, d = decodeInternal(cell)
		case cellKindExtender:
			_, _, d, _ = decodeExtender(cell)
		case cellKindBud:
			_, d = decodeBud(cell)
		default:
			d = decodeLeaf(cell)
		}
		return d
	}
	return n.View().Digest()
}

// get is the read-only mirror of upsertSeg: it never allocates a node, only
// descends, resolving Disk references as needed.
func get(ctx *Context, node Node, path Path) ([]byte, bool, error) {
	if !path.IsValid() {
		return nil, false, ErrBadPath
	}
	return getSeg(ctx, node, path[0], path[1:])
}

func getSeg(ctx *Context, node Node, cur Segment, rest []Segment) ([]byte, bool, error) {
	node, err := ctx.Resolve(node)
	if err != nil {
		return nil, false, err
	}
	if node.IsNull() {
		return nil, false, nil
	}
	v := node.View()
	switch v.Kind() {
	case KindLeaf:
		if len(rest) != 0 {
			return nil, false, ErrBudLeafConflict
		}
		if !cur.IsEmpty() {
			return nil, false, ErrBadPath
		}
		return v.Value(), true, nil
	case KindBud:
		if !cur.IsEmpty() {
			return nil, false, ErrBadPath
		}
		if len(rest) == 0 {
			return nil, false, ErrBudLeafConflict
		}
		return getSeg(ctx, v.Child(), rest[0], rest[1:])
	case KindInternal:
		side, tail, ok := cur.Cut()
		if !ok {
			return nil, false, nil
		}
		if side == Left {
			return getSeg(ctx, v.Left(), tail, rest)
		}
		return getSeg(ctx, v.Right(), tail, rest)
	case KindExtender:
		_, curTail, esTail := CommonPrefix(cur, v.Segment())
		switch {
		case esTail.IsEmpty():
			return getSeg(ctx, v.Child(), curTail, rest)
		case curTail.IsEmpty():
			// cur ends strictly inside the extender's run: same structural
			// conflict upsertSeg raises for this shape, mirrored for reads.
			return nil, false, ErrBudLeafConflict
		default:
			// Genuine fork: the key simply isn't present.
			return nil, false, nil
		}
	default:
		return nil, false, nil
	}
}

// upsertSeg implements the eight-case edit-engine recursion: materialize
// Disk nodes on the way down, grow Null into Leaf/Bud, replace a Leaf's
// value, recurse through Internal/Bud, and split or extend through an
// Extender's compressed run.
func upsertSeg(ctx *Context, node Node, cur Segment, rest []Segment, value []byte) (Node, error) {
	node, err := ctx.Resolve(node)
	if err != nil {
		return Node{}, err
	}

	if node.IsNull() {
		if len(rest) == 0 {
			ctx.Leaves().Insert(value)
			return extend(cur, ViewNode(MakeLeaf(value))), nil
		}
		child, err := upsertSeg(ctx, Null, rest[0], rest[1:], value)
		if err != nil {
			return Node{}, err
		}
		return extend(cur, ViewNode(MakeBud(child))), nil
	}

	v := node.View()
	switch v.Kind() {
	case KindLeaf:
		if len(rest) != 0 {
			return Node{}, ErrBudLeafConflict
		}
		if !cur.IsEmpty() {
			return Node{}, ErrBadPath
		}
		ctx.Leaves().Decr(HashValue(v.Value()))
		ctx.Leaves().Insert(value)
		return ViewNode(MakeLeaf(value)), nil

	case KindBud:
		if !cur.IsEmpty() {
			return Node{}, ErrBadPath
		}
		if len(rest) == 0 {
			return Node{}, ErrBudLeafConflict
		}
		child, err := upsertSeg(ctx, v.Child(), rest[0], rest[1:], value)
		if err != nil {
			return Node{}, err
		}
		return ViewNode(MakeBud(child)), nil

	case KindInternal:
		side, tail, ok := cur.Cut()
		if !ok {
			return Node{}, ErrBadPath
		}
		if side == Left {
			newLeft, err := upsertSeg(ctx, v.Left(), tail, rest, value)
			if err != nil {
				return Node{}, err
			}
			return ViewNode(MakeInternal(newLeft, v.Right(), Left)), nil
		}
		newRight, err := upsertSeg(ctx, v.Right(), tail, rest, value)
		if err != nil {
			return Node{}, err
		}
		return ViewNode(MakeInternal(newRight, v.Left(), Right)), nil

	case KindExtender:
		prefix, curTail, esTail := CommonPrefix(cur, v.Segment())
		switch {
		case esTail.IsEmpty():
			// The extender's whole run is a prefix of (or equal to) cur:
			// recurse into its child with whatever of cur remains.
			newChild, err := upsertSeg(ctx, v.Child(), curTail, rest, value)
			if err != nil {
				return Node{}, err
			}
			return extend(v.Segment(), newChild), nil

		case curTail.IsEmpty():
			// cur ends strictly inside the extender's run: the new path
			// wants a segment boundary (Bud or Leaf) where content already
			// continues uninterrupted, with no branch to attach it to.
			return Node{}, ErrBudLeafConflict

		default:
			// Genuine fork partway through the run: split the extender at
			// the common prefix and branch.
			// CommonPrefix split at the first differing bit, so cur's side
			// and the extender's side here are guaranteed to differ.
			cSide, curRem, _ := curTail.Cut()
			_, esRem, _ := esTail.Cut()
			newBranch, err := upsertSeg(ctx, Null, curRem, rest, value)
			if err != nil {
				return Node{}, err
			}
			oldBranch := extend(esRem, v.Child())
			internal := MakeInternal(newBranch, oldBranch, cSide)
			return extend(prefix, ViewNode(internal)), nil
		}

	default:
		return Node{}, ErrBadPath
	}
}

// deleteSeg mirrors upsertSeg's descent, removing a leaf's value from the
// leaf store and collapsing any Internal node left with a single child back
// into an extender, or a Bud whose child vanished back into Null.
func deleteSeg(ctx *Context, node Node, cur Segment, rest []Segment) (Node, bool, error) {
	resolved, err := ctx.Resolve(node)
	if err != nil {
		return Node{}, false, err
	}
	if resolved.IsNull() {
		return resolved, false, nil
	}
	v := resolved.View()
	switch v.Kind() {
	case KindLeaf:
		if !cur.IsEmpty() || len(rest) != 0 {
			return node, false, nil
		}
		// Every Leaf's value was inserted into the leaf store at creation
		// time (upsertSeg or gcCopy), whether or not it was ever
		// committed, so its refcount is always released here.
		ctx.Leaves().Decr(HashValue(v.Value()))
		return Null, true, nil

	case KindBud:
		if !cur.IsEmpty() || len(rest) == 0 {
			return node, false, nil
		}
		newChild, existed, err := deleteSeg(ctx, v.Child(), rest[0], rest[1:])
		if !existed || err != nil {
			return node, existed, err
		}
		if newChild.IsNull() {
			return Null, true, nil
		}
		return ViewNode(MakeBud(newChild)), true, nil

	case KindInternal:
		side, tail, ok := cur.Cut()
		if !ok {
			return node, false, nil
		}
		if side == Left {
			newLeft, existed, err := deleteSeg(ctx, v.Left(), tail, rest)
			if !existed || err != nil {
				return node, existed, err
			}
			if newLeft.IsNull() {
				right, err := ctx.Resolve(v.Right())
				if err != nil {
					return node, false, err
				}
				return extend(OfSides(Right), right), true, nil
			}
			return ViewNode(MakeInternal(newLeft, v.Right(), Left)), true, nil
		}
		newRight, existed, err := deleteSeg(ctx, v.Right(), tail, rest)
		if !existed || err != nil {
			return node, existed, err
		}
		if newRight.IsNull() {
			left, err := ctx.Resolve(v.Left())
			if err != nil {
				return node, false, err
			}
			return extend(OfSides(Left), left), true, nil
		}
		return ViewNode(MakeInternal(newRight, v.Left(), Right)), true, nil

	case KindExtender:
		_, curTail, esTail := CommonPrefix(cur, v.Segment())
		if !esTail.IsEmpty() {
			return node, false, nil
		}
		newChild, existed, err := deleteSeg(ctx, v.Child(), curTail, rest)
		if !existed || err != nil {
			return node, existed, err
		}
		if newChild.IsNull() {
			return Null, true, nil
		}
		return extend(v.Segment(), newChild), true, nil

	default:
		return node, false, nil
	}
}

// commitNode writes n and, recursively, its not-yet-indexed children to
// ctx's array in post-order, returning the Disk node it now lives at.
// Already-indexed nodes (Disk, or a View with indexed set) are returned
// unchanged, making repeated commits of an unmodified subtree free.
func commitNode(ctx *Context, n Node) (Node, error) {
	if n.IsNull() || n.IsDisk() {
		return n, nil
	}
	v := n.View()
	if v.indexed {
		return DiskNode(v.index), nil
	}

	switch v.kind {
	case KindLeaf:
		// The leaf store entry was already inserted when this value was
		// first written (see upsertSeg/gcCopy); committing only persists
		// the cell and its digest.
		d := hash(n)
		first, second := encodeLeaf(d)
		idx, err := ctx.appendCells(first, second)
		if err != nil {
			return Node{}, err
		}
		v.indexed, v.index = true, idx
		return DiskNode(idx), nil

	case KindBud:
		newChild, err := commitNode(ctx, v.child)
		if err != nil {
			return Node{}, err
		}
		v.child = newChild
		d := hashBud(nodeDigest(ctx, newChild))
		v.digest, v.hashed = d, true
		idx, err := ctx.appendCells(encodeBud(newChild.DiskIndex(), d))
		if err != nil {
			return Node{}, err
		}
		v.indexed, v.index = true, idx
		return DiskNode(idx), nil

	case KindExtender:
		newChild, err := commitNode(ctx, v.child)
		if err != nil {
			return Node{}, err
		}
		v.child = newChild
		d := hashExtender(v.segment, nodeDigest(ctx, newChild))
		v.digest, v.hashed = d, true
		cell, err := encodeExtender(v.segment, newChild.DiskIndex(), d)
		if err != nil {
			return Node{}, err
		}
		idx, err := ctx.appendCells(cell)
		if err != nil {
			return Node{}, err
		}
		v.indexed, v.index = true, idx
		return DiskNode(idx), nil

	case KindInternal:
		newLeft, err := commitNode(ctx, v.left)
		if err != nil {
			return Node{}, err
		}
		newRight, err := commitNode(ctx, v.right)
		if err != nil {
			return Node{}, err
		}
		v.left, v.right = newLeft, newRight
		d := hashInternal(nodeDigest(ctx, newLeft), nodeDigest(ctx, newRight))
		v.digest, v.hashed = d, true

		leftIdx, rightIdx := newLeft.DiskIndex(), newRight.DiskIndex()
		elide := elidedNone
		if rightIdx == ctx.length-1 {
			elide = elidedRight
		} else if leftIdx == ctx.length-1 {
			elide = elidedLeft
		}
		idx, err := ctx.appendCells(encodeInternal(leftIdx, rightIdx, elide, d))
		if err != nil {
			return Node{}, err
		}
		v.indexed, v.index = true, idx
		return DiskNode(idx), nil

	default:
		return Node{}, ErrBadPath
	}
}

// appendCells writes one or more freshly-allocated cells to the end of the
// array, returning the index of the first one. Requires the caller hold
// ctx.mu for writing.
func (c *Context) appendCells(cells ...[]byte) (uint64, error) {
	capacity := uint64(len(c.data)-headerSize) / CellSize
	if c.length+uint64(len(cells)) > capacity {
		return 0, ErrOutOfSpace
	}
	first := c.length
	for _, cell := range cells {
		off := cellOffset(c.length)
		copy(c.data[off:off+CellSize], cell)
		c.length++
	}
	binary.BigEndian.PutUint64(c.data[hdrCommittedLength:], c.length)
	return first, nil
}

// recordRoot appends (digest -> index) to the root table. A zero digest
// (the empty trie) is not recorded: OpenTree treats it as Null directly.
// A digest already in the table keeps the index it was first recorded with
// (equal digests mean equal content).
func (c *Context) recordRoot(d Digest, n Node) {
	if n.IsNull() {
		return
	}
	idx := n.DiskIndex()
	if _, ok := c.roots[d]; ok {
		return
	}
	c.roots[d] = idx

	i := uint64(len(c.roots) - 1)
	if i >= maxRootTableEntries {
		// Past the reserved region's capacity: kept reachable in the
		// in-memory map for this process, but not persisted. See
		// maxRootTableEntries.
		return
	}
	off := rootTableOffset() + int64(i)*rootTableEntrySize
	copy(c.data[off:off+DigestSize], d.Bytes())
	binary.BigEndian.PutUint64(c.data[off+DigestSize:], idx)
	binary.BigEndian.PutUint64(c.data[hdrRootTableLen:], uint64(len(c.roots)))
}

// Grow extends the backing file by additionalCells and remaps it in place.
// Call it after a Commit fails with ErrOutOfSpace, then retry the commit.
func (c *Context) Grow(additionalCells uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.data.Unmap(); err != nil {
		return &IoError{Op: "munmap", Cause: err}
	}
	info, err := c.file.Stat()
	if err != nil {
		return &IoError{Op: "stat", Cause: err}
	}
	newSize := info.Size() + int64(additionalCells)*CellSize
	if err := c.file.Truncate(newSize); err != nil {
		return &IoError{Op: "truncate", Cause: err}
	}
	data, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	c.data = data
	return nil
}
