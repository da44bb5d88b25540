package trie

import (
	"os"
)

// GC performs a stop-and-copy compaction: every node reachable from a
// currently live root is re-committed into a fresh array file at newPath,
// leaf values are re-inserted (rebuilding their refcounts purely from
// reachability), and the old file is atomically replaced by the new one.
// The caller must discard ctx and any Tree/Reader built on it afterwards,
// using the returned Context instead.
func GC(ctx *Context, newPath string) (*Context, error) {
	capacity := uint64(len(ctx.data)-headerSize) / CellSize
	fresh, err := OpenContext(newPath, capacity)
	if err != nil {
		return nil, err
	}

	for digest, idx := range ctx.Roots() {
		copied, err := gcCopy(ctx, fresh, DiskNode(idx))
		if err != nil {
			fresh.Close()
			return nil, err
		}
		committed, err := commitNode(fresh, copied)
		if err != nil {
			fresh.Close()
			return nil, err
		}
		fresh.recordRoot(digest, committed)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	oldName := ctx.file.Name()
	if err := fresh.file.Sync(); err != nil {
		fresh.Close()
		return nil, &IoError{Op: "sync", Cause: err}
	}
	if err := fresh.valuesFile.Sync(); err != nil {
		fresh.Close()
		return nil, &IoError{Op: "sync", Cause: err}
	}
	if err := os.Rename(newPath, oldName); err != nil {
		fresh.Close()
		return nil, &IoError{Op: "rename", Cause: err}
	}
	if err := os.Rename(newPath+valuesSuffix, oldName+valuesSuffix); err != nil {
		fresh.Close()
		return nil, &IoError{Op: "rename", Cause: err}
	}
	return fresh, nil
}

// gcCopy materializes n from src (if needed), recursively copies its
// children, and returns the copy as fresh, uncommitted Views (inserting leaf
// values into dst's leaf store along the way); GC then commits it into dst,
// so dst's refcounts and adjacency layout are rebuilt from scratch rather
// than byte-copied from src's cells.
func gcCopy(src, dst *Context, n Node) (Node, error) {
	resolved, err := src.Resolve(n)
	if err != nil {
		return Node{}, err
	}
	if resolved.IsNull() {
		return Null, nil
	}
	v := resolved.View()
	switch v.kind {
	case KindLeaf:
		dst.Leaves().Insert(v.value)
		return ViewNode(MakeLeaf(v.value)), nil
	case KindBud:
		child, err := gcCopy(src, dst, v.child)
		if err != nil {
			return Node{}, err
		}
		return ViewNode(MakeBud(child)), nil
	case KindExtender:
		child, err := gcCopy(src, dst, v.child)
		if err != nil {
			return Node{}, err
		}
		return extend(v.segment, child), nil
	case KindInternal:
		left, err := gcCopy(src, dst, v.left)
		if err != nil {
			return Node{}, err
		}
		right, err := gcCopy(src, dst, v.right)
		if err != nil {
			return Node{}, err
		}
		return ViewNode(MakeInternal(right, left, Right)), nil
	default:
		return Node{}, ErrBadPath
	}
}
