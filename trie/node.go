package trie

// NodeKind discriminates the three node representations a handle can hold:
// an empty placeholder, an unresolved disk reference, or a materialized
// in-memory view. Collapsed into a single value type rather than an
// interface, since there are exactly three shapes and no future fourth is
// expected.
type NodeKind byte

const (
	KindNull NodeKind = iota
	KindDisk
	KindView
)

// Node is a value held by a tree handle or a child slot: Null (empty
// subtree placeholder), Disk(index) (unresolved, persisted at that array
// cell) or View (materialized in memory).
type Node struct {
	kind  NodeKind
	index uint64
	view  *View
}

// Null is the empty subtree placeholder. Valid only as a transient child
// while the trie is small or mid-construction.
var Null = Node{kind: KindNull}

// DiskNode builds an unresolved reference to array cell index.
func DiskNode(index uint64) Node { return Node{kind: KindDisk, index: index} }

// ViewNode wraps a materialized view as a Node.
func ViewNode(v *View) Node { return Node{kind: KindView, view: v} }

func (n Node) IsNull() bool { return n.kind == KindNull }
func (n Node) IsDisk() bool { return n.kind == KindDisk }
func (n Node) IsView() bool { return n.kind == KindView }

// DiskIndex returns the array index of a Disk node; only valid when IsDisk.
func (n Node) DiskIndex() uint64 { return n.index }

// View returns the materialized view; only valid when IsView.
func (n Node) View() *View { return n.view }

// Indexed reports whether the node and its whole subtree are persisted.
// Null and Disk nodes are trivially indexed; a View carries its own flag.
func (n Node) Indexed() bool {
	switch n.kind {
	case KindNull, KindDisk:
		return true
	default:
		return n.view.indexed
	}
}

// Hashed reports whether the node has a cached digest.
func (n Node) Hashed() bool {
	switch n.kind {
	case KindNull, KindDisk:
		return true
	default:
		return n.view.hashed
	}
}

// ViewKind discriminates the four node shapes.
type ViewKind byte

const (
	KindInternal ViewKind = iota
	KindExtender
	KindBud
	KindLeaf
)

// View is the in-memory, tagged-union payload of a materialized node. Ghost
// state (indexed/hashed) is tracked as runtime flags per the spec's option
// (a): the construction helpers below are the only place that sets them,
// so invariants are enforced by construction, not by the type system.
type View struct {
	kind ViewKind

	// Internal
	left, right Node
	// Extender
	segment Segment
	// Extender and Bud share child; Internal and Leaf do not use it
	child Node
	// Leaf
	value []byte

	indexed bool
	hashed  bool
	digest  Digest
	index   uint64 // valid only when indexed
}

func (v *View) Kind() ViewKind { return v.kind }

// Digest returns the cached digest; only valid when v.hashed.
func (v *View) Digest() Digest { return v.digest }

// Index returns the array cell the view was committed at; only valid when v.indexed.
func (v *View) Index() uint64 { return v.index }

func (v *View) Left() Node  { return v.left }
func (v *View) Right() Node { return v.right }
func (v *View) Child() Node { return v.child }

func (v *View) Segment() Segment { return v.segment }
func (v *View) Value() []byte    { return v.value }

// MakeInternal places fresh on side, retaining the existing child on the
// other side. The result is never indexed/hashed: at least the rebuilt
// node is unindexed, which is what lets commit always write one child
// adjacent to its parent.
func MakeInternal(fresh Node, other Node, side Side) *View {
	v := &View{kind: KindInternal}
	if side == Left {
		v.left, v.right = fresh, other
	} else {
		v.left, v.right = other, fresh
	}
	checkNoDoubleNullChild(v)
	return v
}

// MakeExtender returns child unchanged when seg is empty, and collapses a
// materialized (View) child that is itself an extender by concatenating
// segments; a Disk child is not resolved here, so callers pass resolved
// nodes where the child may be an extender -- the two
// "extender minimality" invariants the rest of the edit engine relies on.
func MakeExtender(seg Segment, child Node) Node {
	if seg.IsEmpty() {
		return child
	}
	if child.IsView() && child.view.kind == KindExtender {
		inner := child.view
		return ViewNode(&View{
			kind:    KindExtender,
			segment: ConcatSegments(seg, inner.segment),
			child:   inner.child,
		})
	}
	return ViewNode(&View{kind: KindExtender, segment: seg, child: child})
}

// MakeBud wraps child as the root of a nested sub-trie.
func MakeBud(child Node) *View {
	return &View{kind: KindBud, child: child}
}

// MakeLeaf creates a terminator holding value.
func MakeLeaf(value []byte) *View {
	stored := make([]byte, len(value))
	copy(stored, value)
	return &View{kind: KindLeaf, value: stored}
}

// extend is the spec's helper: seg == empty returns n unchanged, otherwise
// wraps n in an extender (with collapsing per MakeExtender).
func extend(seg Segment, n Node) Node {
	return MakeExtender(seg, n)
}

// hash computes and caches v's digest, recursing into any not-yet-hashed
// children first. "Hashed is transitive": by the time this returns, v and
// both of its children (if any) are hashed.
func hash(n Node) Digest {
	switch n.kind {
	case KindNull:
		return Digest{}
	case KindDisk:
		panic("trie: hash: cannot hash an unmaterialized Disk node")
	}
	v := n.view
	if v.hashed {
		return v.digest
	}
	switch v.kind {
	case KindLeaf:
		v.digest = hashLeaf(v.value)
	case KindBud:
		v.digest = hashBud(hash(v.child))
	case KindExtender:
		v.digest = hashExtender(v.segment, hash(v.child))
	case KindInternal:
		v.digest = hashInternal(hash(v.left), hash(v.right))
	}
	v.hashed = true
	return v.digest
}

// checkNoDoubleNullChild is a debug-time invariant assertion: an Internal
// node never has Null as both children once either subtree is non-trivial.
func checkNoDoubleNullChild(v *View) {
	if v.kind == KindInternal && v.left.IsNull() && v.right.IsNull() {
		panic("trie: invariant violated: internal node with both children Null")
	}
}
