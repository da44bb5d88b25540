package trie

import (
	"encoding/binary"
	"fmt"
)

// CellSize is the uniform size in bytes of one slot of the on-disk array.
// The spec leaves the exact size an implementation choice (its own example
// uses 64); 128 is chosen here so a single cell can hold an Extender's
// inline segment (up to cellSegmentCapacity bits) without the chaining
// machinery a tighter cell would require -- see DESIGN.md.
const CellSize = 128

// cellTag byte layout: low 2 bits select the variant, bits 2-3 (Internal
// only) select which child index was elided because it is stored in the
// immediately adjacent cell.
const (
	cellKindInternal = byte(0)
	cellKindExtender = byte(1)
	cellKindBud      = byte(2)
	cellKindLeaf     = byte(3)
	cellKindMask     = byte(0x03)

	elidedNone  = byte(0)
	elidedLeft  = byte(1)
	elidedRight = byte(2)
	elidedShift = 2
	elidedMask  = byte(0x03) << elidedShift
)

// Internal cell layout (CellSize bytes):
//
//	[0]      tag
//	[1:9]    left index  (BE uint64, written even if elided)
//	[9:17]   right index (BE uint64, written even if elided)
//	[17:49]  digest (32B)
//	[49:]    reserved
const (
	offInternalLeft   = 1
	offInternalRight  = 9
	offInternalDigest = 17
)

// Extender cell layout:
//
//	[0]        tag
//	[1]        segment padding bits (0-7), per Segment.Bytes
//	[2:4]      segment byte length (BE uint16)
//	[4:4+n]    packed segment bytes
//	[4+n:12+n] child index (BE uint64)
//	[12+n:44+n] digest (32B)
const (
	offExtPadding = 1
	offExtSegLen  = 2
	offExtSegment = 4
)

// cellSegmentCapacity is the maximum packed segment byte length that fits
// inline in one Extender cell alongside its child index and digest.
const cellSegmentCapacity = CellSize - offExtSegment - 8 - DigestSize

// Bud cell layout:
//
//	[0]     tag
//	[1:9]   child index (BE uint64)
//	[9:41]  digest (32B)
const (
	offBudChild  = 1
	offBudDigest = 9
)

// Leaf occupies two adjacent cells. The first carries the tag and the
// digest that is also the leaf-store key; the second is reserved, per the
// spec's format-compatibility note (room for future leaf metadata).
const (
	offLeafDigest = 1
	// LeafCellCount is how many array slots a Leaf node consumes.
	LeafCellCount = 2
)

func newCell() []byte { return make([]byte, CellSize) }

// encodeInternal serializes an Internal view. leftIdx/rightIdx are the
// indices to write; elide controls which one is skipped because the
// caller knows it sits at index-1 (or leftIdx/rightIdx omitted accordingly).
func encodeInternal(leftIdx, rightIdx uint64, elide byte, digest Digest) []byte {
	c := newCell()
	c[0] = cellKindInternal | (elide << elidedShift)
	binary.BigEndian.PutUint64(c[offInternalLeft:], leftIdx)
	binary.BigEndian.PutUint64(c[offInternalRight:], rightIdx)
	copy(c[offInternalDigest:], digest.Bytes())
	return c
}

func decodeInternal(c []byte) (leftIdx, rightIdx uint64, elide byte, digest Digest) {
	elide = (c[0] & elidedMask) >> elidedShift
	leftIdx = binary.BigEndian.Uint64(c[offInternalLeft:])
	rightIdx = binary.BigEndian.Uint64(c[offInternalRight:])
	copy(digest[:], c[offInternalDigest:offInternalDigest+DigestSize])
	return
}

func encodeExtender(seg Segment, childIdx uint64, digest Digest) ([]byte, error) {
	packed := seg.Bytes()
	segBytes := packed[1:]
	if len(segBytes) > cellSegmentCapacity {
		return nil, fmt.Errorf("trie: encodeExtender: segment of %d bytes exceeds cell capacity %d: %w",
			len(segBytes), cellSegmentCapacity, ErrOutOfSpace)
	}
	c := newCell()
	c[0] = cellKindExtender
	c[offExtPadding] = packed[0]
	binary.BigEndian.PutUint16(c[offExtSegLen:], uint16(len(segBytes)))
	copy(c[offExtSegment:], segBytes)
	childOff := offExtSegment + len(segBytes)
	binary.BigEndian.PutUint64(c[childOff:], childIdx)
	copy(c[childOff+8:], digest.Bytes())
	return c, nil
}

func decodeExtender(c []byte) (seg Segment, childIdx uint64, digest Digest, err error) {
	padding := c[offExtPadding]
	segLen := int(binary.BigEndian.Uint16(c[offExtSegLen:]))
	if segLen > cellSegmentCapacity {
		err = fmt.Errorf("trie: decodeExtender: bad segment length %d", segLen)
		return
	}
	encoded := append([]byte{padding}, c[offExtSegment:offExtSegment+segLen]...)
	seg, err = SegmentFromBytes(encoded)
	if err != nil {
		return
	}
	childOff := offExtSegment + segLen
	childIdx = binary.BigEndian.Uint64(c[childOff:])
	copy(digest[:], c[childOff+8:childOff+8+DigestSize])
	return
}

func encodeBud(childIdx uint64, digest Digest) []byte {
	c := newCell()
	c[0] = cellKindBud
	binary.BigEndian.PutUint64(c[offBudChild:], childIdx)
	copy(c[offBudDigest:], digest.Bytes())
	return c
}

func decodeBud(c []byte) (childIdx uint64, digest Digest) {
	childIdx = binary.BigEndian.Uint64(c[offBudChild:])
	copy(digest[:], c[offBudDigest:offBudDigest+DigestSize])
	return
}

// encodeLeaf returns the two cells a Leaf node occupies.
func encodeLeaf(digest Digest) (first, second []byte) {
	first = newCell()
	first[0] = cellKindLeaf
	copy(first[offLeafDigest:], digest.Bytes())
	second = newCell()
	return
}

func decodeLeaf(first []byte) (digest Digest) {
	copy(digest[:], first[offLeafDigest:offLeafDigest+DigestSize])
	return
}

func cellKind(c []byte) byte { return c[0] & cellKindMask }
