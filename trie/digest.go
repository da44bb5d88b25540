package trie

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the width of a Digest in bytes.
const DigestSize = 32

// Digest is a fixed-width opaque byte string uniquely identifying node
// content, computed by the blake2b-256 hash family.
type Digest [DigestSize]byte

// IsZero reports whether the digest is the zero value (unhashed).
func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) Bytes() []byte { return d[:] }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Node digests are tag ‖ fields ‖ ... hashed with blake2b-256, the byte
// layout centralized here rather than duplicated at each construction site.
const (
	tagLeaf     = byte(1)
	tagInternal = byte(2)
	tagExtender = byte(3)
	tagBud      = byte(4)
)

func hashFinalize(h interface{ Sum([]byte) []byte }) (d [32]byte) {
	copy(d[:], h.Sum(nil))
	return d
}

// hashLeaf computes the digest of a Leaf node: tag ‖ value.
func hashLeaf(value []byte) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{tagLeaf})
	h.Write(value)
	return Digest(hashFinalize(h))
}

// hashBud computes the digest of a Bud node: tag ‖ child digest.
func hashBud(child Digest) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{tagBud})
	h.Write(child.Bytes())
	return Digest(hashFinalize(h))
}

// hashExtender computes the digest of an Extender node: tag ‖ segment ‖ child digest.
func hashExtender(seg Segment, child Digest) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{tagExtender})
	h.Write(seg.Bytes())
	h.Write(child.Bytes())
	return Digest(hashFinalize(h))
}

// hashInternal computes the digest of an Internal node: tag ‖ left digest ‖ right digest.
func hashInternal(left, right Digest) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{tagInternal})
	h.Write(left.Bytes())
	h.Write(right.Bytes())
	return Digest(hashFinalize(h))
}

// HashValue computes the leaf-store digest of a value. It is the same
// function hashLeaf uses for the node digest of a Leaf, since a leaf's
// content is exactly its value.
func HashValue(value []byte) Digest {
	return hashLeaf(value)
}
