package trie

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// fileMagic identifies an array file; fileVersion lets the header layout
// evolve without breaking older files silently.
var fileMagic = [4]byte{'B', 'P', 'T', '1'}

const fileVersion = uint32(1)

// rootTableEntrySize is the size of one (digest -> index) record in the
// root table log.
const rootTableEntrySize = DigestSize + 8

// maxRootTableEntries bounds the root table so it can live in a
// fixed-size reserved region ahead of the array proper, instead of a
// chained/growable structure. Committing past this many distinct live
// roots silently stops persisting new entries to the on-disk log (they
// remain reachable in the in-memory map for the life of the process);
// running GC compacts the table back down. See DESIGN.md.
const maxRootTableEntries = 65536

// headerFieldsSize reserves room for the fixed header fields (magic,
// version, cell size, committed length, root table length).
const headerFieldsSize = 64

// headerSize is the size of the reserved region ahead of the logical
// array: header fields followed by the root table log, per the
// production-header suggestion in the spec (§6). Cell 0 of the logical
// array starts right after it.
const headerSize = headerFieldsSize + maxRootTableEntries*rootTableEntrySize

const (
	hdrMagic           = 0
	hdrVersion         = 4
	hdrCellSize        = 8
	hdrCommittedLength = 12
	hdrRootTableLen    = 20
)

// rootTableOffset is the byte offset of the root table log within the file.
func rootTableOffset() int64 { return int64(headerFieldsSize) }

// valuesSuffix names the sidecar file a Context keeps leaf values in. The
// spec (§4.2/§6) calls the leaf store "currently in-memory", but a real
// reopen still has to answer Get for already-committed leaves (spec §8
// scenario 5), so values are append-only logged here and replayed back into
// the in-memory LeafStore on open. See DESIGN.md.
const valuesSuffix = ".values"

// Context owns the mmapped array, the leaf store and the root table for a
// single trie. It is shared by value across tree handles; all mutation
// (append on commit, leaf store writes, root table writes) is guarded by
// mu, matching the single-writer/multi-reader model in spec §5.
type Context struct {
	mu sync.RWMutex

	file *os.File
	data mmap.MMap

	valuesFile *os.File // append-only log backing leaves across reopen

	length uint64 // next free cell index (logical, 0-based after the header)
	leaves *LeafStore
	roots  map[Digest]uint64 // root digest -> array index

	cache map[uint64]*View // materialized-node cache, keyed by array index
}

// OpenContext opens (creating if necessary) an mmapped array file of the
// given initial capacity in cells and returns a ready Context. Passing an
// existing, previously-written file replays its header, root table and leaf
// values.
func OpenContext(path string, capacityCells uint64) (*Context, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &IoError{Op: "open", Cause: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IoError{Op: "stat", Cause: err}
	}

	vf, err := os.OpenFile(path+valuesSuffix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		f.Close()
		return nil, &IoError{Op: "open", Cause: err}
	}

	ctx := &Context{
		file:       f,
		valuesFile: vf,
		leaves:     NewLeafStore(),
		roots:      make(map[Digest]uint64),
		cache:      make(map[uint64]*View),
	}

	if info.Size() == 0 {
		if err := ctx.initEmpty(capacityCells); err != nil {
			f.Close()
			vf.Close()
			return nil, err
		}
	} else {
		if err := ctx.mapExisting(); err != nil {
			f.Close()
			vf.Close()
			return nil, err
		}
	}

	if err := ctx.loadValues(); err != nil {
		f.Close()
		vf.Close()
		return nil, err
	}
	ctx.leaves.OnNewValue(ctx.appendValueRecord)

	return ctx, nil
}

// loadValues replays the sidecar value log, rebuilding the in-memory leaf
// store's values (refcounts start fresh at 1 per distinct value and are
// reconciled as the edit engine touches them again; only the values
// themselves, not the exact refcounts, need to survive a reopen).
func (c *Context) loadValues() error {
	if _, err := c.valuesFile.Seek(0, io.SeekStart); err != nil {
		return &IoError{Op: "seek", Cause: err}
	}
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(c.valuesFile, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return &IoError{Op: "read", Cause: err}
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		value := make([]byte, n)
		if _, err := io.ReadFull(c.valuesFile, value); err != nil {
			return &IoError{Op: "read", Cause: err}
		}
		c.leaves.Insert(value)
	}
}

// appendValueRecord persists one newly inserted leaf value as a
// length-prefixed record. Installed as the leaf store's OnNewValue hook, so
// it runs exactly once per distinct value.
func (c *Context) appendValueRecord(v []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	if _, err := c.valuesFile.Write(lenBuf[:]); err != nil {
		panic(&IoError{Op: "write", Cause: err})
	}
	if _, err := c.valuesFile.Write(v); err != nil {
		panic(&IoError{Op: "write", Cause: err})
	}
}

func (c *Context) initEmpty(capacityCells uint64) error {
	size := int64(headerSize) + int64(capacityCells)*CellSize
	if err := c.file.Truncate(size); err != nil {
		return &IoError{Op: "truncate", Cause: err}
	}
	data, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	c.data = data
	copy(c.data[hdrMagic:], fileMagic[:])
	binary.BigEndian.PutUint32(c.data[hdrVersion:], fileVersion)
	binary.BigEndian.PutUint32(c.data[hdrCellSize:], CellSize)
	binary.BigEndian.PutUint64(c.data[hdrCommittedLength:], 0)
	binary.BigEndian.PutUint64(c.data[hdrRootTableLen:], 0)
	c.length = 0
	return nil
}

func (c *Context) mapExisting() error {
	data, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	c.data = data
	if len(c.data) < headerSize || string(c.data[hdrMagic:hdrMagic+4]) != string(fileMagic[:]) {
		return &CorruptNodeError{Cause: ErrNotAllBytesConsumed}
	}
	cellSize := binary.BigEndian.Uint32(c.data[hdrCellSize:])
	if cellSize != CellSize {
		return &IoError{Op: "map", Cause: ErrOutOfSpace}
	}
	c.length = binary.BigEndian.Uint64(c.data[hdrCommittedLength:])
	rootTableLen := binary.BigEndian.Uint64(c.data[hdrRootTableLen:])
	off0 := rootTableOffset()
	for i := uint64(0); i < rootTableLen && i < maxRootTableEntries; i++ {
		off := off0 + int64(i)*rootTableEntrySize
		var d Digest
		copy(d[:], c.data[off:off+DigestSize])
		idx := binary.BigEndian.Uint64(c.data[off+DigestSize:])
		c.roots[d] = idx
	}
	return nil
}

// cellOffset translates a logical cell index into a byte offset in the
// mapped file, skipping the reserved header page.
func cellOffset(index uint64) int64 {
	return int64(headerSize) + int64(index)*CellSize
}

// Length returns the number of committed cells.
func (c *Context) Length() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.length
}

// Leaves returns the context's leaf store.
func (c *Context) Leaves() *LeafStore { return c.leaves }

// RootIndex looks up a previously committed root by its digest.
func (c *Context) RootIndex(d Digest) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.roots[d]
	return idx, ok
}

// Roots returns a snapshot copy of the root table.
func (c *Context) Roots() map[Digest]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make(map[Digest]uint64, len(c.roots))
	for d, i := range c.roots {
		ret[d] = i
	}
	return ret
}

// Close unmaps and closes the backing file. Callers must not use the
// context afterwards.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data != nil {
		if err := c.data.Unmap(); err != nil {
			return &IoError{Op: "munmap", Cause: err}
		}
	}
	if err := c.valuesFile.Close(); err != nil {
		return &IoError{Op: "close", Cause: err}
	}
	return c.file.Close()
}

// readCell reads the raw bytes of a single committed cell. Read-only; it
// never mutates the array.
func (c *Context) readCell(index uint64) []byte {
	off := cellOffset(index)
	return c.data[off : off+CellSize]
}

// LoadNode materializes the node persisted at the given array index,
// decoding exactly one cell (two for a Leaf). Children remain Disk(index)
// until themselves loaded -- materialization is lazy.
func (c *Context) LoadNode(index uint64) (Node, error) {
	c.mu.RLock()
	if v, ok := c.cache[index]; ok {
		c.mu.RUnlock()
		return ViewNode(v), nil
	}
	c.mu.RUnlock()

	cell := c.readCell(index)
	var v *View
	switch cellKind(cell) {
	case cellKindInternal:
		leftIdx, rightIdx, elide, digest := decodeInternal(cell)
		left, right := DiskNode(leftIdx), DiskNode(rightIdx)
		switch elide {
		case elidedLeft:
			left = DiskNode(index - 1)
		case elidedRight:
			right = DiskNode(index - 1)
		}
		v = &View{kind: KindInternal, left: left, right: right, indexed: true, hashed: true, digest: digest, index: index}
	case cellKindExtender:
		seg, childIdx, digest, err := decodeExtender(cell)
		if err != nil {
			return Node{}, &CorruptNodeError{Index: index, Cause: err}
		}
		v = &View{kind: KindExtender, segment: seg, child: DiskNode(childIdx), indexed: true, hashed: true, digest: digest, index: index}
	case cellKindBud:
		childIdx, digest := decodeBud(cell)
		v = &View{kind: KindBud, child: DiskNode(childIdx), indexed: true, hashed: true, digest: digest, index: index}
	case cellKindLeaf:
		digest := decodeLeaf(cell)
		value, ok := c.leaves.Get(digest)
		if !ok {
			return Node{}, &CorruptNodeError{Index: index, Cause: ErrBadPath}
		}
		v = &View{kind: KindLeaf, value: value, indexed: true, hashed: true, digest: digest, index: index}
	default:
		return Node{}, &CorruptNodeError{Index: index, Cause: ErrNotAllBytesConsumed}
	}

	c.mu.Lock()
	c.cache[index] = v
	c.mu.Unlock()
	return ViewNode(v), nil
}

// Resolve returns n unchanged unless it is a Disk reference, in which case
// it is materialized via LoadNode.
func (c *Context) Resolve(n Node) (Node, error) {
	if !n.IsDisk() {
		return n, nil
	}
	return c.LoadNode(n.DiskIndex())
}
