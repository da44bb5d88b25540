package trie

import (
	"golang.org/x/xerrors"
)

// Error kinds returned by the edit engine and the disk array. Each is a
// sentinel that callers can match with errors.Is; CorruptNode and IoError
// wrap the underlying cause.
var (
	// ErrBadPath is returned when a path attempts to end on an internal
	// node, traverse past a leaf, or is empty.
	ErrBadPath = xerrors.New("trie: bad path")

	// ErrBudLeafConflict is returned when a path expects a bud where a
	// leaf exists, or a leaf where a bud exists.
	ErrBudLeafConflict = xerrors.New("trie: bud/leaf conflict")

	// ErrOutOfSpace is returned by commit when the array has no more
	// free cells. Callers may grow the file and retry, or run GC.
	ErrOutOfSpace = xerrors.New("trie: out of space")

	// ErrNotAllBytesConsumed marks undecodable stored data: an empty
	// segment encoding, a cell with an unknown tag, or a file without a
	// valid array header.
	ErrNotAllBytesConsumed = xerrors.New("trie: not all bytes were consumed")
)

// CorruptNodeError wraps a cause discovered while validating a loaded cell's
// tag, length or digest. It is fatal for the affected edit; the context
// remains usable for other roots.
type CorruptNodeError struct {
	Index uint64
	Cause error
}

func (e *CorruptNodeError) Error() string {
	return xerrors.Errorf("trie: corrupt node at cell %d: %w", e.Index, e.Cause).Error()
}

func (e *CorruptNodeError) Unwrap() error { return e.Cause }

// IoError wraps mmap/open/truncate failures. Fatal at the context level.
type IoError struct {
	Op    string
	Cause error
}

func (e *IoError) Error() string {
	return xerrors.Errorf("trie: io error during %s: %w", e.Op, e.Cause).Error()
}

func (e *IoError) Unwrap() error { return e.Cause }
