// Package trie_go provides the corpus plumbing the benchmarking command
// builds on: a minimal key/value store abstraction used to hold the side
// table of values loaded alongside a trie array, a length-prefixed binary
// format for recording and replaying the key/value corpora fed to it, and a
// deterministic synthetic corpus generator for exercising it without a
// pre-existing dataset.
package trie_go

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"time"
)

//----------------------------------------------------------------------------
// key/value store abstraction backing a trie array's value side table

// KVReader is a key/value reader.
type KVReader interface {
	// Get retrieves value by key. Returned nil means absence of the key.
	Get(key []byte) []byte
	// Has checks presence of the key in the key/value store.
	Has(key []byte) bool // for performance
}

// KVWriter is a key/value writer.
type KVWriter interface {
	// Set writes new or updates existing key with the value.
	// value == nil means deletion of the key from the store.
	Set(key, value []byte)
}

// KVIterator iterates a set of key/value pairs. Order is NON-DETERMINISTIC
// in general.
type KVIterator interface {
	Iterate(func(k, v []byte) bool)
}

// KVStore is the compound interface the corpus commands load keys and
// reconciliation values into; HiveKVStoreAdaptor is this module's only
// implementation, backing it with a hive.go kvstore.
type KVStore interface {
	KVReader
	KVWriter
	KVIterator
}

//----------------------------------------------------------------------------
// length-prefixed binary format for recording/replaying corpora of keys and
// values that get loaded into a trie array

// CorpusWriter writes a sequence of key/value pairs to be loaded into a
// trie array later.
type CorpusWriter interface {
	// Write writes one key/value pair.
	Write(key, value []byte) error
	// Stats return the number of pairs and bytes written so far.
	Stats() (int, int)
}

// CorpusReader replays a previously recorded sequence of key/value pairs.
// Order matches how they were written.
type CorpusReader interface {
	Iterate(func(k, v []byte) bool) error
}

// binaryCorpusWriter encodes a corpus in binary form: each key is prefixed
// with a 2-byte size, each value with a 4-byte size (both big-endian,
// matching the fixed-width field convention used throughout the trie
// array's own cell encoding).
var _ CorpusWriter = &binaryCorpusWriter{}

type binaryCorpusWriter struct {
	w         io.Writer
	kvCount   int
	byteCount int
}

func newBinaryCorpusWriter(w io.Writer) *binaryCorpusWriter {
	return &binaryCorpusWriter{w: w}
}

func (b *binaryCorpusWriter) Write(key, value []byte) error {
	if err := writeBytes16(b.w, key); err != nil {
		return err
	}
	b.byteCount += len(key) + 2
	if err := writeBytes32(b.w, value); err != nil {
		return err
	}
	b.byteCount += len(value) + 4
	b.kvCount++
	return nil
}

func (b *binaryCorpusWriter) Stats() (int, int) {
	return b.kvCount, b.byteCount
}

// binaryCorpusReader decodes the stream binaryCorpusWriter produces.
var _ CorpusReader = &binaryCorpusReader{}

type binaryCorpusReader struct {
	r io.Reader
}

func newBinaryCorpusReader(r io.Reader) *binaryCorpusReader {
	return &binaryCorpusReader{r: r}
}

func (b *binaryCorpusReader) Iterate(fun func(k []byte, v []byte) bool) error {
	for {
		k, err := readBytes16(b.r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := readBytes32(b.r)
		if err != nil {
			return err
		}
		if !fun(k, v) {
			return nil
		}
	}
}

// CorpusFileWriter is a binaryCorpusWriter backed by a file, used to record
// a corpus for later, repeatable loads into a trie array.
var _ CorpusWriter = &CorpusFileWriter{}

type CorpusFileWriter struct {
	*binaryCorpusWriter
	file *os.File
}

// CreateKVStreamFile creates a new corpus file at fname.
func CreateKVStreamFile(fname string) (*CorpusFileWriter, error) {
	file, err := os.Create(fname)
	if err != nil {
		return nil, err
	}
	return &CorpusFileWriter{
		binaryCorpusWriter: newBinaryCorpusWriter(file),
		file:               file,
	}, nil
}

func (fw *CorpusFileWriter) Close() error {
	return fw.file.Close()
}

// CorpusFileIterator replays a corpus file written by CorpusFileWriter.
var _ CorpusReader = &CorpusFileIterator{}

type CorpusFileIterator struct {
	*binaryCorpusReader
	file *os.File
}

// OpenKVStreamFile opens an existing corpus file at fname for replay.
func OpenKVStreamFile(fname string) (*CorpusFileIterator, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	return &CorpusFileIterator{
		binaryCorpusReader: newBinaryCorpusReader(file),
		file:               file,
	}, nil
}

func (fs *CorpusFileIterator) Close() error {
	return fs.file.Close()
}

// RandStreamIterator generates a deterministic synthetic corpus of random
// key/value pairs, for loading trie arrays in the absence of a recorded one.
var _ CorpusReader = &RandStreamIterator{}

type RandStreamIterator struct {
	rnd   *rand.Rand
	par   RandStreamParams
	count int
}

// RandStreamParams parameterizes RandStreamIterator.
type RandStreamParams struct {
	// Seed for deterministic randomization.
	Seed int64
	// NumKVPairs is the maximum number of key/value pairs to generate. 0
	// means infinite (until the caller's Iterate callback returns false).
	NumKVPairs int
	// MaxKey is the maximum length of a generated key.
	MaxKey int
	// MaxValue is the maximum length of a generated value.
	MaxValue int
}

func NewRandStreamIterator(p ...RandStreamParams) *RandStreamIterator {
	ret := &RandStreamIterator{
		par: RandStreamParams{
			Seed:       time.Now().UnixNano(),
			NumKVPairs: 0, // infinite
			MaxKey:     64,
			MaxValue:   128,
		},
	}
	if len(p) > 0 {
		ret.par = p[0]
	}
	ret.rnd = rand.New(rand.NewSource(ret.par.Seed))
	return ret
}

func (r *RandStreamIterator) Iterate(fun func(k []byte, v []byte) bool) error {
	max := r.par.NumKVPairs
	if max <= 0 {
		max = math.MaxInt
	}
	for r.count < max {
		k := make([]byte, r.rnd.Intn(r.par.MaxKey)+1)
		r.rnd.Read(k)
		v := make([]byte, r.rnd.Intn(r.par.MaxValue)+1)
		r.rnd.Read(v)
		if !fun(k, v) {
			return nil
		}
		r.count++
	}
	return nil
}

//----------------------------------------------------------------------------
// fixed-width field helpers backing the corpus binary format

func readBytes16(r io.Reader) ([]byte, error) {
	var length uint16
	if err := readUint16(r, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func writeBytes16(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint16 {
		return errors.New("trie_go: writeBytes16: data too long")
	}
	if err := writeUint16(w, uint16(len(data))); err != nil {
		return err
	}
	if len(data) != 0 {
		_, err := w.Write(data)
		return err
	}
	return nil
}

func readUint16(r io.Reader, pval *uint16) error {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return err
	}
	*pval = binary.BigEndian.Uint16(tmp[:])
	return nil
}

func writeUint16(w io.Writer, val uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], val)
	_, err := w.Write(tmp[:])
	return err
}

func readBytes32(r io.Reader) ([]byte, error) {
	var length uint32
	if err := readUint32(r, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func writeBytes32(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return errors.New("trie_go: writeBytes32: data too long")
	}
	if err := writeUint32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readUint32(r io.Reader, pval *uint32) error {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return err
	}
	*pval = binary.BigEndian.Uint32(tmp[:])
	return nil
}

func writeUint32(w io.Writer, val uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], val)
	_, err := w.Write(tmp[:])
	return err
}
