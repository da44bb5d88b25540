// Command trie-bench generates synthetic key/value corpora and loads them
// into a binary Patricia trie, exercising the array file end to end the
// way examples/trie_bench exercised the generic-arity trie it benchmarked.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/iotaledger/hive.go/core/kvstore"
	"github.com/iotaledger/hive.go/core/kvstore/badger"
	"github.com/iotaledger/hive.go/core/kvstore/mapdb"

	trie_go "github.com/iotaledger/bintrie.go"
	"github.com/iotaledger/bintrie.go/trie"
)

const usage = "USAGE: trie-bench [-n=<num kv pairs>] [-segments=1..8] " +
	"[-maxkey=<max key size>] [-maxvalue=<max value size>] " +
	"<gen|mkdbbadger|mkdbmem|scandbbadger> <name>\n"

var (
	num      = flag.Int("n", 1000, "number of k/v pairs")
	segments = flag.Int("segments", 1, "number of bud-separated segments each key's bits are split across")
	maxKey   = flag.Int("maxkey", 100, "maximum size of the generated key")
	maxValue = flag.Int("maxvalue", 32, "maximum size of the generated value")
	capacity = flag.Uint64("capacity", 1_000_000, "initial array capacity in cells")

	cmd, name, fname, dbdir, arrayFile string
)

var valuePrefix = []byte{0x01}

func main() {
	flag.Parse()
	tail := flag.Args()
	if len(tail) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}
	cmd, name = tail[0], tail[1]

	switch cmd {
	case "gen", "mkdbbadger", "mkdbmem", "scandbbadger":
	default:
		fmt.Print(usage)
		os.Exit(1)
	}

	fname = name + ".bin"
	dbdir = fmt.Sprintf("%s.dbdir", name)
	arrayFile = fmt.Sprintf("%s.trie", name)

	switch cmd {
	case "gen":
		genrnd()
	case "mkdbbadger":
		mkdb(openBadger())
	case "mkdbmem":
		mkdb(mapdb.NewMapDB())
	case "scandbbadger":
		scandbbadger()
	}
}

func must(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

func openBadger() kvstore.KVStore {
	if _, err := os.Stat(dbdir); !os.IsNotExist(err) {
		fmt.Printf("directory %s already exists. Can't create new database\n", dbdir)
		os.Exit(1)
	}
	db, err := badger.CreateDB(dbdir)
	must(err)
	return badger.New(db)
}

func genrnd() {
	fmt.Printf("generating %d key/value pairs into %s\n", *num, fname)
	rndIterator := trie_go.NewRandStreamIterator(trie_go.RandStreamParams{
		Seed:       time.Now().UnixNano(),
		NumKVPairs: *num,
		MaxKey:     *maxKey,
		MaxValue:   *maxValue,
	})
	fileWriter, err := trie_go.CreateKVStreamFile(fname)
	must(err)
	defer func() { _ = fileWriter.Close() }()

	count, wrote := 0, 0
	err = rndIterator.Iterate(func(k []byte, v []byte) bool {
		must(fileWriter.Write(k, v))
		count++
		wrote += len(k) + len(v) + 6
		return true
	})
	must(err)
	fmt.Printf("generated %d key/value pairs, %.2f MB\n", count, float64(wrote)/(1024*1024))
}

// mkdb loads the corpus file into both a hive.go-backed value store (for
// later reconciliation) and a fresh binary trie array, committing the
// trie at the end and printing its root digest.
func mkdb(kvs kvstore.KVStore) {
	streamIn, err := trie_go.OpenKVStreamFile(fname)
	must(err)
	defer func() { _ = streamIn.Close() }()

	ctx, err := trie.OpenContext(arrayFile, *capacity)
	must(err)
	defer func() { _ = ctx.Close() }()

	values := trie_go.NewHiveKVStoreAdaptor(kvs, valuePrefix)
	tree := trie.NewTree(ctx)

	started := time.Now()
	count := 0
	var mem runtime.MemStats
	err = streamIn.Iterate(func(k []byte, v []byte) bool {
		values.Set(k, v)
		path := trie.PathFromBytes(k, *segments)
		must(tree.Upsert(path, v))
		count++
		if count%100_000 == 0 {
			runtime.ReadMemStats(&mem)
			fmt.Printf("upserted %d records, mem alloc %.2f MB\n", count, float64(mem.Alloc)/(1024*1024))
		}
		return true
	})
	must(err)

	digest, err := tree.Commit()
	must(err)
	fmt.Printf("loaded %d records in %v, root digest %s\n", count, time.Since(started), digest)
}

// scandbbadger reopens a previously built badger value store and trie
// array, and checks that every stored key/value pair still verifies
// against the committed trie -- the reconciliation check examples/trie_bench
// ran after building a database.
func scandbbadger() {
	db, err := badger.CreateDB(dbdir)
	must(err)
	defer func() { _ = db.Close() }()

	kvs := badger.New(db)
	values := trie_go.NewHiveKVStoreAdaptor(kvs, valuePrefix)

	ctx, err := trie.OpenContext(arrayFile, 0)
	must(err)
	defer func() { _ = ctx.Close() }()

	roots := ctx.Roots()
	if len(roots) == 0 {
		fmt.Println("no committed roots found")
		os.Exit(1)
	}
	var lastDigest trie.Digest
	var lastIdx uint64
	for d, idx := range roots {
		lastDigest, lastIdx = d, idx
	}
	tr, err := trie.OpenTree(ctx, lastDigest)
	must(err)
	fmt.Printf("opened root %s at array cell %d\n", lastDigest, lastIdx)

	total, mismatches := 0, 0
	values.Iterate(func(k []byte, v []byte) bool {
		total++
		path := trie.PathFromBytes(k, *segments)
		got, found, err := tr.Get(path)
		if err != nil {
			fmt.Printf("error reading key %x: %v\n", k, err)
			mismatches++
			return true
		}
		if !found || string(got) != string(v) {
			mismatches++
		}
		return true
	})
	fmt.Printf("checked %d records, %d mismatches\n", total, mismatches)
	if mismatches > 0 {
		os.Exit(1)
	}
}
