package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is the key-value store backing the host. Besides raw Put/Get for
// bookkeeping entries (the committed head, schema markers) it exposes the trie
// node database that the state trie is layered on.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func newKVDatabase(kv ethdb.KeyValueStore) *kvDatabase {
	return &kvDatabase{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("storage: empty key")
	}
	return db.kv.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	return db.kv.Get(key)
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db *kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *kvDatabase) Close() {
	_ = db.trieDB.Close()
	_ = db.kv.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	*kvDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(memorydb.New())}
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*kvDatabase
}

// LevelDBOptions tunes the LevelDB handle. Zero values fall back to
// conservative defaults.
type LevelDBOptions struct {
	CacheMiB int
	Handles  int
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{})
}

// NewLevelDBWithOptions opens a LevelDB database applying the supplied cache
// and file handle limits.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	if opts.CacheMiB <= 0 {
		opts.CacheMiB = 16
	}
	if opts.Handles <= 0 {
		opts.Handles = 64
	}
	kv, err := gethleveldb.NewCustom(path, "agora/db/", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = opts.Handles
		o.BlockCacheCapacity = opts.CacheMiB / 2 * opt.MiB
		o.WriteBuffer = opts.CacheMiB / 4 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvDatabase: newKVDatabase(kv)}, nil
}
