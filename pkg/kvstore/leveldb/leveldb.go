// Package leveldb implements kvstore on goleveldb, either on disk or in
// memory.
package leveldb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/storacha/kfs/pkg/kvstore"
)

var log = logging.Logger("kfs/leveldb")

// currentFile is the pointer to the live manifest; every leveldb directory
// has one.
const currentFile = "CURRENT"

var _ kvstore.Backend = (*FileBackend)(nil)
var _ kvstore.Backend = (*MemBackend)(nil)

// FileBackend opens stores in directories on the local file system.
type FileBackend struct{}

// NewFileBackend returns the on-disk backend.
func NewFileBackend() *FileBackend {
	return &FileBackend{}
}

func (b *FileBackend) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, currentFile))
	return err == nil
}

func (b *FileBackend) Open(path string, opts kvstore.Options) (kvstore.Store, error) {
	if err := validateDir(path); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, toOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", path, err)
	}
	log.Debugw("opened store", "path", path, "options", opts)
	return &store{db: db}, nil
}

func (b *FileBackend) Repair(path string, opts kvstore.Options) error {
	if err := validateDir(path); err != nil {
		return err
	}
	db, err := leveldb.RecoverFile(path, toOptions(opts))
	if err != nil {
		return fmt.Errorf("repairing leveldb at %s: %w", path, err)
	}
	log.Debugw("repaired store", "path", path)
	return compactAndClose(db)
}

// validateDir rejects an existing, non-empty directory that holds no store.
func validateDir(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil && err != io.EOF {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	if _, err := os.Stat(filepath.Join(path, currentFile)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s has no %s file", kvstore.ErrInvalidStore, path, currentFile)
		}
		return err
	}
	return nil
}

// MemBackend keeps stores in memory, keyed by path. Closing a store keeps its
// data so that it can be reopened, like a directory on disk.
type MemBackend struct {
	mu     sync.Mutex
	stores map[string]storage.Storage
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{stores: map[string]storage.Storage{}}
}

func (b *MemBackend) storage(path string) storage.Storage {
	b.mu.Lock()
	defer b.mu.Unlock()
	stor, ok := b.stores[path]
	if !ok {
		stor = storage.NewMemStorage()
		b.stores[path] = stor
	}
	return stor
}

// Exists reports whether a store was ever opened or repaired at path.
func (b *MemBackend) Exists(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.stores[path]
	return ok
}

func (b *MemBackend) Open(path string, opts kvstore.Options) (kvstore.Store, error) {
	db, err := leveldb.Open(b.storage(path), toOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("opening memory store %s: %w", path, err)
	}
	return &store{db: db}, nil
}

func (b *MemBackend) Repair(path string, opts kvstore.Options) error {
	db, err := leveldb.Recover(b.storage(path), toOptions(opts))
	if err != nil {
		return fmt.Errorf("repairing memory store %s: %w", path, err)
	}
	return compactAndClose(db)
}

func compactAndClose(db *leveldb.DB) error {
	if err := db.CompactRange(util.Range{}); err != nil {
		_ = db.Close()
		return fmt.Errorf("compacting leveldb: %w", err)
	}
	return db.Close()
}

func toOptions(o kvstore.Options) *opt.Options {
	compression := opt.NoCompression
	if o.Compression {
		compression = opt.SnappyCompression
	}
	return &opt.Options{
		OpenFilesCacheCapacity: o.MaxOpenFiles,
		BlockCacheCapacity:     o.BlockCacheSize,
		WriteBuffer:            o.WriteBufferSize,
		BlockSize:              o.BlockSize,
		BlockRestartInterval:   o.BlockRestartInterval,
		Compression:            compression,
	}
}

type store struct {
	db *leveldb.DB
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return kvstore.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return kvstore.ErrClosed
	default:
		return err
	}
}

func (s *store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	return v, translate(err)
}

func (s *store) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	return ok, translate(err)
}

func (s *store) Put(key, value []byte) error {
	return translate(s.db.Put(key, value, nil))
}

func (s *store) Delete(key []byte) error {
	return translate(s.db.Delete(key, nil))
}

func (s *store) Iterator(start, limit []byte) kvstore.Iterator {
	return &iter{it: s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)}
}

func (s *store) ApproximateSize(start, limit []byte) (int64, error) {
	sizes, err := s.db.SizeOf([]util.Range{{Start: start, Limit: limit}})
	if err != nil {
		return 0, translate(err)
	}
	return sizes.Sum(), nil
}

func (s *store) CompactRange(start, limit []byte) error {
	return translate(s.db.CompactRange(util.Range{Start: start, Limit: limit}))
}

func (s *store) Close() error {
	return translate(s.db.Close())
}

type iter struct {
	it iterator.Iterator
}

func (i *iter) Next() bool    { return i.it.Next() }
func (i *iter) Key() []byte   { return i.it.Key() }
func (i *iter) Value() []byte { return i.it.Value() }
func (i *iter) Error() error  { return translate(i.it.Error()) }
func (i *iter) Release()      { i.it.Release() }
