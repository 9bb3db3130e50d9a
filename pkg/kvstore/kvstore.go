// Package kvstore defines the ordered key-value engine a shard is built on.
package kvstore

import (
	"errors"

	"go.uber.org/zap/zapcore"
)

var (
	// ErrNotFound is returned by Get for absent keys. It is the only error a
	// shard treats as a normal end of data.
	ErrNotFound = errors.New("kvstore: not found")
	// ErrInvalidStore is returned when opening a directory that has content
	// but is not a store.
	ErrInvalidStore = errors.New("kvstore: directory is not a valid store")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvstore: closed")
)

// Options tunes a store when it is opened or repaired.
type Options struct {
	// MaxOpenFiles bounds the number of table files held open.
	MaxOpenFiles int
	// BlockCacheSize is the block cache capacity in bytes.
	BlockCacheSize int
	// WriteBufferSize is the memtable size in bytes.
	WriteBufferSize int
	// BlockSize is the uncompressed size of a table block.
	BlockSize int
	// BlockRestartInterval is the number of keys between restart points.
	BlockRestartInterval int
	// Compression enables block compression.
	Compression bool
}

// DefaultOptions are the per-shard defaults.
func DefaultOptions() Options {
	return Options{
		MaxOpenFiles:         1000,
		BlockCacheSize:       8 << 20,
		WriteBufferSize:      4 << 20,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          false,
	}
}

func (o Options) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("max_open_files", o.MaxOpenFiles)
	enc.AddInt("block_cache_size", o.BlockCacheSize)
	enc.AddInt("write_buffer_size", o.WriteBufferSize)
	enc.AddInt("block_size", o.BlockSize)
	enc.AddBool("compression", o.Compression)
	return nil
}

// Backend opens and repairs stores rooted at a directory.
type Backend interface {
	// Exists reports whether a store was created at path. Open creates a
	// missing store.
	Exists(path string) bool
	Open(path string, opts Options) (Store, error)
	// Repair rebuilds store metadata from whatever files survive and compacts
	// the result. The store at path must not be open.
	Repair(path string, opts Options) error
}

// Store is an open ordered key-value database.
type Store interface {
	// Get returns ErrNotFound for absent keys.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Iterator walks keys in [start, limit) in order. A nil limit means no
	// upper bound.
	Iterator(start, limit []byte) Iterator
	// ApproximateSize estimates the on-disk bytes used by keys in
	// [start, limit).
	ApproximateSize(start, limit []byte) (int64, error)
	CompactRange(start, limit []byte) error
	Close() error
}

// Iterator is a forward cursor. Key and Value are only valid until the next
// call to Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}
