// Package table routes files across a fixed number of shards rooted in one
// directory and exposes the file level API of a kfs database.
package table

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/sync/errgroup"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
	"github.com/storacha/kfs/pkg/kvstore/leveldb"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/telemetry"
)

var log = logging.Logger("kfs/table")

const (
	// ReferenceIDFile holds the raw reference ID bytes of a table.
	ReferenceIDFile = "r.id"
	// Extension is appended to table paths that lack it.
	Extension = ".kfs"
	// DefaultShardCount is also the largest supported shard count, since
	// routing uses a single byte.
	DefaultShardCount = 256
	MaxShardCount     = 256

	statConcurrency = 3
	// maxOpenAttempts bounds how often an operation is retried when its shard
	// closes between being opened and the operation starting.
	maxOpenAttempts = 3
)

var ErrInvalidTable = errors.New("invalid table")

type Config struct {
	// ReferenceID is the hex reference ID used when creating a table. A
	// random one is generated when empty. Existing tables keep the ID stored
	// on disk.
	ReferenceID string
	// ShardCount is the number of shard slots, at most MaxShardCount.
	ShardCount int
	// MaxTableSize, when set, caps the table and gives every shard
	// MaxTableSize/ShardCount bytes, overriding Shard.MaxSize.
	MaxTableSize int64
	Shard        shard.Config
	// Backend opens shard stores. Defaults to goleveldb on disk.
	Backend kvstore.Backend
	// Hasher normalizes keys that are not already file keys.
	Hasher  keys.Hasher
	Clock   clock.Clock
	Metrics *telemetry.StoreMetrics
}

// DefaultConfig is a 256 shard table of 51.2GiB shards on disk.
func DefaultConfig() Config {
	return Config{
		ShardCount: DefaultShardCount,
		Shard:      shard.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.ShardCount == 0 {
		c.ShardCount = DefaultShardCount
	}
	if c.Shard == (shard.Config{}) {
		c.Shard = shard.DefaultConfig()
	}
	if c.MaxTableSize > 0 {
		c.Shard.MaxSize = c.MaxTableSize / int64(c.ShardCount)
	}
	if c.Backend == nil {
		c.Backend = leveldb.NewFileBackend()
	}
	if c.Hasher == (keys.Hasher{}) {
		c.Hasher = keys.DefaultHasher
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NoopStoreMetrics()
	}
	return c
}

func (c Config) Validate() error {
	if c.ShardCount < 1 || c.ShardCount > MaxShardCount {
		return fmt.Errorf("shard count must be between 1 and %d, got %d", MaxShardCount, c.ShardCount)
	}
	if err := c.Shard.Validate(); err != nil {
		return fmt.Errorf("invalid shard config: %w", err)
	}
	return nil
}

// Table is safe for concurrent use.
type Table struct {
	path string
	rid  []byte
	cfg  Config

	mu     sync.Mutex
	shards []*shard.Shard
}

// CoercePath appends Extension to path when missing.
func CoercePath(path string) string {
	if filepath.Ext(path) == Extension {
		return path
	}
	return path + Extension
}

// Open opens the table at path, creating it with a new reference ID when the
// directory does not exist. An existing directory must be a table.
func Open(path string, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	path = CoercePath(path)
	rid, err := openDirectory(path, cfg.ReferenceID)
	if err != nil {
		return nil, err
	}

	log.Infow("opened table", "path", path, "reference_id", hex.EncodeToString(rid), "shards", cfg.ShardCount)
	return &Table{
		path:   path,
		rid:    rid,
		cfg:    cfg,
		shards: make([]*shard.Shard, cfg.ShardCount),
	}, nil
}

func openDirectory(path, referenceID string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return initDirectory(path, referenceID)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidTable, path)
	}

	rid, err := os.ReadFile(filepath.Join(path, ReferenceIDFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no %s file", ErrInvalidTable, path, ReferenceIDFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading reference id: %w", err)
	}
	if len(rid) != keys.KeyBytes {
		return nil, fmt.Errorf("%w: reference id is %d bytes, expected %d", ErrInvalidTable, len(rid), keys.KeyBytes)
	}
	if referenceID != "" && !strings.EqualFold(referenceID, hex.EncodeToString(rid)) {
		log.Warnw("ignoring configured reference id for existing table", "path", path, "configured", referenceID)
	}
	return rid, nil
}

func initDirectory(path, referenceID string) ([]byte, error) {
	rid, err := keys.ReferenceID(referenceID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating table directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, ReferenceIDFile), rid, 0o644); err != nil {
		return nil, fmt.Errorf("writing reference id: %w", err)
	}
	log.Infow("created table", "path", path)
	return rid, nil
}

func (t *Table) Path() string {
	return t.path
}

// ReferenceID returns the hex reference ID of the table.
func (t *Table) ReferenceID() string {
	return hex.EncodeToString(t.rid)
}

func (t *Table) ShardCount() int {
	return t.cfg.ShardCount
}

// Normalize returns the file key stored for key.
func (t *Table) Normalize(key string) string {
	return t.cfg.Hasher.Normalize(key)
}

// RouteKey returns the index of the shard holding key: the first reference ID
// byte XOR the first file key byte, reduced modulo the shard count.
func (t *Table) RouteKey(key string) int {
	fileKey, _ := hex.DecodeString(t.Normalize(key)[:2])
	return int(t.rid[0]^fileKey[0]) % t.cfg.ShardCount
}

func (t *Table) checkIndex(index int) error {
	if index < 0 || index >= t.cfg.ShardCount {
		return fmt.Errorf("%w: shard %d not in [0, %d)", keys.ErrIndexOutOfRange, index, t.cfg.ShardCount)
	}
	return nil
}

func (t *Table) shardPath(index int) string {
	return filepath.Join(t.path, keys.ShardDirName(index, t.cfg.ShardCount))
}

// hasStore reports whether the shard at index was ever written.
func (t *Table) hasStore(index int) bool {
	return t.cfg.Backend.Exists(t.shardPath(index))
}

// shardAt returns the shard for index, creating it on first use.
func (t *Table) shardAt(index int) (*shard.Shard, error) {
	if err := t.checkIndex(index); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.shards[index]; s != nil {
		return s, nil
	}
	s := shard.New(
		t.shardPath(index),
		t.cfg.Backend,
		t.cfg.Shard,
		shard.WithIndex(index),
		shard.WithClock(t.cfg.Clock),
		shard.WithMetrics(t.cfg.Metrics),
		shard.WithOnIdle(func(s *shard.Shard) {
			log.Debugw("closed idle shard", "shard", s.Index())
		}),
	)
	t.shards[index] = s
	return s, nil
}

// instantiated returns the shards created so far in index order.
func (t *Table) instantiated() []*shard.Shard {
	t.mu.Lock()
	defer t.mu.Unlock()
	var shards []*shard.Shard
	for _, s := range t.shards {
		if s != nil {
			shards = append(shards, s)
		}
	}
	return shards
}

// withShard opens the shard at index and runs fn on it. fn runs again when
// the shard closed before fn could start.
func (t *Table) withShard(ctx context.Context, index int, fn func(*shard.Shard) error) error {
	s, err := t.shardAt(index)
	if err != nil {
		return err
	}
	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := s.Open(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := fn(s)
		if err != nil && !errors.Is(err, shard.ErrNotOpen) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			log.Debugw("shard closed before operation started, reopening", "shard", index, "attempt", attempt)
		}
		return struct{}{}, err
	}, backoff.WithMaxTries(maxOpenAttempts), backoff.WithBackOff(&backoff.ZeroBackOff{}))
	return err
}

func (t *Table) withKey(ctx context.Context, key string, fn func(s *shard.Shard, fileKey string) error) error {
	fileKey := t.Normalize(key)
	return t.withShard(ctx, t.RouteKey(fileKey), func(s *shard.Shard) error {
		return fn(s, fileKey)
	})
}

// readShard is withShard for operations that only read. A shard that was
// never written has no store; readShard reports false without opening it, so
// that reads never create shard directories.
func (t *Table) readShard(ctx context.Context, index int, fn func(*shard.Shard) error) (bool, error) {
	if err := t.checkIndex(index); err != nil {
		return false, err
	}
	if !t.hasStore(index) {
		return false, nil
	}
	return true, t.withShard(ctx, index, fn)
}

func (t *Table) readKey(ctx context.Context, key string, fn func(s *shard.Shard, fileKey string) error) (bool, error) {
	fileKey := t.Normalize(key)
	return t.readShard(ctx, t.RouteKey(fileKey), func(s *shard.Shard) error {
		return fn(s, fileKey)
	})
}

// WriteFile replaces the content stored at key.
func (t *Table) WriteFile(ctx context.Context, key string, data []byte) error {
	return t.withKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		return s.WriteFile(ctx, fileKey, data)
	})
}

// ReadFile returns the content stored at key, empty when there is none.
func (t *Table) ReadFile(ctx context.Context, key string) ([]byte, error) {
	data := []byte{}
	_, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		data, err = s.ReadFile(ctx, fileKey)
		return err
	})
	return data, err
}

// ReadFileRange returns up to length bytes stored at key from offset. A
// negative length reads to the end.
func (t *Table) ReadFileRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset %d", shard.ErrInvalidRange, offset)
	}
	data := []byte{}
	_, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		data, err = s.ReadFileRange(ctx, fileKey, offset, length)
		return err
	})
	return data, err
}

// Size returns the number of bytes stored at key.
func (t *Table) Size(ctx context.Context, key string) (int64, error) {
	var size int64
	_, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		size, err = s.Size(ctx, fileKey)
		return err
	})
	return size, err
}

// Unlink removes the content stored at key. Unlinking a missing key succeeds.
func (t *Table) Unlink(ctx context.Context, key string) error {
	_, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		return s.Unlink(ctx, fileKey)
	})
	return err
}

func (t *Table) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	_, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		ok, err = s.Exists(ctx, fileKey)
		return err
	})
	return ok, err
}

// CreateReadStream streams the content stored at key. The stream must be
// closed to let its shard go idle.
func (t *Table) CreateReadStream(ctx context.Context, key string) (*shard.ReadStream, error) {
	return t.CreateReadStreamAt(ctx, key, 0)
}

// CreateReadStreamAt streams the content stored at key from offset.
func (t *Table) CreateReadStreamAt(ctx context.Context, key string, offset int64) (*shard.ReadStream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset %d", shard.ErrInvalidRange, offset)
	}
	var rs *shard.ReadStream
	ok, err := t.readKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		rs, err = s.CreateReadStreamAt(ctx, fileKey, offset)
		return err
	})
	if err == nil && !ok {
		rs = shard.EmptyReadStream()
	}
	return rs, err
}

// CreateWriteStream unlinks key and streams its new content. The stream must
// be closed to store the final chunk.
func (t *Table) CreateWriteStream(ctx context.Context, key string) (*shard.WriteStream, error) {
	var ws *shard.WriteStream
	err := t.withKey(ctx, key, func(s *shard.Shard, fileKey string) error {
		var err error
		ws, err = s.CreateWriteStream(ctx, fileKey)
		return err
	})
	return ws, err
}

// List lists the files in the shard key routes to.
func (t *Table) List(ctx context.Context, key string) ([]shard.Entry, error) {
	return t.ListShard(ctx, t.RouteKey(key))
}

// ListShard lists the files in the shard at index.
func (t *Table) ListShard(ctx context.Context, index int) ([]shard.Entry, error) {
	var entries []shard.Entry
	_, err := t.readShard(ctx, index, func(s *shard.Shard) error {
		var err error
		entries, err = s.List(ctx)
		return err
	})
	return entries, err
}

// StatShard returns the space accounting of the shard at index.
func (t *Table) StatShard(ctx context.Context, index int) (shard.Stats, error) {
	st := shard.Stats{Index: index, Free: t.cfg.Shard.MaxSize}
	_, err := t.readShard(ctx, index, func(s *shard.Shard) error {
		var err error
		st, err = s.Stat(ctx)
		return err
	})
	return st, err
}

// StatKey returns the space accounting of the shard key routes to.
func (t *Table) StatKey(ctx context.Context, key string) (shard.Stats, error) {
	return t.StatShard(ctx, t.RouteKey(key))
}

// SpaceAvailable returns the free bytes of the shard key routes to and the
// index of that shard.
func (t *Table) SpaceAvailable(ctx context.Context, key string) (int64, int, error) {
	st, err := t.StatKey(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	return st.Free, st.Index, nil
}

// Stat returns the space accounting of every shard present on disk, ordered
// by index. At most three shards are queried at once.
func (t *Table) Stat(ctx context.Context) ([]shard.Stats, error) {
	indexes := t.shardsOnDisk()

	stats := make([]shard.Stats, len(indexes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)
	for i, index := range indexes {
		g.Go(func() error {
			st, err := t.StatShard(gctx, index)
			if err != nil {
				return err
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// shardsOnDisk returns the indexes of the shards that have a store. Only the
// canonical directory name of each index is considered.
func (t *Table) shardsOnDisk() []int {
	var indexes []int
	for index := range t.cfg.ShardCount {
		if t.hasStore(index) {
			indexes = append(indexes, index)
		}
	}
	return indexes
}

// Flush flushes every shard used since the table was opened, one at a time,
// stopping at the first failure. Shards never touched are left alone.
func (t *Table) Flush(ctx context.Context) error {
	for _, s := range t.instantiated() {
		if !t.hasStore(s.Index()) {
			continue
		}
		if err := s.Flush(ctx); err != nil {
			return fmt.Errorf("flushing shard %d: %w", s.Index(), err)
		}
	}
	return nil
}

// Close closes every open shard.
func (t *Table) Close(ctx context.Context) error {
	var err error
	for _, s := range t.instantiated() {
		if cerr := s.Close(ctx); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("closing shard %d: %w", s.Index(), cerr))
		}
	}
	return err
}
