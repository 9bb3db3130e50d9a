package shard

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
)

// Every item key sorts within [firstItemKey, lastItemKey).
var (
	firstItemKey = []byte("0")
	lastItemKey  = []byte("g")
)

var ErrInvalidRange = errors.New("invalid byte range")

// Validate checks the config once, before any shard is built from it.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxSize < int64(c.ChunkSize) {
		return fmt.Errorf("max shard size %d is smaller than the chunk size %d", c.MaxSize, c.ChunkSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}

// Exists reports whether key has a first chunk.
func (s *Shard) Exists(ctx context.Context, key string) (bool, error) {
	db, err := s.enter()
	if err != nil {
		return false, err
	}
	defer s.release()

	itemKey, err := s.codec.ItemKey(key, 0)
	if err != nil {
		return false, err
	}
	ok, err := db.Has([]byte(itemKey))
	s.metrics.RecordChunk(ctx, "has", 0, err)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return ok, nil
}

// Unlink deletes every chunk of key. Unlinking an absent key succeeds.
func (s *Shard) Unlink(ctx context.Context, key string) error {
	db, err := s.enter()
	if err != nil {
		return err
	}
	defer s.release()
	return s.unlink(ctx, db, key)
}

// unlink deletes chunks from index 0 upwards until one is missing.
func (s *Shard) unlink(ctx context.Context, db kvstore.Store, key string) error {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		itemKey, err := s.codec.ItemKey(key, i)
		if errors.Is(err, keys.ErrIndexOutOfRange) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err := db.Has([]byte(itemKey))
		if err != nil {
			return fmt.Errorf("unlinking %s chunk %d: %w", key, i, err)
		}
		if !ok {
			return nil
		}
		err = db.Delete([]byte(itemKey))
		s.metrics.RecordChunk(ctx, "delete", 0, err)
		if err != nil {
			return fmt.Errorf("unlinking %s chunk %d: %w", key, i, err)
		}
	}
}

// ReadFile returns the whole content of key. A key with no chunks reads as
// an empty buffer.
func (s *Shard) ReadFile(ctx context.Context, key string) ([]byte, error) {
	rs, err := s.CreateReadStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadFileRange returns up to length bytes of key starting at offset. A
// negative length reads to the end of the file.
func (s *Shard) ReadFileRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	rs, err := s.CreateReadStreamAt(ctx, key, offset)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var r io.Reader = rs
	if length >= 0 {
		r = io.LimitReader(rs, length)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile replaces the content of key with data.
func (s *Shard) WriteFile(ctx context.Context, key string, data []byte) error {
	ws, err := s.CreateWriteStream(ctx, key)
	if err != nil {
		return err
	}
	_, werr := ws.Write(data)
	cerr := ws.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Size returns the exact number of bytes stored for key.
func (s *Shard) Size(ctx context.Context, key string) (int64, error) {
	db, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer s.release()

	prefix, err := s.codec.Prefix(key)
	if err != nil {
		return 0, err
	}
	it := db.Iterator([]byte(prefix), prefixLimit(prefix))
	defer it.Release()

	var size int64
	for it.Next() {
		size += int64(len(it.Value()))
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("sizing %s: %w", key, err)
	}
	return size, nil
}

// prefixLimit is the smallest key greater than every key starting with
// prefix. Item key prefixes end with the separator so the last byte never
// overflows.
func prefixLimit(prefix string) []byte {
	limit := []byte(prefix)
	limit[len(limit)-1]++
	return limit
}

// Stat reports the approximate space used by every item key in the shard.
func (s *Shard) Stat(ctx context.Context) (Stats, error) {
	db, err := s.enter()
	if err != nil {
		return Stats{}, err
	}
	defer s.release()

	used, err := db.ApproximateSize(firstItemKey, lastItemKey)
	if err != nil {
		return Stats{}, fmt.Errorf("sizing shard %d: %w", s.index, err)
	}
	s.metrics.RecordShardUsage(ctx, used)
	return Stats{
		Index: s.index,
		Used:  used,
		Free:  s.cfg.MaxSize - used,
	}, nil
}

// Entry is one file found by List.
type Entry struct {
	Key string `json:"key"`
	// Size counts a full chunk for every stored chunk, including the last,
	// so it is an upper bound of the real size.
	Size int64 `json:"size"`
}

// List returns every file in the shard in key order.
func (s *Shard) List(ctx context.Context) ([]Entry, error) {
	db, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer s.release()

	it := db.Iterator(firstItemKey, lastItemKey)
	defer it.Release()

	var entries []Entry
	chunk := int64(s.cfg.ChunkSize)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := keys.BaseKey(string(it.Key()))
		if n := len(entries); n > 0 && entries[n-1].Key == base {
			entries[n-1].Size += chunk
			continue
		}
		entries = append(entries, Entry{Key: base, Size: chunk})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("listing shard %d: %w", s.index, err)
	}
	return entries, nil
}
